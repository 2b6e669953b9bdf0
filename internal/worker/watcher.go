package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/repository"
	"github.com/abdulalimswe/FairMark/internal/service"
	"github.com/abdulalimswe/FairMark/internal/service/analyzer"
	"github.com/abdulalimswe/FairMark/internal/service/integration"
	"github.com/abdulalimswe/FairMark/pkg/utils"
)

// markTimeout bounds the ledger write that follows a published evaluation.
const markTimeout = 10 * time.Second

var (
	ErrAlreadyRunning  = errors.New("watcher is already running")
	ErrCycleInProgress = errors.New("a scan cycle is already in progress")
)

type State string

const (
	StateStopped  State = "stopped"
	StateIdle     State = "idle"
	StateScanning State = "scanning"
)

type WatcherConfig struct {
	Interval               time.Duration
	EnumerationConcurrency int
}

// CycleResult is the outcome of one scan pass.
type CycleResult struct {
	ID            string
	StartedAt     time.Time
	Duration      time.Duration
	Courses       int
	Assignments   int
	Submissions   int
	Evaluated     int
	Skipped       int
	Unchanged     int
	Indeterminate int
	Failed        int
	Err           error
}

func (r CycleResult) Summary() models.CycleSummary {
	summary := models.CycleSummary{
		ID:            r.ID,
		StartedAt:     r.StartedAt,
		Duration:      r.Duration,
		Courses:       r.Courses,
		Assignments:   r.Assignments,
		Submissions:   r.Submissions,
		Evaluated:     r.Evaluated,
		Skipped:       r.Skipped,
		Unchanged:     r.Unchanged,
		Indeterminate: r.Indeterminate,
		Failed:        r.Failed,
	}
	if r.Err != nil {
		summary.Error = r.Err.Error()
	}
	return summary
}

type cycleCounters struct {
	assignments   atomic.Int64
	submissions   atomic.Int64
	evaluated     atomic.Int64
	skipped       atomic.Int64
	unchanged     atomic.Int64
	indeterminate atomic.Int64
	failed        atomic.Int64
}

type assignmentRef struct {
	courseID     int64
	assignmentID int64
}

// Watcher polls the directory on a fixed delay, fingerprints every eligible
// submission and hands novel fingerprints to the evaluation service.
type Watcher struct {
	directory     integration.DirectoryClient
	fingerprinter analyzer.Fingerprinter
	ledger        repository.Ledger
	evaluations   service.EvaluationService
	pool          *WorkerPool
	locks         *identityLocks
	logger        zerolog.Logger
	config        WatcherConfig

	cycleMu sync.Mutex

	mu             sync.RWMutex
	state          State
	running        bool
	lastCycle      *CycleResult
	totalCycles    int
	totalEvaluated int
	totalFailed    int
	stop           chan struct{}
	done           chan struct{}
}

func NewWatcher(
	directory integration.DirectoryClient,
	fingerprinter analyzer.Fingerprinter,
	ledger repository.Ledger,
	evaluations service.EvaluationService,
	pool *WorkerPool,
	logger zerolog.Logger,
	config WatcherConfig,
) *Watcher {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.EnumerationConcurrency <= 0 {
		config.EnumerationConcurrency = 4
	}

	return &Watcher{
		directory:     directory,
		fingerprinter: fingerprinter,
		ledger:        ledger,
		evaluations:   evaluations,
		pool:          pool,
		locks:         newIdentityLocks(),
		logger:        logger,
		config:        config,
		state:         StateStopped,
	}
}

// Start launches the polling loop. The first pass runs immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyRunning
	}

	w.running = true
	w.state = StateIdle
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(ctx, w.stop, w.done)

	w.logger.Info().
		Dur("interval", w.config.Interval).
		Str("ledger_backend", w.ledger.Backend()).
		Msg("Submission watcher started")

	return nil
}

// Stop asks the loop to exit at its next idle transition and waits for it.
// A cycle that is already scanning runs to completion.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stop, done := w.stop, w.done
	close(stop)
	w.mu.Unlock()

	select {
	case <-done:
		w.logger.Info().Msg("Submission watcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("watcher did not stop in time: %w", ctx.Err())
	}
}

func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer w.setState(StateStopped)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		w.runTick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		timer.Reset(w.config.Interval)
	}
}

func (w *Watcher) runTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("Recovered from panic in scan cycle")
		}
	}()

	result := w.RunCycle(ctx)
	if errors.Is(result.Err, ErrCycleInProgress) {
		w.logger.Debug().Msg("Skipping tick, manual scan in progress")
	}
}

// RunCycle performs one full scan. Enumeration errors are logged and count
// as an empty scan; they never stop the watcher.
func (w *Watcher) RunCycle(ctx context.Context) CycleResult {
	if !w.cycleMu.TryLock() {
		return CycleResult{Err: ErrCycleInProgress}
	}
	defer w.cycleMu.Unlock()

	result := CycleResult{ID: utils.GenerateUUID(), StartedAt: time.Now()}
	logger := w.logger.With().Str("cycle_id", result.ID).Logger()

	w.setState(StateScanning)
	defer func() {
		if w.IsRunning() {
			w.setState(StateIdle)
		} else {
			w.setState(StateStopped)
		}
	}()

	logger.Debug().Msg("Scan cycle started")

	var counters cycleCounters
	w.scan(ctx, &result, &counters, logger)

	result.Duration = time.Since(result.StartedAt)
	result.Assignments = int(counters.assignments.Load())
	result.Submissions = int(counters.submissions.Load())
	result.Evaluated = int(counters.evaluated.Load())
	result.Skipped = int(counters.skipped.Load())
	result.Unchanged = int(counters.unchanged.Load())
	result.Indeterminate = int(counters.indeterminate.Load())
	result.Failed = int(counters.failed.Load())

	w.mu.Lock()
	w.lastCycle = &result
	w.totalCycles++
	w.totalEvaluated += result.Evaluated
	w.totalFailed += result.Failed
	w.mu.Unlock()

	logger.Info().
		Int("courses", result.Courses).
		Int("assignments", result.Assignments).
		Int("submissions", result.Submissions).
		Int("evaluated", result.Evaluated).
		Int("unchanged", result.Unchanged).
		Int("skipped", result.Skipped).
		Int("indeterminate", result.Indeterminate).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("Scan cycle finished")

	return result
}

// scan enumerates and dispatches one cycle. A panic is logged and leaves the
// cycle with whatever was counted so far.
func (w *Watcher) scan(ctx context.Context, result *CycleResult, counters *cycleCounters, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Recovered from panic in scan cycle, treating as empty")
			result.Err = fmt.Errorf("scan cycle panicked: %v", r)
		}
	}()

	courses, err := w.directory.ListActiveCourses(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list active courses, treating cycle as empty")
		result.Err = err
		return
	}

	result.Courses = len(courses)
	refs := w.enumerateAssignments(ctx, courses, counters, logger)
	w.scanAssignments(ctx, refs, counters, logger)
}

func (w *Watcher) enumerateAssignments(ctx context.Context, courses []models.Course, counters *cycleCounters, logger zerolog.Logger) []assignmentRef {
	var (
		mu   sync.Mutex
		refs []assignmentRef
		g    errgroup.Group
	)
	g.SetLimit(w.config.EnumerationConcurrency)

	for _, course := range courses {
		course := course // per-iteration copy (go directive < 1.22)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Int64("course_id", course.ID).Msg("Recovered from panic while listing assignments, skipping course")
				}
			}()

			assignments, err := w.directory.ListAssignments(ctx, course.ID)
			if err != nil {
				logger.Warn().Err(err).Int64("course_id", course.ID).Msg("Failed to list assignments, skipping course")
				return nil
			}

			mu.Lock()
			for _, a := range assignments {
				refs = append(refs, assignmentRef{courseID: course.ID, assignmentID: a.ID})
			}
			mu.Unlock()
			counters.assignments.Add(int64(len(assignments)))
			return nil
		})
	}
	_ = g.Wait()

	return refs
}

func (w *Watcher) scanAssignments(ctx context.Context, refs []assignmentRef, counters *cycleCounters, logger zerolog.Logger) {
	var (
		g     errgroup.Group
		tasks sync.WaitGroup
	)
	g.SetLimit(w.config.EnumerationConcurrency)

	for _, ref := range refs {
		ref := ref // per-iteration copy (go directive < 1.22)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().
						Interface("panic", r).
						Int64("course_id", ref.courseID).
						Int64("assignment_id", ref.assignmentID).
						Msg("Recovered from panic while scanning submissions, skipping assignment")
				}
			}()

			submissions, err := w.directory.ListSubmissions(ctx, ref.courseID, ref.assignmentID)
			if err != nil {
				logger.Warn().
					Err(err).
					Int64("course_id", ref.courseID).
					Int64("assignment_id", ref.assignmentID).
					Msg("Failed to list submissions, skipping assignment")
				return nil
			}
			counters.submissions.Add(int64(len(submissions)))

			for _, sub := range submissions {
				sub := sub // per-iteration copy (go directive < 1.22)
				id := models.SubmissionIdentity{CourseID: ref.courseID, AssignmentID: ref.assignmentID, UserID: sub.UserID}

				if reason := sub.Eligibility(); reason != models.SkipNone {
					counters.skipped.Add(1)
					logger.Debug().Str("identity", id.String()).Str("reason", reason.String()).Msg("Submission skipped")
					continue
				}

				tasks.Add(1)
				err := w.pool.Submit(ctx, func() {
					defer tasks.Done()
					w.processSubmission(ctx, id, sub, counters, logger)
				})
				if err != nil {
					tasks.Done()
					counters.indeterminate.Add(1)
					logger.Warn().Err(err).Str("identity", id.String()).Msg("Failed to dispatch submission")
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	tasks.Wait()
}

// processSubmission fingerprints one eligible submission and, if the
// fingerprint is novel, evaluates it. The fingerprint is marked only after
// a successful evaluation.
func (w *Watcher) processSubmission(ctx context.Context, id models.SubmissionIdentity, sub models.Submission, counters *cycleCounters, logger zerolog.Logger) {
	attempt := sub.AttemptNumber()
	attachment := sub.Attachments[0]

	logger = logger.With().
		Int64("course_id", id.CourseID).
		Int64("assignment_id", id.AssignmentID).
		Int64("user_id", id.UserID).
		Int("attempt", attempt).
		Logger()

	fp, err := w.fingerprinter.Fingerprint(ctx, attempt, attachment.URL)
	if err != nil {
		counters.indeterminate.Add(1)
		logger.Warn().Err(err).Msg("Could not fingerprint submission, will retry next cycle")
		return
	}
	logger = logger.With().Str("fingerprint", fp.Prefix()).Logger()

	unlock := w.locks.Lock(id)
	defer unlock()

	novel, err := w.ledger.IsNovel(ctx, id, fp)
	if err != nil {
		counters.indeterminate.Add(1)
		logger.Error().Err(err).Msg("Ledger lookup failed")
		return
	}
	if !novel {
		counters.unchanged.Add(1)
		return
	}

	logger.Info().Msg("New submission content detected")

	result := w.evaluations.EvaluateAndPublish(ctx, models.EvaluationRequest{
		Identity:     id,
		SubmissionID: sub.ID,
		Attempt:      attempt,
		SubmittedAt:  sub.SubmittedAt,
		Attachment:   attachment,
		Fingerprint:  fp,
	})
	if !result.Succeeded() {
		counters.failed.Add(1)
		logger.Warn().Str("reason", result.Reason).Msg("Evaluation failed, fingerprint left unmarked")
		return
	}

	// The comment is already published; the mark must land even if the
	// cycle context is cancelled meanwhile.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err := w.ledger.MarkProcessed(markCtx, id, fp); err != nil {
		logger.Error().Err(err).Msg("Failed to persist processed fingerprint")
	}
	counters.evaluated.Add(1)
}

// Evaluate runs an on-demand evaluation for id while holding the identity
// lock, so it never overlaps a scan of the same submission.
func (w *Watcher) Evaluate(ctx context.Context, id models.SubmissionIdentity) (*models.EvaluateResponse, error) {
	unlock := w.locks.Lock(id)
	defer unlock()

	return w.evaluations.EvaluateIdentity(ctx, id)
}

func (w *Watcher) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Watcher) Interval() time.Duration {
	return w.config.Interval
}

func (w *Watcher) LastCycle() *CycleResult {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.lastCycle == nil {
		return nil
	}
	last := *w.lastCycle
	return &last
}

// Tracked returns the ledger contents with fingerprints sorted per identity.
func (w *Watcher) Tracked(ctx context.Context) (map[models.SubmissionIdentity][]models.AttemptFingerprint, error) {
	return w.ledger.Snapshot(ctx)
}

func (w *Watcher) Status(ctx context.Context) (*models.WatcherStatus, error) {
	snapshot, err := w.ledger.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot ledger: %w", err)
	}

	status := &models.WatcherStatus{
		CheckInterval:     int(w.config.Interval.Seconds()),
		LedgerBackend:     w.ledger.Backend(),
		TrackedIdentities: len(snapshot),
		PerIdentity:       make(map[string]int, len(snapshot)),
	}
	for id, fps := range snapshot {
		status.PerIdentity[id.String()] = len(fps)
		status.TotalTracked += len(fps)
	}
	if w.pool != nil {
		status.Pool = w.pool.GetStats()
	}

	w.mu.RLock()
	status.IsRunning = w.running
	status.State = string(w.state)
	status.TotalCycles = w.totalCycles
	status.TotalEvaluated = w.totalEvaluated
	status.TotalFailed = w.totalFailed
	if w.lastCycle != nil {
		summary := w.lastCycle.Summary()
		status.LastCycle = &summary
	}
	w.mu.RUnlock()

	return status, nil
}
