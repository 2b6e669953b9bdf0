package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulalimswe/FairMark/internal/models"
	"github.com/abdulalimswe/FairMark/internal/service/integration"
	"github.com/abdulalimswe/FairMark/internal/service/policy"
)

var testIdentity = models.SubmissionIdentity{CourseID: 10, AssignmentID: 20, UserID: 30}

type fakeCanvas struct {
	assignment    *models.Assignment
	assignmentErr error
	submission    *models.Submission
	submissionErr error
}

func (f *fakeCanvas) ListActiveCourses(context.Context) ([]models.Course, error) { return nil, nil }
func (f *fakeCanvas) ListAssignments(context.Context, int64) ([]models.Assignment, error) {
	return nil, nil
}
func (f *fakeCanvas) ListSubmissions(context.Context, int64, int64) ([]models.Submission, error) {
	return nil, nil
}
func (f *fakeCanvas) FetchBytes(context.Context, string) ([]byte, error) { return []byte("x"), nil }
func (f *fakeCanvas) GetSelf(context.Context) (*models.UserProfile, error) {
	return &models.UserProfile{ID: 1}, nil
}
func (f *fakeCanvas) PostSubmissionComment(context.Context, int64, int64, int64, string) error {
	return nil
}

func (f *fakeCanvas) GetAssignment(context.Context, int64, int64) (*models.Assignment, error) {
	if f.assignmentErr != nil {
		return nil, f.assignmentErr
	}
	return f.assignment, nil
}

func (f *fakeCanvas) GetSubmission(context.Context, int64, int64, int64) (*models.Submission, error) {
	if f.submissionErr != nil {
		return nil, f.submissionErr
	}
	return f.submission, nil
}

type fakeEvaluator struct {
	feedback string
	err      error
	panicMsg string
	packets  []*models.EvaluationPacket
}

func (f *fakeEvaluator) Evaluate(_ context.Context, packet *models.EvaluationPacket) (string, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.packets = append(f.packets, packet)
	return f.feedback, f.err
}

type fakePublisher struct {
	mu       sync.Mutex
	comments []string
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, _ models.SubmissionIdentity, comment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.comments = append(f.comments, comment)
	return nil
}

type fakeArchive struct {
	objects map[string][]byte
}

func (f *fakeArchive) Store(_ context.Context, key string, content []byte) error {
	f.objects[key] = content
	return nil
}

func (f *fakeArchive) List(context.Context, models.SubmissionIdentity) ([]string, error) {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

type fakeReports struct {
	created []models.EvaluationReport
	updated []models.EvaluationReport
}

func (f *fakeReports) Create(_ context.Context, r *models.EvaluationReport) error {
	f.created = append(f.created, *r)
	return nil
}

func (f *fakeReports) Update(_ context.Context, r *models.EvaluationReport) error {
	f.updated = append(f.updated, *r)
	return nil
}

func (f *fakeReports) ListByIdentity(context.Context, models.SubmissionIdentity, int) ([]models.EvaluationReport, error) {
	return f.updated, nil
}

func (f *fakeReports) Ping(context.Context) error { return nil }

type fakeEvents struct {
	completed []models.EvaluationCompletedEvent
	failed    []models.EvaluationFailedEvent
}

func (f *fakeEvents) PublishCompleted(_ context.Context, e models.EvaluationCompletedEvent) error {
	f.completed = append(f.completed, e)
	return nil
}

func (f *fakeEvents) PublishFailed(_ context.Context, e models.EvaluationFailedEvent) error {
	f.failed = append(f.failed, e)
	return nil
}

func (f *fakeEvents) Close() error { return nil }

type fakeFingerprinter struct {
	fp  models.AttemptFingerprint
	err error
}

func (f *fakeFingerprinter) Fingerprint(_ context.Context, attempt int, _ string) (models.AttemptFingerprint, error) {
	if f.err != nil {
		return models.AttemptFingerprint{}, f.err
	}
	fp := f.fp
	fp.Attempt = attempt
	return fp, nil
}


type serviceFixture struct {
	canvas    *fakeCanvas
	evaluator *fakeEvaluator
	publisher *fakePublisher
	archive   *fakeArchive
	reports   *fakeReports
	events    *fakeEvents
	fp        *fakeFingerprinter
	service   *evaluationService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	points := 10.0
	f := &serviceFixture{
		canvas: &fakeCanvas{assignment: &models.Assignment{
			ID:             20,
			Name:           "Essay",
			DueAt:          "2024-03-01T00:00:00Z",
			PointsPossible: &points,
			Rubric: []models.RubricCriterion{
				{Description: "Clarity", Points: &points},
				{Criterion: "Sources"},
			},
		}},
		evaluator: &fakeEvaluator{feedback: "Well argued."},
		publisher: &fakePublisher{},
		archive:   &fakeArchive{objects: map[string][]byte{}},
		reports:   &fakeReports{},
		events:    &fakeEvents{},
		fp:        &fakeFingerprinter{fp: models.AttemptFingerprint{ContentHash: "0123456789abcdef"}},
	}

	rules, err := policy.ParseRuleSet(`{"grace_minutes": 15, "tiers": [{"max_hours": 24, "penalty_percent": 10}]}`)
	require.NoError(t, err)

	svc := NewEvaluationService(
		f.canvas,
		f.evaluator,
		f.publisher,
		f.fp,
		policy.NewEngine(rules),
		f.archive,
		f.reports,
		f.events,
		zerolog.Nop(),
		EvaluationConfig{PolicyText: "No AI use.", EvaluationTimeout: time.Second},
	).(*evaluationService)
	svc.now = func() time.Time { return time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC) }
	f.service = svc

	return f
}

func testRequest(submittedAt string) models.EvaluationRequest {
	return models.EvaluationRequest{
		Identity:     testIdentity,
		SubmissionID: 99,
		Attempt:      2,
		SubmittedAt:  submittedAt,
		Attachment:   models.Attachment{URL: "https://files/1", Filename: "essay.pdf"},
		Fingerprint:  models.AttemptFingerprint{Attempt: 2, ContentHash: "0123456789abcdef"},
	}
}

func TestEvaluateAndPublish_Success(t *testing.T) {
	f := newServiceFixture(t)

	result := f.service.EvaluateAndPublish(context.Background(), testRequest("2024-03-01T10:00:00Z"))

	require.True(t, result.Succeeded(), result.Reason)
	assert.True(t, result.Lateness.IsLate)
	assert.Equal(t, 600, result.Lateness.LateMinutes)
	assert.Equal(t, 10, result.Lateness.PenaltyPercent)
	assert.True(t, result.RubricFound)
	assert.Equal(t, "Well argued.", result.CommentPreview)

	require.Len(t, f.evaluator.packets, 1)
	packet := f.evaluator.packets[0]
	assert.Equal(t, int64(99), packet.SubmissionMeta.SubmissionID)
	assert.Equal(t, 2, packet.SubmissionMeta.Attempt)
	assert.Equal(t, "2024-03-01T00:00:00Z", packet.SubmissionMeta.DueAt)
	assert.Equal(t, "Essay", packet.Assignment.Title)
	require.Len(t, packet.Rubric, 2)
	assert.Equal(t, "Sources", packet.Rubric[1].Name)
	require.NotNil(t, packet.PolicyText)
	assert.Equal(t, "No AI use.", *packet.PolicyText)
	assert.Equal(t, "essay.pdf", packet.Attachment.Filename)

	require.Len(t, f.publisher.comments, 1)
	assert.True(t, strings.HasPrefix(f.publisher.comments[0], "[Attempt #2]\nEvaluated at: 2024-03-02 08:30:00 UTC\n\nWell argued.\n\n---\n"))

	key := "courses/10/assignments/20/users/30/attempt-2-0123456789abcdef.txt"
	assert.Equal(t, f.publisher.comments[0], string(f.archive.objects[key]))

	require.Len(t, f.reports.created, 1)
	require.Len(t, f.reports.updated, 1)
	assert.Equal(t, models.ReportStatusCompleted.String(), f.reports.updated[0].Status)
	require.NotNil(t, f.reports.updated[0].ArchiveKey)
	assert.Equal(t, key, *f.reports.updated[0].ArchiveKey)

	require.Len(t, f.events.completed, 1)
	assert.Equal(t, 10, f.events.completed[0].PenaltyPercent)
	assert.Empty(t, f.events.failed)
}

func TestEvaluateAndPublish_NoRubricNoPolicy(t *testing.T) {
	f := newServiceFixture(t)
	f.canvas.assignment.Rubric = nil
	f.service.config.PolicyText = "   "

	result := f.service.EvaluateAndPublish(context.Background(), testRequest("2024-02-29T10:00:00Z"))

	require.True(t, result.Succeeded())
	assert.False(t, result.RubricFound)
	assert.False(t, result.Lateness.IsLate)
	assert.Nil(t, f.evaluator.packets[0].Rubric)
	assert.Nil(t, f.evaluator.packets[0].PolicyText)
}

func TestEvaluateAndPublish_EvaluatorFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.evaluator.err = errors.New("model overloaded")

	result := f.service.EvaluateAndPublish(context.Background(), testRequest("2024-03-01T10:00:00Z"))

	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Reason, "model overloaded")
	assert.Empty(t, f.publisher.comments)
	assert.Empty(t, f.archive.objects)
	require.Len(t, f.reports.updated, 1)
	assert.Equal(t, models.ReportStatusFailed.String(), f.reports.updated[0].Status)
	require.Len(t, f.events.failed, 1)
	assert.Empty(t, f.events.completed)
}

func TestEvaluateAndPublish_PublishFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.publisher.err = &integration.HTTPStatusError{Method: http.MethodPut, StatusCode: http.StatusForbidden}

	result := f.service.EvaluateAndPublish(context.Background(), testRequest("2024-03-01T10:00:00Z"))

	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Reason, "failed to publish comment")
	assert.Empty(t, f.archive.objects)
}

func TestEvaluateAndPublish_AssignmentLookupFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.canvas.assignmentErr = errors.New("connection refused")

	result := f.service.EvaluateAndPublish(context.Background(), testRequest("2024-03-01T10:00:00Z"))

	assert.False(t, result.Succeeded())
	assert.Empty(t, f.evaluator.packets)
}

func TestEvaluateAndPublish_MissingAttachmentURL(t *testing.T) {
	f := newServiceFixture(t)
	req := testRequest("2024-03-01T10:00:00Z")
	req.Attachment.URL = ""

	result := f.service.EvaluateAndPublish(context.Background(), req)

	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Reason, "attachment url missing")
}

func TestEvaluateAndPublish_RecoversPanic(t *testing.T) {
	f := newServiceFixture(t)
	f.evaluator.panicMsg = "boom"

	var result models.EvaluationResult
	require.NotPanics(t, func() {
		result = f.service.EvaluateAndPublish(context.Background(), testRequest("2024-03-01T10:00:00Z"))
	})

	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Reason, "boom")
	assert.Empty(t, f.publisher.comments)
	require.Len(t, f.events.failed, 1)
}

func TestEvaluateAndPublish_OptionalSideEffectsDisabled(t *testing.T) {
	f := newServiceFixture(t)
	f.service.archive = nil
	f.service.reportRepo = nil
	f.service.events = nil

	result := f.service.EvaluateAndPublish(context.Background(), testRequest("2024-03-01T10:00:00Z"))

	assert.True(t, result.Succeeded())
	assert.Len(t, f.publisher.comments, 1)
}

func TestEvaluateIdentity(t *testing.T) {
	f := newServiceFixture(t)
	attempt := 3
	f.canvas.submission = &models.Submission{
		ID:            99,
		UserID:        30,
		WorkflowState: models.WorkflowStateSubmitted,
		Attempt:       &attempt,
		SubmittedAt:   "2024-02-29T10:00:00Z",
		Attachments:   []models.Attachment{{URL: "https://files/1", Filename: "essay.pdf"}},
	}

	response, err := f.service.EvaluateIdentity(context.Background(), testIdentity)
	require.NoError(t, err)
	assert.Equal(t, 3, response.Attempt)
	assert.True(t, response.Result.Succeeded())
	assert.True(t, strings.HasPrefix(f.publisher.comments[0], "[Attempt #3]"))
	assert.Equal(t, "0123456789abcdef", f.evaluator.packets[0].SubmissionMeta.ContentHash)
}

func TestEvaluateIdentity_NotEligible(t *testing.T) {
	f := newServiceFixture(t)
	f.canvas.submission = &models.Submission{ID: 99, WorkflowState: "unsubmitted"}

	_, err := f.service.EvaluateIdentity(context.Background(), testIdentity)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotEligible)
	assert.Empty(t, f.publisher.comments)
}

func TestEvaluateIdentity_LookupFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.canvas.submissionErr = errors.New("not found")

	_, err := f.service.EvaluateIdentity(context.Background(), testIdentity)
	assert.ErrorIs(t, err, ErrSubmissionLookup)
}

func TestFormatComment(t *testing.T) {
	at := time.Date(2024, 3, 2, 9, 5, 7, 0, time.FixedZone("CET", 3600))

	got := FormatComment(1, at, "  Good job.\n")

	want := "[Attempt #1]\nEvaluated at: 2024-03-02 08:05:07 UTC\n\nGood job.\n\n" + commentFooter
	assert.Equal(t, want, got)
}

func TestClassify(t *testing.T) {
	assert.True(t, isPermanentError(classify(&integration.HTTPStatusError{StatusCode: http.StatusNotFound})))
	assert.False(t, isPermanentError(classify(&integration.HTTPStatusError{StatusCode: http.StatusTooManyRequests})))
	assert.False(t, isPermanentError(classify(&integration.HTTPStatusError{StatusCode: http.StatusBadGateway})))
	assert.False(t, isPermanentError(classify(errors.New("dial tcp: refused"))))
	assert.Nil(t, classify(nil))
}

func TestReportService_ListEvaluations(t *testing.T) {
	reports := &fakeReports{updated: []models.EvaluationReport{{ID: "r1", Status: "completed"}}}
	archive := &fakeArchive{objects: map[string][]byte{"courses/10/assignments/20/users/30/attempt-1-ab.txt": nil}}

	svc := NewReportService(reports, archive, zerolog.Nop())
	response, err := svc.ListEvaluations(context.Background(), testIdentity, 0)
	require.NoError(t, err)
	assert.Len(t, response.Reports, 1)
	assert.Len(t, response.ArchiveKeys, 1)

	_, err = NewReportService(nil, nil, zerolog.Nop()).ListEvaluations(context.Background(), testIdentity, 10)
	assert.ErrorIs(t, err, ErrReportsDisabled)
}
