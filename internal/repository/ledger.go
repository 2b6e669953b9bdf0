package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// Ledger records which (attempt, content hash) pairs have completed the
// evaluate-and-publish pipeline for each submission identity. Entries are
// only ever added.
type Ledger interface {
	IsNovel(ctx context.Context, id models.SubmissionIdentity, fp models.AttemptFingerprint) (bool, error)
	MarkProcessed(ctx context.Context, id models.SubmissionIdentity, fp models.AttemptFingerprint) error
	Snapshot(ctx context.Context) (map[models.SubmissionIdentity][]models.AttemptFingerprint, error)
	Backend() string
}

// DigestValidator rejects digests that the configured hash algorithm could
// not have produced and returns the canonical form of the rest.
type DigestValidator interface {
	Normalize(digest string) (string, error)
}

// LedgerStore is the durable side of a persistent ledger.
type LedgerStore interface {
	LoadAll(ctx context.Context) (map[models.SubmissionIdentity][]models.AttemptFingerprint, error)
	Append(ctx context.Context, id models.SubmissionIdentity, fp models.AttemptFingerprint) error
	Name() string
}

type fingerprintSet struct {
	mu  sync.RWMutex
	fps map[models.AttemptFingerprint]struct{}
}

type memoryLedger struct {
	mu      sync.RWMutex
	entries map[models.SubmissionIdentity]*fingerprintSet
}

// NewMemoryLedger returns the process-local ledger. It starts empty and is
// forgotten on restart.
func NewMemoryLedger() Ledger {
	return newMemoryLedger()
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{entries: make(map[models.SubmissionIdentity]*fingerprintSet)}
}

func (l *memoryLedger) IsNovel(_ context.Context, id models.SubmissionIdentity, fp models.AttemptFingerprint) (bool, error) {
	l.mu.RLock()
	set, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return true, nil
	}

	set.mu.RLock()
	defer set.mu.RUnlock()
	_, seen := set.fps[fp]
	return !seen, nil
}

func (l *memoryLedger) MarkProcessed(_ context.Context, id models.SubmissionIdentity, fp models.AttemptFingerprint) error {
	l.add(id, fp)
	return nil
}

func (l *memoryLedger) add(id models.SubmissionIdentity, fp models.AttemptFingerprint) {
	set := l.setFor(id)

	set.mu.Lock()
	set.fps[fp] = struct{}{}
	set.mu.Unlock()
}

func (l *memoryLedger) setFor(id models.SubmissionIdentity) *fingerprintSet {
	l.mu.RLock()
	set, ok := l.entries[id]
	l.mu.RUnlock()
	if ok {
		return set
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if set, ok = l.entries[id]; ok {
		return set
	}
	set = &fingerprintSet{fps: make(map[models.AttemptFingerprint]struct{})}
	l.entries[id] = set
	return set
}

func (l *memoryLedger) Snapshot(_ context.Context) (map[models.SubmissionIdentity][]models.AttemptFingerprint, error) {
	l.mu.RLock()
	sets := make(map[models.SubmissionIdentity]*fingerprintSet, len(l.entries))
	for id, set := range l.entries {
		sets[id] = set
	}
	l.mu.RUnlock()

	out := make(map[models.SubmissionIdentity][]models.AttemptFingerprint, len(sets))
	for id, set := range sets {
		set.mu.RLock()
		fps := make([]models.AttemptFingerprint, 0, len(set.fps))
		for fp := range set.fps {
			fps = append(fps, fp)
		}
		set.mu.RUnlock()

		SortFingerprints(fps)
		out[id] = fps
	}
	return out, nil
}

func (l *memoryLedger) Backend() string {
	return "memory"
}

// SortFingerprints orders by attempt, then hash.
func SortFingerprints(fps []models.AttemptFingerprint) {
	sort.Slice(fps, func(i, j int) bool {
		if fps[i].Attempt != fps[j].Attempt {
			return fps[i].Attempt < fps[j].Attempt
		}
		return fps[i].ContentHash < fps[j].ContentHash
	})
}

// persistentLedger answers from memory and writes through to a store on
// every mark.
type persistentLedger struct {
	*memoryLedger
	store  LedgerStore
	logger zerolog.Logger
}

// NewPersistentLedger loads every recorded fingerprint from the store before
// returning. When digests is set, a store holding fingerprints of another
// hash algorithm is refused, since every entry would otherwise look novel.
func NewPersistentLedger(ctx context.Context, store LedgerStore, digests DigestValidator, logger zerolog.Logger) (Ledger, error) {
	existing, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger from %s: %w", store.Name(), err)
	}

	mem := newMemoryLedger()
	total := 0
	var (
		mismatched int
		firstErr   error
	)
	for id, fps := range existing {
		for _, fp := range fps {
			if digests != nil {
				digest, err := digests.Normalize(fp.ContentHash)
				if err != nil {
					mismatched++
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				fp.ContentHash = digest
			}
			mem.add(id, fp)
			total++
		}
	}

	if mismatched > 0 {
		return nil, fmt.Errorf("ledger in %s holds %d fingerprints from a different hash algorithm: %w",
			store.Name(), mismatched, firstErr)
	}

	logger.Info().
		Str("backend", store.Name()).
		Int("identities", len(existing)).
		Int("fingerprints", total).
		Msg("Ledger loaded")

	return &persistentLedger{memoryLedger: mem, store: store, logger: logger}, nil
}

// MarkProcessed records in memory first so a store failure cannot cause a
// second evaluation within this process.
func (l *persistentLedger) MarkProcessed(ctx context.Context, id models.SubmissionIdentity, fp models.AttemptFingerprint) error {
	l.memoryLedger.add(id, fp)

	if err := l.store.Append(ctx, id, fp); err != nil {
		return fmt.Errorf("failed to persist fingerprint to %s: %w", l.store.Name(), err)
	}
	return nil
}

func (l *persistentLedger) Backend() string {
	return l.store.Name()
}
