package worker

import (
	"sync"

	"github.com/abdulalimswe/FairMark/internal/models"
)

// identityLocks hands out one mutex per submission identity. Entries are
// dropped once no goroutine holds or waits on them.
type identityLocks struct {
	mu      sync.Mutex
	entries map[models.SubmissionIdentity]*identityLockEntry
}

type identityLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{entries: make(map[models.SubmissionIdentity]*identityLockEntry)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (l *identityLocks) Lock(id models.SubmissionIdentity) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &identityLockEntry{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

func (l *identityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
