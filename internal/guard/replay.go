package guard

import (
	"sync"
	"time"
)

// ReplayGuard is an idempotency cache over the gateway-facing invoice
// reference. It rejects re-delivery of an already-processed notification
// within the retention window. It is an optimization only: it is not
// persisted across restarts, so the payment state machine in the database
// remains the real idempotency guarantee.
type ReplayGuard interface {
	IsReplay(reference string, observedAt time.Time) bool
	Commit(reference string, observedAt time.Time)
}

type MemoryReplayGuard struct {
	mu        sync.Mutex
	committed map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

func NewMemoryReplayGuard(retention time.Duration) *MemoryReplayGuard {
	if retention <= 0 {
		retention = time.Hour
	}
	return &MemoryReplayGuard{
		committed: make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

// IsReplay reports whether the reference was already committed within the
// retention window at or before observedAt. Entries past retention are
// evicted lazily on each check, so an old reference can legitimately be
// settled again after the window (the state machine will still reject it
// if the invoice is already paid).
func (g *MemoryReplayGuard) IsReplay(reference string, observedAt time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictLocked()

	committedAt, ok := g.committed[reference]
	if !ok {
		return false
	}
	// A delivery is a replay unless it is strictly newer than the retention
	// window around the committed one.
	return !committedAt.Before(observedAt.Add(-g.retention))
}

func (g *MemoryReplayGuard) Commit(reference string, observedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if committedAt, ok := g.committed[reference]; ok && committedAt.After(observedAt) {
		return
	}
	g.committed[reference] = observedAt
}

func (g *MemoryReplayGuard) evictLocked() {
	cutoff := g.now().Add(-g.retention)
	for ref, committedAt := range g.committed {
		if committedAt.Before(cutoff) {
			delete(g.committed, ref)
		}
	}
}
