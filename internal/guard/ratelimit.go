package guard

import (
	"sync"
	"time"
)

// RateLimiter admits or denies a request from a source address. The webhook
// handler consults it before any body parsing so flooding stays cheap.
type RateLimiter interface {
	Admit(sourceAddr string) bool
}

type window struct {
	count   int
	resetAt time.Time
}

// WindowRateLimiter counts requests per source address within a fixed
// window. State is in-process only: a restart resets all windows, which is
// fail-open on purpose since the durable invariants live in the database,
// not here.
type WindowRateLimiter struct {
	mu      sync.Mutex
	limit   int
	size    time.Duration
	windows map[string]*window
	now     func() time.Time
}

func NewWindowRateLimiter(limit int, size time.Duration) *WindowRateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if size <= 0 {
		size = 60 * time.Second
	}
	return &WindowRateLimiter{
		limit:   limit,
		size:    size,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *WindowRateLimiter) Admit(sourceAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.windows[sourceAddr]
	if !ok || now.After(w.resetAt) {
		l.windows[sourceAddr] = &window{count: 1, resetAt: now.Add(l.size)}
		return true
	}

	w.count++
	return w.count <= l.limit
}
