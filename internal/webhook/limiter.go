package webhook

import (
	"context"
	"sync"
	"time"
)

// Limiter throttles deliveries per destination key. Wait blocks until a slot
// is free or ctx ends.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

type window struct {
	count int
	start time.Time
}

// LocalLimiter allows a fixed number of deliveries per key per window within
// one process.
type LocalLimiter struct {
	limit  int
	period time.Duration

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLocalLimiter creates a limiter of limit deliveries per period
func NewLocalLimiter(limit int, period time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		period:  period,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	for {
		wait := l.reserve(key)
		if wait <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// reserve takes a slot and returns 0, or returns how long until the window resets
func (l *LocalLimiter) reserve(key string) time.Duration {
	if l.limit <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[key] = &window{count: 1, start: now}
		return 0
	}
	if w.count < l.limit {
		w.count++
		return 0
	}
	return l.period - now.Sub(w.start)
}
