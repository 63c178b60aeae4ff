// Package limiter provides a sliding-window admission controller bounding
// calls to the model gateway.
package limiter

import (
	"context"
	"sync"
	"time"

	"vocalcommit/pkg/logx"
	"vocalcommit/pkg/metrics"
)

// Window admits at most maxRequests calls per sliding window. Callers over
// the budget are blocked until the oldest grant ages out of the window.
//
// The only shared state is the grant timestamp queue, protected by a single
// mutex. Waiting happens outside the lock so a sleeping caller does not
// serialize everyone else; after waking the caller re-checks admission.
type Window struct {
	maxRequests int
	window      time.Duration
	grants      []time.Time
	mu          sync.Mutex
	logger      *logx.Logger

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWindow creates a sliding-window limiter.
func NewWindow(maxRequests int, window time.Duration) *Window {
	return &Window{
		maxRequests: maxRequests,
		window:      window,
		logger:      logx.NewLogger("limiter"),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// prune drops grants older than the window. Caller must hold w.mu.
func (w *Window) prune(now time.Time) {
	cut := 0
	for cut < len(w.grants) && now.Sub(w.grants[cut]) >= w.window {
		cut++
	}
	if cut > 0 {
		w.grants = append(w.grants[:0], w.grants[cut:]...)
	}
}

// Admit blocks the caller until the window has budget, records the grant,
// and returns how long the caller waited (zero if admitted immediately).
func (w *Window) Admit(ctx context.Context) (time.Duration, error) {
	var waited time.Duration

	for {
		w.mu.Lock()
		now := w.now()
		w.prune(now)

		if len(w.grants) < w.maxRequests {
			w.grants = append(w.grants, now)
			w.mu.Unlock()
			metrics.LimiterWaitSeconds.Observe(waited.Seconds())
			return waited, nil
		}

		wait := w.window - now.Sub(w.grants[0])
		w.mu.Unlock()

		if wait <= 0 {
			// Oldest grant expired between prune and check; try again.
			continue
		}

		w.logger.Info("Rate limit reached, waiting %.1fs before next model call", wait.Seconds())
		if err := w.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// Status reports remaining budget and time until the oldest grant expires.
// Read-only apart from the same pruning Admit performs.
func (w *Window) Status() (remaining int, resetIn time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	remaining = w.maxRequests - len(w.grants)
	if remaining < 0 {
		remaining = 0
	}
	if len(w.grants) > 0 {
		resetIn = w.window - now.Sub(w.grants[0])
		if resetIn < 0 {
			resetIn = 0
		}
	}
	return remaining, resetIn
}

// MaxRequests returns the configured per-window budget.
func (w *Window) MaxRequests() int {
	return w.maxRequests
}
