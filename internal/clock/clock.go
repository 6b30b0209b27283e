// Package clock is the shared timer/clock service used by the admission
// queue and the decaying duplicate filter (spec §4.3).
//
// The source this was generalized from used a process-global timer; here it
// is always an explicitly injected collaborator, so tests substitute
// nothing but run Real inside a testing/synctest bubble for deterministic,
// fast virtual time (see the package's _test.go files).
package clock

import (
	"sync"
	"time"
)

// Handle identifies a scheduled one-shot event for cancellation.
type Handle uint64

// Service is the narrow timer/clock collaborator shared by internal/aq and
// internal/ddf.
type Service interface {
	// NowMs returns the current monotonic time in milliseconds.
	NowMs() int64
	// Schedule arms a one-shot event that invokes fn after delay. Handlers
	// must not block; fn runs on the service's internal worker.
	Schedule(delay time.Duration, fn func()) Handle
	// Cancel best-effort cancels a previously scheduled event. Returns
	// false if the handle is unknown or already fired.
	Cancel(h Handle) bool
}

// Real implements Service over time.AfterFunc.
type Real struct {
	mu      sync.Mutex
	timers  map[Handle]*time.Timer
	nextID  Handle
	started time.Time
}

// NewReal constructs a Real clock service.
func NewReal() *Real {
	return &Real{
		timers:  make(map[Handle]*time.Timer),
		started: time.Now(),
	}
}

// NowMs returns milliseconds elapsed since the service was constructed.
// Using an elapsed counter (rather than wall-clock epoch millis) keeps the
// value monotonic even across NTP adjustments, matching the "monotonic
// millisecond clock" requirement in spec §4.3.
func (r *Real) NowMs() int64 {
	return time.Since(r.started).Milliseconds()
}

// Schedule arms a one-shot timer. fn is invoked on the timer's own
// goroutine; callers must keep it non-blocking.
func (r *Real) Schedule(delay time.Duration, fn func()) Handle {
	r.mu.Lock()
	r.nextID++
	h := r.nextID
	r.mu.Unlock()

	t := time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, h)
		r.mu.Unlock()
		fn()
	})

	r.mu.Lock()
	r.timers[h] = t
	r.mu.Unlock()

	return h
}

// Cancel stops the timer for h if it has not already fired.
func (r *Real) Cancel(h Handle) bool {
	r.mu.Lock()
	t, ok := r.timers[h]
	if ok {
		delete(r.timers, h)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	return t.Stop()
}
