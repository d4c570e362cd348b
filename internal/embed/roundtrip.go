package embed

import (
	"context"
	"sync"
	"time"

	"github.com/favloyalty/widgetbridge/internal/observability"
	"github.com/favloyalty/widgetbridge/model"
)

// DefaultRoundTripTimeout bounds host-mediated round-trips. A request whose
// result message never arrives within this window is treated as failed with
// a user-visible timeout, never left pending.
const DefaultRoundTripTimeout = 15 * time.Second

// Outcome is the settled result of a host-mediated round-trip.
type Outcome struct {
	Success bool
	Error   string
}

// RoundTrips tracks at most one in-flight request per action. Settling an
// action with no pending request is a no-op, which also makes late results
// after a timeout harmless.
type RoundTrips struct {
	timeout time.Duration
	metrics *observability.Metrics

	mu      sync.Mutex
	pending map[string]chan Outcome
}

// NewRoundTrips creates a tracker with the given timeout; zero means
// DefaultRoundTripTimeout.
func NewRoundTrips(timeout time.Duration, metrics *observability.Metrics) *RoundTrips {
	if timeout <= 0 {
		timeout = DefaultRoundTripTimeout
	}
	return &RoundTrips{
		timeout: timeout,
		metrics: metrics,
		pending: make(map[string]chan Outcome),
	}
}

// Begin registers an in-flight request for the action, replacing any
// abandoned predecessor, and returns the channel its outcome will arrive on.
func (r *RoundTrips) Begin(action string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	r.mu.Lock()
	r.pending[action] = ch
	r.mu.Unlock()
	return ch
}

// Settle delivers the outcome for the action's pending request, if any.
func (r *RoundTrips) Settle(action string, o Outcome) {
	r.mu.Lock()
	ch, ok := r.pending[action]
	if ok {
		delete(r.pending, action)
	}
	r.mu.Unlock()
	if ok {
		ch <- o
	}
}

// Await blocks until the outcome arrives, the timeout elapses, or the
// context is cancelled. On timeout the pending slot is cleared and a
// protocol timeout error is returned.
func (r *RoundTrips) Await(ctx context.Context, action string, ch <-chan Outcome) (Outcome, error) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case o := <-ch:
		return o, nil
	case <-timer.C:
		r.clear(action)
		r.metrics.RecordRoundTripTimeout(action)
		return Outcome{}, model.NewProtocolTimeoutError(actionLabel(action))
	case <-ctx.Done():
		r.clear(action)
		return Outcome{}, ctx.Err()
	}
}

func (r *RoundTrips) clear(action string) {
	r.mu.Lock()
	delete(r.pending, action)
	r.mu.Unlock()
}

// actionLabel maps an action key to its user-facing name in timeout text.
func actionLabel(action string) string {
	switch action {
	case ActionSubscribeNewsletter:
		return "Newsletter subscription"
	case ActionApplyCoupon:
		return "Coupon application"
	default:
		return "The request"
	}
}

// Round-trip action keys.
const (
	ActionSubscribeNewsletter = "subscribe-newsletter"
	ActionApplyCoupon         = "apply-coupon"
)
