package gossip

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/sourcemesh/meshd/pkg/peerid"
)

// RateLimiter gates how often gossip processing will emit Want
// messages, per spec.md §4.6: a global limit on error-triggered
// retransmission requests, and a per-origin limit on answering Wants.
type RateLimiter struct {
	errorLimiter *rate.Limiter

	mu          sync.Mutex
	wantLimiter map[string]*rate.Limiter
	wantRate    rate.Limit
	wantBurst   int
}

// NewRateLimiter builds a RateLimiter. errorRate/errorBurst bound
// error-triggered Want broadcasts globally; wantRate/wantBurst bound
// how often any single origin's Wants are answered.
func NewRateLimiter(errorRate rate.Limit, errorBurst int, wantRate rate.Limit, wantBurst int) *RateLimiter {
	return &RateLimiter{
		errorLimiter: rate.NewLimiter(errorRate, errorBurst),
		wantLimiter:  make(map[string]*rate.Limiter),
		wantRate:     wantRate,
		wantBurst:    wantBurst,
	}
}

// ErrorsBreached reports whether the error-retransmission limit is
// currently exhausted.
func (r *RateLimiter) ErrorsBreached() bool {
	return !r.errorLimiter.Allow()
}

// WantsBreached reports whether origin has exceeded its Want-answer
// rate.
func (r *RateLimiter) WantsBreached(origin peerid.PeerId) bool {
	r.mu.Lock()
	key := origin.String()
	lim, ok := r.wantLimiter[key]
	if !ok {
		lim = rate.NewLimiter(r.wantRate, r.wantBurst)
		r.wantLimiter[key] = lim
	}
	r.mu.Unlock()
	return !lim.Allow()
}
