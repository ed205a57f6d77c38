// internal/fetch/ratelimit.go

package fetch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// defaultMaxLimiters bounds the per-domain limiter map.
const defaultMaxLimiters = 5000

// DomainRateLimiter hands out per-domain tokens. Waiters are served in FIFO
// order by the underlying token bucket. Rates come from learned quirks, with
// a configurable default.
type DomainRateLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	defaultRate float64 // requests per second; <= 0 disables limiting
	burst       int
	max         int
}

// NewDomainRateLimiter creates a limiter with the given default rate.
func NewDomainRateLimiter(defaultRate float64, burst int) *DomainRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &DomainRateLimiter{
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: defaultRate,
		burst:       burst,
		max:         defaultMaxLimiters,
	}
}

// SetDomainRate overrides one domain's rate, e.g. from a learned 429 quirk.
func (l *DomainRateLimiter) SetDomainRate(domain string, perSec float64) {
	if perSec <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.limiters[domain]; ok {
		limiter.SetLimit(rate.Limit(perSec))
		return
	}
	if len(l.limiters) < l.max {
		l.limiters[domain] = rate.NewLimiter(rate.Limit(perSec), l.burst)
	}
}

// Acquire blocks until the domain's next token or context cancellation.
// Domains without an explicit rate use the default; a non-positive default
// means no limiting.
func (l *DomainRateLimiter) Acquire(ctx context.Context, domain string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[domain]
	if !ok {
		if l.defaultRate <= 0 || len(l.limiters) >= l.max {
			l.mu.Unlock()
			return nil
		}
		limiter = rate.NewLimiter(rate.Limit(l.defaultRate), l.burst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	return limiter.Wait(ctx)
}
