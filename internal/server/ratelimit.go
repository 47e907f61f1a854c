package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"janitor/internal/config"
)

// runLimiter keeps one token bucket per tenant for run-triggering endpoints.
type runLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// newRunLimiter returns nil when rate limiting is disabled.
func newRunLimiter(cfg config.RateLimitConfig) *runLimiter {
	if cfg.RunsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &runLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Every(time.Minute / time.Duration(cfg.RunsPerMinute)),
		b:        burst,
	}
}

// Allow reports whether tenant may trigger another run now. When it may not,
// the returned duration is how long until a token frees up.
func (l *runLimiter) Allow(tenant string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[tenant]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[tenant] = limiter
	}
	res := limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}
