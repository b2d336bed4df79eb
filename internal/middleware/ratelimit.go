package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/franciscosanchezn/gin-pkce-server/internal/models"
)

const (
	defaultMaxLimiters = 10000
	limiterIdleTimeout = 30 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client IP. Idle buckets are
// dropped once the table reaches its size bound.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	rate       rate.Limit
	burst      int
	maxEntries int
	now        func() time.Time
}

// NewRateLimiter allows rps requests per second with the given burst per
// identifier. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       rate.Limit(rps),
		burst:      burst,
		maxEntries: defaultMaxLimiters,
		now:        time.Now,
	}
}

// Allow reports whether identifier may make a request now.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl.rate <= 0 {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[identifier]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			rl.cleanup(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[identifier] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

// cleanup drops idle limiters, or all of them when none is idle. Must be
// called with mu held.
func (rl *RateLimiter) cleanup(now time.Time) {
	for id, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > limiterIdleTimeout {
			delete(rl.limiters, id)
		}
	}
	if len(rl.limiters) >= rl.maxEntries {
		clear(rl.limiters)
	}
}

// Len reports how many identifiers are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// RateLimit rejects requests over the per-IP limit with 429. onLimited,
// if set, is called for every rejection.
func RateLimit(rl *RateLimiter, onLimited func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			if onLimited != nil {
				onLimited()
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				models.NewAPIError(models.ErrTooManyRequest, "Rate limit exceeded, retry later"))
			return
		}
		c.Next()
	}
}
