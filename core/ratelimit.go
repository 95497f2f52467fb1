package core

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an idle client's bucket is kept.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP.
// It is safe for concurrent use.
type IPRateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	clock     clockwork.Clock
	lastSweep time.Time
}

// NewIPRateLimiter allows perMinute requests per IP with the given burst.
// It returns nil when perMinute <= 0; a nil limiter allows everything.
func NewIPRateLimiter(perMinute, burst int, clock clockwork.Clock) *IPRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IPRateLimiter{
		entries:   make(map[string]*limiterEntry),
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     burst,
		clock:     clock,
		lastSweep: clock.Now(),
	}
}

// Allow reports whether a request from ip may proceed now.
func (l *IPRateLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Middleware rejects requests over the limit with 429. API paths get the JSON
// error envelope, pages get the login form re-rendered with a message.
func (l *IPRateLimiter) Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		metrics.rateLimitedRequest()
		c.Header("Retry-After", "60")
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			respondError(c, http.StatusTooManyRequests, "RATE_LIMITED", MsgTooManyAttempts)
		} else {
			renderFormPage(c, http.StatusTooManyRequests, formTemplateFor(c.Request.URL.Path), MsgTooManyAttempts)
		}
		c.Abort()
	}
}
