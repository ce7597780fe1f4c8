package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"officemesh/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimiterStore keeps one token bucket per client IP. Entries idle past
// staleAfter are dropped so the map does not grow with every IP ever seen.
type rateLimiterStore struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	rate       rate.Limit
	burst      int
	staleAfter time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:   make(map[string]*limiterEntry),
		rate:       r,
		burst:      burst,
		staleAfter: 10 * time.Minute,
	}
}

func (s *rateLimiterStore) allow(key string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.limiters[key]
	if e == nil {
		e = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[key] = e
	}
	e.lastSeen = now

	if len(s.limiters) > 1000 {
		for k, other := range s.limiters {
			if now.Sub(other.lastSeen) > s.staleAfter {
				delete(s.limiters, k)
			}
		}
	}
	return e.limiter.Allow()
}

// clientIP resolves the caller's address, honoring X-Forwarded-For when
// the proxy sets a parseable IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware applies per-IP rate limiting to the REST
// surface. Disabled limiting is a pass-through, not a zero limit.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	store := newRateLimiterStore(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
	)

	return func(c *gin.Context) {
		if !store.allow(clientIP(c.Request)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
