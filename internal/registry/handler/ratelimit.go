package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client IP.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
}

func (s *limiterSet) allow(ip string, now time.Time) bool {
	s.mu.Lock()
	l, ok := s.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.limiters[ip] = l
	}
	l.lastSeen = now
	s.mu.Unlock()
	return l.limiter.AllowN(now, 1)
}

// sweep drops limiters idle for longer than limiterIdleTTL.
func (s *limiterSet) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ip, l := range s.limiters {
		if now.Sub(l.lastSeen) > limiterIdleTTL {
			delete(s.limiters, ip)
			n++
		}
	}
	return n
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size. Idle entries are swept every 5 minutes until ctx is done.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	set := &limiterSet{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				set.sweep(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(c *gin.Context) {
		if !set.allow(c.ClientIP(), time.Now()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
