package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimiter provides per-IP token-bucket rate limiting.
type RateLimiter struct {
	r        rate.Limit
	b        int
	limiters sync.Map
	stop     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a limiter allowing r requests per second with burst b
// per client IP. Idle entries are evicted in the background until Close.
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	rl := &RateLimiter{r: r, b: b, stop: make(chan struct{})}
	go rl.gc(5*time.Minute, 10*time.Minute)
	return rl
}

func (rl *RateLimiter) gc(every, idle time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-idle).UnixNano()
			rl.limiters.Range(func(k, v interface{}) bool {
				if v.(*ipLimiter).lastSeen.Load() < cutoff {
					rl.limiters.Delete(k)
				}
				return true
			})
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	v, _ := rl.limiters.LoadOrStore(ip, &ipLimiter{limiter: rate.NewLimiter(rl.r, rl.b)})
	il := v.(*ipLimiter)
	il.lastSeen.Store(time.Now().UnixNano())
	return il.limiter
}

// Handler returns the Gin middleware.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"kind":  KindRateLimited,
			})
			return
		}
		c.Next()
	}
}

// Close stops the eviction goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}
