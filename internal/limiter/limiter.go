package limiter

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

const tooManyRequests = "Too many requests, please try again later."

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// RateLimiter combines an optional global token bucket, one bucket per
// client IP and an optional cap on in-flight requests.
type RateLimiter struct {
	globalLimiter *rate.Limiter
	perIPLimiters *xsync.MapOf[string, *visitor]
	ipRate        rate.Limit
	ipBurst       int
	maxConcurrent int64
	currentConc   atomic.Int64
	now           func() time.Time
}

// NewRateLimiter returns a limiter. A zero globalRPS or maxConcurrent
// disables that check.
func NewRateLimiter(globalRPS float64, perIPRPS float64, perIPBurst int, maxConcurrent int) *RateLimiter {
	rl := &RateLimiter{
		perIPLimiters: xsync.NewMapOf[string, *visitor](),
		ipRate:        rate.Limit(perIPRPS),
		ipBurst:       perIPBurst,
		maxConcurrent: int64(maxConcurrent),
		now:           time.Now,
	}
	if globalRPS > 0 {
		rl.globalLimiter = rate.NewLimiter(rate.Limit(globalRPS), max(int(globalRPS)*2, 1))
	}
	return rl
}

// PerMinute returns a per-IP limiter admitting n requests per minute.
func PerMinute(n int) *RateLimiter {
	return NewRateLimiter(0, float64(n)/60, n, 0)
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	v, _ := rl.perIPLimiters.LoadOrCompute(ip, func() *visitor {
		return &visitor{limiter: rate.NewLimiter(rl.ipRate, rl.ipBurst)}
	})
	v.lastSeen.Store(rl.now().UnixNano())
	return v.limiter
}

// Allow admits one request from ip. Every admitted request must be
// followed by Done.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.globalLimiter != nil && !rl.globalLimiter.AllowN(rl.now(), 1) {
		metrics.RateLimitHits.WithLabelValues("global").Inc()
		return false
	}

	if !rl.getIPLimiter(ip).AllowN(rl.now(), 1) {
		metrics.RateLimitHits.WithLabelValues("ip").Inc()
		return false
	}

	if rl.maxConcurrent > 0 {
		if rl.currentConc.Add(1) > rl.maxConcurrent {
			rl.currentConc.Add(-1)
			metrics.RateLimitHits.WithLabelValues("concurrency").Inc()
			return false
		}
	}
	return true
}

func (rl *RateLimiter) Done() {
	if rl.maxConcurrent > 0 {
		rl.currentConc.Add(-1)
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": tooManyRequests,
				"code":  apperr.Busy,
			})
			return
		}
		defer rl.Done()
		c.Next()
	}
}

// Sweep drops per-IP buckets idle for longer than idle and returns how many
// were removed.
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	cutoff := rl.now().Add(-idle).UnixNano()
	removed := 0
	rl.perIPLimiters.Range(func(ip string, v *visitor) bool {
		if v.lastSeen.Load() < cutoff {
			rl.perIPLimiters.Delete(ip)
			removed++
		}
		return true
	})
	return removed
}

// StartCleanup sweeps idle buckets every interval until ctx is done.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Sweep(interval)
			case <-ctx.Done():
				return
			}
		}
	}()
}
