package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleLimiterTTL 之后未使用的限流器会被清理。
const idleLimiterTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter 为每个用户维护一个令牌桶。
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[uint]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewUserRateLimiter 创建限流器，perMinute 为每分钟补充的令牌数。
func NewUserRateLimiter(perMinute float64, burst int) *UserRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &UserRateLimiter{
		limiters: make(map[uint]*limiterEntry),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow 报告用户此刻是否还有令牌。
func (l *UserRateLimiter) Allow(userID uint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.limiters[userID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = entry
	}
	entry.lastSeen = now
	l.sweep(now)
	return entry.limiter.AllowN(now, 1)
}

// sweep 清理长时间未使用的用户，调用方持有锁。
func (l *UserRateLimiter) sweep(now time.Time) {
	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > idleLimiterTTL {
			delete(l.limiters, id)
		}
	}
}

// Middleware 必须在 AuthMiddleware 之后使用；超限时返回 429。
func (l *UserRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(UserID(c)) {
			retry := 60.0
			if l.limit > 0 {
				retry = 1 / float64(l.limit)
			}
			c.Header("Retry-After", strconv.Itoa(int(retry+0.5)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "Too many analysis requests, please try again later"})
			return
		}
		c.Next()
	}
}
