package http

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

type bucket struct {
	count   int
	started time.Time
}

// MemoryLimiter is a per-process fixed window limiter, used when Redis is not
// configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time
	swept   time.Time
}

func NewMemoryLimiter(rate int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*bucket), rate: rate, window: window, now: time.Now}
}

func (rl *MemoryLimiter) Allow(_ context.Context, key string) bool {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.swept) >= rl.window {
		rl.sweep(now)
	}
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.started) >= rl.window {
		rl.buckets[key] = &bucket{count: 1, started: now}
		return true
	}
	if b.count < rl.rate {
		b.count++
		return true
	}
	return false
}

// sweep drops buckets whose window has ended. Callers hold mu.
func (rl *MemoryLimiter) sweep(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.started) >= rl.window {
			delete(rl.buckets, k)
		}
	}
	rl.swept = now
}

// WindowCounter is satisfied by repo.Redis.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisLimiter shares the window across replicas. Redis errors fail open.
type RedisLimiter struct {
	counter WindowCounter
	rate    int
	window  time.Duration
	prefix  string
	logger  *zap.Logger
}

func NewRedisLimiter(counter WindowCounter, rate int, window time.Duration, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{counter: counter, rate: rate, window: window, prefix: "auth:rl:", logger: logger}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	n, err := l.counter.Hit(ctx, l.prefix+key, l.window)
	if err != nil {
		l.logger.Warn("rate limiter unavailable", zap.Error(err))
		return true
	}
	return n <= int64(l.rate)
}

func ClientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	host, _, err := net.SplitHostPort(ip)
	if err == nil && host != "" {
		return host
	}
	return ip
}

// RateLimit keys the limiter by route and client IP.
func RateLimit(rl Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil {
			c.Next()
			return
		}
		key := strings.TrimPrefix(c.FullPath(), "/") + ":" + ClientIP(c)
		if !rl.Allow(c.Request.Context(), key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Too many requests. Please try again later."})
			return
		}
		c.Next()
	}
}
