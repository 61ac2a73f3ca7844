package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/topoquery/backend/pkg/logger"
)

// tokenBucket refills continuously at the limiter's rate. Buckets are
// per-client and locked individually so one hot client cannot serialize
// everyone else.
type tokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

type Config struct {
	// TokensPerMinute is the refill rate per client. Zero means 120.
	TokensPerMinute int
	// Burst caps the bucket. Zero means TokensPerMinute.
	Burst int
}

// Limiter throttles per client key, where a key is the X-User-ID header when
// present and the peer IP otherwise. Question-answering routes drain more
// tokens than reads because each one fans out to the language model and the
// graph database.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket

	rate  float64
	burst float64
	done  chan struct{}
}

func New(cfg Config) *Limiter {
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = 120
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.TokensPerMinute
	}

	l := &Limiter{
		clients: make(map[string]*tokenBucket),
		rate:    float64(cfg.TokensPerMinute) / 60.0,
		burst:   float64(cfg.Burst),
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// cost weighs routes by what they trigger downstream. Cache and schema reads
// are nearly free; a chat turn is not.
func cost(path string) float64 {
	switch {
	case strings.HasPrefix(path, "/api/v1/chat"):
		return 5
	case strings.HasPrefix(path, "/api/v1/similar-"):
		return 2
	default:
		return 1
	}
}

func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-User-ID")
		if key == "" {
			key = c.IP()
		}

		if !l.allow(key, cost(c.Path())) {
			logger.Warn("Rate limit exceeded",
				zap.String("client", key),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return c.Next()
	}
}

func (l *Limiter) allow(key string, need float64) bool {
	l.mu.Lock()
	b, ok := l.clients[key]
	if !ok {
		b = &tokenBucket{tokens: l.burst, lastSeen: time.Now()}
		l.clients[key] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastSeen = now

	if b.tokens < need {
		return false
	}
	b.tokens -= need
	return true
}

// sweep drops buckets idle long enough to have fully refilled; recreating one
// on the next request is equivalent.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			l.mu.Lock()
			for key, b := range l.clients {
				b.mu.Lock()
				idle := b.lastSeen.Before(cutoff)
				b.mu.Unlock()
				if idle {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *Limiter) Stop() {
	close(l.done)
}
