package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with a name for logging/debugging.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter creates a limiter refilling at requestsPerMinute with the given burst.
func NewLimiter(name string, requestsPerMinute, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(perMinute(requestsPerMinute), burst),
		name:    name,
	}
}

// Wait blocks until the rate limiter allows a request to proceed.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.name, err)
	}
	return nil
}

// Allow reports whether a request can proceed without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

func (l *Limiter) AllowAt(now time.Time) bool {
	return l.limiter.AllowN(now, 1)
}

func (l *Limiter) Name() string {
	return l.name
}

// KeyedLimiter holds one Limiter per key, typically the client address.
type KeyedLimiter struct {
	mu       sync.Mutex
	name     string
	perMin   int
	burst    int
	limiters map[string]*Limiter
}

func NewKeyedLimiter(name string, requestsPerMinute, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		name:     name,
		perMin:   requestsPerMinute,
		burst:    burst,
		limiters: make(map[string]*Limiter),
	}
}

func (k *KeyedLimiter) Get(key string) *Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = NewLimiter(k.name+":"+key, k.perMin, k.burst)
		k.limiters[key] = l
	}
	return l
}

// Reset drops every tracked key
func (k *KeyedLimiter) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.limiters = make(map[string]*Limiter)
}

type Config struct {
	Name              string
	RequestsPerMinute int
	Burst             int
	// KeyGenerator defaults to the client IP
	KeyGenerator func(c *fiber.Ctx) string
	// LimitReached defaults to 429 with a JSON message body
	LimitReached fiber.Handler
	Now          func() time.Time
}

const (
	DefaultRequestsPerMinute = 10
	DefaultBurst             = 5
)

// New returns a fiber middleware that rejects requests over the configured rate
func New(config ...Config) fiber.Handler {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = func(c *fiber.Ctx) string {
			return c.IP()
		}
	}
	if cfg.LimitReached == nil {
		cfg.LimitReached = func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"message": "Too many requests, please try again later.",
			})
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	limiters := NewKeyedLimiter(cfg.Name, cfg.RequestsPerMinute, cfg.Burst)

	return func(c *fiber.Ctx) error {
		if !limiters.Get(cfg.KeyGenerator(c)).AllowAt(cfg.Now()) {
			return cfg.LimitReached(c)
		}
		return c.Next()
	}
}

func perMinute(n int) rate.Limit {
	return rate.Every(time.Minute / time.Duration(n))
}
