// Package ratelimit throttles public chat requests per client or tenant.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	StrategyTokenBucket = "token_bucket"
	StrategyFixedWindow = "fixed_window"

	KeyIP       = "ip"
	KeyTenant   = "tenant"
	KeyTenantIP = "tenant_ip"
)

// Limiter reports whether one more request for key may proceed now.
type Limiter interface {
	Allow(key string) bool
}

type Config struct {
	Strategy          string
	RequestsPerMinute int
	Burst             int
	// IdleTTL is how long an unused key is remembered.
	IdleTTL time.Duration
	Now     func() time.Time
}

func New(config Config) (Limiter, error) {
	if config.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", config.RequestsPerMinute)
	}
	if config.IdleTTL == 0 {
		config.IdleTTL = 10 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	switch config.Strategy {
	case StrategyTokenBucket, "":
		return NewTokenBucket(config), nil
	case StrategyFixedWindow:
		return NewFixedWindow(config), nil
	}
	return nil, fmt.Errorf("unknown rate limit strategy %q", config.Strategy)
}

// Key builds the limiter key for a request according to mode.
func Key(mode, tenantID, clientIP string) string {
	switch mode {
	case KeyTenant:
		return "t:" + tenantID
	case KeyTenantIP:
		return "t:" + tenantID + "|ip:" + clientIP
	default:
		return "ip:" + clientIP
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket keeps one x/time/rate limiter per key, refilled at
// RequestsPerMinute with room for Burst requests at once.
type TokenBucket struct {
	mu        sync.Mutex
	config    Config
	buckets   map[string]*bucket
	lastSweep time.Time
}

func NewTokenBucket(config Config) *TokenBucket {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TokenBucket{
		config:  config,
		buckets: make(map[string]*bucket),
	}
}

func (t *TokenBucket) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.config.Now()
	t.sweep(now)

	b, ok := t.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(t.config.RequestsPerMinute) / 60)
		b = &bucket{limiter: rate.NewLimiter(perSecond, t.config.Burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (t *TokenBucket) sweep(now time.Time) {
	if t.config.IdleTTL <= 0 || now.Sub(t.lastSweep) < t.config.IdleTTL {
		return
	}
	for k, b := range t.buckets {
		if now.Sub(b.lastSeen) > t.config.IdleTTL {
			delete(t.buckets, k)
		}
	}
	t.lastSweep = now
}

type window struct {
	start time.Time
	count int
}

// FixedWindow allows RequestsPerMinute requests per key in each calendar
// minute.
type FixedWindow struct {
	mu      sync.Mutex
	config  Config
	windows map[string]*window
}

func NewFixedWindow(config Config) *FixedWindow {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &FixedWindow{
		config:  config,
		windows: make(map[string]*window),
	}
}

func (f *FixedWindow) Allow(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := f.config.Now().Truncate(time.Minute)

	w, ok := f.windows[key]
	if !ok || !w.start.Equal(start) {
		if !ok && len(f.windows) > 0 {
			f.dropExpired(start)
		}
		w = &window{start: start}
		f.windows[key] = w
	}

	if w.count >= f.config.RequestsPerMinute {
		return false
	}
	w.count++
	return true
}

func (f *FixedWindow) dropExpired(current time.Time) {
	for k, w := range f.windows {
		if w.start.Before(current) {
			delete(f.windows, k)
		}
	}
}
