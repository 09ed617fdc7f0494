package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    any
		wantErr bool
	}{
		{"default strategy", Config{RequestsPerMinute: 20}, &TokenBucket{}, false},
		{"token bucket", Config{Strategy: StrategyTokenBucket, RequestsPerMinute: 20}, &TokenBucket{}, false},
		{"fixed window", Config{Strategy: StrategyFixedWindow, RequestsPerMinute: 20}, &FixedWindow{}, false},
		{"unknown", Config{Strategy: "leaky", RequestsPerMinute: 20}, nil, true},
		{"zero rate", Config{Strategy: StrategyFixedWindow}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, l)
		})
	}
}

func TestTokenBucket(t *testing.T) {
	c := newClock()
	l := NewTokenBucket(Config{RequestsPerMinute: 60, Burst: 3, Now: c.now})

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("ip:1.2.3.4"), "request %d", i)
	}
	assert.False(t, l.Allow("ip:1.2.3.4"))

	// Another key has its own bucket.
	assert.True(t, l.Allow("ip:5.6.7.8"))

	// One token per second at 60 rpm.
	c.advance(time.Second)
	assert.True(t, l.Allow("ip:1.2.3.4"))
	assert.False(t, l.Allow("ip:1.2.3.4"))
}

func TestTokenBucket_ForgetsIdleKeys(t *testing.T) {
	c := newClock()
	l := NewTokenBucket(Config{RequestsPerMinute: 60, Burst: 1, IdleTTL: time.Minute, Now: c.now})

	assert.True(t, l.Allow("a"))
	c.advance(2 * time.Minute)
	assert.True(t, l.Allow("b"))

	_, ok := l.buckets["a"]
	assert.False(t, ok)
}

func TestFixedWindow(t *testing.T) {
	c := newClock()
	l := NewFixedWindow(Config{RequestsPerMinute: 2, Now: c.now})

	assert.True(t, l.Allow("t:hotel"))
	assert.True(t, l.Allow("t:hotel"))
	assert.False(t, l.Allow("t:hotel"))

	c.advance(59 * time.Second)
	assert.False(t, l.Allow("t:hotel"))

	c.advance(time.Second)
	assert.True(t, l.Allow("t:hotel"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ip:10.0.0.1", Key(KeyIP, "abc", "10.0.0.1"))
	assert.Equal(t, "t:abc", Key(KeyTenant, "abc", "10.0.0.1"))
	assert.Equal(t, "t:abc|ip:10.0.0.1", Key(KeyTenantIP, "abc", "10.0.0.1"))
	assert.Equal(t, "ip:10.0.0.1", Key("", "abc", "10.0.0.1"))
}
