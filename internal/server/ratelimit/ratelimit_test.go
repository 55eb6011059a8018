package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstThenDeny(t *testing.T) {
	bucket := newTokenBucket(10, 1.0)

	for i := 0; i < 10; i++ {
		require.True(t, bucket.allow(), "request %d should pass within burst", i+1)
	}
	assert.False(t, bucket.allow(), "11th request should be denied")
}

func TestTokenBucketRefills(t *testing.T) {
	bucket := newTokenBucket(10, 1.0)
	for i := 0; i < 10; i++ {
		bucket.allow()
	}

	time.Sleep(1100 * time.Millisecond)

	assert.True(t, bucket.allow(), "one token should have refilled")
	assert.False(t, bucket.allow(), "only one token refills per second")
}

func TestTokenBucketStatus(t *testing.T) {
	bucket := newTokenBucket(10, 1.0)
	for i := 0; i < 5; i++ {
		bucket.allow()
	}

	remaining, resetTime := bucket.getStatus()
	assert.Equal(t, 5, remaining)
	assert.True(t, resetTime.After(time.Now()), "reset time should be in the future")
}

func TestLimiterDefaultLimit(t *testing.T) {
	limiter := NewLimiter(&Config{
		Enabled:       true,
		DefaultLimit:  3,
		DefaultWindow: time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		allowed, info := limiter.Allow("10.0.0.1", "/projects/abc/status", "GET")
		require.True(t, allowed)
		assert.Equal(t, 3, info.Limit)
	}

	allowed, info := limiter.Allow("10.0.0.1", "/projects/abc/status", "GET")
	assert.False(t, allowed)
	assert.Positive(t, info.RetryAfter)
}

func TestLimiterKeysPerClientAndEndpoint(t *testing.T) {
	limiter := NewLimiter(&Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
	})
	defer limiter.Stop()

	allowed, _ := limiter.Allow("10.0.0.1", "/projects/a/status", "GET")
	require.True(t, allowed)
	allowed, _ = limiter.Allow("10.0.0.1", "/projects/a/status", "GET")
	require.False(t, allowed)

	// A different client and a different endpoint each get fresh buckets.
	allowed, _ = limiter.Allow("10.0.0.2", "/projects/a/status", "GET")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("10.0.0.1", "/projects/b/status", "GET")
	assert.True(t, allowed)
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: false})
	defer limiter.Stop()

	for i := 0; i < 100; i++ {
		allowed, _ := limiter.Allow("10.0.0.1", "/projects/a/run", "POST")
		require.True(t, allowed)
	}
}

func TestLimiterWhitelistAndBlacklist(t *testing.T) {
	limiter := NewLimiter(&Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Whitelist:     map[string]bool{"10.0.0.9": true},
		Blacklist:     map[string]bool{"10.0.0.6": true},
	})
	defer limiter.Stop()

	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Allow("10.0.0.9", "/projects/a/run", "POST")
		require.True(t, allowed, "whitelisted client is never limited")
	}

	allowed, _ := limiter.Allow("10.0.0.6", "/health", "POST")
	assert.False(t, allowed, "blacklisted client is always denied")
}

func TestLimiterConcurrentClients(t *testing.T) {
	limiter := NewLimiter(&Config{
		Enabled:       true,
		DefaultLimit:  5,
		DefaultWindow: time.Minute,
	})
	defer limiter.Stop()

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			client := fmt.Sprintf("10.0.1.%d", c)
			allowedCount := 0
			for i := 0; i < 10; i++ {
				if ok, _ := limiter.Allow(client, "/projects/x/status", "GET"); ok {
					allowedCount++
				}
			}
			assert.Equal(t, 5, allowedCount, "client %s", client)
		}(c)
	}
	wg.Wait()
}

func TestMatchEndpointExactAndPrefix(t *testing.T) {
	configs := DefaultEndpointConfigs()

	login := MatchEndpoint("/auth/login", "POST", configs)
	require.NotNil(t, login)
	assert.Equal(t, 20, login.Limit)
	assert.Equal(t, time.Minute, login.Window)

	run := MatchEndpoint("/projects/3f1c/run", "POST", configs)
	require.NotNil(t, run)
	assert.Equal(t, "/projects/", run.Path)
	assert.Equal(t, time.Hour, run.Window)

	// Reads under /projects/ fall through to the default limit.
	assert.Nil(t, MatchEndpoint("/projects/3f1c/status", "GET", configs))
}

func TestMatchEndpointHealthIsUnlimited(t *testing.T) {
	cfg := MatchEndpoint("/health", "GET", DefaultEndpointConfigs())
	require.NotNil(t, cfg)
	assert.LessOrEqual(t, cfg.Limit, 0)
}

func TestLoadConfigDisabledByEnv(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	cfg := LoadConfig()
	assert.False(t, cfg.Enabled)
}

func TestLoadConfigReadsOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_DEFAULT_LIMIT", "42")
	t.Setenv("RATE_LIMIT_DEFAULT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 10.0.0.2")

	cfg := LoadConfig()
	assert.Equal(t, 42, cfg.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultWindow)
	assert.True(t, cfg.Whitelist["10.0.0.1"])
	assert.True(t, cfg.Whitelist["10.0.0.2"])
	assert.NotEmpty(t, cfg.EndpointConfigs)
}
