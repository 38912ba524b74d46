package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/oelp-platform/billing/internal/db/dbtest"
	"github.com/oelp-platform/billing/internal/models"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	first, errFirst := limiter.Allow(ctx, "s:1", 2, time.Second, now)
	require.NoError(t, errFirst)
	require.True(t, first.Allowed)
	require.Equal(t, 1, first.Remaining)
	require.Equal(t, BackendMemory, first.Backend)

	second, _ := limiter.Allow(ctx, "s:1", 2, time.Second, now)
	require.True(t, second.Allowed)
	require.Equal(t, 0, second.Remaining)

	third, _ := limiter.Allow(ctx, "s:1", 2, time.Second, now.Add(500*time.Millisecond))
	require.False(t, third.Allowed)
	require.Equal(t, now.Add(time.Second), third.Reset)

	other, _ := limiter.Allow(ctx, "s:2", 2, time.Second, now)
	require.True(t, other.Allowed)

	next, _ := limiter.Allow(ctx, "s:1", 2, time.Second, now.Add(time.Second))
	require.True(t, next.Allowed)
}

func TestMemoryLimiterMinuteWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Date(2025, 1, 1, 10, 0, 30, 0, time.UTC)
	ctx := context.Background()

	first, _ := limiter.Allow(ctx, "ip:10.0.0.1", 1, time.Minute, now)
	require.True(t, first.Allowed)
	require.Equal(t, time.Date(2025, 1, 1, 10, 1, 0, 0, time.UTC), first.Reset)

	blocked, _ := limiter.Allow(ctx, "ip:10.0.0.1", 1, time.Minute, now.Add(29*time.Second))
	require.False(t, blocked.Allowed)

	rolled, _ := limiter.Allow(ctx, "ip:10.0.0.1", 1, time.Minute, now.Add(30*time.Second))
	require.True(t, rolled.Allowed)
}

func TestMemoryLimiterSweepsStaleWindows(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i <= memorySweepThreshold; i++ {
		_, _ = limiter.Allow(ctx, fmt.Sprintf("s:%d", i), 1, time.Second, now)
	}
	require.Equal(t, memorySweepThreshold+1, limiter.Len())

	_, _ = limiter.Allow(ctx, "s:fresh", 1, time.Second, now.Add(time.Second))
	require.Equal(t, 1, limiter.Len())
}

func TestManagerFallsBackToMemoryWhenRedisUnavailable(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	dials := 0
	manager := NewManager(
		WithSettings(func() SettingsConfig {
			return SettingsConfig{RedisEnabled: true, RedisAddr: "127.0.0.1:1", RedisPrefix: "test"}
		}),
		WithClock(func() time.Time { return now }),
		WithRedisFactory(func(options *redis.Options) *redis.Client {
			dials++
			options.Dialer = func(context.Context, string, string) (net.Conn, error) {
				return nil, errors.New("dial refused")
			}
			options.MaxRetries = -1
			return redis.NewClient(options)
		}),
	)
	t.Cleanup(func() { _ = manager.Close() })

	first, errFirst := manager.Allow(context.Background(), "s:1", 1)
	require.NoError(t, errFirst)
	require.True(t, first.Allowed)
	require.Equal(t, BackendMemory, first.Backend)

	second, errSecond := manager.Allow(context.Background(), "s:1", 1)
	require.NoError(t, errSecond)
	require.False(t, second.Allowed)
	require.Equal(t, 1, dials, "breaker should skip redis after the first failure")
}

func TestManagerWindowOption(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewManager(
		WithSettings(func() SettingsConfig { return SettingsConfig{} }),
		WithClock(func() time.Time { return now }),
		WithWindow(time.Minute),
	)
	first, _ := manager.Allow(context.Background(), "s:1", 1)
	require.True(t, first.Allowed)
	require.Equal(t, now.Add(time.Minute), first.Reset)

	now = now.Add(30 * time.Second)
	second, _ := manager.Allow(context.Background(), "s:1", 1)
	require.False(t, second.Allowed)
}

func TestManagerUnlimited(t *testing.T) {
	manager := NewManager(WithSettings(func() SettingsConfig { return SettingsConfig{} }))
	for i := 0; i < 5; i++ {
		result, err := manager.Allow(context.Background(), "s:1", 0)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
	var nilManager *Manager
	result, err := nilManager.Allow(context.Background(), "s:1", 1)
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.NoError(t, nilManager.Close())
}

func TestLoadSettingsConfig(t *testing.T) {
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Time{}, nil) })
	internalsettings.StoreDBConfig(time.Now(), map[string]json.RawMessage{
		internalsettings.RateLimitKey:             json.RawMessage(`"12"`),
		internalsettings.RateLimitRedisEnabledKey: json.RawMessage(`true`),
		internalsettings.RateLimitRedisAddrKey:    json.RawMessage(`" redis:6379 "`),
		internalsettings.RateLimitRedisDBKey:      json.RawMessage(`-3`),
		internalsettings.RateLimitRedisPrefixKey:  json.RawMessage(`"  "`),
	})

	cfg := LoadSettingsConfig()
	require.Equal(t, 12, cfg.Limit)
	require.True(t, cfg.RedisEnabled)
	require.Equal(t, "redis:6379", cfg.RedisAddr)
	require.Equal(t, 0, cfg.RedisDB)
	require.Equal(t, internalsettings.DefaultRateLimitRedisPrefix, cfg.RedisPrefix)
}

func TestKeyForDecision(t *testing.T) {
	require.Equal(t, "s:7", KeyForDecision(7, "10.0.0.1", Decision{Limit: 3, Scope: ScopeSubscriber}))
	require.Equal(t, "ip:10.0.0.1", KeyForDecision(0, " 10.0.0.1 ", Decision{Limit: 3, Scope: ScopeClient}))
	require.Empty(t, KeyForDecision(7, "10.0.0.1", Decision{Limit: 0, Scope: ScopeSubscriber}))
	require.Empty(t, KeyForDecision(0, "", Decision{Limit: 3, Scope: ScopeClient}))
	require.Empty(t, KeyForDecision(7, "", Decision{Limit: 3, Scope: ScopeNone}))
}

func TestResolveLimitPrefersLivePlans(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Time{}, nil) })
	internalsettings.StoreDBConfig(now, map[string]json.RawMessage{
		internalsettings.RateLimitKey: json.RawMessage(`"4"`),
	})

	main := models.Plan{Name: "Pro", Type: models.PlanTypeMain, Price: decimal.RequireFromString("99"), DurationDays: 30, RateLimit: 10, IsEnabled: true}
	expired := models.Plan{Name: "Legacy", Type: models.PlanTypeMain, Price: decimal.RequireFromString("49"), DurationDays: 30, RateLimit: 100, IsEnabled: true}
	require.NoError(t, conn.Create(&main).Error)
	require.NoError(t, conn.Create(&expired).Error)

	subs := []models.Subscription{
		{SubscriberID: 1, PlanID: main.ID, StartDate: now, EndDate: now.AddDate(0, 0, 30), ExpireAt: now.AddDate(0, 0, 30), IsActive: true},
		{SubscriberID: 2, PlanID: expired.ID, StartDate: now.AddDate(0, 0, -40), EndDate: now.AddDate(0, 0, -10), ExpireAt: now.AddDate(0, 0, -10), IsActive: true},
	}
	require.NoError(t, conn.Create(&subs).Error)

	decision, errResolve := ResolveLimit(context.Background(), conn, 1, now)
	require.NoError(t, errResolve)
	require.Equal(t, Decision{Limit: 10, Scope: ScopeSubscriber}, decision)

	decision, errResolve = ResolveLimit(context.Background(), conn, 2, now)
	require.NoError(t, errResolve)
	require.Equal(t, Decision{Limit: 4, Scope: ScopeSubscriber}, decision)

	decision, errResolve = ResolveLimit(context.Background(), conn, 0, now)
	require.NoError(t, errResolve)
	require.Equal(t, Decision{Limit: 4, Scope: ScopeClient}, decision)
}
