package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oelp-platform/billing/internal/metrics"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultWindow      = time.Second
	redisPingTimeout   = 2 * time.Second
	redisBreakerPeriod = 30 * time.Second
)

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// Option customizes a Manager.
type Option func(*Manager)

// WithSettings replaces the settings snapshot source.
func WithSettings(provider SettingsProvider) Option {
	return func(m *Manager) {
		if provider != nil {
			m.settings = provider
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithWindow sets the length of a counting window.
func WithWindow(window time.Duration) Option {
	return func(m *Manager) {
		if window > 0 {
			m.window = window
		}
	}
}

// WithRedisFactory replaces the Redis client constructor.
func WithRedisFactory(factory RedisClientFactory) Option {
	return func(m *Manager) {
		if factory != nil {
			m.dial = factory
		}
	}
}

// Manager enforces limits on Redis when the settings enable it and on process
// memory otherwise. A Redis failure opens a breaker that routes checks to
// memory for a cool-down period.
type Manager struct {
	settings SettingsProvider
	now      func() time.Time
	window   time.Duration
	dial     RedisClientFactory
	memory   *MemoryLimiter
	breaker  breaker

	mu       sync.Mutex
	redis    *RedisLimiter
	redisCfg redisTarget
}

// redisTarget identifies the Redis instance a limiter was built for.
type redisTarget struct {
	addr     string
	password string
	db       int
	prefix   string
}

// NewManager constructs a Manager reading the shared settings snapshot.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		settings: LoadSettingsConfig,
		now:      time.Now,
		window:   defaultWindow,
		dial:     redis.NewClient,
		memory:   NewMemoryLimiter(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow counts one call for key. It never fails closed: backend errors fall
// through to the memory limiter.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.now()
	cfg := m.settings()

	var result Result
	served := false
	if limiter := m.redisFor(ctx, cfg, now); limiter != nil {
		redisResult, errRedis := limiter.Allow(ctx, key, limit, m.window, now)
		if errRedis != nil {
			m.breaker.trip(errRedis, now)
		} else {
			result, served = redisResult, true
		}
	}
	var errAllow error
	if !served {
		result, errAllow = m.memory.Allow(ctx, key, limit, m.window, now)
	}
	if errAllow == nil {
		outcome := metrics.OutcomeSuccess
		if !result.Allowed {
			outcome = metrics.OutcomeRejected
		}
		metrics.RateLimitChecks.WithLabelValues(result.Backend, outcome).Inc()
	}
	return result, errAllow
}

// redisFor returns a healthy Redis limiter for cfg, or nil when memory should be used.
func (m *Manager) redisFor(ctx context.Context, cfg SettingsConfig, now time.Time) *RedisLimiter {
	if !cfg.RedisEnabled || m.breaker.open(now) {
		return nil
	}
	limiter, errConnect := m.connect(ctx, cfg)
	if errConnect != nil {
		m.breaker.trip(errConnect, now)
		return nil
	}
	return limiter
}

// connect reuses the current client while the target is unchanged and
// replaces it when the settings point elsewhere.
func (m *Manager) connect(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}
	target := redisTarget{addr: cfg.RedisAddr, password: cfg.RedisPassword, db: cfg.RedisDB, prefix: cfg.RedisPrefix}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis != nil && m.redisCfg == target {
		return m.redis, nil
	}
	if m.redis != nil {
		if errClose := m.redis.Close(); errClose != nil {
			log.WithError(errClose).Debug("rate limit: close previous redis client")
		}
		m.redis = nil
	}

	client := m.dial(&redis.Options{Addr: target.addr, Password: target.password, DB: target.db})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redis = NewRedisLimiter(client, target.prefix)
	m.redisCfg = target
	log.WithField("addr", target.addr).Info("rate limit: using redis")
	return m.redis, nil
}

// Close releases the Redis client, if any.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		return nil
	}
	errClose := m.redis.Close()
	m.redis = nil
	return errClose
}

// breaker suspends Redis use for a fixed period after a failure.
type breaker struct {
	mu    sync.Mutex
	until time.Time
}

func (b *breaker) open(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.until.IsZero() && now.Before(b.until)
}

func (b *breaker) trip(err error, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.until.IsZero() && now.Before(b.until) {
		return
	}
	b.until = now.Add(redisBreakerPeriod)
	log.WithError(err).WithField("retry_at", b.until).Warn("rate limit: redis unavailable, counting in memory")
}
