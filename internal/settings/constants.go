package settings

// DB config keys and defaults for settings.
const (
	// RateLimitKey controls the default rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// FreePlanNameKey names the plan subscribers fall back to on downgrade.
	FreePlanNameKey = "FREE_PLAN_NAME"
	// FallbackPlanDaysKey sets the term of the fallback subscription.
	FallbackPlanDaysKey = "FALLBACK_PLAN_DAYS"
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "billing:rl"
	// DefaultFreePlanName is the fallback plan name.
	DefaultFreePlanName = "Free"
	// DefaultFallbackPlanDays is the fallback subscription term in days.
	DefaultFallbackPlanDays = 365
)
