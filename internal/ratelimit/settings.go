package ratelimit

import (
	"strings"

	internalsettings "github.com/oelp-platform/billing/internal/settings"
)

// SettingsConfig is the limiter view of the settings snapshot.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// LoadSettingsConfig reads the limiter keys from the current settings snapshot.
// Values that fail to parse keep their defaults.
func LoadSettingsConfig() SettingsConfig {
	cfg := SettingsConfig{RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix}

	ints := map[string]*int{
		internalsettings.RateLimitKey:        &cfg.Limit,
		internalsettings.RateLimitRedisDBKey: &cfg.RedisDB,
	}
	for key, dst := range ints {
		if raw, ok := internalsettings.DBConfigValue(key); ok {
			if v, okParse := internalsettings.ParseNonNegativeInt(raw); okParse {
				*dst = v
			}
		}
	}

	strs := map[string]*string{
		internalsettings.RateLimitRedisAddrKey:     &cfg.RedisAddr,
		internalsettings.RateLimitRedisPasswordKey: &cfg.RedisPassword,
		internalsettings.RateLimitRedisPrefixKey:   &cfg.RedisPrefix,
	}
	for key, dst := range strs {
		if raw, ok := internalsettings.DBConfigValue(key); ok {
			if v, okParse := internalsettings.ParseString(raw); okParse && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
			}
		}
	}

	if raw, ok := internalsettings.DBConfigValue(internalsettings.RateLimitRedisEnabledKey); ok {
		if enabled, okParse := internalsettings.ParseBool(raw); okParse {
			cfg.RedisEnabled = enabled
		}
	}
	return cfg
}
