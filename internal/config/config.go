package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment variables that override the config file.
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"

	EnvGatewayKeyID         = "GATEWAY_KEY_ID"
	EnvGatewayKeySecret     = "GATEWAY_KEY_SECRET"
	EnvGatewayWebhookSecret = "GATEWAY_WEBHOOK_SECRET"
	EnvNotifyNATSURL        = "NOTIFY_NATS_URL"
	EnvLogLevel             = "LOG_LEVEL"
	EnvCatalogPath          = "CATALOG_PATH"
)

// defaultConfigFile is used when neither the flag nor CONFIG_PATH names a file.
const defaultConfigFile = "config.yaml"

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath returns an absolute config path, defaulting to ./config.yaml.
func ResolveConfigPath(p string) string {
	path := strings.TrimSpace(p)
	if path == "" {
		path = defaultConfigFile
	}
	abs, errAbs := filepath.Abs(path)
	if errAbs != nil {
		return path
	}
	return abs
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// LoadDatabaseDSN resolves the DSN from DB_CONNECTION, then the config file.
// Both the flat `database-dsn` key and the nested `database.dsn` key are read.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}
	if _, errStat := os.Stat(configPath); errStat != nil {
		return "", fmt.Errorf("read config file: %w", errStat)
	}

	var cfg struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return "", errRead
	}
	for _, dsn := range []string{cfg.DatabaseDSN, cfg.Database.DSN} {
		if trimmed := strings.TrimSpace(dsn); trimmed != "" {
			return trimmed, nil
		}
	}
	return "", ErrMissingDatabaseDSN
}

// JWTConfig holds the token signing secret and lifetime.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry" validate:"gt=0"`
}

// defaultJWTExpiry applies when neither the file nor JWT_EXPIRY sets a lifetime.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings. JWT_SECRET and JWT_EXPIRY override the file;
// an unparsable JWT_EXPIRY is ignored.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	var cfg struct {
		JWT JWTConfig `yaml:"jwt"`
	}
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return JWTConfig{}, errRead
	}
	result := cfg.JWT

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if raw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); raw != "" {
		if expiry, errParse := time.ParseDuration(raw); errParse == nil && expiry > 0 {
			result.Expiry = expiry
		}
	}
	result.Secret = strings.TrimSpace(result.Secret)
	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}

	if errValidate := validate.Struct(result); errValidate != nil {
		return JWTConfig{}, fmt.Errorf("invalid jwt config: %w", errValidate)
	}
	return result, nil
}
