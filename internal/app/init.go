package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oelp-platform/billing/internal/config"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/security"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// InitRequest contains parameters for writing a first config file.
type InitRequest struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
}

// ErrConfigExists is returned when init would overwrite an existing config.
var ErrConfigExists = errors.New("config file already exists")

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "billing.db"

// BuildDSN builds a database DSN from the init request.
func BuildDSN(req InitRequest) (string, error) {
	switch strings.ToLower(strings.TrimSpace(req.DatabaseType)) {
	case "", "postgres":
		if strings.TrimSpace(req.DatabaseHost) == "" {
			return "", fmt.Errorf("database host is required")
		}
		if req.DatabasePort <= 0 {
			return "", fmt.Errorf("invalid database port")
		}
		if strings.TrimSpace(req.DatabaseName) == "" {
			return "", fmt.Errorf("database name is required")
		}
		sslMode := req.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			req.DatabaseUser,
			req.DatabasePassword,
			req.DatabaseHost,
			req.DatabasePort,
			req.DatabaseName,
			sslMode,
		), nil
	case "sqlite":
		return buildSQLiteDSN(req.DatabasePath), nil
	default:
		return "", fmt.Errorf("unsupported database type")
	}
}

// buildSQLiteDSN constructs a SQLite DSN with default parameters.
func buildSQLiteDSN(path string) string {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = defaultSQLitePath
	}
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + strings.Join([]string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
		"_foreign_keys=on",
		"_synchronous=NORMAL",
	}, "&")
}

// TestDatabaseConnection validates that the DSN can connect and ping.
func TestDatabaseConnection(dsn string) (err error) {
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return fmt.Errorf("failed to connect to database: %w", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return fmt.Errorf("failed to get sql db: %w", errDB)
	}
	defer func() {
		if errClose := sqlDB.Close(); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	return sqlDB.Ping()
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Host          string     `yaml:"host"`
	Port          int        `yaml:"port"`
	Timezone      string     `yaml:"timezone"`
	DatabaseDSN   string     `yaml:"database-dsn"`
	Debug         bool       `yaml:"debug"`
	LoggingToFile bool       `yaml:"logging-to-file"`
	JWT           jwtCfg     `yaml:"jwt"`
	Gateway       gatewayCfg `yaml:"gateway"`
	Notify        notifyCfg  `yaml:"notify"`
	Catalog       catalogCfg `yaml:"catalog"`
}

// jwtCfg holds JWT settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

// gatewayCfg holds payment provider settings for the generated config file.
type gatewayCfg struct {
	Provider      string `yaml:"provider"`
	BaseURL       string `yaml:"base-url"`
	KeyID         string `yaml:"key-id"`
	KeySecret     string `yaml:"key-secret"`
	WebhookSecret string `yaml:"webhook-secret"`
	Currency      string `yaml:"currency"`
	Timeout       string `yaml:"timeout"`
}

// notifyCfg holds notification settings for the generated config file.
type notifyCfg struct {
	NATSURL         string   `yaml:"nats-url"`
	Subject         string   `yaml:"subject"`
	BlockedPatterns []string `yaml:"blocked-patterns"`
}

// catalogCfg holds plan catalog settings for the generated config file.
type catalogCfg struct {
	Path         string `yaml:"path"`
	SyncInterval string `yaml:"sync-interval"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() string {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		return "change-me-to-a-secure-random-string"
	}
	return secret
}

// WriteConfigFile writes the initial config file to disk.
func WriteConfigFile(configPath string, dsn string, port int) error {
	cfg := configFile{
		Port:        port,
		Timezone:    "UTC",
		DatabaseDSN: dsn,
		JWT: jwtCfg{
			Secret: generateJWTSecret(),
			Expiry: "720h",
		},
		Gateway: gatewayCfg{
			Provider: config.DefaultGatewayProvider,
			BaseURL:  config.DefaultGatewayBaseURL,
			Currency: config.DefaultGatewayCurrency,
			Timeout:  config.DefaultGatewayTimeout.String(),
		},
		Notify: notifyCfg{
			Subject:         config.DefaultNotifySubject,
			BlockedPatterns: append([]string(nil), config.DefaultBlockedPatterns...),
		},
		Catalog: catalogCfg{
			SyncInterval: config.DefaultCatalogSync.String(),
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}

	return nil
}

// InitConfig writes a config file for req, migrates the database and seeds
// the catalog. An existing config file is never overwritten.
func InitConfig(ctx context.Context, configPath string, req InitRequest, port int) error {
	configPath = config.ResolveConfigPath(configPath)
	if ConfigExists(configPath) {
		return fmt.Errorf("%w: %s", ErrConfigExists, configPath)
	}
	dsn, errBuild := BuildDSN(req)
	if errBuild != nil {
		return errBuild
	}
	if errTest := TestDatabaseConnection(dsn); errTest != nil {
		return fmt.Errorf("database connection failed: %w", errTest)
	}
	if port <= 0 {
		port = DefaultPort
	}
	if errWrite := WriteConfigFile(configPath, dsn, port); errWrite != nil {
		return errWrite
	}

	initCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	conn, errOpen := openDatabase(initCtx, dsn)
	if errOpen != nil {
		if errRemove := os.Remove(configPath); errRemove != nil {
			log.Errorf("remove config file error: %v", errRemove)
		}
		return errOpen
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		_ = sqlDB.Close()
	}
	log.Infof("wrote %s", configPath)
	return nil
}
