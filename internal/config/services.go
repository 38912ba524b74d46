package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// GatewayConfig holds payment provider credentials and transport settings.
type GatewayConfig struct {
	Provider      string        `yaml:"provider" validate:"required,oneof=razorpay"`
	BaseURL       string        `yaml:"base-url" validate:"required,url"`
	KeyID         string        `yaml:"key-id"`
	KeySecret     string        `yaml:"key-secret"`
	WebhookSecret string        `yaml:"webhook-secret"`
	Currency      string        `yaml:"currency" validate:"required,len=3"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
}

// NotifyConfig holds notification dispatcher settings.
type NotifyConfig struct {
	NATSURL         string        `yaml:"nats-url" validate:"omitempty,url"`
	Subject         string        `yaml:"subject" validate:"required"`
	BlockedPatterns []string      `yaml:"blocked-patterns"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
}

// LoggingConfig controls log level and file rotation.
type LoggingConfig struct {
	Debug         bool   `yaml:"debug"`
	Level         string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	LoggingToFile bool   `yaml:"logging-to-file"`
	LogFile       string `yaml:"log-file"`
	MaxSizeMB     int    `yaml:"log-max-size-mb" validate:"gte=0"`
}

// CatalogConfig points at an optional YAML plan catalog.
type CatalogConfig struct {
	Path         string        `yaml:"path"`
	SyncInterval time.Duration `yaml:"sync-interval" validate:"gte=0"`
}

// Defaults applied when the config file omits a value.
const (
	DefaultGatewayProvider = "razorpay"
	DefaultGatewayBaseURL  = "https://api.razorpay.com/v1"
	DefaultGatewayCurrency = "INR"
	DefaultGatewayTimeout  = 10 * time.Second
	DefaultNotifySubject   = "billing.notifications"
	DefaultNotifyTimeout   = 5 * time.Second
	DefaultLogFile         = "logs/billing.log"
	DefaultLogMaxSizeMB    = 100
	DefaultCatalogSync     = 10 * time.Minute
)

// DefaultBlockedPatterns are notification substrings dropped by default.
var DefaultBlockedPatterns = []string{"support request"}

// readConfigFile unmarshals the YAML file into out. A missing file is not an error.
func readConfigFile(configPath string, out any) error {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		if errors.Is(errRead, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, out); errUnmarshal != nil {
		return fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	return nil
}

// LoadGatewayConfig loads payment gateway settings from the config file and env.
func LoadGatewayConfig(configPath string) (GatewayConfig, error) {
	// fileConfig maps the YAML fields needed for gateway settings.
	type fileConfig struct {
		Gateway GatewayConfig `yaml:"gateway"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return GatewayConfig{}, errRead
	}
	result := cfg.Gateway

	if v := strings.TrimSpace(os.Getenv(EnvGatewayKeyID)); v != "" {
		result.KeyID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGatewayKeySecret)); v != "" {
		result.KeySecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGatewayWebhookSecret)); v != "" {
		result.WebhookSecret = v
	}

	result.Provider = strings.ToLower(strings.TrimSpace(result.Provider))
	if result.Provider == "" {
		result.Provider = DefaultGatewayProvider
	}
	if strings.TrimSpace(result.BaseURL) == "" {
		result.BaseURL = DefaultGatewayBaseURL
	}
	result.BaseURL = strings.TrimRight(strings.TrimSpace(result.BaseURL), "/")
	result.Currency = strings.ToUpper(strings.TrimSpace(result.Currency))
	if result.Currency == "" {
		result.Currency = DefaultGatewayCurrency
	}
	if result.Timeout <= 0 {
		result.Timeout = DefaultGatewayTimeout
	}
	if strings.TrimSpace(result.WebhookSecret) == "" {
		result.WebhookSecret = result.KeySecret
	}

	if errValidate := validate.Struct(result); errValidate != nil {
		return GatewayConfig{}, fmt.Errorf("invalid gateway config: %w", errValidate)
	}
	return result, nil
}

// LoadNotifyConfig loads notification dispatcher settings.
func LoadNotifyConfig(configPath string) (NotifyConfig, error) {
	// fileConfig maps the YAML fields needed for notification settings.
	type fileConfig struct {
		Notify NotifyConfig `yaml:"notify"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return NotifyConfig{}, errRead
	}
	result := cfg.Notify
	if v := strings.TrimSpace(os.Getenv(EnvNotifyNATSURL)); v != "" {
		result.NATSURL = v
	}
	result.NATSURL = strings.TrimSpace(result.NATSURL)
	if strings.TrimSpace(result.Subject) == "" {
		result.Subject = DefaultNotifySubject
	}
	if result.BlockedPatterns == nil {
		result.BlockedPatterns = append([]string(nil), DefaultBlockedPatterns...)
	}
	if result.Timeout <= 0 {
		result.Timeout = DefaultNotifyTimeout
	}
	if errValidate := validate.Struct(result); errValidate != nil {
		return NotifyConfig{}, fmt.Errorf("invalid notify config: %w", errValidate)
	}
	return result, nil
}

// LoadLoggingConfig loads logging settings.
func LoadLoggingConfig(configPath string) (LoggingConfig, error) {
	// fileConfig maps the YAML fields needed for logging settings.
	type fileConfig struct {
		LoggingConfig `yaml:",inline"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return LoggingConfig{}, errRead
	}
	result := cfg.LoggingConfig
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		result.Level = strings.ToLower(v)
	}
	if strings.TrimSpace(result.LogFile) == "" {
		result.LogFile = DefaultLogFile
	}
	if result.MaxSizeMB <= 0 {
		result.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if errValidate := validate.Struct(result); errValidate != nil {
		return LoggingConfig{}, fmt.Errorf("invalid logging config: %w", errValidate)
	}
	return result, nil
}

// LoadCatalogConfig loads plan catalog settings.
func LoadCatalogConfig(configPath string) (CatalogConfig, error) {
	// fileConfig maps the YAML fields needed for catalog settings.
	type fileConfig struct {
		Catalog CatalogConfig `yaml:"catalog"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return CatalogConfig{}, errRead
	}
	result := cfg.Catalog
	if v := strings.TrimSpace(os.Getenv(EnvCatalogPath)); v != "" {
		result.Path = v
	}
	result.Path = strings.TrimSpace(result.Path)
	if result.SyncInterval <= 0 {
		result.SyncInterval = DefaultCatalogSync
	}
	if errValidate := validate.Struct(result); errValidate != nil {
		return CatalogConfig{}, fmt.Errorf("invalid catalog config: %w", errValidate)
	}
	return result, nil
}

// ServerConfig holds listener and calendar settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
	// Timezone names the location whose midnight rolls metered windows over.
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone, defaulting to UTC.
func (c ServerConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, errLoad := time.LoadLocation(name)
	if errLoad != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, errLoad)
	}
	return loc, nil
}

// LoadServerConfig loads listener settings. A zero port leaves the choice to the caller.
func LoadServerConfig(configPath string) (ServerConfig, error) {
	// fileConfig maps the YAML fields needed for server settings.
	type fileConfig struct {
		ServerConfig `yaml:",inline"`
	}
	var cfg fileConfig
	if errRead := readConfigFile(configPath, &cfg); errRead != nil {
		return ServerConfig{}, errRead
	}
	result := cfg.ServerConfig
	result.Host = strings.TrimSpace(result.Host)
	if errValidate := validate.Struct(result); errValidate != nil {
		return ServerConfig{}, fmt.Errorf("invalid server config: %w", errValidate)
	}
	if _, errLoc := result.Location(); errLoc != nil {
		return ServerConfig{}, errLoc
	}
	return result, nil
}
