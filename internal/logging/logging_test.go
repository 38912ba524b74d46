package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oelp-platform/billing/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetup_FileOutput(t *testing.T) {
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})

	logFile := filepath.Join(t.TempDir(), "logs", "billing.log")
	closer, err := Setup(config.LoggingConfig{
		Level:         "debug",
		LoggingToFile: true,
		LogFile:       logFile,
		MaxSizeMB:     1,
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	log.Info("hello from test")
	if errClose := closer.Close(); errClose != nil {
		t.Fatalf("close: %v", errClose)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	data, errRead := os.ReadFile(logFile)
	if errRead != nil {
		t.Fatalf("read log file: %v", errRead)
	}
	if len(data) == 0 {
		t.Fatalf("expected log output in file")
	}
}

func TestSetup_InvalidLevel(t *testing.T) {
	if _, err := Setup(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}
