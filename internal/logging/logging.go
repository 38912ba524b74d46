package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oelp-platform/billing/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global logrus logger. The returned closer flushes the
// rotating file writer, if any.
func Setup(cfg config.LoggingConfig) (io.Closer, error) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		parsed, errParse := log.ParseLevel(raw)
		if errParse != nil {
			return nil, fmt.Errorf("logging: parse level: %w", errParse)
		}
		level = parsed
	}
	log.SetLevel(level)

	if !cfg.LoggingToFile {
		log.SetOutput(os.Stdout)
		return noopCloser{}, nil
	}

	if dir := filepath.Dir(cfg.LogFile); dir != "" && dir != "." {
		if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", errMkdir)
		}
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: 7,
		MaxAge:     30,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, writer))
	return writer, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
