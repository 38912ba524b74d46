package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oelp-platform/billing/internal/config"
	"github.com/stretchr/testify/require"
)

func TestRunRejectsInvalidPort(t *testing.T) {
	err := run(context.Background(), []string{"-port", "70000"})
	require.ErrorContains(t, err, "invalid port")
}

func TestRunRequiresConfig(t *testing.T) {
	t.Setenv(config.EnvDBConnection, "")
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	err := run(context.Background(), []string{"-config", missing})
	require.ErrorContains(t, err, "not found")
}

func TestRunInitSQLiteThenMigrate(t *testing.T) {
	t.Setenv(config.EnvDBConnection, "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	require.NoError(t, run(context.Background(), []string{"-config", cfgPath, "-init-sqlite", filepath.Join(dir, "billing.db")}))
	require.NoError(t, run(context.Background(), []string{"-config", cfgPath, "-migrate-only"}))
}
