package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/oelp-platform/billing/internal/db/dbtest"
	"github.com/oelp-platform/billing/internal/models"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestPollReloadsOnChange(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	w := NewSettingsWatcher(conn, time.Hour)

	require.True(t, w.Poll(ctx, true))
	require.Equal(t, internalsettings.DefaultFallbackPlanDays, internalsettings.FallbackPlanDays())
	require.False(t, w.Poll(ctx, false))

	require.NoError(t, conn.Model(&models.Setting{}).
		Where("key = ?", internalsettings.FallbackPlanDaysKey).
		Updates(map[string]any{"value": datatypes.JSON(`45`), "updated_at": time.Now().UTC().Add(time.Minute)}).Error)

	require.True(t, w.Poll(ctx, false))
	require.Equal(t, 45, internalsettings.FallbackPlanDays())

	require.NoError(t, conn.Model(&models.Setting{}).
		Where("key = ?", internalsettings.FallbackPlanDaysKey).
		Updates(map[string]any{"value": datatypes.JSON(`365`), "updated_at": time.Now().UTC().Add(2 * time.Minute)}).Error)
	require.True(t, w.Poll(ctx, false))
}

func TestStartStop(t *testing.T) {
	conn := dbtest.Open(t)
	w := NewSettingsWatcher(conn, 10*time.Millisecond)
	w.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	w.Stop()
	w.Stop()
}
