package settings_test

import (
	"context"
	"testing"
	"time"

	"github.com/oelp-platform/billing/internal/db/dbtest"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/oelp-platform/billing/internal/settings"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestRefreshReadsScalarValuesOnSQLite(t *testing.T) {
	conn := dbtest.Open(t)
	t.Cleanup(func() { settings.StoreDBConfig(time.Time{}, nil) })

	require.NoError(t, conn.Model(&models.Setting{}).
		Where("key = ?", settings.FreePlanNameKey).
		Updates(map[string]any{"value": datatypes.JSON(`"Basic"`), "updated_at": time.Now().UTC()}).Error)

	require.NoError(t, settings.Refresh(context.Background(), conn))
	require.Equal(t, "Basic", settings.FreePlanName())
	require.Equal(t, settings.DefaultFallbackPlanDays, settings.FallbackPlanDays())
	require.False(t, settings.DBConfigUpdatedAt().IsZero())

	var row models.Setting
	require.NoError(t, conn.Where("key = ?", settings.FallbackPlanDaysKey).Take(&row).Error)
	require.JSONEq(t, "365", string(row.Value))
}
