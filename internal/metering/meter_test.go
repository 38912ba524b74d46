package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/db/dbtest"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	conn  *gorm.DB
	meter *Meter
	subs  *entitlement.Ledger
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	require.NoError(t, catalog.Seed(context.Background(), conn))
	f := &fixture{conn: conn, now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.meter = NewMeter(conn).WithClock(clock)
	f.subs = entitlement.NewLedger(conn).WithClock(clock)
	return f
}

func (f *fixture) activate(t *testing.T, subscriberID uint64, planName string) *models.Subscription {
	t.Helper()
	ctx := context.Background()
	plan, err := catalog.PlanByName(ctx, f.conn, planName)
	require.NoError(t, err)
	sub, err := f.subs.Activate(ctx, subscriberID, plan.ID, 0)
	require.NoError(t, err)
	return sub
}

func TestCheckAndConsume_DailyQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activate(t, 1, "TopUpPlan")

	for want := 7; want >= 0; want-- {
		res, err := f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 1)
		require.NoError(t, err)
		require.Equal(t, want, res.Remaining)
		f.now = f.now.Add(time.Minute)
	}

	_, err := f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 1)
	require.True(t, billing.IsQuotaExceeded(err))
	var quotaErr *billing.QuotaError
	require.True(t, errors.As(err, &quotaErr))
	require.Zero(t, quotaErr.Remaining)
	require.Equal(t, 8, quotaErr.Used)

	status, err := f.meter.Status(ctx, sub, catalog.FeatureAIAssistant)
	require.NoError(t, err)
	require.Equal(t, 8, status.Used)
	require.Zero(t, status.Remaining)

	f.now = time.Date(2026, 5, 5, 0, 0, 1, 0, time.UTC)
	res, err := f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 1)
	require.NoError(t, err)
	require.Equal(t, 7, res.Remaining)
}

func TestCheckAndConsume_RejectionDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activate(t, 1, "TopUpPlan")

	_, err := f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 6)
	require.NoError(t, err)
	_, err = f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 3)
	require.True(t, billing.IsQuotaExceeded(err))

	var row models.FeatureUsage
	require.NoError(t, f.conn.Where("subscription_id = ?", sub.ID).Take(&row).Error)
	require.Equal(t, 6, row.UsedCount)
	require.Equal(t, 8, row.MaxCount)
}

func TestCheckAndConsume_Unlimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activate(t, 2, "EnterprisePlan")

	for i := 0; i < 20; i++ {
		res, err := f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 1)
		require.NoError(t, err)
		require.True(t, res.Unlimited)
	}
}

func TestCheckAndConsume_NotEntitled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activate(t, 3, "MainPlan")

	_, err := f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 1)
	require.ErrorIs(t, err, billing.ErrNoEntitlement)

	_, err = f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 0)
	require.ErrorIs(t, err, billing.ErrInvalidInput)

	f.now = f.now.AddDate(0, 2, 0)
	_, err = f.meter.CheckAndConsume(ctx, sub, catalog.FeatureBasicReports, 1)
	require.True(t, billing.IsNotFound(err))
}

func TestGuard_ReleasesOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.activate(t, 4, "TopUpPlan")

	_, err := f.meter.Guard(ctx, sub, catalog.FeatureAIAssistant, 1, func(context.Context) error {
		return errors.New("downstream failed")
	})
	require.EqualError(t, err, "downstream failed")

	status, err := f.meter.Status(ctx, sub, catalog.FeatureAIAssistant)
	require.NoError(t, err)
	require.Zero(t, status.Used)

	res, err := f.meter.Guard(ctx, sub, catalog.FeatureAIAssistant, 2, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 6, res.Remaining)
}

func TestRollover_UsesConfiguredLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := time.FixedZone("UTC+5", 5*60*60)
	f.meter.WithLocation(loc)
	sub := f.activate(t, 5, "TopUpPlan")

	// 10:00 UTC is 15:00 local; 20:00 UTC is already the next local day.
	_, err := f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 8)
	require.NoError(t, err)
	f.now = time.Date(2026, 5, 4, 20, 0, 0, 0, time.UTC)
	res, err := f.meter.CheckAndConsume(ctx, sub, catalog.FeatureAIAssistant, 1)
	require.NoError(t, err)
	require.Equal(t, 7, res.Remaining)
}
