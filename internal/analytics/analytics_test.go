package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/db/dbtest"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/ledger"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func insert(t *testing.T, conn *gorm.DB, subscriberID uint64, kind models.TransactionKind, status models.TransactionStatus, amount string, at time.Time) {
	t.Helper()
	row := models.Transaction{
		SubscriberID: subscriberID, Amount: decimal.RequireFromString(amount), Currency: "INR",
		Status: status, Kind: kind, CreatedAt: at, UpdatedAt: at,
	}
	require.NoError(t, conn.Create(&row).Error)
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	require.NoError(t, catalog.Seed(ctx, conn))
	now := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
	svc := NewService(conn).WithClock(func() time.Time { return now })

	pay, refund := models.TransactionKindPayment, models.TransactionKindRefund
	insert(t, conn, 1, pay, models.TransactionStatusSuccess, "19.00", now.Add(-2*time.Hour))
	insert(t, conn, 1, refund, models.TransactionStatusSuccess, "9.50", now.Add(-time.Hour))
	insert(t, conn, 2, pay, models.TransactionStatusPaid, "129.00", now.AddDate(0, 0, -3))
	insert(t, conn, 3, pay, models.TransactionStatusRefunded, "9.00", now.AddDate(0, 0, -6))
	insert(t, conn, 4, pay, models.TransactionStatusPending, "19.00", now)
	insert(t, conn, 5, pay, models.TransactionStatusFailed, "19.00", now)
	insert(t, conn, 6, pay, models.TransactionStatusCompleted, "50.00", now.AddDate(0, 0, -10))

	report, err := svc.Report(ctx)
	require.NoError(t, err)
	require.Equal(t, "207.00", report.PaymentsSum.StringFixed(2))
	require.Equal(t, "9.50", report.RefundsSum.StringFixed(2))
	require.Equal(t, "197.50", report.NetRevenue.StringFixed(2))

	require.Len(t, report.DailyRevenue, DailyRevenueDays)
	require.Equal(t, "2026-06-04", report.DailyRevenue[0].Date)
	require.Equal(t, "9.00", report.DailyRevenue[0].Amount.StringFixed(2))
	require.Equal(t, "2026-06-07", report.DailyRevenue[3].Date)
	require.Equal(t, "129.00", report.DailyRevenue[3].Amount.StringFixed(2))
	require.True(t, report.DailyRevenue[4].Amount.IsZero())
	require.Equal(t, "2026-06-10", report.DailyRevenue[6].Date)
	require.Equal(t, "9.50", report.DailyRevenue[6].Amount.StringFixed(2))

	histogram := map[models.TransactionStatus]int64{}
	for _, bucket := range report.TransactionsStatus {
		histogram[bucket.Status] = bucket.Count
	}
	require.Equal(t, map[models.TransactionStatus]int64{
		models.TransactionStatusSuccess:   2,
		models.TransactionStatusPaid:      1,
		models.TransactionStatusRefunded:  1,
		models.TransactionStatusPending:   1,
		models.TransactionStatusFailed:    1,
		models.TransactionStatusCompleted: 1,
	}, histogram)
}

func TestSummary_FilterBySubscriber(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	now := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
	insert(t, conn, 1, models.TransactionKindPayment, models.TransactionStatusSuccess, "19.00", now)
	insert(t, conn, 2, models.TransactionKindPayment, models.TransactionStatusSuccess, "129.00", now)

	summary, err := NewService(conn).Summary(ctx, ledger.Filter{SubscriberID: 2})
	require.NoError(t, err)
	require.Equal(t, "129.00", summary.NetRevenue.StringFixed(2))
}

func TestPlanDistribution(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	require.NoError(t, catalog.Seed(ctx, conn))
	now := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
	subs := entitlement.NewLedger(conn).WithClock(func() time.Time { return now })

	main, err := catalog.PlanByName(ctx, conn, "MainPlan")
	require.NoError(t, err)
	free, err := catalog.PlanByName(ctx, conn, "Free")
	require.NoError(t, err)
	for _, id := range []uint64{1, 2} {
		_, err = subs.Activate(ctx, id, main.ID, 0)
		require.NoError(t, err)
	}
	_, err = subs.Activate(ctx, 3, free.ID, 0)
	require.NoError(t, err)

	counts, err := NewService(conn).WithClock(func() time.Time { return now }).PlanDistribution(ctx)
	require.NoError(t, err)
	require.Equal(t, []PlanCount{{Plan: "MainPlan", Count: 2}, {Plan: "Free", Count: 1}}, counts)
}
