package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/db/dbtest"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setup(t *testing.T) (*gorm.DB, *Ledger, *models.Plan) {
	t.Helper()
	conn := dbtest.Open(t)
	plan := &models.Plan{Name: "MainPlan", Type: models.PlanTypeMain, Price: decimal.NewFromInt(19), DurationDays: 30, IsEnabled: true}
	require.NoError(t, conn.Create(plan).Error)
	return conn, NewLedger(conn), plan
}

func TestMarkSuccess_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, l, plan := setup(t)

	pending, err := l.RecordPending(ctx, PendingInput{
		SubscriberID: 1, Plan: plan, Amount: plan.Price, Currency: "inr", OrderID: "order_1",
	})
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusPending, pending.Status)
	require.Equal(t, "INR", pending.Currency)
	require.Equal(t, models.PlanTypeMain, pending.PlanType)

	first, err := l.MarkSuccess(ctx, Ref{OrderID: "order_1"}, "pay_1", nil)
	require.NoError(t, err)
	require.True(t, first.Changed)
	require.Equal(t, models.TransactionStatusSuccess, first.Transaction.Status)

	second, err := l.MarkSuccess(ctx, Ref{OrderID: "order_1"}, "pay_other", &Fallback{SubscriberID: 1, Plan: plan})
	require.NoError(t, err)
	require.False(t, second.Changed)
	require.Equal(t, first.Transaction.ID, second.Transaction.ID)
	require.Equal(t, "pay_1", models.StringValue(second.Transaction.ProviderPaymentID))

	var count int64
	require.NoError(t, conn.Model(&models.Transaction{}).
		Where("provider_order_id = ? AND status = ?", "order_1", models.TransactionStatusSuccess).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestMarkSuccess_FallbackCreatesSuccessRow(t *testing.T) {
	ctx := context.Background()
	_, l, plan := setup(t)

	_, err := l.MarkSuccess(ctx, Ref{OrderID: "order_unknown"}, "pay_1", nil)
	require.True(t, billing.IsNotFound(err))

	out, err := l.MarkSuccess(ctx, Ref{OrderID: "order_late"}, "pay_2", &Fallback{SubscriberID: 3, Plan: plan, Currency: "INR"})
	require.NoError(t, err)
	require.True(t, out.Changed)
	require.Equal(t, models.TransactionStatusSuccess, out.Transaction.Status)
	require.True(t, out.Transaction.Amount.Equal(decimal.NewFromInt(19)))
	require.Equal(t, uint64(3), out.Transaction.SubscriberID)

	again, err := l.MarkSuccess(ctx, Ref{OrderID: "order_late"}, "pay_2", &Fallback{SubscriberID: 3, Plan: plan})
	require.NoError(t, err)
	require.False(t, again.Changed)
	require.Equal(t, out.Transaction.ID, again.Transaction.ID)
}

func TestMarkFailed_DoesNotOverrideSettled(t *testing.T) {
	ctx := context.Background()
	_, l, plan := setup(t)

	_, err := l.RecordPending(ctx, PendingInput{SubscriberID: 1, Plan: plan, Amount: plan.Price, OrderID: "order_f"})
	require.NoError(t, err)

	failed, err := l.MarkFailed(ctx, Ref{OrderID: "order_f"}, "pay_f", nil)
	require.NoError(t, err)
	require.True(t, failed.Changed)
	require.Equal(t, models.TransactionStatusFailed, failed.Transaction.Status)

	repeat, err := l.MarkFailed(ctx, Ref{OrderID: "order_f"}, "", nil)
	require.NoError(t, err)
	require.False(t, repeat.Changed)

	// A later capture of the same order settles it.
	captured, err := l.MarkSuccess(ctx, Ref{OrderID: "order_f"}, "pay_f2", nil)
	require.NoError(t, err)
	require.True(t, captured.Changed)
	require.Equal(t, models.TransactionStatusSuccess, captured.Transaction.Status)

	late, err := l.MarkFailed(ctx, Ref{OrderID: "order_f"}, "", nil)
	require.NoError(t, err)
	require.False(t, late.Changed)
	require.Equal(t, models.TransactionStatusSuccess, late.Transaction.Status)
}

func TestRecordPending_RejectsDuplicateOrder(t *testing.T) {
	ctx := context.Background()
	_, l, plan := setup(t)

	_, err := l.RecordPending(ctx, PendingInput{SubscriberID: 1, Plan: plan, Amount: plan.Price, OrderID: "dup"})
	require.NoError(t, err)
	_, err = l.RecordPending(ctx, PendingInput{SubscriberID: 1, Plan: plan, Amount: plan.Price, OrderID: "dup"})
	require.True(t, errors.Is(err, billing.ErrInvalidInput))
}

func TestRecordRefund_AppendOnlyAndCapped(t *testing.T) {
	ctx := context.Background()
	conn, l, plan := setup(t)

	_, err := l.RecordPending(ctx, PendingInput{SubscriberID: 5, Plan: plan, Amount: plan.Price, OrderID: "order_r"})
	require.NoError(t, err)
	paid, err := l.MarkSuccess(ctx, Ref{OrderID: "order_r"}, "pay_r", nil)
	require.NoError(t, err)
	payment := paid.Transaction

	refund, err := l.RecordRefund(ctx, RefundInput{
		SubscriberID: 5, Plan: plan, Amount: decimal.RequireFromString("9.5"), Currency: "INR",
		Reason: "changed mind", RefundOfID: payment.ID,
	})
	require.NoError(t, err)
	require.Equal(t, models.TransactionKindRefund, refund.Kind)
	require.Equal(t, models.TransactionStatusSuccess, refund.Status)
	require.Equal(t, "pay_r", models.StringValue(refund.ProviderPaymentID))

	_, err = l.RecordRefund(ctx, RefundInput{
		SubscriberID: 5, Plan: plan, Amount: decimal.NewFromInt(10), RefundOfID: payment.ID,
	})
	require.True(t, errors.Is(err, billing.ErrRefundExceedsPayment))

	_, err = l.RecordRefund(ctx, RefundInput{SubscriberID: 5, Plan: plan, Amount: decimal.Zero})
	require.True(t, errors.Is(err, billing.ErrInvalidInput))

	reloaded, err := Get(ctx, conn, payment.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusSuccess, reloaded.Status)

	payments, err := SumPayments(ctx, conn, Filter{SubscriberID: 5})
	require.NoError(t, err)
	refunds, err := SumRefunds(ctx, conn, Filter{SubscriberID: 5})
	require.NoError(t, err)
	require.Equal(t, "19.00", payments.StringFixed(2))
	require.Equal(t, "9.50", refunds.StringFixed(2))
}

func TestSums_SettledTaxonomy(t *testing.T) {
	ctx := context.Background()
	conn, _, plan := setup(t)

	now := time.Now().UTC()
	planID := plan.ID
	rows := []models.Transaction{
		{SubscriberID: 9, PlanID: &planID, Amount: decimal.NewFromInt(10), Status: models.TransactionStatusSuccess, Kind: models.TransactionKindPayment},
		{SubscriberID: 9, PlanID: &planID, Amount: decimal.NewFromInt(20), Status: models.TransactionStatusPaid, Kind: models.TransactionKindPayment},
		{SubscriberID: 9, PlanID: &planID, Amount: decimal.NewFromInt(30), Status: models.TransactionStatusCompleted, Kind: models.TransactionKindPayment},
		{SubscriberID: 9, PlanID: &planID, Amount: decimal.NewFromInt(40), Status: models.TransactionStatusRefunded, Kind: models.TransactionKindPayment},
		{SubscriberID: 9, PlanID: &planID, Amount: decimal.NewFromInt(50), Status: models.TransactionStatusPending, Kind: models.TransactionKindPayment},
		{SubscriberID: 9, PlanID: &planID, Amount: decimal.NewFromInt(60), Status: models.TransactionStatusFailed, Kind: models.TransactionKindPayment},
		{SubscriberID: 9, PlanID: &planID, Amount: decimal.NewFromInt(5), Status: models.TransactionStatusSuccess, Kind: models.TransactionKindRefund},
		{SubscriberID: 9, PlanID: &planID, Amount: decimal.NewFromInt(7), Status: models.TransactionStatusRefunded, Kind: models.TransactionKindRefund},
	}
	for i := range rows {
		rows[i].Currency = "INR"
		rows[i].CreatedAt = now
		rows[i].UpdatedAt = now
		require.NoError(t, conn.Omit("Plan").Create(&rows[i]).Error)
	}

	payments, err := SumPayments(ctx, conn, Filter{SubscriberID: 9})
	require.NoError(t, err)
	require.Equal(t, "100.00", payments.StringFixed(2))

	refunds, err := SumRefunds(ctx, conn, Filter{SubscriberID: 9})
	require.NoError(t, err)
	require.Equal(t, "5.00", refunds.StringFixed(2))

	empty, err := SumPayments(ctx, conn, Filter{SubscriberID: 404})
	require.NoError(t, err)
	require.True(t, empty.IsZero())

	latest, err := LatestSettledPayment(ctx, conn, 9, plan.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.True(t, latest.Status.Settled())

	none, err := LatestSettledPayment(ctx, conn, 9, plan.ID+100)
	require.NoError(t, err)
	require.Nil(t, none)

	list, total, err := List(ctx, conn, Filter{SubscriberID: 9, Kind: models.TransactionKindRefund}, 10, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, list, 2)
}
