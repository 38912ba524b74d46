package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Filter narrows aggregate and list queries. Zero fields are ignored.
type Filter struct {
	SubscriberID uint64
	PlanID       uint64
	Status       models.TransactionStatus
	Kind         models.TransactionKind
	Since        time.Time
	Until        time.Time
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if f.SubscriberID != 0 {
		q = q.Where("subscriber_id = ?", f.SubscriberID)
	}
	if f.PlanID != 0 {
		q = q.Where("plan_id = ?", f.PlanID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		q = q.Where("transaction_type = ?", f.Kind)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("created_at < ?", f.Until.UTC())
	}
	return q
}

// SumPayments totals settled payments, counting the legacy refunded status as settled.
func SumPayments(ctx context.Context, conn *gorm.DB, f Filter) (decimal.Decimal, error) {
	f.Kind = ""
	q := f.apply(conn.WithContext(ctx).Model(&models.Transaction{})).
		Where("transaction_type = ? AND status IN ?", models.TransactionKindPayment, models.PaymentSumStatuses)
	total, err := sumAmount(q)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum payments: %w", err)
	}
	return total, nil
}

// SumRefunds totals settled refunds.
func SumRefunds(ctx context.Context, conn *gorm.DB, f Filter) (decimal.Decimal, error) {
	f.Kind = ""
	q := f.apply(conn.WithContext(ctx).Model(&models.Transaction{})).
		Where("transaction_type = ? AND status IN ?", models.TransactionKindRefund, models.SettledStatuses)
	total, err := sumAmount(q)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum refunds: %w", err)
	}
	return total, nil
}

// LatestSettledPayment returns the newest settled payment of the subscriber,
// restricted to planID when non-zero. It returns nil when none exists.
func LatestSettledPayment(ctx context.Context, conn *gorm.DB, subscriberID, planID uint64) (*models.Transaction, error) {
	q := conn.WithContext(ctx).
		Where("subscriber_id = ? AND transaction_type = ? AND status IN ?",
			subscriberID, models.TransactionKindPayment, models.SettledStatuses)
	if planID != 0 {
		q = q.Where("plan_id = ?", planID)
	}
	var row models.Transaction
	if err := q.Order("created_at DESC").Order("id DESC").Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: latest payment: %w", err)
	}
	return &row, nil
}

// RefundedAmount totals the settled refunds recorded against payment paymentID.
func RefundedAmount(conn *gorm.DB, paymentID uint64) (decimal.Decimal, error) {
	total, err := sumAmount(conn.Model(&models.Transaction{}).
		Where("refund_of_id = ? AND transaction_type = ? AND status IN ?",
			paymentID, models.TransactionKindRefund, models.SettledStatuses))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: sum prior refunds: %w", err)
	}
	return total, nil
}

// Get loads a transaction by id.
func Get(ctx context.Context, conn *gorm.DB, id uint64) (*models.Transaction, error) {
	var row models.Transaction
	if err := conn.WithContext(ctx).Preload("Plan").Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.NotFoundf("transaction %d", id)
		}
		return nil, fmt.Errorf("ledger: get transaction: %w", err)
	}
	return &row, nil
}

// List returns transactions newest first along with the unpaged total.
func List(ctx context.Context, conn *gorm.DB, f Filter, limit, offset int) ([]models.Transaction, int64, error) {
	base := f.apply(conn.WithContext(ctx).Model(&models.Transaction{}))
	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("ledger: count transactions: %w", err)
	}
	q := f.apply(conn.WithContext(ctx).Model(&models.Transaction{})).
		Preload("Plan").
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []models.Transaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("ledger: list transactions: %w", err)
	}
	return rows, total, nil
}

func sumAmount(q *gorm.DB) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := q.Select("SUM(amount)").Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return billing.Round2(total.Decimal), nil
}
