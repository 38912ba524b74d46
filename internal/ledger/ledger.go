// Package ledger records payment and refund transactions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ref identifies a transaction by primary key or by gateway order id.
type Ref struct {
	TransactionID uint64
	OrderID       string
}

func (r Ref) String() string {
	if r.TransactionID != 0 {
		return fmt.Sprintf("transaction %d", r.TransactionID)
	}
	return fmt.Sprintf("order %q", r.OrderID)
}

// Fallback describes the row to create when a status change targets an
// order that was never recorded.
type Fallback struct {
	SubscriberID uint64
	Plan         *models.Plan
	Amount       decimal.Decimal
	Currency     string
}

// PendingInput describes an order awaiting capture.
type PendingInput struct {
	SubscriberID uint64
	Plan         *models.Plan
	Amount       decimal.Decimal
	Currency     string
	OrderID      string
}

// RefundInput describes money returned to a subscriber.
type RefundInput struct {
	SubscriberID uint64
	Plan         *models.Plan
	Amount       decimal.Decimal
	Currency     string
	Reason       string
	PaymentID    string
	RefundOfID   uint64
	Policy       datatypes.JSON
}

// Outcome is the result of a status transition.
type Outcome struct {
	Transaction *models.Transaction
	// Changed is false when the call found the row already in its target state.
	Changed bool
}

// Ledger wraps the transactional functions with per-subscriber locking.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLedger constructs a transaction ledger.
func NewLedger(conn *gorm.DB) *Ledger {
	return &Ledger{db: conn, now: time.Now}
}

// WithClock replaces the ledger clock.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Ledger) clock() time.Time {
	if l.now == nil {
		return time.Now().UTC()
	}
	return l.now().UTC()
}

// RecordPending stores a pending payment for a freshly created order.
func (l *Ledger) RecordPending(ctx context.Context, in PendingInput) (*models.Transaction, error) {
	var row *models.Transaction
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := db.LockSubscriber(tx, in.SubscriberID); errLock != nil {
			return errLock
		}
		created, errRecord := RecordPendingTx(tx, in, l.clock())
		row = created
		return errRecord
	})
	if errTx != nil {
		return nil, errTx
	}
	return row, nil
}

// MarkSuccess settles the referenced payment. It is idempotent.
func (l *Ledger) MarkSuccess(ctx context.Context, ref Ref, paymentID string, fallback *Fallback) (Outcome, error) {
	return l.transition(ctx, ref, fallback, func(tx *gorm.DB, now time.Time) (Outcome, error) {
		return MarkSuccessTx(tx, ref, paymentID, fallback, now)
	})
}

// MarkFailed marks the referenced payment failed. It is idempotent.
func (l *Ledger) MarkFailed(ctx context.Context, ref Ref, paymentID string, fallback *Fallback) (Outcome, error) {
	return l.transition(ctx, ref, fallback, func(tx *gorm.DB, now time.Time) (Outcome, error) {
		return MarkFailedTx(tx, ref, paymentID, fallback, now)
	})
}

// RecordRefund appends a refund row.
func (l *Ledger) RecordRefund(ctx context.Context, in RefundInput) (*models.Transaction, error) {
	var row *models.Transaction
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := db.LockSubscriber(tx, in.SubscriberID); errLock != nil {
			return errLock
		}
		created, errRecord := RecordRefundTx(tx, in, l.clock())
		row = created
		return errRecord
	})
	if errTx != nil {
		return nil, errTx
	}
	return row, nil
}

func (l *Ledger) transition(ctx context.Context, ref Ref, fallback *Fallback, fn func(tx *gorm.DB, now time.Time) (Outcome, error)) (Outcome, error) {
	var out Outcome
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscriberID, errOwner := OwnerOf(tx, ref, fallback)
		if errOwner != nil {
			return errOwner
		}
		if errLock := db.LockSubscriber(tx, subscriberID); errLock != nil {
			return errLock
		}
		result, errFn := fn(tx, l.clock())
		out = result
		return errFn
	})
	return out, errTx
}

// OwnerOf resolves the subscriber a status change applies to, so the caller
// can take the subscriber lock before touching the row.
func OwnerOf(tx *gorm.DB, ref Ref, fallback *Fallback) (uint64, error) {
	row, errFind := find(tx, ref, false)
	if errFind != nil {
		return 0, errFind
	}
	if row != nil {
		return row.SubscriberID, nil
	}
	if fallback != nil && fallback.SubscriberID != 0 {
		return fallback.SubscriberID, nil
	}
	return 0, billing.NotFoundf("%s", ref)
}

// RecordPendingTx inserts a pending payment row.
func RecordPendingTx(tx *gorm.DB, in PendingInput, now time.Time) (*models.Transaction, error) {
	orderID := strings.TrimSpace(in.OrderID)
	if in.SubscriberID == 0 || orderID == "" {
		return nil, fmt.Errorf("%w: subscriber and order id are required", billing.ErrInvalidInput)
	}
	if in.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", billing.ErrInvalidInput)
	}
	row := newRow(in.SubscriberID, in.Plan, in.Amount, in.Currency, now)
	row.Status = models.TransactionStatusPending
	row.Kind = models.TransactionKindPayment
	row.ProviderOrderID = models.StringPtr(orderID)
	if errCreate := tx.Omit(clause.Associations).Create(&row).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return nil, fmt.Errorf("%w: order %q already recorded", billing.ErrInvalidInput, orderID)
		}
		return nil, fmt.Errorf("ledger: record pending: %w", errCreate)
	}
	return &row, nil
}

// PaymentInput describes a payment settled outside the gateway flow.
type PaymentInput struct {
	SubscriberID uint64
	Plan         *models.Plan
	Amount       decimal.Decimal
	Currency     string
	Reference    string
}

// RecordPaymentTx inserts a settled payment row in paid state.
func RecordPaymentTx(tx *gorm.DB, in PaymentInput, now time.Time) (*models.Transaction, error) {
	if in.SubscriberID == 0 {
		return nil, fmt.Errorf("%w: subscriber is required", billing.ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", billing.ErrInvalidInput)
	}
	row := newRow(in.SubscriberID, in.Plan, in.Amount, in.Currency, now)
	row.Status = models.TransactionStatusPaid
	row.Kind = models.TransactionKindPayment
	row.ProviderPaymentID = models.StringPtr(strings.TrimSpace(in.Reference))
	if errCreate := tx.Omit(clause.Associations).Create(&row).Error; errCreate != nil {
		return nil, fmt.Errorf("ledger: record payment: %w", errCreate)
	}
	return &row, nil
}

// MarkSuccessTx moves a pending or failed payment to success. A settled row is
// returned unchanged apart from attaching a missing payment id. When no row
// exists and fallback is set, a success row is created directly.
func MarkSuccessTx(tx *gorm.DB, ref Ref, paymentID string, fallback *Fallback, now time.Time) (Outcome, error) {
	row, errFind := find(tx, ref, true)
	if errFind != nil {
		return Outcome{}, errFind
	}
	if row == nil {
		return createFromFallback(tx, ref, paymentID, fallback, models.TransactionStatusSuccess, now)
	}
	if row.Kind != models.TransactionKindPayment {
		return Outcome{}, fmt.Errorf("%w: %s is not a payment", billing.ErrInvalidInput, ref)
	}

	switch {
	case row.Status.Settled() || row.Status == models.TransactionStatusRefunded:
		if errAttach := attachPaymentID(tx, row, paymentID, now); errAttach != nil {
			return Outcome{}, errAttach
		}
		return Outcome{Transaction: row}, nil
	default:
		return setStatus(tx, row, models.TransactionStatusSuccess, paymentID, now)
	}
}

// MarkFailedTx moves a pending payment to failed. Settled rows are left
// untouched; money already captured is never marked failed.
func MarkFailedTx(tx *gorm.DB, ref Ref, paymentID string, fallback *Fallback, now time.Time) (Outcome, error) {
	row, errFind := find(tx, ref, true)
	if errFind != nil {
		return Outcome{}, errFind
	}
	if row == nil {
		return createFromFallback(tx, ref, paymentID, fallback, models.TransactionStatusFailed, now)
	}
	if row.Kind != models.TransactionKindPayment {
		return Outcome{}, fmt.Errorf("%w: %s is not a payment", billing.ErrInvalidInput, ref)
	}
	if row.Status.Terminal() {
		if errAttach := attachPaymentID(tx, row, paymentID, now); errAttach != nil {
			return Outcome{}, errAttach
		}
		return Outcome{Transaction: row}, nil
	}
	return setStatus(tx, row, models.TransactionStatusFailed, paymentID, now)
}

// RecordRefundTx appends a settled refund row. The originating payment is
// never modified. With RefundOfID set, cumulative refunds against that payment
// may not exceed its amount.
func RecordRefundTx(tx *gorm.DB, in RefundInput, now time.Time) (*models.Transaction, error) {
	if in.SubscriberID == 0 {
		return nil, fmt.Errorf("%w: subscriber is required", billing.ErrInvalidInput)
	}
	amount := billing.Round2(in.Amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", billing.ErrInvalidInput)
	}

	if in.RefundOfID != 0 {
		var origin models.Transaction
		if errFind := tx.Where("id = ?", in.RefundOfID).Take(&origin).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return nil, billing.NotFoundf("transaction %d", in.RefundOfID)
			}
			return nil, fmt.Errorf("ledger: load refunded payment: %w", errFind)
		}
		if origin.SubscriberID != in.SubscriberID || origin.Kind != models.TransactionKindPayment {
			return nil, fmt.Errorf("%w: transaction %d is not a payment of subscriber %d", billing.ErrInvalidInput, origin.ID, in.SubscriberID)
		}
		refunded, errSum := RefundedAmount(tx, origin.ID)
		if errSum != nil {
			return nil, errSum
		}
		if refunded.Add(amount).GreaterThan(origin.Amount) {
			return nil, fmt.Errorf("%w: %s refunded of %s, requested %s",
				billing.ErrRefundExceedsPayment, refunded.StringFixed(2), origin.Amount.StringFixed(2), amount.StringFixed(2))
		}
		if in.PaymentID == "" {
			in.PaymentID = models.StringValue(origin.ProviderPaymentID)
		}
	}

	row := newRow(in.SubscriberID, in.Plan, amount, in.Currency, now)
	row.Status = models.TransactionStatusSuccess
	row.Kind = models.TransactionKindRefund
	row.ProviderPaymentID = models.StringPtr(strings.TrimSpace(in.PaymentID))
	row.RefundReason = models.StringPtr(strings.TrimSpace(in.Reason))
	if in.RefundOfID != 0 {
		refundOf := in.RefundOfID
		row.RefundOfID = &refundOf
	}
	row.PolicySnapshot = in.Policy
	if errCreate := tx.Omit(clause.Associations).Create(&row).Error; errCreate != nil {
		return nil, fmt.Errorf("ledger: record refund: %w", errCreate)
	}
	return &row, nil
}

func newRow(subscriberID uint64, plan *models.Plan, amount decimal.Decimal, currency string, now time.Time) models.Transaction {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	row := models.Transaction{
		SubscriberID: subscriberID,
		Amount:       billing.Round2(amount),
		Currency:     currency,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	if plan != nil && plan.ID != 0 {
		planID := plan.ID
		row.PlanID = &planID
		row.PlanType = plan.Type
	}
	return row
}

func createFromFallback(tx *gorm.DB, ref Ref, paymentID string, fallback *Fallback, status models.TransactionStatus, now time.Time) (Outcome, error) {
	orderID := strings.TrimSpace(ref.OrderID)
	if fallback == nil || fallback.SubscriberID == 0 || orderID == "" {
		return Outcome{}, billing.NotFoundf("%s", ref)
	}
	amount := fallback.Amount
	if amount.IsZero() && fallback.Plan != nil {
		amount = fallback.Plan.Price
	}
	row := newRow(fallback.SubscriberID, fallback.Plan, amount, fallback.Currency, now)
	row.Status = status
	row.Kind = models.TransactionKindPayment
	row.ProviderOrderID = models.StringPtr(orderID)
	row.ProviderPaymentID = models.StringPtr(strings.TrimSpace(paymentID))
	if errCreate := tx.Omit(clause.Associations).Create(&row).Error; errCreate != nil {
		return Outcome{}, fmt.Errorf("ledger: create %s row: %w", status, errCreate)
	}
	return Outcome{Transaction: &row, Changed: true}, nil
}

func setStatus(tx *gorm.DB, row *models.Transaction, status models.TransactionStatus, paymentID string, now time.Time) (Outcome, error) {
	updates := map[string]any{"status": status, "updated_at": now.UTC()}
	if id := strings.TrimSpace(paymentID); id != "" {
		updates["provider_payment_id"] = id
	}
	if errUpdate := tx.Model(&models.Transaction{}).Where("id = ?", row.ID).Updates(updates).Error; errUpdate != nil {
		return Outcome{}, fmt.Errorf("ledger: set %s: %w", status, errUpdate)
	}
	row.Status = status
	row.UpdatedAt = now.UTC()
	if id := strings.TrimSpace(paymentID); id != "" {
		row.ProviderPaymentID = &id
	}
	return Outcome{Transaction: row, Changed: true}, nil
}

func attachPaymentID(tx *gorm.DB, row *models.Transaction, paymentID string, now time.Time) error {
	id := strings.TrimSpace(paymentID)
	if id == "" || models.StringValue(row.ProviderPaymentID) != "" {
		return nil
	}
	if errUpdate := tx.Model(&models.Transaction{}).Where("id = ?", row.ID).
		Updates(map[string]any{"provider_payment_id": id, "updated_at": now.UTC()}).Error; errUpdate != nil {
		return fmt.Errorf("ledger: attach payment id: %w", errUpdate)
	}
	row.ProviderPaymentID = &id
	return nil
}

func find(tx *gorm.DB, ref Ref, lock bool) (*models.Transaction, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	switch {
	case ref.TransactionID != 0:
		q = q.Where("id = ?", ref.TransactionID)
	case strings.TrimSpace(ref.OrderID) != "":
		q = q.Where("provider_order_id = ?", strings.TrimSpace(ref.OrderID))
	default:
		return nil, fmt.Errorf("%w: transaction id or order id is required", billing.ErrInvalidInput)
	}
	var row models.Transaction
	if errFind := q.Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			if ref.TransactionID != 0 {
				return nil, billing.NotFoundf("%s", ref)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: find %s: %w", ref, errFind)
	}
	return &row, nil
}
