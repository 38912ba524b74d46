package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionStatus represents the lifecycle state of a ledger row.
type TransactionStatus string

// TransactionStatus constants define ledger states.
const (
	// TransactionStatusPending marks an order awaiting capture.
	TransactionStatusPending TransactionStatus = "pending"
	// TransactionStatusSuccess marks a captured payment or issued refund.
	TransactionStatusSuccess TransactionStatus = "success"
	// TransactionStatusPaid marks a directly recorded payment.
	TransactionStatusPaid TransactionStatus = "paid"
	// TransactionStatusCompleted marks a settled payment imported from older flows.
	TransactionStatusCompleted TransactionStatus = "completed"
	// TransactionStatusFailed marks a payment the provider rejected.
	TransactionStatusFailed TransactionStatus = "failed"
	// TransactionStatusRefunded is a legacy payment state counted as settled revenue.
	TransactionStatusRefunded TransactionStatus = "refunded"
)

// SettledStatuses lists the statuses that count as money received or returned.
var SettledStatuses = []TransactionStatus{
	TransactionStatusSuccess,
	TransactionStatusPaid,
	TransactionStatusCompleted,
}

// PaymentSumStatuses extends SettledStatuses with the legacy refunded state.
var PaymentSumStatuses = []TransactionStatus{
	TransactionStatusSuccess,
	TransactionStatusPaid,
	TransactionStatusCompleted,
	TransactionStatusRefunded,
}

// Settled reports whether the status belongs to SettledStatuses.
func (s TransactionStatus) Settled() bool {
	for _, settled := range SettledStatuses {
		if s == settled {
			return true
		}
	}
	return false
}

// Terminal reports whether the row may no longer change status.
func (s TransactionStatus) Terminal() bool {
	return s.Settled() || s == TransactionStatusRefunded || s == TransactionStatusFailed
}

// TransactionKind distinguishes money in from money out.
type TransactionKind string

// TransactionKind constants define ledger directions.
const (
	// TransactionKindPayment records money received.
	TransactionKindPayment TransactionKind = "payment"
	// TransactionKindRefund records money returned.
	TransactionKindRefund TransactionKind = "refund"
)

// Transaction is an append-mostly ledger entry.
type Transaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubscriberID uint64 `gorm:"not null;index:idx_transactions_ledger,priority:1"` // Owning subscriber.

	PlanID   *uint64  `gorm:"index"`                                          // Related plan ID, kept when the plan is removed.
	Plan     *Plan    `gorm:"foreignKey:PlanID;constraint:OnDelete:SET NULL"` // Related plan.
	PlanType PlanType `gorm:"type:varchar(32)"`                               // Plan family copied at creation.

	Amount   decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`  // Monetary amount.
	Currency string          `gorm:"type:varchar(8);not null;default:'USD'"` // ISO currency code.

	Status TransactionStatus `gorm:"type:varchar(16);not null;default:'paid';index:idx_transactions_ledger,priority:2"`                            // Lifecycle state.
	Kind   TransactionKind   `gorm:"column:transaction_type;type:varchar(16);not null;default:'payment';index:idx_transactions_ledger,priority:3"` // Payment or refund.

	ProviderOrderID   *string `gorm:"type:varchar(128);uniqueIndex"` // Gateway order ID.
	ProviderPaymentID *string `gorm:"type:varchar(128);index"`       // Gateway payment ID.

	RefundReason   *string        `gorm:"type:text"`  // Reason supplied for a refund.
	RefundOfID     *uint64        `gorm:"index"`      // Originating payment of a refund.
	PolicySnapshot datatypes.JSON `gorm:"type:jsonb"` // Refund policy applied, if any.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_transactions_ledger,priority:4"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`                                          // Last update timestamp.
}

// StringPtr returns nil for empty strings and a pointer otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences s, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
