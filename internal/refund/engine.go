// Package refund computes refunds and downgrades subscribers to the fallback plan.
package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/ledger"
	"github.com/oelp-platform/billing/internal/metrics"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/oelp-platform/billing/internal/notify"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultReason is recorded when a downgrade carries no refund reason.
const DefaultReason = "Subscription cancelled by user"

// downgradeAttempts bounds wholesale retries of a downgrade.
const downgradeAttempts = 3

// Notifier receives fire-and-forget subscriber notifications.
type Notifier interface {
	Notify(subscriberID uint64, kind, message string, metadata map[string]any)
}

// PolicySnapshot is the refund policy applied to a quote.
type PolicySnapshot struct {
	PlanType          models.PlanType `json:"plan_type"`
	Percentage        decimal.Decimal `json:"percentage"`
	DaysAfterPurchase int             `json:"days_after_purchase"`
}

// PaymentInfo describes the payment a refund is computed from.
type PaymentInfo struct {
	TransactionID uint64          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Date          time.Time       `json:"date"`
	DaysSince     int             `json:"days_since"`
	Refunded      decimal.Decimal `json:"refunded"`
}

// Quote is a computed refund. Amount is rounded to two places and never
// exceeds what remains unrefunded on the payment.
type Quote struct {
	Eligible            bool            `json:"refund_available"`
	Amount              decimal.Decimal `json:"refund_amount"`
	Reason              string          `json:"reason"`
	Policy              *PolicySnapshot `json:"refund_policy"`
	Payment             *PaymentInfo    `json:"payment_info"`
	UsedFallbackPayment bool            `json:"used_fallback_payment"`
}

// Engine computes refunds and performs downgrades.
type Engine struct {
	db       *gorm.DB
	notifier Notifier
	now      func() time.Time
}

// NewEngine builds a refund engine.
func NewEngine(conn *gorm.DB, notifier Notifier) *Engine {
	return &Engine{db: conn, notifier: notifier, now: time.Now}
}

// WithClock replaces the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

func (e *Engine) clock() time.Time { return e.now().UTC() }

// Quote previews the refund for the subscriber's subscription without
// recording anything.
func (e *Engine) Quote(ctx context.Context, subscriberID, subscriptionID uint64) (*models.Subscription, Quote, error) {
	conn := e.db.WithContext(ctx)
	sub, errSub := entitlement.SubscriptionFor(conn, subscriberID, subscriptionID)
	if errSub != nil {
		return nil, Quote{}, errSub
	}
	quote, errQuote := ComputeTx(ctx, conn, sub, e.clock())
	if errQuote != nil {
		return nil, Quote{}, errQuote
	}
	return sub, quote, nil
}

// ComputeTx computes the refund for sub at now. The plan-specific latest
// settled payment is used when present, otherwise the subscriber's latest
// settled payment of any plan. Without a policy the full payment is
// refundable regardless of elapsed time. The amount is what the policy
// grants minus what was already refunded against the same payment.
// Inactive subscriptions and zero-price plans quote nothing.
func ComputeTx(ctx context.Context, tx *gorm.DB, sub *models.Subscription, now time.Time) (Quote, error) {
	if sub == nil {
		return Quote{}, billing.NotFoundf("subscription")
	}
	var quote Quote
	switch {
	case !sub.IsActive:
		quote.Amount = decimal.Zero
		quote.Reason = "Subscription is no longer active"
		return quote, nil
	case sub.Plan.IsFree():
		quote.Amount = decimal.Zero
		quote.Reason = fmt.Sprintf("Plan %s has no price to refund", sub.Plan.Name)
		return quote, nil
	}

	payment, errPayment := ledger.LatestSettledPayment(ctx, tx, sub.SubscriberID, sub.PlanID)
	if errPayment != nil {
		return Quote{}, errPayment
	}
	if payment == nil {
		payment, errPayment = ledger.LatestSettledPayment(ctx, tx, sub.SubscriberID, 0)
		if errPayment != nil {
			return Quote{}, errPayment
		}
		quote.UsedFallbackPayment = true
	}

	policy, errPolicy := catalog.PolicyFor(ctx, tx, sub.Plan.Type)
	if errPolicy != nil {
		return Quote{}, errPolicy
	}
	if policy != nil {
		quote.Policy = &PolicySnapshot{
			PlanType:          policy.PlanType,
			Percentage:        policy.RefundPercentage,
			DaysAfterPurchase: policy.DaysAfterPurchase,
		}
	}

	if payment == nil {
		quote.Amount = decimal.Zero
		quote.Reason = "No settled payment found for this subscription"
		return quote, nil
	}

	daysSince := int(now.Sub(payment.CreatedAt.UTC()) / (24 * time.Hour))
	if daysSince < 0 {
		daysSince = 0
	}
	refunded, errRefunded := ledger.RefundedAmount(tx, payment.ID)
	if errRefunded != nil {
		return Quote{}, errRefunded
	}
	quote.Payment = &PaymentInfo{
		TransactionID: payment.ID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Date:          payment.CreatedAt.UTC(),
		DaysSince:     daysSince,
		Refunded:      refunded,
	}

	amount := decimal.Zero
	switch {
	case policy == nil:
		quote.Eligible = true
		amount = payment.Amount
		quote.Reason = "No refund policy configured (full refund possible)"
	case daysSince <= policy.DaysAfterPurchase:
		quote.Eligible = true
		amount = billing.ApplyPercentage(payment.Amount, policy.RefundPercentage)
		quote.Reason = fmt.Sprintf("Refund available: %s%% within %d days",
			policy.RefundPercentage.StringFixed(2), policy.DaysAfterPurchase)
	default:
		quote.Reason = fmt.Sprintf("Refund period expired (%d days since purchase, policy allows %d days)",
			daysSince, policy.DaysAfterPurchase)
	}

	amount = billing.Round2(amount).Sub(refunded)
	if !amount.IsPositive() {
		amount = decimal.Zero
		if quote.Eligible && refunded.IsPositive() {
			quote.Eligible = false
			quote.Reason = fmt.Sprintf("Refund already issued (%s of this payment)", refunded.StringFixed(2))
		}
	}
	quote.Amount = billing.Round2(amount)
	return quote, nil
}

// DowngradeInput requests a move to the fallback plan.
type DowngradeInput struct {
	SubscriberID   uint64
	SubscriptionID uint64
	Reason         string
	RequestRefund  bool
}

// DowngradeResult reports what a downgrade did.
type DowngradeResult struct {
	RefundProcessed   bool
	RefundAmount      decimal.Decimal
	RefundTransaction *models.Transaction
	Policy            *PolicySnapshot
	Quote             *Quote
	Subscription      *models.Subscription
	FallbackPlan      *models.Plan
}

// Downgrade optionally refunds the subscription, deactivates it and activates
// the fallback plan. All three steps commit together; retryable storage
// conflicts re-run the whole downgrade.
func (e *Engine) Downgrade(ctx context.Context, in DowngradeInput) (DowngradeResult, error) {
	if in.SubscriberID == 0 || in.SubscriptionID == 0 {
		return DowngradeResult{}, fmt.Errorf("%w: subscriber and subscription are required", billing.ErrInvalidInput)
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = DefaultReason
	}

	var result DowngradeResult
	errTx := db.TransactionWithRetry(ctx, e.db, downgradeAttempts, func(tx *gorm.DB) error {
		result = DowngradeResult{}
		now := e.clock()
		if errLock := db.LockSubscriber(tx, in.SubscriberID); errLock != nil {
			return errLock
		}
		sub, errSub := entitlement.SubscriptionFor(tx, in.SubscriberID, in.SubscriptionID)
		if errSub != nil {
			return errSub
		}
		if !sub.IsActive {
			return billing.NewPolicyError(billing.RuleSubscriptionInactive,
				"subscription %d is not active", sub.ID)
		}
		fallback, errFallback := catalog.FallbackPlan(ctx, tx)
		if errFallback != nil {
			return errFallback
		}

		if in.RequestRefund {
			quote, errQuote := ComputeTx(ctx, tx, sub, now)
			if errQuote != nil {
				return errQuote
			}
			result.Quote = &quote
			result.Policy = quote.Policy
			if quote.Amount.IsPositive() && quote.Payment != nil {
				refundRow, errRefund := ledger.RecordRefundTx(tx, ledger.RefundInput{
					SubscriberID: in.SubscriberID,
					Plan:         &sub.Plan,
					Amount:       quote.Amount,
					Currency:     quote.Payment.Currency,
					Reason:       reason,
					RefundOfID:   quote.Payment.TransactionID,
					Policy:       snapshotJSON(quote.Policy),
				}, now)
				if errRefund != nil {
					return errRefund
				}
				result.RefundProcessed = true
				result.RefundAmount = refundRow.Amount
				result.RefundTransaction = refundRow
			}
		}

		if errDeactivate := entitlement.DeactivateTx(tx, in.SubscriberID, sub.ID, now); errDeactivate != nil {
			return errDeactivate
		}
		activated, errActivate := entitlement.ActivateTx(tx, in.SubscriberID, fallback,
			internalsettings.FallbackPlanDays(), now)
		if errActivate != nil {
			return errActivate
		}
		result.Subscription = activated
		result.FallbackPlan = fallback
		return nil
	})
	if errTx != nil {
		return DowngradeResult{}, errTx
	}

	metrics.Downgrades.WithLabelValues(strconv.FormatBool(result.RefundProcessed)).Inc()
	if result.RefundTransaction != nil {
		metrics.RefundsRecorded.WithLabelValues(string(result.RefundTransaction.PlanType)).Inc()
	}
	if e.notifier != nil {
		msg := fmt.Sprintf("Your plan was changed to %s.", result.FallbackPlan.Name)
		if result.RefundProcessed {
			msg = fmt.Sprintf("Your plan was changed to %s. A refund of %s %s was issued.",
				result.FallbackPlan.Name, result.RefundAmount.StringFixed(2), result.RefundTransaction.Currency)
		}
		e.notifier.Notify(in.SubscriberID, notify.KindSubscriptionDowngraded, msg, map[string]any{
			"subscription_id":  result.Subscription.ID,
			"refund_processed": result.RefundProcessed,
		})
	}
	return result, nil
}

func snapshotJSON(p *PolicySnapshot) datatypes.JSON {
	if p == nil {
		return nil
	}
	raw, errMarshal := json.Marshal(p)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
