// Package reconcile aligns the ledgers with payment gateway events.
package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/config"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/gateway"
	"github.com/oelp-platform/billing/internal/ledger"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/oelp-platform/billing/internal/notify"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// settleAttempts bounds wholesale retries of a settlement transaction.
const settleAttempts = 3

// Notifier receives fire-and-forget subscriber notifications.
type Notifier interface {
	Notify(subscriberID uint64, kind, message string, metadata map[string]any)
}

// Reconciler drives order creation, success callbacks and provider webhooks.
type Reconciler struct {
	db            *gorm.DB
	gateway       gateway.Client
	notifier      Notifier
	webhookSecret string
	currency      string
	now           func() time.Time
}

// New builds a reconciler around an injected gateway client.
func New(conn *gorm.DB, client gateway.Client, notifier Notifier, cfg config.GatewayConfig) *Reconciler {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = config.DefaultGatewayCurrency
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		secret = strings.TrimSpace(cfg.KeySecret)
	}
	return &Reconciler{
		db:            conn,
		gateway:       client,
		notifier:      notifier,
		webhookSecret: secret,
		currency:      currency,
		now:           time.Now,
	}
}

// WithClock replaces the reconciler clock.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

func (r *Reconciler) clock() time.Time { return r.now().UTC() }

// Provider returns the gateway provider name.
func (r *Reconciler) Provider() string { return r.gateway.Provider() }

// OrderInput describes a checkout request.
type OrderInput struct {
	SubscriberID uint64
	PlanID       uint64
	// Amount overrides the plan price when positive.
	Amount   decimal.Decimal
	Currency string
}

// OrderResult is a created gateway order and its pending ledger row.
type OrderResult struct {
	Order       gateway.Order
	Plan        *models.Plan
	Transaction *models.Transaction
}

// CreateOrder checks the acquisition rules, creates the gateway order and
// records it as pending. The gateway call runs outside any transaction; a
// failed call leaves no ledger row behind.
func (r *Reconciler) CreateOrder(ctx context.Context, in OrderInput) (OrderResult, error) {
	if in.SubscriberID == 0 || in.PlanID == 0 {
		return OrderResult{}, fmt.Errorf("%w: subscriber and plan are required", billing.ErrInvalidInput)
	}
	plan, errPlan := catalog.PlanByID(ctx, r.db, in.PlanID)
	if errPlan != nil {
		return OrderResult{}, errPlan
	}
	if errRules := entitlement.CheckAcquire(r.db.WithContext(ctx), in.SubscriberID, plan, r.clock()); errRules != nil {
		return OrderResult{}, errRules
	}

	amount := plan.Price
	if in.Amount.IsPositive() {
		amount = in.Amount
	}
	amount = billing.Round2(amount)
	if !amount.IsPositive() {
		return OrderResult{}, fmt.Errorf("%w: plan %q needs no payment", billing.ErrInvalidInput, plan.Name)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = r.currency
	}

	order, errOrder := r.gateway.CreateOrder(ctx, gateway.OrderRequest{
		AmountMinor: billing.ToMinorUnits(amount),
		Currency:    currency,
		Notes: map[string]string{
			"subscriber_id": strconv.FormatUint(in.SubscriberID, 10),
			"plan_id":       strconv.FormatUint(plan.ID, 10),
		},
	})
	if errOrder != nil {
		return OrderResult{}, fmt.Errorf("reconcile: create order: %w", errOrder)
	}

	var row *models.Transaction
	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := db.LockSubscriber(tx, in.SubscriberID); errLock != nil {
			return errLock
		}
		created, errRecord := ledger.RecordPendingTx(tx, ledger.PendingInput{
			SubscriberID: in.SubscriberID,
			Plan:         plan,
			Amount:       amount,
			Currency:     currency,
			OrderID:      order.ID,
		}, r.clock())
		row = created
		return errRecord
	})
	if errTx != nil {
		return OrderResult{}, errTx
	}
	return OrderResult{Order: order, Plan: plan, Transaction: row}, nil
}

// CallbackInput is the client-side success callback.
type CallbackInput struct {
	SubscriberID uint64
	OrderID      string
	PaymentID    string
	PlanID       uint64
}

// Settlement is the result of driving an order to a terminal state.
type Settlement struct {
	Transaction  *models.Transaction
	Subscription *models.Subscription
	// Activated is true when this call moved the payment to success and
	// switched the subscriber's plan.
	Activated bool
}

// ConfirmPayment handles the success callback. A missing pending row is
// created directly in success state from the callback's plan.
func (r *Reconciler) ConfirmPayment(ctx context.Context, in CallbackInput) (Settlement, error) {
	orderID := strings.TrimSpace(in.OrderID)
	if in.SubscriberID == 0 || orderID == "" || in.PlanID == 0 {
		return Settlement{}, fmt.Errorf("%w: order_id and plan_id are required", billing.ErrInvalidInput)
	}
	plan, errPlan := catalog.PlanByID(ctx, r.db, in.PlanID)
	if errPlan != nil {
		return Settlement{}, errPlan
	}
	fallback := &ledger.Fallback{
		SubscriberID: in.SubscriberID,
		Plan:         plan,
		Amount:       plan.Price,
		Currency:     r.currency,
	}
	return r.settle(ctx, ledger.Ref{OrderID: orderID}, in.PaymentID, fallback, in.SubscriberID)
}

// settle marks the payment successful and activates its plan in one
// subscriber-locked transaction. When expectedSubscriber is set, orders of
// other subscribers are reported as missing.
func (r *Reconciler) settle(ctx context.Context, ref ledger.Ref, paymentID string, fallback *ledger.Fallback, expectedSubscriber uint64) (Settlement, error) {
	var result Settlement
	errTx := db.TransactionWithRetry(ctx, r.db, settleAttempts, func(tx *gorm.DB) error {
		result = Settlement{}
		owner, errOwner := ledger.OwnerOf(tx, ref, fallback)
		if errOwner != nil {
			return errOwner
		}
		if expectedSubscriber != 0 && owner != expectedSubscriber {
			return billing.NotFoundf("%s", ref)
		}
		if errLock := db.LockSubscriber(tx, owner); errLock != nil {
			return errLock
		}
		now := r.clock()
		outcome, errMark := ledger.MarkSuccessTx(tx, ref, paymentID, fallback, now)
		if errMark != nil {
			return errMark
		}
		result.Transaction = outcome.Transaction

		if !outcome.Changed {
			current, errCurrent := entitlement.CurrentTx(tx, owner, now)
			if errCurrent != nil {
				return errCurrent
			}
			result.Subscription = current
			return nil
		}
		if outcome.Transaction.PlanID == nil {
			return fmt.Errorf("%w: %s has no plan", billing.ErrInvalidInput, ref)
		}
		plan, errPlan := catalog.PlanByID(ctx, tx, *outcome.Transaction.PlanID)
		if errPlan != nil {
			return errPlan
		}
		previous, errPrevious := entitlement.CurrentTx(tx, owner, now)
		if errPrevious != nil {
			return errPrevious
		}
		if previous != nil && previous.PlanID != plan.ID && previous.Plan.IsPrimary() && plan.IsPrimary() {
			log.WithFields(log.Fields{
				"subscriber_id": owner,
				"replaced_plan": previous.Plan.Name,
				"plan":          plan.Name,
				"order":         ref.String(),
			}).Warn("reconcile: settled order replaces another live paid plan")
		}
		sub, errActivate := entitlement.ActivateTx(tx, owner, plan, plan.DurationDays, now)
		if errActivate != nil {
			return errActivate
		}
		result.Subscription = sub
		result.Activated = true
		return nil
	})
	if errTx != nil {
		return Settlement{}, errTx
	}
	if result.Activated {
		r.notifyActivated(result)
	}
	return result, nil
}

// fail marks the payment failed without touching entitlements.
func (r *Reconciler) fail(ctx context.Context, ref ledger.Ref, paymentID string) (ledger.Outcome, error) {
	var out ledger.Outcome
	errTx := db.TransactionWithRetry(ctx, r.db, settleAttempts, func(tx *gorm.DB) error {
		owner, errOwner := ledger.OwnerOf(tx, ref, nil)
		if errOwner != nil {
			return errOwner
		}
		if errLock := db.LockSubscriber(tx, owner); errLock != nil {
			return errLock
		}
		outcome, errMark := ledger.MarkFailedTx(tx, ref, paymentID, nil, r.clock())
		out = outcome
		return errMark
	})
	if errTx != nil {
		return ledger.Outcome{}, errTx
	}
	if out.Changed && out.Transaction != nil && r.notifier != nil {
		r.notifier.Notify(out.Transaction.SubscriberID, notify.KindPaymentFailed,
			"Your payment could not be completed. No charge was applied to your plan.",
			map[string]any{"order_id": ref.OrderID})
	}
	return out, nil
}

func (r *Reconciler) notifyActivated(s Settlement) {
	if r.notifier == nil || s.Subscription == nil {
		return
	}
	r.notifier.Notify(s.Subscription.SubscriberID, notify.KindSubscriptionActivated,
		fmt.Sprintf("Your %s plan is active until %s.", s.Subscription.Plan.Name, s.Subscription.ExpireAt.Format("2006-01-02")),
		map[string]any{
			"plan_id":        s.Subscription.PlanID,
			"transaction_id": s.Transaction.ID,
		})
}

func logFields(provider, event, orderID string) log.Fields {
	return log.Fields{"provider": provider, "event": event, "order_id": orderID}
}
