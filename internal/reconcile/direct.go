package reconcile

import (
	"context"
	"fmt"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/ledger"
	"github.com/oelp-platform/billing/internal/notify"
	"gorm.io/gorm"
)

// SubscribeInput requests a plan without going through the gateway.
type SubscribeInput struct {
	SubscriberID uint64
	PlanID       uint64
	// Reference is an optional external payment reference stored on the row.
	Reference string
}

// Subscribe acquires a plan directly. The acquisition rules apply as for
// checkout; plans with a price record a paid payment row for that price.
func (r *Reconciler) Subscribe(ctx context.Context, in SubscribeInput) (Settlement, error) {
	if in.SubscriberID == 0 || in.PlanID == 0 {
		return Settlement{}, fmt.Errorf("%w: subscriber and plan are required", billing.ErrInvalidInput)
	}
	var result Settlement
	errTx := db.TransactionWithRetry(ctx, r.db, settleAttempts, func(tx *gorm.DB) error {
		result = Settlement{}
		if errLock := db.LockSubscriber(tx, in.SubscriberID); errLock != nil {
			return errLock
		}
		plan, errPlan := catalog.PlanByID(ctx, tx, in.PlanID)
		if errPlan != nil {
			return errPlan
		}
		now := r.clock()
		if errRules := entitlement.CheckAcquire(tx, in.SubscriberID, plan, now); errRules != nil {
			return errRules
		}
		if plan.Price.IsPositive() {
			row, errRecord := ledger.RecordPaymentTx(tx, ledger.PaymentInput{
				SubscriberID: in.SubscriberID,
				Plan:         plan,
				Amount:       plan.Price,
				Currency:     r.currency,
				Reference:    in.Reference,
			}, now)
			if errRecord != nil {
				return errRecord
			}
			result.Transaction = row
		}
		sub, errActivate := entitlement.ActivateTx(tx, in.SubscriberID, plan, plan.DurationDays, now)
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
	if r.notifier != nil {
		metadata := map[string]any{"plan_id": result.Subscription.PlanID}
		if result.Transaction != nil {
			metadata["transaction_id"] = result.Transaction.ID
		}
		r.notifier.Notify(in.SubscriberID, notify.KindSubscriptionActivated,
			fmt.Sprintf("Your %s plan is active until %s.", result.Subscription.Plan.Name, result.Subscription.ExpireAt.Format("2006-01-02")),
			metadata)
	}
	return result, nil
}
