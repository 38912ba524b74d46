// Package entitlement tracks which plan each subscriber currently holds.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/db"
	"github.com/oelp-platform/billing/internal/models"
	internalsettings "github.com/oelp-platform/billing/internal/settings"
	"gorm.io/gorm"
)

// Ledger activates, reads and deactivates subscriptions.
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLedger constructs an entitlement ledger.
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

// Activate moves the subscriber onto planID for durationDays. A non-positive
// duration uses the plan's own term.
func (l *Ledger) Activate(ctx context.Context, subscriberID, planID uint64, durationDays int) (*models.Subscription, error) {
	var sub *models.Subscription
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := db.LockSubscriber(tx, subscriberID); errLock != nil {
			return errLock
		}
		plan, errPlan := catalog.PlanByID(ctx, tx, planID)
		if errPlan != nil {
			return errPlan
		}
		activated, errActivate := ActivateTx(tx, subscriberID, plan, durationDays, l.clock())
		if errActivate != nil {
			return errActivate
		}
		sub = activated
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return sub, nil
}

// ActivateTx deactivates every active subscription of the subscriber and then
// creates or reuses the (subscriber, plan) row as the single active one.
// The caller must hold the subscriber lock inside tx.
func ActivateTx(tx *gorm.DB, subscriberID uint64, plan *models.Plan, durationDays int, now time.Time) (*models.Subscription, error) {
	if subscriberID == 0 {
		return nil, fmt.Errorf("%w: empty subscriber id", billing.ErrInvalidInput)
	}
	if plan == nil || plan.ID == 0 {
		return nil, billing.NotFoundf("plan")
	}
	if durationDays <= 0 {
		durationDays = plan.DurationDays
	}
	if durationDays <= 0 {
		return nil, fmt.Errorf("%w: plan %q has no duration", billing.ErrInvalidInput, plan.Name)
	}
	now = now.UTC()

	if errDeactivate := tx.Model(&models.Subscription{}).
		Where("subscriber_id = ? AND is_active = ?", subscriberID, true).
		Updates(map[string]any{"is_active": false, "updated_at": now}).Error; errDeactivate != nil {
		return nil, fmt.Errorf("entitlement: deactivate previous: %w", errDeactivate)
	}

	today := startOfDay(now)
	term := time.Duration(durationDays) * 24 * time.Hour
	values := map[string]any{
		"start_date": today,
		"end_date":   today.AddDate(0, 0, durationDays),
		"expire_at":  now.Add(term),
		"is_active":  true,
		"updated_at": now,
	}

	var sub models.Subscription
	errFind := tx.Where("subscriber_id = ? AND plan_id = ?", subscriberID, plan.ID).Take(&sub).Error
	switch {
	case errFind == nil:
		if errUpdate := tx.Model(&sub).Updates(values).Error; errUpdate != nil {
			return nil, fmt.Errorf("entitlement: reactivate subscription: %w", errUpdate)
		}
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		sub = models.Subscription{
			SubscriberID: subscriberID,
			PlanID:       plan.ID,
			StartDate:    today,
			EndDate:      today.AddDate(0, 0, durationDays),
			ExpireAt:     now.Add(term),
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if errCreate := tx.Omit("Plan").Create(&sub).Error; errCreate != nil {
			return nil, fmt.Errorf("entitlement: create subscription: %w", errCreate)
		}
	default:
		return nil, fmt.Errorf("entitlement: find subscription: %w", errFind)
	}

	if errReload := tx.Preload("Plan.Features").Where("id = ?", sub.ID).Take(&sub).Error; errReload != nil {
		return nil, fmt.Errorf("entitlement: reload subscription: %w", errReload)
	}
	return &sub, nil
}

// Current returns the subscriber's active, unexpired subscription or nil.
func (l *Ledger) Current(ctx context.Context, subscriberID uint64) (*models.Subscription, error) {
	return CurrentTx(l.db.WithContext(ctx), subscriberID, l.clock())
}

// CurrentTx returns the active, unexpired subscription for the subscriber,
// preferring one backed by a settled payment, then the newest.
func CurrentTx(tx *gorm.DB, subscriberID uint64, now time.Time) (*models.Subscription, error) {
	var subs []models.Subscription
	if errFind := tx.Preload("Plan.Features").
		Where("subscriber_id = ? AND is_active = ? AND expire_at > ?", subscriberID, true, now.UTC()).
		Order("created_at DESC").Order("id DESC").
		Find(&subs).Error; errFind != nil {
		return nil, fmt.Errorf("entitlement: load current: %w", errFind)
	}
	if len(subs) == 0 {
		return nil, nil
	}
	for i := range subs {
		paid, errPaid := hasSettledPayment(tx, subscriberID, subs[i].PlanID)
		if errPaid != nil {
			return nil, errPaid
		}
		if paid {
			return &subs[i], nil
		}
	}
	return &subs[0], nil
}

// Deactivate clears the active flag of the subscriber's subscription. Calling
// it on an inactive subscription is a no-op.
func (l *Ledger) Deactivate(ctx context.Context, subscriberID, subscriptionID uint64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errLock := db.LockSubscriber(tx, subscriberID); errLock != nil {
			return errLock
		}
		return DeactivateTx(tx, subscriberID, subscriptionID, l.clock())
	})
}

// DeactivateTx is Deactivate inside an existing transaction.
func DeactivateTx(tx *gorm.DB, subscriberID, subscriptionID uint64, now time.Time) error {
	if _, errLoad := SubscriptionFor(tx, subscriberID, subscriptionID); errLoad != nil {
		return errLoad
	}
	if errUpdate := tx.Model(&models.Subscription{}).
		Where("id = ? AND is_active = ?", subscriptionID, true).
		Updates(map[string]any{"is_active": false, "updated_at": now.UTC()}).Error; errUpdate != nil {
		return fmt.Errorf("entitlement: deactivate: %w", errUpdate)
	}
	return nil
}

// SubscriptionFor loads a subscription owned by subscriberID.
func SubscriptionFor(tx *gorm.DB, subscriberID, subscriptionID uint64) (*models.Subscription, error) {
	var sub models.Subscription
	if errFind := tx.Preload("Plan.Features").Where("id = ?", subscriptionID).Take(&sub).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, billing.NotFoundf("subscription %d", subscriptionID)
		}
		return nil, fmt.Errorf("entitlement: load subscription: %w", errFind)
	}
	if sub.SubscriberID != subscriberID {
		// Foreign subscriptions are reported as missing.
		return nil, billing.NotFoundf("subscription %d", subscriptionID)
	}
	return &sub, nil
}

// CheckAcquire applies the acquisition rules for plan. Top-ups need an active
// primary plan; any other non-free plan is refused while a paid plan is live.
func CheckAcquire(tx *gorm.DB, subscriberID uint64, plan *models.Plan, now time.Time) error {
	if plan == nil {
		return billing.NotFoundf("plan")
	}
	if !plan.IsEnabled {
		return billing.NewPolicyError(billing.RulePlanDisabled, "Plan %s is not available", plan.Name)
	}

	var live []models.Subscription
	if errFind := tx.Preload("Plan").
		Where("subscriber_id = ? AND is_active = ? AND expire_at > ?", subscriberID, true, now.UTC()).
		Order("created_at DESC").
		Find(&live).Error; errFind != nil {
		return fmt.Errorf("entitlement: load live subscriptions: %w", errFind)
	}

	if plan.IsTopup() {
		for i := range live {
			if live[i].Plan.IsPrimary() {
				return nil
			}
		}
		return billing.NewPolicyError(billing.RuleTopupRequiresMain,
			"You need an active main plan to purchase %s", plan.Name)
	}
	if plan.IsFree() {
		return nil
	}

	freeName := internalsettings.FreePlanName()
	for i := range live {
		current := live[i].Plan
		if strings.EqualFold(current.Name, freeName) || current.IsFree() {
			continue
		}
		paid, errPaid := hasSettledPayment(tx, subscriberID, current.ID)
		if errPaid != nil {
			return errPaid
		}
		if paid {
			return billing.NewPolicyError(billing.RuleActivePaidPlan,
				"You already have an active paid plan (%s) until %s. Downgrade it first.",
				current.Name, live[i].ExpireAt.UTC().Format("2006-01-02"))
		}
	}
	return nil
}

func hasSettledPayment(tx *gorm.DB, subscriberID, planID uint64) (bool, error) {
	var count int64
	if errCount := tx.Model(&models.Transaction{}).
		Where("subscriber_id = ? AND plan_id = ? AND transaction_type = ? AND status IN ?",
			subscriberID, planID, models.TransactionKindPayment, models.SettledStatuses).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("entitlement: check payment: %w", errCount)
	}
	return count > 0, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
