// Package metering enforces per-feature call quotas of active subscriptions.
package metering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/catalog"
	"github.com/oelp-platform/billing/internal/metrics"
	"github.com/oelp-platform/billing/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxConsumeAttempts bounds optimistic update retries.
const maxConsumeAttempts = 5

// Result reports the state of a feature counter.
type Result struct {
	Feature   string `json:"feature"`
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// Meter counts feature calls against plan entitlements. Counters roll over
// at calendar-day boundaries in the meter's location.
type Meter struct {
	db  *gorm.DB
	loc *time.Location
	now func() time.Time
}

// NewMeter builds a meter using UTC day boundaries.
func NewMeter(conn *gorm.DB) *Meter {
	return &Meter{db: conn, loc: time.UTC, now: time.Now}
}

// WithClock replaces the meter clock.
func (m *Meter) WithClock(now func() time.Time) *Meter {
	if now != nil {
		m.now = now
	}
	return m
}

// WithLocation sets the time zone that defines calendar days.
func (m *Meter) WithLocation(loc *time.Location) *Meter {
	if loc != nil {
		m.loc = loc
	}
	return m
}

// Status returns the counter for feature without consuming.
func (m *Meter) Status(ctx context.Context, sub *models.Subscription, feature string) (Result, error) {
	return m.apply(ctx, sub, feature, 0)
}

// CheckAndConsume adds cost to the feature counter. When the quota would be
// exceeded it returns a *billing.QuotaError and leaves the counter unchanged.
func (m *Meter) CheckAndConsume(ctx context.Context, sub *models.Subscription, feature string, cost int) (Result, error) {
	if cost <= 0 {
		return Result{}, fmt.Errorf("%w: cost must be positive", billing.ErrInvalidInput)
	}
	return m.apply(ctx, sub, feature, cost)
}

// Guard consumes cost, runs fn and gives the cost back if fn fails, so a
// failed call never counts against the quota.
func (m *Meter) Guard(ctx context.Context, sub *models.Subscription, feature string, cost int, fn func(ctx context.Context) error) (Result, error) {
	res, errConsume := m.CheckAndConsume(ctx, sub, feature, cost)
	if errConsume != nil {
		return res, errConsume
	}
	if errFn := fn(ctx); errFn != nil {
		if errRelease := m.Release(context.WithoutCancel(ctx), sub, feature, cost); errRelease != nil {
			log.WithError(errRelease).
				WithField("subscription_id", sub.ID).
				WithField("feature", feature).
				Warn("metering: release after failed call")
		}
		return res, errFn
	}
	return res, nil
}

// Release gives back cost consumed in the current window.
func (m *Meter) Release(ctx context.Context, sub *models.Subscription, feature string, cost int) error {
	if sub == nil || cost <= 0 {
		return nil
	}
	feature = strings.TrimSpace(feature)
	now := m.now()
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		var row models.FeatureUsage
		if errFind := m.db.WithContext(ctx).
			Where("subscription_id = ? AND feature_name = ?", sub.ID, feature).
			Take(&row).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("metering: load usage: %w", errFind)
		}
		if m.rolledOver(row, now) || row.UsedCount == 0 {
			return nil
		}
		next := row.UsedCount - cost
		if next < 0 {
			next = 0
		}
		res := m.db.WithContext(ctx).Model(&models.FeatureUsage{}).
			Where("id = ? AND used_count = ?", row.ID, row.UsedCount).
			Update("used_count", next)
		if res.Error != nil {
			return fmt.Errorf("metering: release usage: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return fmt.Errorf("metering: release usage: too much contention")
}

func (m *Meter) apply(ctx context.Context, sub *models.Subscription, feature string, cost int) (Result, error) {
	now := m.now().UTC()
	if sub == nil || !sub.Live(now) {
		return Result{}, billing.NotFoundf("active subscription")
	}
	grant, errGrant := catalog.Entitlement(&sub.Plan, feature)
	if errGrant != nil {
		return Result{}, errGrant
	}
	feature = grant.FeatureName
	result := Result{Feature: feature, Limit: grant.MaxCount, Unlimited: grant.MaxCount == 0}

	seed := models.FeatureUsage{
		SubscriptionID: sub.ID,
		FeatureName:    feature,
		MaxCount:       grant.MaxCount,
		DurationDays:   windowDays(grant.DurationDays),
		LastUpdatedAt:  now,
		CreatedAt:      now,
	}
	if errCreate := m.db.WithContext(ctx).Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; errCreate != nil {
		return Result{}, fmt.Errorf("metering: create usage: %w", errCreate)
	}

	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		var row models.FeatureUsage
		if errFind := m.db.WithContext(ctx).
			Where("subscription_id = ? AND feature_name = ?", sub.ID, feature).
			Take(&row).Error; errFind != nil {
			return Result{}, fmt.Errorf("metering: load usage: %w", errFind)
		}
		row.DurationDays = windowDays(grant.DurationDays)

		used := row.UsedCount
		reset := m.rolledOver(row, now)
		if reset {
			used = 0
		}
		if cost > 0 && !result.Unlimited && used+cost > grant.MaxCount {
			metrics.QuotaRejections.WithLabelValues(feature).Inc()
			return Result{Feature: feature, Limit: grant.MaxCount, Used: used},
				&billing.QuotaError{Feature: feature, Limit: grant.MaxCount, Used: used}
		}

		if cost == 0 && !reset && row.MaxCount == grant.MaxCount {
			result.Used = used
			result.Remaining = remaining(grant.MaxCount, used)
			return result, nil
		}

		updates := map[string]any{
			"used_count":    used + cost,
			"max_count":     grant.MaxCount,
			"duration_days": row.DurationDays,
		}
		if cost > 0 || reset {
			updates["last_updated_at"] = now
		}
		res := m.db.WithContext(ctx).Model(&models.FeatureUsage{}).
			Where("id = ? AND used_count = ? AND last_updated_at = ?", row.ID, row.UsedCount, row.LastUpdatedAt).
			Updates(updates)
		if res.Error != nil {
			return Result{}, fmt.Errorf("metering: update usage: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		result.Used = used + cost
		result.Remaining = remaining(grant.MaxCount, result.Used)
		return result, nil
	}
	return Result{}, fmt.Errorf("metering: update usage: too much contention")
}

// rolledOver reports whether the counter's window has ended by now.
func (m *Meter) rolledOver(row models.FeatureUsage, now time.Time) bool {
	last := dayStart(row.LastUpdatedAt, m.loc)
	today := dayStart(now, m.loc)
	if !last.Before(today) {
		return false
	}
	days := int(today.Sub(last).Hours()/24 + 0.5)
	return days >= windowDays(row.DurationDays)
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.In(loc).Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc)
}

func windowDays(days int) int {
	if days <= 0 {
		return 1
	}
	return days
}

func remaining(limit, used int) int {
	if limit == 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
