// Package analytics aggregates ledger data for the admin dashboards.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/ledger"
	"github.com/oelp-platform/billing/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DailyRevenueDays is the length of the daily revenue series.
const DailyRevenueDays = 7

// Summary is the revenue overview.
type Summary struct {
	PaymentsSum decimal.Decimal
	RefundsSum  decimal.Decimal
	NetRevenue  decimal.Decimal
}

// DayRevenue is one point of the daily revenue series.
type DayRevenue struct {
	Date   string
	Amount decimal.Decimal
}

// StatusCount is one bucket of the transaction status histogram.
type StatusCount struct {
	Status models.TransactionStatus
	Count  int64
}

// PlanCount is the number of active subscriptions of a plan.
type PlanCount struct {
	Plan  string
	Count int64
}

// Report bundles every dashboard aggregate.
type Report struct {
	Summary
	DailyRevenue       []DayRevenue
	TransactionsStatus []StatusCount
	PlanDistribution   []PlanCount
}

// Service computes aggregates over the ledgers.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService builds an analytics service.
func NewService(conn *gorm.DB) *Service {
	return &Service{db: conn, now: time.Now}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Summary returns payments, refunds and their difference.
func (s *Service) Summary(ctx context.Context, f ledger.Filter) (Summary, error) {
	payments, errPayments := ledger.SumPayments(ctx, s.db, f)
	if errPayments != nil {
		return Summary{}, errPayments
	}
	refunds, errRefunds := ledger.SumRefunds(ctx, s.db, f)
	if errRefunds != nil {
		return Summary{}, errRefunds
	}
	return Summary{
		PaymentsSum: payments,
		RefundsSum:  refunds,
		NetRevenue:  billing.Round2(payments.Sub(refunds)),
	}, nil
}

// DailyRevenue returns net revenue per UTC day for the last seven days,
// oldest first, with zero for days without activity.
func (s *Service) DailyRevenue(ctx context.Context) ([]DayRevenue, error) {
	today := startOfDay(s.now())
	since := today.AddDate(0, 0, -(DailyRevenueDays - 1))

	var rows []models.Transaction
	if errFind := s.db.WithContext(ctx).
		Select("amount", "status", "transaction_type", "created_at").
		Where("created_at >= ? AND created_at < ?", since, today.AddDate(0, 0, 1)).
		Where("(transaction_type = ? AND status IN ?) OR (transaction_type = ? AND status IN ?)",
			models.TransactionKindPayment, models.PaymentSumStatuses,
			models.TransactionKindRefund, models.SettledStatuses).
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("analytics: load daily revenue: %w", errFind)
	}

	buckets := make(map[string]decimal.Decimal, DailyRevenueDays)
	for _, row := range rows {
		key := row.CreatedAt.UTC().Format(time.DateOnly)
		if row.Kind == models.TransactionKindRefund {
			buckets[key] = buckets[key].Sub(row.Amount)
			continue
		}
		buckets[key] = buckets[key].Add(row.Amount)
	}

	series := make([]DayRevenue, 0, DailyRevenueDays)
	for i := 0; i < DailyRevenueDays; i++ {
		key := since.AddDate(0, 0, i).Format(time.DateOnly)
		series = append(series, DayRevenue{Date: key, Amount: billing.Round2(buckets[key])})
	}
	return series, nil
}

// StatusHistogram counts transactions per status.
func (s *Service) StatusHistogram(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	if errScan := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Order("status ASC").
		Scan(&counts).Error; errScan != nil {
		return nil, fmt.Errorf("analytics: status histogram: %w", errScan)
	}
	return counts, nil
}

// PlanDistribution counts active, unexpired subscriptions per plan.
func (s *Service) PlanDistribution(ctx context.Context) ([]PlanCount, error) {
	var counts []PlanCount
	if errScan := s.db.WithContext(ctx).Table("subscriptions").
		Select("plans.name AS plan, COUNT(*) AS count").
		Joins("JOIN plans ON plans.id = subscriptions.plan_id").
		Where("subscriptions.is_active = ? AND subscriptions.expire_at > ?", true, s.now().UTC()).
		Group("plans.name").
		Scan(&counts).Error; errScan != nil {
		return nil, fmt.Errorf("analytics: plan distribution: %w", errScan)
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Plan < counts[j].Plan
	})
	return counts, nil
}

// Report computes every aggregate.
func (s *Service) Report(ctx context.Context) (Report, error) {
	summary, errSummary := s.Summary(ctx, ledger.Filter{})
	if errSummary != nil {
		return Report{}, errSummary
	}
	daily, errDaily := s.DailyRevenue(ctx)
	if errDaily != nil {
		return Report{}, errDaily
	}
	statuses, errStatuses := s.StatusHistogram(ctx)
	if errStatuses != nil {
		return Report{}, errStatuses
	}
	plans, errPlans := s.PlanDistribution(ctx)
	if errPlans != nil {
		return Report{}, errPlans
	}
	return Report{
		Summary:            summary,
		DailyRevenue:       daily,
		TransactionsStatus: statuses,
		PlanDistribution:   plans,
	}, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
