package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/analytics"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/ledger"
)

// AnalyticsHandler serves the revenue dashboards.
type AnalyticsHandler struct {
	svc *analytics.Service
}

// NewAnalyticsHandler constructs an AnalyticsHandler.
func NewAnalyticsHandler(svc *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

// Report returns every dashboard aggregate in one payload.
func (h *AnalyticsHandler) Report(c *gin.Context) {
	report, errReport := h.svc.Report(c.Request.Context())
	if errReport != nil {
		respond.Error(c, errReport)
		return
	}

	daily := make([]gin.H, 0, len(report.DailyRevenue))
	for _, d := range report.DailyRevenue {
		daily = append(daily, gin.H{"date": d.Date, "amount": d.Amount.StringFixed(2)})
	}
	statuses := make([]gin.H, 0, len(report.TransactionsStatus))
	for _, s := range report.TransactionsStatus {
		statuses = append(statuses, gin.H{"status": s.Status, "count": s.Count})
	}
	plans := make([]gin.H, 0, len(report.PlanDistribution))
	for _, p := range report.PlanDistribution {
		plans = append(plans, gin.H{"plan": p.Plan, "count": p.Count})
	}

	c.JSON(http.StatusOK, gin.H{
		"payments_sum":        report.PaymentsSum.StringFixed(2),
		"refunds_sum":         report.RefundsSum.StringFixed(2),
		"net_revenue":         report.NetRevenue.StringFixed(2),
		"daily_revenue":       daily,
		"transactions_status": statuses,
		"plan_distribution":   plans,
	})
}

// RefundSummary returns payments, refunds and net revenue, optionally
// narrowed to one subscriber or a created_at window.
func (h *AnalyticsHandler) RefundSummary(c *gin.Context) {
	filter, ok := parseLedgerFilter(c)
	if !ok {
		return
	}
	summary, errSummary := h.svc.Summary(c.Request.Context(), filter)
	if errSummary != nil {
		respond.Error(c, errSummary)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payments_sum": summary.PaymentsSum.StringFixed(2),
		"refunds_sum":  summary.RefundsSum.StringFixed(2),
		"net_revenue":  summary.NetRevenue.StringFixed(2),
	})
}

// parseLedgerFilter reads subscriber_id, plan_id, since and until query
// parameters. Dates accept RFC3339 or YYYY-MM-DD.
func parseLedgerFilter(c *gin.Context) (ledger.Filter, bool) {
	var filter ledger.Filter
	var ok bool
	if filter.SubscriberID, ok = queryUint(c, "subscriber_id"); !ok {
		return filter, false
	}
	if filter.PlanID, ok = queryUint(c, "plan_id"); !ok {
		return filter, false
	}
	if filter.Since, ok = queryTime(c, "since"); !ok {
		return filter, false
	}
	if filter.Until, ok = queryTime(c, "until"); !ok {
		return filter, false
	}
	return filter, true
}

func queryTime(c *gin.Context, name string) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, true
	}
	if t, errParse := time.Parse(time.RFC3339, raw); errParse == nil {
		return t.UTC(), true
	}
	if t, errParse := time.Parse("2006-01-02", raw); errParse == nil {
		return t.UTC(), true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
	return time.Time{}, false
}
