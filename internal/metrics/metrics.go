// Package metrics holds the Prometheus collectors of the billing service.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "billing"

// Outcome label values.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeIgnored  = "ignored"
	OutcomeReplayed = "replayed"
)

var WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Count of provider webhook deliveries by event type and outcome",
}, []string{"provider", "event", "outcome"})

var GatewayOrders = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "gateway",
	Name:      "orders_total",
	Help:      "Count of gateway order creation calls by outcome",
}, []string{"provider", "outcome"})

var GatewayOrderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "gateway",
	Name:      "order_duration_seconds",
	Help:      "Duration of gateway order creation calls",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"provider", "outcome"})

var RefundsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "refund",
	Name:      "recorded_total",
	Help:      "Count of refund transactions recorded by plan type",
}, []string{"plan_type"})

var Downgrades = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "refund",
	Name:      "downgrades_total",
	Help:      "Count of downgrades to the fallback plan",
}, []string{"refund_processed"})

var QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "metering",
	Name:      "quota_rejections_total",
	Help:      "Count of metered calls rejected for exhausted quota",
}, []string{"feature"})

var Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "notifications_total",
	Help:      "Count of notifications by sink and outcome",
}, []string{"sink", "outcome"})

var RateLimitChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ratelimit",
	Name:      "checks_total",
	Help:      "Count of rate limit checks by backend and outcome",
}, []string{"backend", "outcome"})

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
