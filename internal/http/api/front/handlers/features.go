package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/billing"
	"github.com/oelp-platform/billing/internal/entitlement"
	"github.com/oelp-platform/billing/internal/http/api/middleware"
	"github.com/oelp-platform/billing/internal/http/api/respond"
	"github.com/oelp-platform/billing/internal/metering"
	"github.com/oelp-platform/billing/internal/models"
)

// FeatureHandler meters feature calls against the active plan.
type FeatureHandler struct {
	subs  *entitlement.Ledger
	meter *metering.Meter
}

// NewFeatureHandler constructs a FeatureHandler.
func NewFeatureHandler(subs *entitlement.Ledger, meter *metering.Meter) *FeatureHandler {
	return &FeatureHandler{subs: subs, meter: meter}
}

// consumeRequest captures a metered call.
type consumeRequest struct {
	Cost int `json:"cost"` // Units to consume, defaults to 1.
}

// Consume records a feature call when quota remains.
func (h *FeatureHandler) Consume(c *gin.Context) {
	body := consumeRequest{Cost: 1}
	if c.Request.ContentLength != 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	sub, ok := h.current(c)
	if !ok {
		return
	}
	result, errConsume := h.meter.CheckAndConsume(c.Request.Context(), sub, strings.TrimSpace(c.Param("feature")), body.Cost)
	if errConsume != nil {
		respond.Error(c, errConsume)
		return
	}
	c.JSON(http.StatusOK, formatUsage(result))
}

// Status reports the counter without consuming.
func (h *FeatureHandler) Status(c *gin.Context) {
	sub, ok := h.current(c)
	if !ok {
		return
	}
	result, errStatus := h.meter.Status(c.Request.Context(), sub, strings.TrimSpace(c.Param("feature")))
	if errStatus != nil {
		respond.Error(c, errStatus)
		return
	}
	c.JSON(http.StatusOK, formatUsage(result))
}

func (h *FeatureHandler) current(c *gin.Context) (*models.Subscription, bool) {
	sub, errCurrent := h.subs.Current(c.Request.Context(), middleware.SubscriberID(c))
	if errCurrent != nil {
		respond.Error(c, errCurrent)
		return nil, false
	}
	if sub == nil {
		respond.Error(c, billing.NotFoundf("active subscription"))
		return nil, false
	}
	return sub, true
}

func formatUsage(r metering.Result) gin.H {
	out := gin.H{
		"feature":   r.Feature,
		"used":      r.Used,
		"unlimited": r.Unlimited,
	}
	if r.Unlimited {
		out["limit"] = nil
		out["remaining"] = nil
	} else {
		out["limit"] = r.Limit
		out["remaining"] = r.Remaining
	}
	return out
}
