// Package respond maps domain errors onto HTTP responses.
package respond

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oelp-platform/billing/internal/billing"
	log "github.com/sirupsen/logrus"
)

// Status returns the HTTP status code for err.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, billing.ErrPolicyViolation):
		return http.StatusConflict
	case errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, billing.ErrNoEntitlement):
		return http.StatusForbidden
	case errors.Is(err, billing.ErrTransientGateway):
		return http.StatusServiceUnavailable
	case errors.Is(err, billing.ErrInvalidInput),
		errors.Is(err, billing.ErrRefundExceedsPayment),
		errors.Is(err, billing.ErrNotificationRejected):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrTerminalTransaction):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as {"error": message} plus context fields and aborts.
// Unclassified errors are logged and reported without detail.
func Error(c *gin.Context, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": message(err)}
	var policyErr *billing.PolicyError
	if errors.As(err, &policyErr) {
		body["rule"] = policyErr.Rule
	}
	var quotaErr *billing.QuotaError
	if errors.As(err, &quotaErr) {
		body["feature"] = quotaErr.Feature
		body["limit"] = quotaErr.Limit
		body["used"] = quotaErr.Used
		body["remaining"] = 0
	}
	if errors.Is(err, billing.ErrTransientGateway) {
		body["retryable"] = true
	}
	c.AbortWithStatusJSON(status, body)
}

// message strips the package prefix sentinels carry.
func message(err error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, "billing: ")
	return msg
}

// ParseID reads a positive numeric path parameter. On failure it writes a 400
// response and returns false.
func ParseID(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
