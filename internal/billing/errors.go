package billing

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the ledger, reconciler, refund engine and meter.
var (
	ErrPolicyViolation  = errors.New("billing: policy violation")
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
	ErrNotFound         = errors.New("billing: not found")
	ErrQuotaExceeded    = errors.New("billing: quota exceeded")
	ErrTransientGateway = errors.New("billing: payment gateway unavailable")

	ErrNoEntitlement        = errors.New("billing: feature not included in plan")
	ErrInvalidInput         = errors.New("billing: invalid input")
	ErrTerminalTransaction  = errors.New("billing: transaction already settled")
	ErrRefundExceedsPayment = errors.New("billing: refund exceeds originating payment")
	ErrNotificationRejected = errors.New("billing: notification rejected")
)

// Policy rule identifiers reported in PolicyError.
const (
	RuleTopupRequiresMain    = "topup_requires_main"
	RuleActivePaidPlan       = "active_paid_plan"
	RulePlanDisabled         = "plan_disabled"
	RuleSubscriptionForeign  = "subscription_not_owned"
	RuleSubscriptionInactive = "subscription_inactive"
)

// PolicyError describes a rejected business rule.
type PolicyError struct {
	Rule    string
	Message string
}

func (e *PolicyError) Error() string {
	if e.Message == "" {
		return ErrPolicyViolation.Error() + ": " + e.Rule
	}
	return e.Message
}

func (e *PolicyError) Unwrap() error { return ErrPolicyViolation }

// NewPolicyError builds a PolicyError with a formatted message.
func NewPolicyError(rule, format string, args ...any) *PolicyError {
	return &PolicyError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// QuotaError reports a metering rejection. Remaining is always zero.
type QuotaError struct {
	Feature   string
	Limit     int
	Used      int
	Remaining int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("billing: quota exceeded for %q (%d/%d used)", e.Feature, e.Used, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// GatewayError wraps a transport failure talking to the payment provider.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("billing: gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() []error { return []error{ErrTransientGateway, e.Err} }

// IsPolicyViolation reports whether err is a business-rule rejection.
func IsPolicyViolation(err error) bool { return errors.Is(err, ErrPolicyViolation) }

// IsNotFound reports whether err refers to a missing plan, subscription or transaction.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsQuotaExceeded reports whether err is a metering rejection.
func IsQuotaExceeded(err error) bool { return errors.Is(err, ErrQuotaExceeded) }

// IsRetryable reports whether the caller may retry the same request unchanged.
func IsRetryable(err error) bool { return errors.Is(err, ErrTransientGateway) }

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
