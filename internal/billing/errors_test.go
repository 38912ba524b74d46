package billing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestErrorTaxonomy(t *testing.T) {
	policy := NewPolicyError(RuleTopupRequiresMain, "top-up requires %s", "main")
	if !IsPolicyViolation(policy) {
		t.Fatalf("expected policy violation")
	}
	if policy.Error() != "top-up requires main" {
		t.Fatalf("unexpected message %q", policy.Error())
	}

	quota := fmt.Errorf("consume: %w", &QuotaError{Feature: "AI Assistant", Limit: 8, Used: 8})
	if !IsQuotaExceeded(quota) {
		t.Fatalf("expected quota exceeded")
	}
	var qe *QuotaError
	if !errors.As(quota, &qe) || qe.Remaining != 0 {
		t.Fatalf("expected QuotaError with remaining=0")
	}

	gw := &GatewayError{Op: "create order", Err: errors.New("timeout")}
	if !IsRetryable(gw) {
		t.Fatalf("expected gateway error to be retryable")
	}
	if IsRetryable(ErrNotFound) {
		t.Fatalf("not found must not be retryable")
	}
	if !IsNotFound(NotFoundf("plan %d", 3)) {
		t.Fatalf("expected not found")
	}
}

func TestMoneyHelpers(t *testing.T) {
	cases := []struct {
		amount  string
		percent string
		want    string
	}{
		{"19", "50", "9.5"},
		{"129", "100", "129"},
		{"10.01", "33.33", "3.34"},
		{"0", "50", "0"},
	}
	for _, tc := range cases {
		got := ApplyPercentage(decimal.RequireFromString(tc.amount), decimal.RequireFromString(tc.percent))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("ApplyPercentage(%s, %s) = %s, want %s", tc.amount, tc.percent, got, tc.want)
		}
	}

	if minor := ToMinorUnits(decimal.RequireFromString("19.999")); minor != 1999 {
		t.Fatalf("expected 1999 minor units, got %d", minor)
	}
	if major := FromMinorUnits(1950); !major.Equal(decimal.RequireFromString("19.5")) {
		t.Fatalf("expected 19.5, got %s", major)
	}
}
