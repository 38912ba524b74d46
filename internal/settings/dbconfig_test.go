package settings

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDBConfigSnapshot(t *testing.T) {
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		FreePlanNameKey:     json.RawMessage(`"Basic"`),
		FallbackPlanDaysKey: json.RawMessage(`"30"`),
		" ":                 json.RawMessage(`1`),
	})
	if got := FreePlanName(); got != "Basic" {
		t.Fatalf("expected Basic, got %q", got)
	}
	if got := FallbackPlanDays(); got != 30 {
		t.Fatalf("expected 30, got %d", got)
	}

	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		FallbackPlanDaysKey: json.RawMessage(`-4`),
	})
	if got := FreePlanName(); got != DefaultFreePlanName {
		t.Fatalf("expected default plan name, got %q", got)
	}
	if got := FallbackPlanDays(); got != DefaultFallbackPlanDays {
		t.Fatalf("expected default days, got %d", got)
	}
}

func TestParseHelpers(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
		ok   bool
	}{
		{raw: `true`, want: true, ok: true},
		{raw: `"off"`, want: false, ok: true},
		{raw: `1`, want: true, ok: true},
		{raw: `"maybe"`, ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseBool(json.RawMessage(tc.raw))
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseBool(%s) = %v, %v", tc.raw, got, ok)
		}
	}
	if v, ok := ParseNonNegativeInt(json.RawMessage(`2.5`)); ok {
		t.Fatalf("expected fractional value rejected, got %d", v)
	}
	if v, ok := ParseNonNegativeInt(json.RawMessage(`12.0`)); !ok || v != 12 {
		t.Fatalf("expected 12, got %d %v", v, ok)
	}
}
