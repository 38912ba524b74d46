package permissions

import (
	"testing"

	"github.com/oelp-platform/billing/internal/security"
)

func TestAllowed(t *testing.T) {
	analyst := &security.Claims{Roles: []string{security.RoleAnalyst}}
	admin := &security.Claims{Roles: []string{security.RoleAdmin}}
	privileged := &security.Claims{IsPrivileged: true}
	plain := &security.Claims{}

	cases := []struct {
		name   string
		claims *security.Claims
		method string
		path   string
		want   bool
	}{
		{name: "analyst analytics", claims: analyst, method: "GET", path: "/v0/admin/analytics", want: true},
		{name: "analyst refunds", claims: analyst, method: "GET", path: "/v0/admin/refunds/summary", want: false},
		{name: "admin refunds", claims: admin, method: "get", path: "/v0/admin/refunds/summary", want: true},
		{name: "privileged plans", claims: privileged, method: "DELETE", path: "/v0/admin/plans/:id", want: true},
		{name: "plain analytics", claims: plain, method: "GET", path: "/v0/admin/analytics", want: false},
		{name: "unknown route", claims: privileged, method: "GET", path: "/v0/admin/unknown", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.claims, tc.method, tc.path); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDefinitionsHaveRoles(t *testing.T) {
	for _, def := range Definitions() {
		if len(def.Roles) == 0 {
			t.Fatalf("route %s declares no roles", def.Key)
		}
	}
}
