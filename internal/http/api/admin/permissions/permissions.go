package permissions

import (
	"strings"

	"github.com/oelp-platform/billing/internal/security"
)

// Definition describes an admin route and the role tags allowed to call it.
type Definition struct {
	Key    string   `json:"key"`
	Method string   `json:"method"`
	Path   string   `json:"path"`
	Label  string   `json:"label"`
	Module string   `json:"module"`
	Roles  []string `json:"roles"`
}

// Key builds a permission key from method and path.
func Key(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Lookup returns the definition registered for the route.
func Lookup(method, path string) (Definition, bool) {
	def, ok := definitionMap[Key(method, path)]
	return def, ok
}

// Allowed reports whether claims may call the route. Routes without a
// definition are refused.
func Allowed(claims *security.Claims, method, path string) bool {
	def, ok := Lookup(method, path)
	if !ok {
		return false
	}
	return claims.HasAnyRole(def.Roles...)
}

// Definitions returns a copy of all permission definitions.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// newDefinition builds a Definition with a normalized key.
func newDefinition(method, path, label, module string, roles ...string) Definition {
	upperMethod := strings.ToUpper(method)
	return Definition{
		Key:    Key(upperMethod, path),
		Method: upperMethod,
		Path:   path,
		Label:  label,
		Module: module,
		Roles:  roles,
	}
}

var (
	analyticsRoles = []string{security.RoleSuperAdmin, security.RoleAdmin, security.RoleAnalyst}
	adminRoles     = []string{security.RoleSuperAdmin, security.RoleAdmin}
)

// definitions is the ordered list of permission definitions.
var definitions = []Definition{
	newDefinition("GET", "/v0/admin/analytics", "View Analytics", "Analytics", analyticsRoles...),
	newDefinition("GET", "/v0/admin/refunds/summary", "View Refund Summary", "Analytics", adminRoles...),

	newDefinition("GET", "/v0/admin/transactions", "List Transactions", "Transactions", adminRoles...),
	newDefinition("GET", "/v0/admin/transactions/:id", "Get Transaction", "Transactions", adminRoles...),

	newDefinition("POST", "/v0/admin/plans", "Create Plan", "Plans", adminRoles...),
	newDefinition("GET", "/v0/admin/plans", "List Plans", "Plans", adminRoles...),
	newDefinition("GET", "/v0/admin/plans/:id", "Get Plan", "Plans", adminRoles...),
	newDefinition("PUT", "/v0/admin/plans/:id", "Update Plan", "Plans", adminRoles...),
	newDefinition("DELETE", "/v0/admin/plans/:id", "Delete Plan", "Plans", adminRoles...),
	newDefinition("POST", "/v0/admin/plans/:id/enable", "Enable Plan", "Plans", adminRoles...),
	newDefinition("POST", "/v0/admin/plans/:id/disable", "Disable Plan", "Plans", adminRoles...),

	newDefinition("POST", "/v0/admin/refund-policies", "Create Refund Policy", "Refund Policies", adminRoles...),
	newDefinition("GET", "/v0/admin/refund-policies", "List Refund Policies", "Refund Policies", adminRoles...),
	newDefinition("PUT", "/v0/admin/refund-policies/:id", "Update Refund Policy", "Refund Policies", adminRoles...),
	newDefinition("DELETE", "/v0/admin/refund-policies/:id", "Delete Refund Policy", "Refund Policies", adminRoles...),

	newDefinition("POST", "/v0/admin/settings", "Create Setting", "Settings", adminRoles...),
	newDefinition("GET", "/v0/admin/settings", "List Settings", "Settings", adminRoles...),
	newDefinition("GET", "/v0/admin/settings/:key", "Get Setting", "Settings", adminRoles...),
	newDefinition("PUT", "/v0/admin/settings/:key", "Update Setting", "Settings", adminRoles...),
	newDefinition("DELETE", "/v0/admin/settings/:key", "Delete Setting", "Settings", adminRoles...),

	newDefinition("GET", "/v0/admin/permissions", "List Permissions", "Permissions", analyticsRoles...),
}

// definitionMap indexes permission definitions by key.
var definitionMap = func() map[string]Definition {
	out := make(map[string]Definition, len(definitions))
	for _, def := range definitions {
		out[def.Key] = def
	}
	return out
}()
