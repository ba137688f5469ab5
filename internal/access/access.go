package access

import (
	"fmt"
	"slices"

	"agropos/backend/internal/domain"
)

// Role is one of a fixed enumeration. Unknown roles resolve to no modules
// and no capabilities.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSales      Role = "sales"
	RoleAccountant Role = "accountant"
	RoleViewer     Role = "viewer"
)

const (
	ModuleDashboard = "dashboard"
	ModulePOS       = "pos"
	ModuleInventory = "inventory"
	ModuleCRM       = "crm"
	ModuleFinance   = "finance"
	ModuleReports   = "reports"
	ModuleSettings  = "settings"
	ModuleBranches  = "branches"
)

// moduleAccess is the single source of truth for module visibility. Route
// gating, menu rendering, and capability derivation all read from it.
var moduleAccess = map[Role][]string{
	RoleAdmin: {
		ModuleDashboard, ModulePOS, ModuleInventory, ModuleCRM,
		ModuleFinance, ModuleReports, ModuleSettings, ModuleBranches,
	},
	RoleSales:      {ModuleDashboard, ModulePOS, ModuleCRM},
	RoleAccountant: {ModuleDashboard, ModuleFinance, ModuleReports},
	RoleViewer:     {ModuleDashboard, ModuleReports},
}

func Roles() []Role {
	return []Role{RoleAdmin, RoleSales, RoleAccountant, RoleViewer}
}

func IsKnownRole(role Role) bool {
	_, ok := moduleAccess[role]
	return ok
}

// AllowedModules returns the fixed module set for the role, in menu order.
// The returned slice is a copy.
func AllowedModules(role Role) []string {
	modules := moduleAccess[role]
	return slices.Clone(modules)
}

func CanAccess(role Role, module string) bool {
	return slices.Contains(moduleAccess[role], module)
}

// RequestModuleChange resolves a navigation request. Denial is a first-class
// result, never an error: the response carries the role name for the
// user-visible message and the caller keeps its active module unchanged.
func RequestModuleChange(role Role, target string) domain.ModuleChangeResponse {
	if CanAccess(role, target) {
		return domain.ModuleChangeResponse{
			Allowed: true,
			Module:  target,
			Role:    string(role),
		}
	}
	return domain.ModuleChangeResponse{
		Allowed: false,
		Role:    string(role),
		Message: fmt.Sprintf("role %q does not have access to the %q module", role, target),
	}
}

type Capabilities struct {
	IsAdmin           bool `json:"is_admin"`
	CanEditInventory  bool `json:"can_edit_inventory"`
	CanEditPrices     bool `json:"can_edit_prices"`
	CanViewFinancials bool `json:"can_view_financials"`
}

// DeriveCapabilities keeps the boolean capabilities consistent with module
// visibility: a role that cannot see the finance module never reports
// CanViewFinancials, and editing rights require the inventory module.
func DeriveCapabilities(role Role) Capabilities {
	isAdmin := role == RoleAdmin
	return Capabilities{
		IsAdmin:           isAdmin,
		CanEditInventory:  isAdmin && CanAccess(role, ModuleInventory),
		CanEditPrices:     isAdmin && CanAccess(role, ModuleInventory),
		CanViewFinancials: CanAccess(role, ModuleFinance),
	}
}
