package auth

// Action is a permitted operation kind on a resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionManage  Action = "manage"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionExport  Action = "export"
	ActionImport  Action = "import"
)

// ResourceAll is the wildcard resource matching everything.
const ResourceAll = "*"

// Enumerated permission resources.
const (
	ResourceApplications = "applications"
	ResourceTenants      = "tenants"
	ResourceAdmins       = "admins"
	ResourceUsers        = "users"
	ResourceRoles        = "roles"
	ResourcePermissions  = "permissions"
	ResourceDocuments    = "documents"
	ResourceLogs         = "logs"
	ResourceSettings     = "settings"
)

var knownResources = map[string]struct{}{
	ResourceAll:          {},
	ResourceApplications: {},
	ResourceTenants:      {},
	ResourceAdmins:       {},
	ResourceUsers:        {},
	ResourceRoles:        {},
	ResourcePermissions:  {},
	ResourceDocuments:    {},
	ResourceLogs:         {},
	ResourceSettings:     {},
}

var knownActions = map[Action]struct{}{
	ActionCreate: {}, ActionRead: {}, ActionUpdate: {}, ActionDelete: {},
	ActionManage: {}, ActionApprove: {}, ActionReject: {}, ActionExport: {}, ActionImport: {},
}

// ValidResource reports whether r is an enumerated resource or the wildcard.
func ValidResource(r string) bool {
	_, ok := knownResources[r]
	return ok
}

// ValidAction reports whether a is an enumerated action kind.
func ValidAction(a Action) bool {
	_, ok := knownActions[a]
	return ok
}

// AllActions lists every action kind, used by the manage_all seed.
func AllActions() []Action {
	return []Action{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete,
		ActionManage, ActionApprove, ActionReject, ActionExport, ActionImport,
	}
}

// SystemPermissions are seed records marked immutable after creation.
func SystemPermissions() []Permission {
	return []Permission{
		{
			Name:        "manage_all",
			Description: "Full system access",
			Resource:    ResourceAll,
			Actions:     AllActions(),
			IsSystem:    true,
			Status:      StatusActive,
		},
		{
			Name:        "manage_applications",
			Description: "Manage all application operations",
			Resource:    ResourceApplications,
			Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove, ActionReject},
			IsSystem:    true,
			Status:      StatusActive,
		},
		{
			Name:        "manage_tenants",
			Description: "Manage all tenant operations",
			Resource:    ResourceTenants,
			Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionManage},
			IsSystem:    true,
			Status:      StatusActive,
		},
		{
			Name:        "view_logs",
			Description: "Read audit log entries",
			Resource:    ResourceLogs,
			Actions:     []Action{ActionRead, ActionExport},
			IsSystem:    true,
			Status:      StatusActive,
		},
		{
			Name:        "submit_applications",
			Description: "Submit and read own onboarding applications",
			Resource:    ResourceApplications,
			Actions:     []Action{ActionCreate, ActionRead},
			IsSystem:    true,
			Status:      StatusActive,
		},
	}
}

// SystemRoles map the three fixed tiers to their seed permissions.
// Returned as role name -> permission names.
func SystemRoles() map[string][]string {
	return map[string][]string{
		string(RoleSuperadmin): {"manage_all"},
		string(RoleAdmin):      {"manage_applications", "manage_tenants", "view_logs"},
		string(RoleTenant):     {"submit_applications"},
	}
}
