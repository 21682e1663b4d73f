package gate

// Role is the closed set of platform roles. Anything outside this set is
// denied, never defaulted.
type Role string

const (
	RoleSuperAdmin        Role = "super_admin"
	RoleNetworkAdmin      Role = "network_admin"
	RoleDirector          Role = "director"
	RoleCoordinator       Role = "coordinator"
	RoleTeacher           Role = "teacher"
	RoleSpecialistTeacher Role = "specialist_teacher"
	RoleGuardian          Role = "guardian"
)

// DefaultRole is assigned at first login, before any administrative
// provisioning. Guardian is the least-privileged role.
const DefaultRole = RoleGuardian

// Known reports whether the role belongs to the closed enumeration.
func (r Role) Known() bool {
	switch r {
	case RoleSuperAdmin, RoleNetworkAdmin, RoleDirector, RoleCoordinator,
		RoleTeacher, RoleSpecialistTeacher, RoleGuardian:
		return true
	}
	return false
}

// RequiresScope reports whether the role is unusable without a resolved
// partition. Super admins operate across all tenants; network admins need
// a tenant; everyone else needs a school.
func (r Role) RequiresScope() bool {
	return r != RoleSuperAdmin
}

func (r Role) requiresSchoolScope() bool {
	switch r {
	case RoleSuperAdmin, RoleNetworkAdmin:
		return false
	}
	return true
}

// Capability names a discrete action the gate can authorize.
type Capability string

const (
	CapViewPendingStatus Capability = "view_pending_status"
	CapViewDashboard     Capability = "view_dashboard"
	CapManagePlans       Capability = "manage_plans"
	CapIssueFamilyToken  Capability = "issue_family_token"
	CapCommentPlan       Capability = "comment_plan"
	CapApprovePlan       Capability = "approve_plan"
	CapManagePrincipals  Capability = "manage_principals"
	CapManageSchools     Capability = "manage_schools"
)

var roleCapabilities = map[Role][]Capability{
	RoleSuperAdmin: {
		CapViewDashboard, CapManagePlans, CapIssueFamilyToken, CapCommentPlan,
		CapApprovePlan, CapManagePrincipals, CapManageSchools,
	},
	RoleNetworkAdmin: {
		CapViewDashboard, CapManagePlans, CapIssueFamilyToken, CapCommentPlan,
		CapApprovePlan, CapManagePrincipals, CapManageSchools,
	},
	RoleDirector: {
		CapViewDashboard, CapManagePlans, CapIssueFamilyToken, CapCommentPlan,
		CapApprovePlan, CapManagePrincipals,
	},
	RoleCoordinator: {
		CapViewDashboard, CapManagePlans, CapIssueFamilyToken, CapCommentPlan,
		CapApprovePlan,
	},
	RoleSpecialistTeacher: {
		CapViewDashboard, CapManagePlans, CapCommentPlan,
	},
	RoleTeacher: {
		CapViewDashboard, CapCommentPlan,
	},
	RoleGuardian: {
		CapViewDashboard,
	},
}

func roleHasCapability(r Role, c Capability) bool {
	for _, have := range roleCapabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}
