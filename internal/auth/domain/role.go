package domain

// Role is the closed set of principal roles. Handlers work in terms of
// capabilities, not role string comparisons.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleMember        Role = "member"
)

// Capability names an action a role may perform.
type Capability string

const (
	// CapManagePlatform covers cross-tenant administration.
	CapManagePlatform Capability = "platform:manage"
	// CapManageTenant covers administration within the principal's own tenant.
	CapManageTenant Capability = "tenant:manage"
	// CapInvite allows minting registration invitations.
	CapInvite Capability = "principal:invite"
	// CapViewAllEvents receives push events for every tenant.
	CapViewAllEvents Capability = "events:all"
)

var capabilities = map[Role]map[Capability]struct{}{
	RolePlatformAdmin: {
		CapManagePlatform: {},
		CapManageTenant:   {},
		CapInvite:         {},
		CapViewAllEvents:  {},
	},
	RoleTenantAdmin: {
		CapManageTenant: {},
		CapInvite:       {},
	},
	RoleMember: {},
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := capabilities[r]
	return ok
}

// Can reports whether the role holds the capability.
func (r Role) Can(c Capability) bool {
	caps, ok := capabilities[r]
	if !ok {
		return false
	}
	_, ok = caps[c]
	return ok
}

// AssignableBy reports whether a principal with role `by` may assign r to
// someone else. Tenant admins can never hand out platform_admin.
func (r Role) AssignableBy(by Role) bool {
	switch by {
	case RolePlatformAdmin:
		return r.Valid()
	case RoleTenantAdmin:
		return r == RoleMember || r == RoleTenantAdmin
	default:
		return false
	}
}
