package undo

import "github.com/domara/audit-engine/internal/db/models"

// Role names an administrative authorization level. The mapping from role to
// allowed tiers is a fixed table, not scattered conditionals, so authorization
// behavior is testable in one place.
type Role string

const (
	// RoleSuperAdmin may undo anything still eligible, including complex actions.
	RoleSuperAdmin Role = "super_admin"

	// RoleSupport handles day-to-day reversals: simple and moderate only.
	RoleSupport Role = "support"

	// RoleModerator may undo only simple actions.
	RoleModerator Role = "moderator"
)

// roleTiers is the role → allowed-tier table. TierImpossible appears nowhere:
// it is never undoable by anyone.
var roleTiers = map[Role]map[models.Tier]bool{
	RoleSuperAdmin: {
		models.TierSimple:   true,
		models.TierModerate: true,
		models.TierComplex:  true,
	},
	RoleSupport: {
		models.TierSimple:   true,
		models.TierModerate: true,
	},
	RoleModerator: {
		models.TierSimple: true,
	},
}

// Known reports whether r is a recognized role. Unknown roles are allowed
// nothing.
func (r Role) Known() bool {
	_, ok := roleTiers[r]
	return ok
}

// AllowsTier reports whether the role may undo actions of the given tier.
func (r Role) AllowsTier(t models.Tier) bool {
	return roleTiers[r][t]
}
