// Package roles defines role assignments, capabilities and the tiered
// approval matrix used to gate financially significant actions.
package roles

import (
	"math/big"
	"time"
)

// Role is the closed set of platform roles.
type Role string

const (
	ProjectManager  Role = "PROJECT_MANAGER"
	FinanceReviewer Role = "FINANCE_REVIEWER"
	Treasurer       Role = "TREASURER"
	DAOMultisig     Role = "DAO_MULTISIG"
	Steward         Role = "STEWARD"
	Auditor         Role = "AUDITOR"
	PlatformAdmin   Role = "PLATFORM_ADMIN"
)

// Valid reports whether r is a known role.
func Valid(r Role) bool {
	switch r {
	case ProjectManager, FinanceReviewer, Treasurer, DAOMultisig, Steward, Auditor, PlatformAdmin:
		return true
	}
	return false
}

// Capability is a named boolean permission flag.
type Capability string

const (
	CapManagePayments    Capability = "MANAGE_PAYMENTS"
	CapApproveFunding    Capability = "APPROVE_FUNDING"
	CapConfigureEscrow   Capability = "CONFIGURE_ESCROW"
	CapAssignRoles       Capability = "ASSIGN_ROLES"
	CapViewLedger        Capability = "VIEW_LEDGER"
	CapManageTokens      Capability = "MANAGE_TOKENS"
	CapOverrideApprovals Capability = "OVERRIDE_APPROVALS"
)

// Capabilities is the static permission set attached to a role.
type Capabilities struct {
	ManagePayments    bool
	ApproveFunding    bool
	ConfigureEscrow   bool
	AssignRoles       bool
	ViewLedger        bool
	ManageTokens      bool
	OverrideApprovals bool
}

// CapabilitiesOf resolves the static capability set for a role. The table is
// compiled in, not data-driven: permission checks must not depend on runtime
// string-keyed lookups.
func CapabilitiesOf(r Role) Capabilities {
	switch r {
	case ProjectManager:
		return Capabilities{ManagePayments: true, ApproveFunding: true, ViewLedger: true}
	case FinanceReviewer:
		return Capabilities{ApproveFunding: true, ViewLedger: true}
	case Treasurer:
		return Capabilities{ManagePayments: true, ApproveFunding: true, ConfigureEscrow: true, ViewLedger: true}
	case DAOMultisig:
		return Capabilities{
			ManagePayments:    true,
			ApproveFunding:    true,
			ConfigureEscrow:   true,
			AssignRoles:       true,
			ViewLedger:        true,
			ManageTokens:      true,
			OverrideApprovals: true,
		}
	case Steward:
		return Capabilities{ViewLedger: true}
	case Auditor:
		return Capabilities{ViewLedger: true}
	case PlatformAdmin:
		return Capabilities{AssignRoles: true, ViewLedger: true, ManageTokens: true}
	default:
		return Capabilities{}
	}
}

// Has reports whether the capability flag is set.
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapManagePayments:
		return c.ManagePayments
	case CapApproveFunding:
		return c.ApproveFunding
	case CapConfigureEscrow:
		return c.ConfigureEscrow
	case CapAssignRoles:
		return c.AssignRoles
	case CapViewLedger:
		return c.ViewLedger
	case CapManageTokens:
		return c.ManageTokens
	case CapOverrideApprovals:
		return c.OverrideApprovals
	default:
		return false
	}
}

// CanApprovePayments reports whether a role participates in monetary approval
// at all. Only these roles are considered when computing explicit approval
// limits.
func (r Role) CanApprovePayments() bool {
	switch r {
	case ProjectManager, FinanceReviewer, Treasurer:
		return true
	}
	return false
}

// Assignment grants a principal a role, optionally scoped to a project
// (ProjectID == 0 means system-wide). Revocation flips Active and stamps the
// revocation metadata; rows are never deleted.
type Assignment struct {
	ID            string
	PrincipalID   string
	ProjectID     int64
	Role          Role
	Active        bool
	ApprovalLimit *big.Int // minor units; nil when no explicit ceiling is set
	AssignedBy    string
	AssignedAt    time.Time
	RevokedBy     string
	RevokedAt     *time.Time
	Notes         string
}

// ChangeEventType names a role audit event.
type ChangeEventType string

const (
	ChangeAssigned ChangeEventType = "ROLE_ASSIGNED"
	ChangeRevoked  ChangeEventType = "ROLE_REVOKED"
)

// ChangeEvent is the immutable audit record written atomically with every
// assignment mutation.
type ChangeEvent struct {
	ID           string
	AssignmentID string
	PrincipalID  string
	ProjectID    int64
	Role         Role
	Type         ChangeEventType
	Actor        string
	Notes        string
	CreatedAt    time.Time
}

// ApprovalMatrix is the per-project tiered authorization table. Tier1MaxAmount
// must be strictly below Tier2MaxAmount.
type ApprovalMatrix struct {
	ProjectID             int64
	Tier1MaxAmount        *big.Int
	Tier1Roles            []Role
	Tier2MaxAmount        *big.Int
	Tier2Roles            []Role
	Tier3RequiresMultisig bool
	UpdatedAt             time.Time
}

// RoleSet is a principal's resolved active roles, split by scope.
type RoleSet struct {
	ProjectRoles []Role
	SystemRoles  []Role
}

// Holds reports whether the role appears in either scope.
func (s RoleSet) Holds(r Role) bool {
	for _, have := range s.SystemRoles {
		if have == r {
			return true
		}
	}
	for _, have := range s.ProjectRoles {
		if have == r {
			return true
		}
	}
	return false
}

// HoldsAny reports whether any of the candidate roles is held.
func (s RoleSet) HoldsAny(candidates []Role) bool {
	for _, r := range candidates {
		if s.Holds(r) {
			return true
		}
	}
	return false
}

// Empty reports whether the principal holds no roles at all.
func (s RoleSet) Empty() bool {
	return len(s.ProjectRoles) == 0 && len(s.SystemRoles) == 0
}
