// Package authz implements the tiered, role-based approval authorization
// engine. Denials are results, never errors: callers receive false and decide
// how to surface it.
package authz

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/liftdao/finance-layer/internal/app/domain/roles"
	"github.com/liftdao/finance-layer/internal/app/metrics"
	"github.com/liftdao/finance-layer/internal/app/storage"
	"github.com/liftdao/finance-layer/pkg/logger"
)

var (
	// ErrDuplicateAssignment is returned when an active assignment already
	// exists for the (principal, project, role) triple.
	ErrDuplicateAssignment = errors.New("active assignment already exists")

	// ErrAlreadyRevoked is returned when revoking an inactive assignment.
	ErrAlreadyRevoked = errors.New("assignment is not active")
)

// System-wide default approval thresholds, applied when a project has no
// approval matrix on file. Minor units.
var (
	defaultTier1Max   = big.NewInt(1_000_000_000)
	defaultTier1Roles = []roles.Role{roles.ProjectManager, roles.FinanceReviewer, roles.Treasurer}
	defaultTier2Max   = big.NewInt(10_000_000_000)
	defaultTier2Roles = []roles.Role{roles.Treasurer, roles.FinanceReviewer}
)

// Service resolves roles and computes approval decisions.
type Service struct {
	store storage.RoleStore
	cache RoleCache
	log   *logger.Logger
}

// New constructs the authorization engine. A nil cache defaults to the
// process-local TTL cache.
func New(store storage.RoleStore, cache RoleCache, log *logger.Logger) *Service {
	if cache == nil {
		cache = NewMemoryCache(DefaultCacheTTL)
	}
	if log == nil {
		log = logger.NewDefault("authz")
	}
	return &Service{store: store, cache: cache, log: log}
}

// ResolveRoles returns the principal's active roles split by scope, served
// through the cache. Staleness is bounded by the cache TTL; callers needing
// certainty use ResolveRolesFresh.
func (s *Service) ResolveRoles(ctx context.Context, principalID string, projectID int64) (roles.RoleSet, error) {
	if set, ok := s.cache.Get(ctx, principalID, projectID); ok {
		return set, nil
	}
	set, err := s.resolveFromStore(ctx, principalID, projectID)
	if err != nil {
		return roles.RoleSet{}, err
	}
	s.cache.Put(ctx, principalID, projectID, set)
	return set, nil
}

// ResolveRolesFresh bypasses the cache and reads the store directly.
func (s *Service) ResolveRolesFresh(ctx context.Context, principalID string, projectID int64) (roles.RoleSet, error) {
	set, err := s.resolveFromStore(ctx, principalID, projectID)
	if err != nil {
		return roles.RoleSet{}, err
	}
	s.cache.Put(ctx, principalID, projectID, set)
	return set, nil
}

func (s *Service) resolveFromStore(ctx context.Context, principalID string, projectID int64) (roles.RoleSet, error) {
	assignments, err := s.store.ListActiveAssignments(ctx, principalID, projectID)
	if err != nil {
		return roles.RoleSet{}, fmt.Errorf("list assignments for %s: %w", principalID, err)
	}

	var set roles.RoleSet
	for _, a := range assignments {
		if a.ProjectID == 0 {
			set.SystemRoles = append(set.SystemRoles, a.Role)
		} else {
			set.ProjectRoles = append(set.ProjectRoles, a.Role)
		}
	}
	return set, nil
}

// ApprovalLimit returns the maximum explicit per-assignment limit across the
// principal's approval-capable roles, or nil when none is set.
func (s *Service) ApprovalLimit(ctx context.Context, principalID string, projectID int64) (*big.Int, error) {
	assignments, err := s.store.ListActiveAssignments(ctx, principalID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list assignments for %s: %w", principalID, err)
	}

	var limit *big.Int
	for _, a := range assignments {
		if !a.Role.CanApprovePayments() || a.ApprovalLimit == nil {
			continue
		}
		if limit == nil || a.ApprovalLimit.Cmp(limit) > 0 {
			limit = new(big.Int).Set(a.ApprovalLimit)
		}
	}
	return limit, nil
}

// CanApprove reports whether the principal may approve the amount for the
// project. The decision fails closed: no approval-capable role means false
// for every amount. Resolution order: explicit per-user limit, then the
// unconditional multisig override, then the project matrix (or the system
// defaults when no matrix exists). Roles are read fresh from the store; a
// cached entry that missed a revocation must never clear a money movement.
func (s *Service) CanApprove(ctx context.Context, principalID string, projectID int64, amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() < 0 {
		return false, nil
	}

	set, err := s.ResolveRolesFresh(ctx, principalID, projectID)
	if err != nil {
		return false, err
	}
	approved, err := s.canApproveWithRoles(ctx, principalID, projectID, amount, set)
	if err != nil {
		return false, err
	}
	metrics.ObserveApprovalDecision(approved)
	return approved, nil
}

func (s *Service) canApproveWithRoles(ctx context.Context, principalID string, projectID int64, amount *big.Int, set roles.RoleSet) (bool, error) {
	holdsOverride := set.Holds(roles.DAOMultisig)
	holdsApprover := holdsOverride
	for _, r := range append(append([]roles.Role{}, set.SystemRoles...), set.ProjectRoles...) {
		if r.CanApprovePayments() {
			holdsApprover = true
		}
	}
	if !holdsApprover {
		return false, nil
	}

	limit, err := s.ApprovalLimit(ctx, principalID, projectID)
	if err != nil {
		return false, err
	}
	if limit != nil {
		return amount.Cmp(limit) <= 0, nil
	}

	if holdsOverride {
		return true, nil
	}

	matrix, found, err := s.store.GetApprovalMatrix(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("load approval matrix for project %d: %w", projectID, err)
	}
	if found {
		switch {
		case amount.Cmp(matrix.Tier1MaxAmount) <= 0:
			return set.HoldsAny(matrix.Tier1Roles), nil
		case amount.Cmp(matrix.Tier2MaxAmount) <= 0:
			return set.HoldsAny(matrix.Tier2Roles), nil
		case matrix.Tier3RequiresMultisig:
			return false, nil // override already handled above
		default:
			return set.HoldsAny(matrix.Tier2Roles), nil
		}
	}

	switch {
	case amount.Cmp(defaultTier1Max) <= 0:
		return set.HoldsAny(defaultTier1Roles), nil
	case amount.Cmp(defaultTier2Max) <= 0:
		return set.HoldsAny(defaultTier2Roles), nil
	default:
		return false, nil // above the top band only the multisig override clears
	}
}

// HasPermission reports whether any of the principal's roles carries the
// capability. System roles are checked before project roles so broader
// grants win.
func (s *Service) HasPermission(ctx context.Context, principalID string, capability roles.Capability, projectID int64) (bool, error) {
	set, err := s.ResolveRoles(ctx, principalID, projectID)
	if err != nil {
		return false, err
	}
	for _, r := range set.SystemRoles {
		if roles.CapabilitiesOf(r).Has(capability) {
			return true, nil
		}
	}
	for _, r := range set.ProjectRoles {
		if roles.CapabilitiesOf(r).Has(capability) {
			return true, nil
		}
	}
	return false, nil
}

// AssignRoleRequest carries the inputs for AssignRole.
type AssignRoleRequest struct {
	PrincipalID   string
	ProjectID     int64 // 0 = system-wide
	Role          roles.Role
	ApprovalLimit *big.Int
	AssignedBy    string
	Notes         string
}

// AssignRole creates an active assignment. The row and its audit event commit
// atomically; the cache is invalidated only after the commit succeeds.
func (s *Service) AssignRole(ctx context.Context, req AssignRoleRequest) (roles.Assignment, error) {
	req.PrincipalID = strings.TrimSpace(req.PrincipalID)
	if req.PrincipalID == "" {
		return roles.Assignment{}, fmt.Errorf("principal_id is required")
	}
	if !roles.Valid(req.Role) {
		return roles.Assignment{}, fmt.Errorf("unknown role %q", req.Role)
	}
	if req.ApprovalLimit != nil && req.ApprovalLimit.Sign() <= 0 {
		return roles.Assignment{}, fmt.Errorf("approval limit must be positive when set")
	}

	existing, err := s.store.ListActiveAssignments(ctx, req.PrincipalID, req.ProjectID)
	if err != nil {
		return roles.Assignment{}, fmt.Errorf("check existing assignments: %w", err)
	}
	for _, a := range existing {
		if a.Role == req.Role && a.ProjectID == req.ProjectID {
			return roles.Assignment{}, fmt.Errorf("%w: %s %s project %d",
				ErrDuplicateAssignment, req.PrincipalID, req.Role, req.ProjectID)
		}
	}

	assignment := roles.Assignment{
		PrincipalID:   req.PrincipalID,
		ProjectID:     req.ProjectID,
		Role:          req.Role,
		Active:        true,
		ApprovalLimit: req.ApprovalLimit,
		AssignedBy:    req.AssignedBy,
		Notes:         req.Notes,
	}
	event := roles.ChangeEvent{
		PrincipalID: req.PrincipalID,
		ProjectID:   req.ProjectID,
		Role:        req.Role,
		Type:        roles.ChangeAssigned,
		Actor:       req.AssignedBy,
		Notes:       req.Notes,
	}

	created, err := s.store.WriteAssignmentWithEvent(ctx, assignment, event)
	if err != nil {
		return roles.Assignment{}, fmt.Errorf("write assignment: %w", err)
	}

	s.cache.Invalidate(ctx, req.PrincipalID)
	s.log.WithField("principal_id", created.PrincipalID).
		WithField("project_id", created.ProjectID).
		WithField("role", string(created.Role)).
		Info("role assigned")
	return created, nil
}

// RevokeRole logically closes an assignment. The row stays as audit history;
// only Active flips. The mutation and its audit event commit atomically.
func (s *Service) RevokeRole(ctx context.Context, assignmentID, revokedBy, notes string) (roles.Assignment, error) {
	assignment, err := s.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return roles.Assignment{}, err
	}
	if !assignment.Active {
		return roles.Assignment{}, fmt.Errorf("%w: %s", ErrAlreadyRevoked, assignmentID)
	}

	now := time.Now().UTC()
	assignment.Active = false
	assignment.RevokedBy = revokedBy
	assignment.RevokedAt = &now

	event := roles.ChangeEvent{
		PrincipalID: assignment.PrincipalID,
		ProjectID:   assignment.ProjectID,
		Role:        assignment.Role,
		Type:        roles.ChangeRevoked,
		Actor:       revokedBy,
		Notes:       notes,
	}

	updated, err := s.store.WriteAssignmentWithEvent(ctx, assignment, event)
	if err != nil {
		return roles.Assignment{}, fmt.Errorf("write revocation: %w", err)
	}

	s.cache.Invalidate(ctx, assignment.PrincipalID)
	s.log.WithField("principal_id", updated.PrincipalID).
		WithField("project_id", updated.ProjectID).
		WithField("role", string(updated.Role)).
		Info("role revoked")
	return updated, nil
}

// SetApprovalMatrix validates and stores a project's tiered thresholds.
func (s *Service) SetApprovalMatrix(ctx context.Context, m roles.ApprovalMatrix) (roles.ApprovalMatrix, error) {
	if m.ProjectID <= 0 {
		return roles.ApprovalMatrix{}, fmt.Errorf("project_id must be positive")
	}
	if m.Tier1MaxAmount == nil || m.Tier2MaxAmount == nil {
		return roles.ApprovalMatrix{}, fmt.Errorf("tier thresholds are required")
	}
	if m.Tier1MaxAmount.Cmp(m.Tier2MaxAmount) >= 0 {
		return roles.ApprovalMatrix{}, fmt.Errorf("tier1 max %s must be below tier2 max %s",
			m.Tier1MaxAmount, m.Tier2MaxAmount)
	}
	for _, r := range append(append([]roles.Role{}, m.Tier1Roles...), m.Tier2Roles...) {
		if !roles.Valid(r) {
			return roles.ApprovalMatrix{}, fmt.Errorf("unknown role %q", r)
		}
	}
	return s.store.PutApprovalMatrix(ctx, m)
}

// ApprovalMatrix returns the project's stored matrix. found is false when the
// project runs on the system defaults.
func (s *Service) ApprovalMatrix(ctx context.Context, projectID int64) (roles.ApprovalMatrix, bool, error) {
	return s.store.GetApprovalMatrix(ctx, projectID)
}

// ListAssignments returns the principal's active assignments visible to the
// project scope (system-wide rows included).
func (s *Service) ListAssignments(ctx context.Context, principalID string, projectID int64) ([]roles.Assignment, error) {
	return s.store.ListActiveAssignments(ctx, principalID, projectID)
}

// ListChangeEvents exposes the role audit trail for a principal.
func (s *Service) ListChangeEvents(ctx context.Context, principalID string) ([]roles.ChangeEvent, error) {
	return s.store.ListChangeEvents(ctx, principalID)
}
