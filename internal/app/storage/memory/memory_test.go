package memory

import (
	"context"
	"math/big"
	"testing"

	"github.com/liftdao/finance-layer/internal/app/domain/payment"
	"github.com/liftdao/finance-layer/internal/app/domain/roles"
)

func TestPaymentLifecycle(t *testing.T) {
	store := New()

	created, err := store.CreatePaymentWithEvent(context.Background(), payment.Payment{
		ProjectID: 1,
		Type:      payment.TypeUnitPurchase,
		Amount:    big.NewInt(100),
		Status:    payment.StatusPending,
	}, payment.Event{Type: payment.EventInitiated})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("id and timestamps not stamped: %+v", created)
	}

	got, err := store.GetPayment(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("amount not stored: %s", got.Amount)
	}

	// Mutating the returned copy must not leak into the store.
	got.Amount.SetInt64(999)
	again, _ := store.GetPayment(context.Background(), created.ID)
	if again.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("store aliased caller memory: %s", again.Amount)
	}

	got.Amount = big.NewInt(100)
	got.Status = payment.StatusConfirmed
	updated, err := store.UpdatePaymentWithEvent(context.Background(), got, payment.Event{Type: payment.EventConfirmed})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != payment.StatusConfirmed {
		t.Fatalf("status not updated: %s", updated.Status)
	}

	events, err := store.ListPaymentEvents(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	if _, err := store.GetPayment(context.Background(), "missing"); err == nil {
		t.Fatal("missing payment must error")
	}
	if _, err := store.UpdatePaymentWithEvent(context.Background(), payment.Payment{ID: "missing"}, payment.Event{}); err == nil {
		t.Fatal("updating a missing payment must error")
	}
}

func TestListPaymentsScopedToProject(t *testing.T) {
	store := New()
	for _, projectID := range []int64{1, 1, 2} {
		_, err := store.CreatePaymentWithEvent(context.Background(), payment.Payment{
			ProjectID: projectID,
			Amount:    big.NewInt(1),
			Status:    payment.StatusPending,
		}, payment.Event{Type: payment.EventInitiated})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := store.ListPayments(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 payments for project 1, got %d", len(list))
	}
}

func TestEscrowConfigRoundTrip(t *testing.T) {
	store := New()

	if _, err := store.GetEscrowConfig(context.Background(), 1); err == nil {
		t.Fatal("missing config must error")
	}

	cfg, err := store.PutEscrowConfig(context.Background(), payment.EscrowConfig{
		ProjectID:        1,
		ChainID:          137,
		AllocationEscrow: "0x4444444444444444444444444444444444444444",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if cfg.UpdatedAt.IsZero() {
		t.Fatal("updated_at not stamped")
	}

	got, err := store.GetEscrowConfig(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ChainID != 137 {
		t.Fatalf("config not stored: %+v", got)
	}
}

func TestActiveAssignmentsIncludeSystemWide(t *testing.T) {
	store := New()

	write := func(projectID int64, role roles.Role, active bool) {
		a, err := store.WriteAssignmentWithEvent(context.Background(), roles.Assignment{
			PrincipalID: "alice",
			ProjectID:   projectID,
			Role:        role,
			Active:      true,
		}, roles.ChangeEvent{PrincipalID: "alice", Type: roles.ChangeAssigned})
		if err != nil {
			t.Fatalf("write assignment: %v", err)
		}
		if !active {
			a.Active = false
			if _, err := store.WriteAssignmentWithEvent(context.Background(), a, roles.ChangeEvent{PrincipalID: "alice", Type: roles.ChangeRevoked}); err != nil {
				t.Fatalf("revoke assignment: %v", err)
			}
		}
	}

	write(0, roles.PlatformAdmin, true) // system-wide
	write(5, roles.Treasurer, true)     // matching project
	write(6, roles.Steward, true)       // other project
	write(5, roles.Auditor, false)      // revoked

	list, err := store.ListActiveAssignments(context.Background(), "alice", 5)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected system-wide plus project rows, got %d: %+v", len(list), list)
	}

	events, err := store.ListChangeEvents(context.Background(), "alice")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 audit events, got %d", len(events))
	}
}

func TestApprovalMatrixClone(t *testing.T) {
	store := New()

	m := roles.ApprovalMatrix{
		ProjectID:      3,
		Tier1MaxAmount: big.NewInt(100),
		Tier1Roles:     []roles.Role{roles.ProjectManager},
		Tier2MaxAmount: big.NewInt(200),
		Tier2Roles:     []roles.Role{roles.Treasurer},
	}
	if _, err := store.PutApprovalMatrix(context.Background(), m); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Caller mutations after the write must not reach the store.
	m.Tier1MaxAmount.SetInt64(999)
	m.Tier1Roles[0] = roles.Steward

	got, found, err := store.GetApprovalMatrix(context.Background(), 3)
	if err != nil || !found {
		t.Fatalf("get: %v found=%v", err, found)
	}
	if got.Tier1MaxAmount.Cmp(big.NewInt(100)) != 0 || got.Tier1Roles[0] != roles.ProjectManager {
		t.Fatalf("store aliased caller memory: %+v", got)
	}

	if _, found, _ := store.GetApprovalMatrix(context.Background(), 99); found {
		t.Fatal("missing matrix must report found=false")
	}
}

func TestActiveAssignmentUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()
	row := roles.Assignment{PrincipalID: "alice", ProjectID: 5, Role: roles.Treasurer, Active: true}
	ev := roles.ChangeEvent{PrincipalID: "alice", Type: roles.ChangeAssigned}

	first, err := store.WriteAssignmentWithEvent(ctx, row, ev)
	if err != nil {
		t.Fatalf("write assignment: %v", err)
	}

	// The store itself rejects a second active row for the same
	// (principal, project, role), closing the race past the caller's check.
	if _, err := store.WriteAssignmentWithEvent(ctx, row, ev); err == nil {
		t.Fatal("duplicate active assignment must be rejected by the store")
	}

	// Same role on another project, and re-granting after revocation, are fine.
	other := row
	other.ProjectID = 6
	if _, err := store.WriteAssignmentWithEvent(ctx, other, ev); err != nil {
		t.Fatalf("distinct project must be allowed: %v", err)
	}

	first.Active = false
	if _, err := store.WriteAssignmentWithEvent(ctx, first, roles.ChangeEvent{PrincipalID: "alice", Type: roles.ChangeRevoked}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.WriteAssignmentWithEvent(ctx, row, ev); err != nil {
		t.Fatalf("re-grant after revocation must be allowed: %v", err)
	}
}
