package payments

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/liftdao/finance-layer/internal/app/domain/payment"
	"github.com/liftdao/finance-layer/internal/app/storage/memory"
	"github.com/liftdao/finance-layer/internal/escrow"
)

const (
	payerAddr     = "0x1111111111111111111111111111111111111111"
	recipientAddr = "0x2222222222222222222222222222222222222222"
	tokenAddr     = "0x3333333333333333333333333333333333333333"
	escrowAddr    = "0x4444444444444444444444444444444444444444"
)

func validRequest() InitializeRequest {
	return InitializeRequest{
		ProjectID:        1,
		Type:             payment.TypeUnitPurchase,
		Amount:           big.NewInt(5_000_000),
		TokenAddress:     tokenAddr,
		ChainID:          1,
		PayerAddress:     payerAddr,
		RecipientAddress: recipientAddr,
		Actor:            "alice",
	}
}

func seedEscrow(t *testing.T, store *memory.Store) {
	t.Helper()
	_, err := store.PutEscrowConfig(context.Background(), payment.EscrowConfig{
		ProjectID:        1,
		ChainID:          1,
		AllocationEscrow: escrowAddr,
		RepaymentEscrow:  escrowAddr,
	})
	if err != nil {
		t.Fatalf("seed escrow config: %v", err)
	}
}

func TestInitializeRejectsInvalidRequests(t *testing.T) {
	store := memory.New()
	svc := New(store, escrow.NewMock(), nil, nil)

	cases := []struct {
		name   string
		mutate func(*InitializeRequest)
	}{
		{"zero amount", func(r *InitializeRequest) { r.Amount = big.NewInt(0) }},
		{"negative amount", func(r *InitializeRequest) { r.Amount = big.NewInt(-5) }},
		{"nil amount", func(r *InitializeRequest) { r.Amount = nil }},
		{"bad payer", func(r *InitializeRequest) { r.PayerAddress = "0x123" }},
		{"bad token", func(r *InitializeRequest) { r.TokenAddress = "not-an-address" }},
		{"unknown type", func(r *InitializeRequest) { r.Type = "GIFT" }},
		{"unsupported chain", func(r *InitializeRequest) { r.ChainID = 999999 }},
		{"zero project", func(r *InitializeRequest) { r.ProjectID = 0 }},
	}
	for _, tc := range cases {
		req := validRequest()
		tc.mutate(&req)
		if _, err := svc.Initialize(context.Background(), req); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	list, err := svc.List(context.Background(), 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected requests must not persist rows, got %d", len(list))
	}
}

func TestInitializeCreatesPendingWithEvent(t *testing.T) {
	store := memory.New()
	svc := New(store, escrow.NewMock(), nil, nil)

	created, err := svc.Initialize(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if created.Status != payment.StatusPending {
		t.Fatalf("unexpected status: %s", created.Status)
	}
	if len(created.ConsiderationRef) != 64 {
		t.Fatalf("consideration ref should be 64 hex chars, got %q", created.ConsiderationRef)
	}

	events, err := svc.Events(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Type != payment.EventInitiated {
		t.Fatalf("expected a single PAYMENT_INITIATED event, got %+v", events)
	}
	if events[0].Actor != "alice" {
		t.Fatalf("actor not recorded: %q", events[0].Actor)
	}
}

func TestExecuteRequiresEscrowConfig(t *testing.T) {
	store := memory.New()
	gw := escrow.NewMock()
	svc := New(store, gw, nil, nil)

	created, err := svc.Initialize(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err = svc.ExecuteUnitPurchase(context.Background(), created.ID, []string{"t1"}, []*big.Int{big.NewInt(1)}, "", "alice")
	if !errors.Is(err, ErrEscrowNotConfigured) {
		t.Fatalf("expected ErrEscrowNotConfigured, got %v", err)
	}

	// Precondition failures must not touch the chain or the state machine.
	if got, _ := svc.Get(context.Background(), created.ID); got.Status != payment.StatusPending {
		t.Fatalf("payment should remain PENDING, got %s", got.Status)
	}
	if n := gw.CallCount("sellToBeneficiary"); n != 0 {
		t.Fatalf("gateway should not be called, got %d calls", n)
	}
}

func TestExecuteHappyPath(t *testing.T) {
	store := memory.New()
	gw := escrow.NewMock()
	svc := New(store, gw, nil, nil)
	seedEscrow(t, store)

	created, err := svc.Initialize(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	updated, err := svc.ExecuteUnitPurchase(context.Background(), created.ID, []string{"t1", "t2"}, []*big.Int{big.NewInt(2), big.NewInt(3)}, "", "alice")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if updated.Status != payment.StatusConfirmed {
		t.Fatalf("unexpected status: %s", updated.Status)
	}
	if !strings.HasPrefix(updated.TxHash, "0xmock") {
		t.Fatalf("tx hash not recorded: %q", updated.TxHash)
	}
	if updated.ConsiderationRef != created.ConsiderationRef {
		t.Fatalf("consideration ref changed: %q vs %q", updated.ConsiderationRef, created.ConsiderationRef)
	}

	events, err := svc.Events(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 || events[1].Type != payment.EventConfirmed {
		t.Fatalf("expected PAYMENT_CONFIRMED event, got %+v", events)
	}

	// A confirmed payment cannot be executed again.
	_, err = svc.ExecuteUnitPurchase(context.Background(), created.ID, []string{"t1"}, []*big.Int{big.NewInt(1)}, "", "alice")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus on re-execute, got %v", err)
	}
}

func TestExecuteWindowInactiveFailsPayment(t *testing.T) {
	store := memory.New()
	gw := escrow.NewMock()
	gw.WindowActive = false
	svc := New(store, gw, nil, nil)
	seedEscrow(t, store)

	created, err := svc.Initialize(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	_, err = svc.ExecuteUnitPurchase(context.Background(), created.ID, []string{"t1"}, []*big.Int{big.NewInt(1)}, "", "alice")
	if !errors.Is(err, escrow.ErrWindowInactive) {
		t.Fatalf("expected ErrWindowInactive, got %v", err)
	}

	got, err := svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != payment.StatusFailed {
		t.Fatalf("payment should be FAILED, got %s", got.Status)
	}

	events, _ := svc.Events(context.Background(), created.ID)
	if len(events) != 2 || events[1].Type != payment.EventFailed {
		t.Fatalf("expected PAYMENT_FAILED event, got %+v", events)
	}
}

func TestNotifyProceedsIdempotent(t *testing.T) {
	store := memory.New()
	gw := escrow.NewMock()
	svc := New(store, gw, nil, nil)
	seedEscrow(t, store)

	created, err := svc.Initialize(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.ExecuteUnitPurchase(context.Background(), created.ID, []string{"t1"}, []*big.Int{big.NewInt(1)}, "", "alice"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	updated, err := svc.NotifyProceeds(context.Background(), created.ID, "", "alice")
	if err != nil {
		t.Fatalf("notify proceeds: %v", err)
	}
	if updated.Status != payment.StatusInEscrow || !updated.ProceedsNotified {
		t.Fatalf("unexpected state after notify: %s notified=%v", updated.Status, updated.ProceedsNotified)
	}

	_, err = svc.NotifyProceeds(context.Background(), created.ID, "", "alice")
	if !errors.Is(err, ErrProceedsAlreadyNotified) {
		t.Fatalf("expected ErrProceedsAlreadyNotified, got %v", err)
	}
	if n := gw.CallCount("notifyProceeds"); n != 1 {
		t.Fatalf("repeat notification must not reach the chain, got %d calls", n)
	}
}

func TestNotifyProceedsGatewayFailure(t *testing.T) {
	store := memory.New()
	gw := escrow.NewMock()
	svc := New(store, gw, nil, nil)
	seedEscrow(t, store)

	created, err := svc.Initialize(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := svc.ExecuteUnitPurchase(context.Background(), created.ID, []string{"t1"}, []*big.Int{big.NewInt(1)}, "", "alice"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	cause := errors.New("relay unreachable")
	gw.FailNext = cause
	_, err = svc.NotifyProceeds(context.Background(), created.ID, "", "alice")
	if !errors.Is(err, cause) {
		t.Fatalf("original cause must propagate, got %v", err)
	}

	got, _ := svc.Get(context.Background(), created.ID)
	if got.Status != payment.StatusFailed {
		t.Fatalf("payment should be FAILED after gateway error, got %s", got.Status)
	}
}

func TestConcurrentExecuteSettlesOnce(t *testing.T) {
	store := memory.New()
	gw := escrow.NewMock()
	svc := New(store, gw, nil, nil)
	seedEscrow(t, store)

	created, err := svc.Initialize(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ExecuteUnitPurchase(context.Background(), created.ID, []string{"t1"}, []*big.Int{big.NewInt(1)}, "", "alice")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one execution must win, got %d", succeeded)
	}
	if n := gw.CallCount("sellToBeneficiary"); n != 1 {
		t.Fatalf("sale must reach the chain exactly once, got %d", n)
	}
}

func TestConfigureProjectEscrow(t *testing.T) {
	store := memory.New()
	gw := escrow.NewMock()
	svc := New(store, gw, nil, nil)

	params := payment.RepaymentParams{
		ForwardPrincipal: payerAddr,
		RepaymentCap:     big.NewInt(1_000_000),
		BaseFeeBps:       50,
		VariableFeeBps:   25,
		Policy:           "waterfall",
	}

	if _, err := svc.ConfigureProjectEscrow(context.Background(), 1, params, 999999, "ops"); err == nil {
		t.Fatal("unsupported chain must be rejected")
	}

	_, err := svc.ConfigureProjectEscrow(context.Background(), 1, params, 1, "ops")
	if !errors.Is(err, ErrEscrowNotConfigured) {
		t.Fatalf("expected ErrEscrowNotConfigured, got %v", err)
	}

	seedEscrow(t, store)
	txHash, err := svc.ConfigureProjectEscrow(context.Background(), 1, params, 1, "ops")
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if txHash == "" {
		t.Fatal("expected a transaction hash")
	}
	if n := gw.CallCount("configureRepayment"); n != 1 {
		t.Fatalf("expected one configureRepayment call, got %d", n)
	}
}

func TestRegisterEscrowAddressesValidation(t *testing.T) {
	store := memory.New()
	svc := New(store, escrow.NewMock(), nil, nil)

	if _, err := svc.RegisterEscrowAddresses(context.Background(), payment.EscrowConfig{ProjectID: 0}); err == nil {
		t.Fatal("zero project id must be rejected")
	}
	if _, err := svc.RegisterEscrowAddresses(context.Background(), payment.EscrowConfig{ProjectID: 1, AllocationEscrow: "bogus"}); err == nil {
		t.Fatal("malformed allocation escrow must be rejected")
	}

	cfg, err := svc.RegisterEscrowAddresses(context.Background(), payment.EscrowConfig{
		ProjectID:        1,
		ChainID:          1,
		AllocationEscrow: escrowAddr,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if cfg.AllocationEscrow != escrowAddr {
		t.Fatalf("config not stored: %+v", cfg)
	}
}

func TestNewConsiderationRefUnique(t *testing.T) {
	a, err := NewConsiderationRef()
	if err != nil {
		t.Fatalf("ref: %v", err)
	}
	b, err := NewConsiderationRef()
	if err != nil {
		t.Fatalf("ref: %v", err)
	}
	if a == b {
		t.Fatal("consideration refs must be unique")
	}
	if len(a) != 64 {
		t.Fatalf("ref should be 64 hex chars, got %d", len(a))
	}
}
