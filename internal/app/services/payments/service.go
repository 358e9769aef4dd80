// Package payments owns the payment settlement state machine: it validates
// requests, persists transitions with their audit events, and drives the
// escrow gateway.
package payments

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/liftdao/finance-layer/internal/app/domain/payment"
	"github.com/liftdao/finance-layer/internal/app/metrics"
	"github.com/liftdao/finance-layer/internal/app/storage"
	"github.com/liftdao/finance-layer/internal/escrow"
	"github.com/liftdao/finance-layer/pkg/logger"
)

var (
	// ErrInvalidStatus is returned when a payment is not in the state the
	// requested operation requires.
	ErrInvalidStatus = errors.New("payment status does not permit operation")

	// ErrProceedsAlreadyNotified guards NotifyProceeds idempotency.
	ErrProceedsAlreadyNotified = errors.New("proceeds already notified")

	// ErrEscrowNotConfigured is returned when the project has no escrow
	// address on file for the requested operation.
	ErrEscrowNotConfigured = errors.New("escrow not configured for project")
)

// DefaultSupportedChains is the chain-id allow-list applied when the service
// is constructed without an explicit set.
var DefaultSupportedChains = []int64{1, 10, 137, 8453, 11155111}

// Service is the payment lifecycle manager.
type Service struct {
	store   storage.PaymentStore
	gateway escrow.Gateway
	chains  map[int64]bool
	locks   *keyedMutex
	log     *logger.Logger
}

// New constructs the lifecycle manager. A nil or empty chain list defaults to
// DefaultSupportedChains.
func New(store storage.PaymentStore, gateway escrow.Gateway, supportedChains []int64, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if len(supportedChains) == 0 {
		supportedChains = DefaultSupportedChains
	}
	chains := make(map[int64]bool, len(supportedChains))
	for _, id := range supportedChains {
		chains[id] = true
	}
	return &Service{store: store, gateway: gateway, chains: chains, locks: newKeyedMutex(), log: log}
}

// InitializeRequest carries the inputs for Initialize.
type InitializeRequest struct {
	ProjectID        int64
	Type             payment.Type
	Amount           *big.Int
	TokenAddress     string
	ChainID          int64
	PayerAddress     string
	RecipientAddress string
	Description      string
	Metadata         map[string]string
	Actor            string
}

func (s *Service) validate(req InitializeRequest) error {
	if req.ProjectID <= 0 {
		return fmt.Errorf("project_id must be positive")
	}
	if !payment.ValidType(req.Type) {
		return fmt.Errorf("unknown payment type %q", req.Type)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if !payment.ValidAddress(req.TokenAddress) {
		return fmt.Errorf("malformed token address %q", req.TokenAddress)
	}
	if !payment.ValidAddress(req.PayerAddress) {
		return fmt.Errorf("malformed payer address %q", req.PayerAddress)
	}
	if !payment.ValidAddress(req.RecipientAddress) {
		return fmt.Errorf("malformed recipient address %q", req.RecipientAddress)
	}
	if !s.chains[req.ChainID] {
		return fmt.Errorf("unsupported chain id %d", req.ChainID)
	}
	return nil
}

// Initialize validates the request and persists a PENDING payment together
// with its PAYMENT_INITIATED event in one transaction. Validation failure
// never persists a row.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (payment.Payment, error) {
	if err := s.validate(req); err != nil {
		return payment.Payment{}, err
	}

	ref, err := NewConsiderationRef()
	if err != nil {
		return payment.Payment{}, err
	}

	p := payment.Payment{
		ProjectID:        req.ProjectID,
		Type:             req.Type,
		Amount:           req.Amount,
		TokenAddress:     req.TokenAddress,
		ChainID:          req.ChainID,
		PayerAddress:     req.PayerAddress,
		RecipientAddress: req.RecipientAddress,
		Status:           payment.StatusPending,
		ConsiderationRef: ref,
		Description:      req.Description,
		Metadata:         req.Metadata,
	}
	ev := payment.Event{
		Type:  payment.EventInitiated,
		Actor: req.Actor,
		Metadata: map[string]string{
			"amount":   req.Amount.String(),
			"chain_id": fmt.Sprintf("%d", req.ChainID),
		},
	}

	created, err := s.store.CreatePaymentWithEvent(ctx, p, ev)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("create payment: %w", err)
	}

	metrics.ObservePaymentTransition("", string(payment.StatusPending))
	s.log.WithField("payment_id", created.ID).
		WithField("project_id", created.ProjectID).
		WithField("type", string(created.Type)).
		Info("payment initialized")
	return created, nil
}

// ExecuteUnitPurchase settles a PENDING unit-purchase payment through the
// allocation escrow. On any failure the payment is moved to FAILED
// best-effort and the original error propagates.
func (s *Service) ExecuteUnitPurchase(ctx context.Context, paymentID string, tokenIDs []string, tokenAmounts []*big.Int, considerationRef, actor string) (payment.Payment, error) {
	unlock := s.locks.lock(paymentID)
	defer unlock()

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Status != payment.StatusPending {
		return payment.Payment{}, fmt.Errorf("%w: payment %s is %s, want %s",
			ErrInvalidStatus, paymentID, p.Status, payment.StatusPending)
	}
	if len(tokenIDs) == 0 || len(tokenIDs) != len(tokenAmounts) {
		return payment.Payment{}, fmt.Errorf("token ids and amounts must be non-empty and equal length")
	}

	cfg, err := s.store.GetEscrowConfig(ctx, p.ProjectID)
	if err != nil || strings.TrimSpace(cfg.AllocationEscrow) == "" {
		return payment.Payment{}, fmt.Errorf("%w: project %d has no allocation escrow", ErrEscrowNotConfigured, p.ProjectID)
	}

	ref := considerationRef
	if ref == "" {
		ref = p.ConsiderationRef
	}

	active, err := s.gateway.IsMarketWindowActive(ctx, p.ProjectID)
	if err != nil {
		return payment.Payment{}, s.fail(ctx, p, actor, fmt.Errorf("execute purchase %s: market window check: %w", paymentID, err))
	}
	if !active {
		return payment.Payment{}, s.fail(ctx, p, actor, fmt.Errorf("execute purchase %s: %w", paymentID, escrow.ErrWindowInactive))
	}

	txHash, err := s.gateway.SellToBeneficiary(ctx, p.ProjectID, p.RecipientAddress, tokenIDs, tokenAmounts, ref, p.Amount)
	if err != nil {
		return payment.Payment{}, s.fail(ctx, p, actor, fmt.Errorf("execute purchase %s: %w", paymentID, err))
	}

	from := p.Status
	p.Status = payment.StatusConfirmed
	p.TxHash = txHash
	p.ConsiderationRef = ref
	ev := payment.Event{
		Type:     payment.EventConfirmed,
		Actor:    actor,
		TxHash:   txHash,
		Metadata: map[string]string{"consideration_ref": ref},
	}
	updated, err := s.store.UpdatePaymentWithEvent(ctx, p, ev)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("execute purchase %s: persist confirmation: %w", paymentID, err)
	}

	metrics.ObservePaymentTransition(string(from), string(payment.StatusConfirmed))
	s.log.WithField("payment_id", p.ID).
		WithField("tx_hash", txHash).
		Info("unit purchase confirmed")
	return updated, nil
}

// NotifyProceeds reports the settled proceeds to the repayment escrow. The
// ProceedsNotified flag makes the call idempotent: a second invocation is
// rejected before any on-chain call.
func (s *Service) NotifyProceeds(ctx context.Context, paymentID, considerationRef, actor string) (payment.Payment, error) {
	unlock := s.locks.lock(paymentID)
	defer unlock()

	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.ProceedsNotified {
		return payment.Payment{}, fmt.Errorf("%w: payment %s", ErrProceedsAlreadyNotified, paymentID)
	}
	if !p.Status.CanTransitionTo(payment.StatusInEscrow) {
		return payment.Payment{}, fmt.Errorf("%w: payment %s is %s", ErrInvalidStatus, paymentID, p.Status)
	}

	cfg, err := s.store.GetEscrowConfig(ctx, p.ProjectID)
	if err != nil || strings.TrimSpace(cfg.RepaymentEscrow) == "" {
		return payment.Payment{}, fmt.Errorf("%w: project %d has no repayment escrow", ErrEscrowNotConfigured, p.ProjectID)
	}

	ref := considerationRef
	if ref == "" {
		ref = p.ConsiderationRef
	}

	txHash, err := s.gateway.NotifyProceeds(ctx, p.ProjectID, p.Amount, ref)
	if err != nil {
		return payment.Payment{}, s.fail(ctx, p, actor, fmt.Errorf("notify proceeds %s: %w", paymentID, err))
	}

	from := p.Status
	p.Status = payment.StatusInEscrow
	p.ProceedsNotified = true
	p.TxHash = txHash
	ev := payment.Event{
		Type:     payment.EventProceedsNotified,
		Actor:    actor,
		TxHash:   txHash,
		Metadata: map[string]string{"consideration_ref": ref},
	}
	updated, err := s.store.UpdatePaymentWithEvent(ctx, p, ev)
	if err != nil {
		return payment.Payment{}, fmt.Errorf("notify proceeds %s: persist transition: %w", paymentID, err)
	}

	metrics.ObservePaymentTransition(string(from), string(payment.StatusInEscrow))
	s.log.WithField("payment_id", p.ID).
		WithField("tx_hash", txHash).
		Info("proceeds notified")
	return updated, nil
}

// ConfigureProjectEscrow wires the repayment parameters into the on-chain
// repayment escrow. The project must already have a repayment escrow address
// on file.
func (s *Service) ConfigureProjectEscrow(ctx context.Context, projectID int64, params payment.RepaymentParams, chainID int64, actor string) (string, error) {
	if !s.chains[chainID] {
		return "", fmt.Errorf("unsupported chain id %d", chainID)
	}
	cfg, err := s.store.GetEscrowConfig(ctx, projectID)
	if err != nil || strings.TrimSpace(cfg.RepaymentEscrow) == "" {
		return "", fmt.Errorf("%w: project %d has no repayment escrow", ErrEscrowNotConfigured, projectID)
	}

	txHash, err := s.gateway.ConfigureRepayment(ctx, projectID, escrow.RepaymentConfig{
		ForwardPrincipal: params.ForwardPrincipal,
		RepaymentCap:     params.RepaymentCap,
		BaseFeeBps:       params.BaseFeeBps,
		VariableFeeBps:   params.VariableFeeBps,
		Policy:           params.Policy,
	})
	if err != nil {
		return "", fmt.Errorf("configure escrow for project %d: %w", projectID, err)
	}

	s.log.WithField("project_id", projectID).
		WithField("tx_hash", txHash).
		WithField("actor", actor).
		Info("repayment escrow configured")
	return txHash, nil
}

// RegisterEscrowAddresses records the project's escrow contract addresses.
func (s *Service) RegisterEscrowAddresses(ctx context.Context, cfg payment.EscrowConfig) (payment.EscrowConfig, error) {
	if cfg.ProjectID <= 0 {
		return payment.EscrowConfig{}, fmt.Errorf("project_id must be positive")
	}
	if cfg.AllocationEscrow != "" && !payment.ValidAddress(cfg.AllocationEscrow) {
		return payment.EscrowConfig{}, fmt.Errorf("malformed allocation escrow address %q", cfg.AllocationEscrow)
	}
	if cfg.RepaymentEscrow != "" && !payment.ValidAddress(cfg.RepaymentEscrow) {
		return payment.EscrowConfig{}, fmt.Errorf("malformed repayment escrow address %q", cfg.RepaymentEscrow)
	}
	return s.store.PutEscrowConfig(ctx, cfg)
}

// Get returns a payment by id.
func (s *Service) Get(ctx context.Context, id string) (payment.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// List returns a project's payments.
func (s *Service) List(ctx context.Context, projectID int64) ([]payment.Payment, error) {
	return s.store.ListPayments(ctx, projectID)
}

// Events returns a payment's transition history.
func (s *Service) Events(ctx context.Context, paymentID string) ([]payment.Event, error) {
	return s.store.ListPaymentEvents(ctx, paymentID)
}

// EscrowConfig returns the project's registered escrow addresses.
func (s *Service) EscrowConfig(ctx context.Context, projectID int64) (payment.EscrowConfig, error) {
	return s.store.GetEscrowConfig(ctx, projectID)
}

// RepaymentStatus reads the repayment escrow view state for a project.
func (s *Service) RepaymentStatus(ctx context.Context, projectID int64) (escrow.RepaymentStatus, error) {
	return s.gateway.GetRepaymentStatus(ctx, projectID)
}

// fail moves the payment to FAILED best-effort. A failure to persist the
// transition is swallowed so the original error is what the caller sees; the
// lost write is logged and counted for reconciliation.
func (s *Service) fail(ctx context.Context, p payment.Payment, actor string, cause error) error {
	from := p.Status
	p.Status = payment.StatusFailed
	ev := payment.Event{
		Type:     payment.EventFailed,
		Actor:    actor,
		Metadata: map[string]string{"error": cause.Error()},
	}
	if _, err := s.store.UpdatePaymentWithEvent(ctx, p, ev); err != nil {
		metrics.ObserveReconciliationNeeded()
		s.log.WithError(err).
			WithField("payment_id", p.ID).
			Warn("failed-state write lost; payment needs reconciliation")
		return cause
	}
	metrics.ObservePaymentTransition(string(from), string(payment.StatusFailed))
	return cause
}
