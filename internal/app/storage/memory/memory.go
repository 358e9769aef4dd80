// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/liftdao/finance-layer/internal/app/domain/ledger"
	"github.com/liftdao/finance-layer/internal/app/domain/payment"
	"github.com/liftdao/finance-layer/internal/app/domain/roles"
	"github.com/liftdao/finance-layer/internal/app/storage"
)

// Store holds every entity in maps guarded by a single RWMutex.
type Store struct {
	mu     sync.RWMutex
	nextID int64

	payments      map[string]payment.Payment
	paymentEvents map[string][]payment.Event
	escrowConfigs map[int64]payment.EscrowConfig

	assignments map[string]roles.Assignment
	roleEvents  map[string][]roles.ChangeEvent
	matrices    map[int64]roles.ApprovalMatrix

	deposits      map[int64][]ledger.Deposit
	buckets       map[int64]ledger.FundingBucket
	contracts     map[int64][]ledger.FinanceContract
	invoices      map[int64][]ledger.Invoice
	disbursements map[int64][]ledger.Disbursement
	liftTokens    map[int64][]ledger.LiftToken
}

var _ storage.PaymentStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		payments:      make(map[string]payment.Payment),
		paymentEvents: make(map[string][]payment.Event),
		escrowConfigs: make(map[int64]payment.EscrowConfig),
		assignments:   make(map[string]roles.Assignment),
		roleEvents:    make(map[string][]roles.ChangeEvent),
		matrices:      make(map[int64]roles.ApprovalMatrix),
		deposits:      make(map[int64][]ledger.Deposit),
		buckets:       make(map[int64]ledger.FundingBucket),
		contracts:     make(map[int64][]ledger.FinanceContract),
		invoices:      make(map[int64][]ledger.Invoice),
		disbursements: make(map[int64][]ledger.Disbursement),
		liftTokens:    make(map[int64][]ledger.LiftToken),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// PaymentStore implementation ------------------------------------------------

func (s *Store) CreatePaymentWithEvent(_ context.Context, p payment.Payment, ev payment.Event) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = s.nextIDLocked()
	} else if _, exists := s.payments[p.ID]; exists {
		return payment.Payment{}, fmt.Errorf("payment %s already exists", p.ID)
	}

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Amount = cloneInt(p.Amount)
	p.Metadata = cloneMap(p.Metadata)

	ev.ID = s.nextIDLocked()
	ev.PaymentID = p.ID
	ev.CreatedAt = now
	ev.Metadata = cloneMap(ev.Metadata)

	s.payments[p.ID] = p
	s.paymentEvents[p.ID] = append(s.paymentEvents[p.ID], ev)
	return clonePayment(p), nil
}

func (s *Store) UpdatePaymentWithEvent(_ context.Context, p payment.Payment, ev payment.Event) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %s not found", p.ID)
	}

	now := time.Now().UTC()
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = now
	p.Amount = cloneInt(p.Amount)
	p.Metadata = cloneMap(p.Metadata)

	ev.ID = s.nextIDLocked()
	ev.PaymentID = p.ID
	ev.CreatedAt = now
	ev.Metadata = cloneMap(ev.Metadata)

	s.payments[p.ID] = p
	s.paymentEvents[p.ID] = append(s.paymentEvents[p.ID], ev)
	return clonePayment(p), nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, fmt.Errorf("payment %s not found", id)
	}
	return clonePayment(p), nil
}

func (s *Store) ListPayments(_ context.Context, projectID int64) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payment.Payment
	for _, p := range s.payments {
		if p.ProjectID == projectID {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListPaymentEvents(_ context.Context, paymentID string) ([]payment.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.paymentEvents[paymentID]
	out := make([]payment.Event, len(events))
	for i, ev := range events {
		ev.Metadata = cloneMap(ev.Metadata)
		out[i] = ev
	}
	return out, nil
}

func (s *Store) GetEscrowConfig(_ context.Context, projectID int64) (payment.EscrowConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.escrowConfigs[projectID]
	if !ok {
		return payment.EscrowConfig{}, fmt.Errorf("escrow config for project %d not found", projectID)
	}
	return cfg, nil
}

func (s *Store) PutEscrowConfig(_ context.Context, cfg payment.EscrowConfig) (payment.EscrowConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg.UpdatedAt = time.Now().UTC()
	s.escrowConfigs[cfg.ProjectID] = cfg
	return cfg, nil
}

// RoleStore implementation ---------------------------------------------------

func (s *Store) WriteAssignmentWithEvent(_ context.Context, a roles.Assignment, ev roles.ChangeEvent) (roles.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if a.ID == "" {
		// Mirrors the partial unique index on active rows in postgres; the
		// service-level duplicate check races outside this critical section.
		if a.Active {
			for _, have := range s.assignments {
				if have.Active && have.PrincipalID == a.PrincipalID &&
					have.ProjectID == a.ProjectID && have.Role == a.Role {
					return roles.Assignment{}, fmt.Errorf("active assignment %s %s project %d already exists",
						a.PrincipalID, a.Role, a.ProjectID)
				}
			}
		}
		a.ID = s.nextIDLocked()
		a.AssignedAt = now
	} else if _, exists := s.assignments[a.ID]; !exists {
		return roles.Assignment{}, fmt.Errorf("assignment %s not found", a.ID)
	}
	a.ApprovalLimit = cloneInt(a.ApprovalLimit)

	ev.ID = s.nextIDLocked()
	ev.AssignmentID = a.ID
	ev.CreatedAt = now

	s.assignments[a.ID] = a
	s.roleEvents[a.PrincipalID] = append(s.roleEvents[a.PrincipalID], ev)
	return cloneAssignment(a), nil
}

func (s *Store) GetAssignment(_ context.Context, id string) (roles.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return roles.Assignment{}, fmt.Errorf("assignment %s not found", id)
	}
	return cloneAssignment(a), nil
}

// ListActiveAssignments returns active rows for the principal scoped to the
// project (ProjectID == 0 rows are system-wide and always included).
func (s *Store) ListActiveAssignments(_ context.Context, principalID string, projectID int64) ([]roles.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []roles.Assignment
	for _, a := range s.assignments {
		if a.PrincipalID != principalID || !a.Active {
			continue
		}
		if a.ProjectID != 0 && a.ProjectID != projectID {
			continue
		}
		out = append(out, cloneAssignment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListChangeEvents(_ context.Context, principalID string) ([]roles.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.roleEvents[principalID]
	out := make([]roles.ChangeEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) GetApprovalMatrix(_ context.Context, projectID int64) (roles.ApprovalMatrix, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matrices[projectID]
	if !ok {
		return roles.ApprovalMatrix{}, false, nil
	}
	return cloneMatrix(m), true, nil
}

func (s *Store) PutApprovalMatrix(_ context.Context, m roles.ApprovalMatrix) (roles.ApprovalMatrix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.UpdatedAt = time.Now().UTC()
	s.matrices[m.ProjectID] = cloneMatrix(m)
	return cloneMatrix(m), nil
}

// LedgerStore implementation -------------------------------------------------

func (s *Store) ListDeposits(_ context.Context, projectID int64) ([]ledger.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Deposit, len(s.deposits[projectID]))
	copy(out, s.deposits[projectID])
	return out, nil
}

func (s *Store) GetFundingBucket(_ context.Context, projectID int64) (ledger.FundingBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[projectID]
	if !ok {
		// Same sentinel the postgres store surfaces for a missing row.
		return ledger.FundingBucket{}, fmt.Errorf("funding bucket for project %d: %w", projectID, sql.ErrNoRows)
	}
	return b, nil
}

func (s *Store) ListContracts(_ context.Context, projectID int64) ([]ledger.FinanceContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.FinanceContract, len(s.contracts[projectID]))
	copy(out, s.contracts[projectID])
	return out, nil
}

func (s *Store) ListInvoices(_ context.Context, projectID int64) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Invoice, len(s.invoices[projectID]))
	copy(out, s.invoices[projectID])
	return out, nil
}

func (s *Store) ListInvoicesByContract(_ context.Context, contractID string) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Invoice
	for _, list := range s.invoices {
		for _, inv := range list {
			if inv.ContractID == contractID {
				out = append(out, inv)
			}
		}
	}
	return out, nil
}

func (s *Store) ListDisbursements(_ context.Context, projectID int64) ([]ledger.Disbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Disbursement, len(s.disbursements[projectID]))
	copy(out, s.disbursements[projectID])
	return out, nil
}

func (s *Store) ListDisbursementsByInvoice(_ context.Context, invoiceID string) ([]ledger.Disbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Disbursement
	for _, list := range s.disbursements {
		for _, d := range list {
			if d.InvoiceID == invoiceID {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (s *Store) ListLiftTokens(_ context.Context, projectID int64) ([]ledger.LiftToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.LiftToken, len(s.liftTokens[projectID]))
	copy(out, s.liftTokens[projectID])
	return out, nil
}

// Seeding helpers ------------------------------------------------------------
// The ledger entities are owned by upstream workflow services; these helpers
// exist so tests and local fixtures can populate them.

func (s *Store) SeedDeposit(d ledger.Deposit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = s.nextIDLocked()
	}
	s.deposits[d.ProjectID] = append(s.deposits[d.ProjectID], d)
}

func (s *Store) SeedFundingBucket(b ledger.FundingBucket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = s.nextIDLocked()
	}
	s.buckets[b.ProjectID] = b
}

func (s *Store) SeedContract(c ledger.FinanceContract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = s.nextIDLocked()
	}
	s.contracts[c.ProjectID] = append(s.contracts[c.ProjectID], c)
}

func (s *Store) SeedInvoice(inv ledger.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == "" {
		inv.ID = s.nextIDLocked()
	}
	s.invoices[inv.ProjectID] = append(s.invoices[inv.ProjectID], inv)
}

func (s *Store) SeedDisbursement(d ledger.Disbursement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = s.nextIDLocked()
	}
	s.disbursements[d.ProjectID] = append(s.disbursements[d.ProjectID], d)
}

func (s *Store) SeedLiftToken(t ledger.LiftToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = s.nextIDLocked()
	}
	s.liftTokens[t.ProjectID] = append(s.liftTokens[t.ProjectID], t)
}

// Clone helpers --------------------------------------------------------------

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clonePayment(p payment.Payment) payment.Payment {
	p.Amount = cloneInt(p.Amount)
	p.Metadata = cloneMap(p.Metadata)
	return p
}

func cloneAssignment(a roles.Assignment) roles.Assignment {
	a.ApprovalLimit = cloneInt(a.ApprovalLimit)
	if a.RevokedAt != nil {
		t := *a.RevokedAt
		a.RevokedAt = &t
	}
	return a
}

func cloneMatrix(m roles.ApprovalMatrix) roles.ApprovalMatrix {
	m.Tier1MaxAmount = cloneInt(m.Tier1MaxAmount)
	m.Tier2MaxAmount = cloneInt(m.Tier2MaxAmount)
	m.Tier1Roles = append([]roles.Role(nil), m.Tier1Roles...)
	m.Tier2Roles = append([]roles.Role(nil), m.Tier2Roles...)
	return m
}
