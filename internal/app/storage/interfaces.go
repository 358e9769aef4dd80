package storage

import (
	"context"

	"github.com/liftdao/finance-layer/internal/app/domain/ledger"
	"github.com/liftdao/finance-layer/internal/app/domain/payment"
	"github.com/liftdao/finance-layer/internal/app/domain/roles"
)

// PaymentStore persists payments, their transition events and per-project
// escrow configuration. The WithEvent methods are transactional: the row
// mutation and the event write commit atomically or not at all.
type PaymentStore interface {
	CreatePaymentWithEvent(ctx context.Context, p payment.Payment, ev payment.Event) (payment.Payment, error)
	UpdatePaymentWithEvent(ctx context.Context, p payment.Payment, ev payment.Event) (payment.Payment, error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	ListPayments(ctx context.Context, projectID int64) ([]payment.Payment, error)
	ListPaymentEvents(ctx context.Context, paymentID string) ([]payment.Event, error)

	GetEscrowConfig(ctx context.Context, projectID int64) (payment.EscrowConfig, error)
	PutEscrowConfig(ctx context.Context, cfg payment.EscrowConfig) (payment.EscrowConfig, error)
}

// RoleStore persists role assignments, their audit events and per-project
// approval matrices. WriteAssignmentWithEvent is transactional.
type RoleStore interface {
	WriteAssignmentWithEvent(ctx context.Context, a roles.Assignment, ev roles.ChangeEvent) (roles.Assignment, error)
	GetAssignment(ctx context.Context, id string) (roles.Assignment, error)
	ListActiveAssignments(ctx context.Context, principalID string, projectID int64) ([]roles.Assignment, error)
	ListChangeEvents(ctx context.Context, principalID string) ([]roles.ChangeEvent, error)

	GetApprovalMatrix(ctx context.Context, projectID int64) (roles.ApprovalMatrix, bool, error)
	PutApprovalMatrix(ctx context.Context, m roles.ApprovalMatrix) (roles.ApprovalMatrix, error)
}

// LedgerStore exposes read access to the project ledger entities owned by
// upstream workflow services. The control plane never mutates these.
type LedgerStore interface {
	ListDeposits(ctx context.Context, projectID int64) ([]ledger.Deposit, error)
	GetFundingBucket(ctx context.Context, projectID int64) (ledger.FundingBucket, error)
	ListContracts(ctx context.Context, projectID int64) ([]ledger.FinanceContract, error)
	ListInvoices(ctx context.Context, projectID int64) ([]ledger.Invoice, error)
	ListInvoicesByContract(ctx context.Context, contractID string) ([]ledger.Invoice, error)
	ListDisbursements(ctx context.Context, projectID int64) ([]ledger.Disbursement, error)
	ListDisbursementsByInvoice(ctx context.Context, invoiceID string) ([]ledger.Disbursement, error)
	ListLiftTokens(ctx context.Context, projectID int64) ([]ledger.LiftToken, error)
}
