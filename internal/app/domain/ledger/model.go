// Package ledger defines the read-only project ledger entities and the
// structures produced by the invariant verifier.
package ledger

import (
	"math/big"
	"time"
)

// DepositStatus marks whether a deposit has settled.
type DepositStatus string

const (
	DepositPending   DepositStatus = "PENDING"
	DepositCompleted DepositStatus = "COMPLETED"
	DepositFailed    DepositStatus = "FAILED"
)

// Deposit is an inbound transfer of project funds. Owned by upstream workflow
// services; the control plane only reads it.
type Deposit struct {
	ID        string
	ProjectID int64
	Amount    *big.Int
	Status    DepositStatus
	CreatedAt time.Time
}

// FundingBucket partitions a project's deposited funds. The four balances must
// sum to total completed deposits within tolerance.
type FundingBucket struct {
	ID         string
	ProjectID  int64
	Available  *big.Int
	Committed  *big.Int
	Encumbered *big.Int
	Disbursed  *big.Int
	UpdatedAt  time.Time
}

// FinanceContract is an executed funding agreement against a project.
type FinanceContract struct {
	ID            string
	ProjectID     int64
	CurrentAmount *big.Int
	Status        string
	CreatedAt     time.Time
}

// InvoiceStatus marks the invoice payment state.
type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "OPEN"
	InvoicePaid InvoiceStatus = "PAID"
	InvoiceVoid InvoiceStatus = "VOID"
)

// Invoice bills against a finance contract.
type Invoice struct {
	ID          string
	ProjectID   int64
	ContractID  string
	TotalAmount *big.Int
	NetPayable  *big.Int
	Status      InvoiceStatus
	CreatedAt   time.Time
}

// Disbursement is an outbound payment against an invoice.
type Disbursement struct {
	ID        string
	ProjectID int64
	InvoiceID string
	Amount    *big.Int
	Status    string
	CreatedAt time.Time
}

// TokenStatus marks the lifecycle of an issued lift token batch.
type TokenStatus string

const (
	TokenIssued  TokenStatus = "ISSUED"
	TokenRetired TokenStatus = "RETIRED"
)

// LiftToken is a batch of verified environmental-benefit tokens issued
// against a project.
type LiftToken struct {
	ID        string
	ProjectID int64
	Quantity  *big.Int
	UnitPrice *big.Int // minor units per token unit
	Status    TokenStatus
	CreatedAt time.Time
}

// FinancialSummary is the per-project rollup the invariant checks evaluate.
// All amounts are minor units.
type FinancialSummary struct {
	ProjectID          int64
	TotalDeposits      *big.Int // completed deposits only
	TotalContracts     *big.Int // sum of contract current amounts
	TotalInvoiced      *big.Int
	TotalDisbursements *big.Int
	Available          *big.Int
	Committed          *big.Int
	Encumbered         *big.Int
	Disbursed          *big.Int
	TokensIssued       *big.Int // quantity
	TokensRetired      *big.Int // quantity
	TokenNotional      *big.Int // issued quantity x unit price
	GeneratedAt        time.Time
}

// Invariant names the fixed consistency rules.
type Invariant string

const (
	InvariantBalanceConservation Invariant = "BALANCE_CONSERVATION"
	InvariantBucketCompleteness  Invariant = "BUCKET_COMPLETENESS"
	InvariantContractInvoice     Invariant = "CONTRACT_INVOICE_CONSISTENCY"
	InvariantInvoiceDisbursement Invariant = "INVOICE_DISBURSEMENT_CONSISTENCY"
	InvariantTokenBudget         Invariant = "LIFT_TOKEN_BUDGET"
)

// InvariantCheck is the evaluated outcome of one invariant. Failures are data,
// not errors.
type InvariantCheck struct {
	Name      Invariant
	Passed    bool
	Expected  string
	Actual    string
	Tolerance string
	Message   string
}

// IntegrityReport bundles the summary, the checks, the derived health score
// and remediation recommendations.
type IntegrityReport struct {
	ProjectID       int64
	Summary         FinancialSummary
	Checks          []InvariantCheck
	HealthScore     int
	Recommendations []string
	GeneratedAt     time.Time
}
