// Package payment defines the payment ledger entities owned by the finance
// control plane.
package payment

import (
	"math/big"
	"regexp"
	"time"
)

// Type classifies the business purpose of a payment.
type Type string

const (
	TypeUnitPurchase   Type = "UNIT_PURCHASE"
	TypeProjectFunding Type = "PROJECT_FUNDING"
	TypeRepayment      Type = "REPAYMENT"
	TypePlatformFee    Type = "PLATFORM_FEE"
	TypeStewardPayment Type = "STEWARD_PAYMENT"
)

// Status is the settlement lifecycle state of a payment.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusInEscrow  Status = "IN_ESCROW"
	StatusFailed    Status = "FAILED"
)

// rank orders the forward-progress states. FAILED sits outside the ordering;
// it is terminal and reachable from any non-terminal state.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusConfirmed:
		return 1
	case StatusInEscrow:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next respects the state
// machine: forward-only progress, FAILED terminal but reachable from any
// non-terminal state, nothing follows FAILED.
func (s Status) CanTransitionTo(next Status) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return next.rank() > s.rank()
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusFailed }

// ValidType reports whether t is a known payment type.
func ValidType(t Type) bool {
	switch t {
	case TypeUnitPurchase, TypeProjectFunding, TypeRepayment, TypePlatformFee, TypeStewardPayment:
		return true
	}
	return false
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether addr is a 20-byte hex address.
func ValidAddress(addr string) bool { return addressPattern.MatchString(addr) }

// Payment is a financial intent moving value between a payer and a recipient
// for a project. Rows are never deleted; they are audit history.
type Payment struct {
	ID               string
	ProjectID        int64
	Type             Type
	Amount           *big.Int // minor units, > 0
	TokenAddress     string
	ChainID          int64
	PayerAddress     string
	RecipientAddress string
	Status           Status
	ProceedsNotified bool
	TxHash           string
	ConsiderationRef string
	Description      string
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EventType names a recorded payment transition.
type EventType string

const (
	EventInitiated        EventType = "PAYMENT_INITIATED"
	EventConfirmed        EventType = "PAYMENT_CONFIRMED"
	EventProceedsNotified EventType = "PROCEEDS_NOTIFIED"
	EventFailed           EventType = "PAYMENT_FAILED"
)

// Event is an immutable record of a single payment transition.
type Event struct {
	ID        string
	PaymentID string
	Type      EventType
	Actor     string
	TxHash    string
	Metadata  map[string]string
	CreatedAt time.Time
}

// EscrowConfig holds the per-project on-chain escrow addresses the lifecycle
// manager settles against.
type EscrowConfig struct {
	ProjectID        int64
	ChainID          int64
	AllocationEscrow string
	RepaymentEscrow  string
	UpdatedAt        time.Time
}

// RepaymentParams carries the one-shot repayment escrow configuration written
// on-chain by ConfigureProjectEscrow.
type RepaymentParams struct {
	ForwardPrincipal string
	RepaymentCap     *big.Int
	BaseFeeBps       int64
	VariableFeeBps   int64
	Policy           string
}
