// Package escrow mediates calls to the on-chain allocation and repayment
// escrow contracts. The gateway is an external collaborator: calls are
// asynchronous, fallible and yield an opaque transaction hash on success.
package escrow

import (
	"context"
	"errors"
	"math/big"
)

// ErrWindowInactive is returned when the allocation escrow's market window is
// closed and a sale cannot be submitted.
var ErrWindowInactive = errors.New("market window is not active")

// RepaymentStatus is the repayment escrow's view state for a project.
type RepaymentStatus struct {
	ProjectID     int64
	TotalRepaid   *big.Int
	RepaymentCap  *big.Int
	CapReached    bool
	ForwardClosed bool
}

// RepaymentConfig carries the one-shot parameters written into the repayment
// escrow by ConfigureRepayment.
type RepaymentConfig struct {
	ForwardPrincipal string
	RepaymentCap     *big.Int
	BaseFeeBps       int64
	VariableFeeBps   int64
	Policy           string
}

// Gateway submits state-changing calls to the two escrow contracts and reads
// their view state. Implementations must not retry internally; callers retry
// at the operation level.
type Gateway interface {
	// IsMarketWindowActive reads the allocation escrow's market-window flag.
	IsMarketWindowActive(ctx context.Context, projectID int64) (bool, error)

	// SellToBeneficiary executes a primary sale of tokenized units through
	// the allocation escrow and returns the transaction hash.
	SellToBeneficiary(ctx context.Context, projectID int64, beneficiary string, tokenIDs []string, amounts []*big.Int, considerationRef string, proceeds *big.Int) (string, error)

	// NotifyProceeds reports settled proceeds to the repayment escrow.
	NotifyProceeds(ctx context.Context, projectID int64, amount *big.Int, considerationRef string) (string, error)

	// ConfigureRepayment writes the repayment parameters on-chain.
	ConfigureRepayment(ctx context.Context, projectID int64, cfg RepaymentConfig) (string, error)

	// GetRepaymentStatus reads the repayment escrow's view state.
	GetRepaymentStatus(ctx context.Context, projectID int64) (RepaymentStatus, error)
}
