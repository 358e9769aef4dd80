package escrow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// Mock is a configurable in-memory gateway for tests and local development.
type Mock struct {
	mu sync.Mutex

	WindowActive bool
	FailNext     error

	nextTx int
	Calls  []string
}

var _ Gateway = (*Mock)(nil)

// NewMock returns a mock gateway with the market window open.
func NewMock() *Mock {
	return &Mock{WindowActive: true}
}

func (m *Mock) take() error {
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *Mock) txHash() string {
	m.nextTx++
	return fmt.Sprintf("0xmock%060d", m.nextTx)
}

func (m *Mock) IsMarketWindowActive(_ context.Context, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "isMarketWindowActive")
	if err := m.take(); err != nil {
		return false, err
	}
	return m.WindowActive, nil
}

func (m *Mock) SellToBeneficiary(_ context.Context, _ int64, _ string, _ []string, _ []*big.Int, _ string, _ *big.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "sellToBeneficiary")
	if err := m.take(); err != nil {
		return "", err
	}
	return m.txHash(), nil
}

func (m *Mock) NotifyProceeds(_ context.Context, _ int64, _ *big.Int, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "notifyProceeds")
	if err := m.take(); err != nil {
		return "", err
	}
	return m.txHash(), nil
}

func (m *Mock) ConfigureRepayment(_ context.Context, _ int64, _ RepaymentConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "configureRepayment")
	if err := m.take(); err != nil {
		return "", err
	}
	return m.txHash(), nil
}

func (m *Mock) GetRepaymentStatus(_ context.Context, projectID int64) (RepaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "getRepaymentStatus")
	if err := m.take(); err != nil {
		return RepaymentStatus{}, err
	}
	return RepaymentStatus{
		ProjectID:    projectID,
		TotalRepaid:  big.NewInt(0),
		RepaymentCap: big.NewInt(0),
	}, nil
}

// CallCount returns how many times the named call was made.
func (m *Mock) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == name {
			n++
		}
	}
	return n
}
