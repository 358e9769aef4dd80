package escrow

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockWindowDefaultsOpen(t *testing.T) {
	m := NewMock()

	active, err := m.IsMarketWindowActive(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, active)

	m.WindowActive = false
	active, err = m.IsMarketWindowActive(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestMockFailNextIsOneShot(t *testing.T) {
	m := NewMock()
	boom := errors.New("boom")
	m.FailNext = boom

	_, err := m.NotifyProceeds(context.Background(), 1, big.NewInt(10), "ref")
	require.ErrorIs(t, err, boom)

	// The injected failure is consumed; the next call succeeds.
	hash, err := m.NotifyProceeds(context.Background(), 1, big.NewInt(10), "ref")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Equal(t, 2, m.CallCount("notifyProceeds"))
}

func TestMockTxHashesAreSequentialAndUnique(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	h1, err := m.SellToBeneficiary(ctx, 1, "0xb", []string{"t1"}, []*big.Int{big.NewInt(1)}, "ref", big.NewInt(100))
	require.NoError(t, err)
	h2, err := m.ConfigureRepayment(ctx, 1, RepaymentConfig{})
	require.NoError(t, err)

	assert.Regexp(t, `^0xmock0*1$`, h1)
	assert.Regexp(t, `^0xmock0*2$`, h2)
	assert.Len(t, h1, 66)
	assert.NotEqual(t, h1, h2)
}

func TestMockRecordsCallsInOrder(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	_, _ = m.IsMarketWindowActive(ctx, 1)
	_, _ = m.GetRepaymentStatus(ctx, 1)
	_, _ = m.GetRepaymentStatus(ctx, 1)

	assert.Equal(t, []string{"isMarketWindowActive", "getRepaymentStatus", "getRepaymentStatus"}, m.Calls)
	assert.Equal(t, 2, m.CallCount("getRepaymentStatus"))
	assert.Zero(t, m.CallCount("sellToBeneficiary"))
}
