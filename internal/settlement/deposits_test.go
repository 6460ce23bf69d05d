package settlement

import (
	"context"
	"errors"
	"testing"

	"exchange-core/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func (f *fixture) deposits() *Deposits {
	return NewDeposits(f.repo, f.locks, f.ledger, f.client, 6, 50, zap.NewNop())
}

func TestIssueAddress(t *testing.T) {
	f := setupSettlement(t, "0")
	f.client.On("GenerateAddress", mock.Anything, "hot-btc").Return("bc1qfresh", nil).Once()
	ds := f.deposits()
	ctx := context.Background()

	da, err := ds.IssueAddress(ctx, f.account, f.btc.ID)
	require.NoError(t, err)
	assert.Equal(t, "bc1qfresh", da.Address)
	assert.Equal(t, f.walletID, da.WalletID)

	addrs, err := ds.Addresses(ctx, f.account, f.btc.ID)
	require.NoError(t, err)
	require.Len(t, addrs, 1)

	_, err = ds.IssueAddress(ctx, f.account, f.usd.ID)
	assert.ErrorIs(t, err, market.ErrWithdrawUnsupported)
	f.client.AssertExpectations(t)
}

func TestReconcile_CreditsConfirmedReceivesOnce(t *testing.T) {
	f := setupSettlement(t, "0")
	f.client.On("GenerateAddress", mock.Anything, "hot-btc").Return("bc1qmine", nil)
	ds := f.deposits()
	ctx := context.Background()

	_, err := ds.IssueAddress(ctx, f.account, f.btc.ID)
	require.NoError(t, err)

	f.client.On("GetConfirmedBalance", mock.Anything, "hot-btc", 6).Return(d("42"), nil)
	f.client.On("ListTransactions", mock.Anything, "hot-btc", 50, 0).Return([]Transaction{
		{TxID: "t1", Address: "bc1qmine", Category: CategoryReceive, Amount: d("1.5"), Confirmations: 6},
		{TxID: "t2", Address: "bc1qmine", Category: CategoryReceive, Amount: d("9"), Confirmations: 2},
		{TxID: "t3", Address: "bc1qelse", Category: CategoryReceive, Amount: d("7"), Confirmations: 10},
		{TxID: "t4", Address: "bc1qmine", Category: "send", Amount: d("-1"), Confirmations: 10},
	}, nil)

	n, err := ds.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "1.5", f.balance(t).String())

	confirmed, ok := ds.ConfirmedBalance(f.btc.ID)
	require.True(t, ok)
	assert.Equal(t, "42", confirmed.String())

	// A second pass over the same transactions credits nothing.
	n, err = ds.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "1.5", f.balance(t).String())
}

func TestReconcile_PagesPastFullBatch(t *testing.T) {
	f := setupSettlement(t, "0")
	f.client.On("GenerateAddress", mock.Anything, "hot-btc").Return("bc1qmine", nil)
	ds := NewDeposits(f.repo, f.locks, f.ledger, f.client, 6, 2, zap.NewNop())
	ctx := context.Background()

	_, err := ds.IssueAddress(ctx, f.account, f.btc.ID)
	require.NoError(t, err)

	f.client.On("GetConfirmedBalance", mock.Anything, "hot-btc", 6).Return(d("10"), nil)
	// Newest first: a full page of sends hides the older receives.
	f.client.On("ListTransactions", mock.Anything, "hot-btc", 2, 0).Return([]Transaction{
		{TxID: "s1", Address: "bc1qout", Category: "send", Amount: d("-1"), Confirmations: 7},
		{TxID: "s2", Address: "bc1qout", Category: "send", Amount: d("-1"), Confirmations: 7},
	}, nil)
	f.client.On("ListTransactions", mock.Anything, "hot-btc", 2, 2).Return([]Transaction{
		{TxID: "r1", Address: "bc1qmine", Category: CategoryReceive, Amount: d("0.25"), Confirmations: 8},
		{TxID: "r2", Address: "bc1qmine", Category: CategoryReceive, Amount: d("0.5"), Confirmations: 9},
	}, nil)
	f.client.On("ListTransactions", mock.Anything, "hot-btc", 2, 4).Return([]Transaction{
		{TxID: "r3", Address: "bc1qmine", Category: CategoryReceive, Amount: d("1"), Confirmations: 20},
	}, nil).Once()

	n, err := ds.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "1.75", f.balance(t).String())

	// The second page now holds credited receives, so paging stops there.
	n, err = ds.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "1.75", f.balance(t).String())
	f.client.AssertExpectations(t)
	f.client.AssertNumberOfCalls(t, "ListTransactions", 5)
}

func TestReconcile_FailureKeepsLastGoodBalance(t *testing.T) {
	f := setupSettlement(t, "0")
	ds := f.deposits()
	ctx := context.Background()

	f.client.On("GetConfirmedBalance", mock.Anything, "hot-btc", 6).Return(d("5"), nil).Once()
	f.client.On("ListTransactions", mock.Anything, "hot-btc", 50, 0).Return([]Transaction{}, nil).Once()
	_, err := ds.Reconcile(ctx)
	require.NoError(t, err)

	f.client.On("GetConfirmedBalance", mock.Anything, "hot-btc", 6).
		Return(decimal.Zero, &Error{Op: "getbalance", Err: errors.New("daemon down")}).Once()
	_, err = ds.Reconcile(ctx)
	var se *Error
	require.ErrorAs(t, err, &se)

	confirmed, ok := ds.ConfirmedBalance(f.btc.ID)
	require.True(t, ok)
	assert.Equal(t, "5", confirmed.String())
	f.client.AssertExpectations(t)
}
