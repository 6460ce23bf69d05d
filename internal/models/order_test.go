package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(side Side, amount, price int64) *Order {
	return &Order{
		Side:     side,
		Status:   StatusOpen,
		Amount:   decimal.NewFromInt(amount),
		Price:    decimal.NewFromInt(price),
		Reserved: decimal.NewFromInt(amount * price),
		OpenedAt: time.Now(),
	}
}

func TestOrder_FillTransitions(t *testing.T) {
	o := newOrder(SideBuy, 5, 10)
	now := time.Now()

	require.NoError(t, o.Fill(decimal.NewFromInt(3), decimal.NewFromInt(30), decimal.Zero, now))
	assert.Equal(t, StatusPartiallyCompleted, o.Status)
	assert.Nil(t, o.ClosedAt)
	assert.True(t, decimal.NewFromInt(2).Equal(o.Remaining()))

	require.NoError(t, o.Fill(decimal.NewFromInt(2), decimal.NewFromInt(18), decimal.Zero, now))
	assert.Equal(t, StatusCompleted, o.Status)
	assert.NotNil(t, o.ClosedAt)
	assert.True(t, o.Remaining().IsZero())
	assert.True(t, decimal.NewFromInt(2).Equal(o.Unused()), "price improvement is returned")

	err := o.Fill(decimal.NewFromInt(1), decimal.NewFromInt(10), decimal.Zero, now)
	assert.ErrorIs(t, err, ErrTerminalOrder)
}

func TestOrder_Overfill(t *testing.T) {
	o := newOrder(SideSell, 2, 10)

	err := o.Fill(decimal.NewFromInt(3), decimal.NewFromInt(30), decimal.Zero, time.Now())
	assert.ErrorIs(t, err, ErrOverfill)
	assert.True(t, o.Completed.IsZero(), "a rejected fill must not mutate the order")
	assert.Equal(t, StatusOpen, o.Status)
}

func TestOrder_Cancel(t *testing.T) {
	t.Run("Open", func(t *testing.T) {
		o := newOrder(SideSell, 2, 10)
		require.NoError(t, o.Cancel(time.Now()))
		assert.Equal(t, StatusCancelled, o.Status)
		assert.True(t, decimal.NewFromInt(2).Equal(o.Unused()))
	})

	t.Run("PartiallyFilled", func(t *testing.T) {
		o := newOrder(SideSell, 2, 10)
		require.NoError(t, o.Fill(decimal.NewFromInt(1), decimal.NewFromInt(10), decimal.Zero, time.Now()))
		require.NoError(t, o.Cancel(time.Now()))
		assert.Equal(t, StatusPartiallyCancelled, o.Status)
		assert.True(t, decimal.NewFromInt(1).Equal(o.Unused()))
	})

	t.Run("AlreadyClosed", func(t *testing.T) {
		o := newOrder(SideSell, 2, 10)
		require.NoError(t, o.Cancel(time.Now()))
		assert.ErrorIs(t, o.Cancel(time.Now()), ErrTerminalOrder)
	})
}

func TestOrder_SpentBuyIncludesFee(t *testing.T) {
	o := newOrder(SideBuy, 1, 100)
	require.NoError(t, o.Fill(decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.RequireFromString("0.2"), time.Now()))
	assert.True(t, decimal.RequireFromString("100.2").Equal(o.Spent()))
}

func TestSide_Opposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	assert.False(t, Side("HOLD").Valid())
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.False(t, StatusOpen.Terminal())
	assert.False(t, StatusPartiallyCompleted.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusPartiallyCancelled.Terminal())
}
