package models

import (
	"errors"
	"fmt"
	"time"

	"exchange-core/internal/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side an order crosses against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusOpen               OrderStatus = "OPEN"
	StatusPartiallyCompleted OrderStatus = "PARTIALLY_COMPLETED"
	StatusCompleted          OrderStatus = "COMPLETED"
	StatusCancelled          OrderStatus = "CANCELLED"
	StatusPartiallyCancelled OrderStatus = "PARTIALLY_CANCELLED"
)

// RestingStatuses are the statuses visible in the order book.
var RestingStatuses = []OrderStatus{StatusOpen, StatusPartiallyCompleted}

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusPartiallyCancelled:
		return true
	}
	return false
}

var (
	// ErrTerminalOrder is returned by transitions on a closed order.
	ErrTerminalOrder = errors.New("order is closed")
	// ErrOverfill means a fill would exceed the order amount.
	ErrOverfill = errors.New("fill exceeds order amount")
)

// Order is a resting or inbound trade intent.
//
// Reserved is the amount taken from the source wallet at submission and
// FeePercent the trading fee rate in force at that moment; both are fixed for
// the life of the order.
type Order struct {
	gorm.Model
	AccountID      uint            `gorm:"index;not null" json:"account_id"`
	PairID         uint            `gorm:"index:idx_book,priority:1;not null" json:"pair_id"`
	Side           Side            `gorm:"type:varchar(4);index:idx_book,priority:2;not null" json:"side"`
	Status         OrderStatus     `gorm:"type:varchar(24);index:idx_book,priority:3;not null" json:"status"`
	Price          decimal.Decimal `gorm:"type:varchar(40);not null" json:"price"`
	PriceKey       string          `gorm:"type:varchar(33);index:idx_book,priority:4;not null" json:"-"`
	Amount         decimal.Decimal `gorm:"type:varchar(40);not null" json:"amount"`
	Completed      decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"completed"`
	Total          decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"total"`
	Fee            decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"fee"`
	Reserved       decimal.Decimal `gorm:"type:varchar(40);not null" json:"reserved"`
	FeePercent     decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"fee_percent"`
	SourceWalletID uint            `gorm:"not null" json:"source_wallet_id"`
	DestWalletID   uint            `gorm:"not null" json:"dest_wallet_id"`
	OpenedAt       time.Time       `gorm:"index;not null" json:"opened_at"`
	ClosedAt       *time.Time      `gorm:"index" json:"closed_at,omitempty"`
}

// BeforeSave keeps PriceKey in step with Price.
func (o *Order) BeforeSave(*gorm.DB) error {
	o.PriceKey = money.SortKey(o.Price)
	return nil
}

// Remaining returns the amount still to be filled.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Completed)
}

// Terminal reports whether the order is closed.
func (o *Order) Terminal() bool {
	return o.Status.Terminal()
}

// Spent returns how much of the reservation has been consumed.
// A buy consumes notional plus its fee; a sell consumes the base it delivered.
func (o *Order) Spent() decimal.Decimal {
	if o.Side == SideBuy {
		return o.Total.Add(o.Fee)
	}
	return o.Completed
}

// Unused returns the part of the reservation that belongs back to the owner.
func (o *Order) Unused() decimal.Decimal {
	return o.Reserved.Sub(o.Spent())
}

// Fill applies one crossing step of amount at total notional with fee, and
// moves the order to PARTIALLY_COMPLETED or COMPLETED.
func (o *Order) Fill(amount, total, fee decimal.Decimal, at time.Time) error {
	if o.Terminal() {
		return fmt.Errorf("fill order %d: %w", o.ID, ErrTerminalOrder)
	}
	completed := o.Completed.Add(amount)
	if completed.GreaterThan(o.Amount) {
		return fmt.Errorf("fill order %d with %s of %s remaining: %w", o.ID, amount, o.Remaining(), ErrOverfill)
	}

	o.Completed = completed
	o.Total = o.Total.Add(total)
	o.Fee = o.Fee.Add(fee)
	if o.Remaining().IsZero() {
		o.Status = StatusCompleted
		o.ClosedAt = &at
	} else {
		o.Status = StatusPartiallyCompleted
	}
	return nil
}

// Cancel closes a non-terminal order, keeping track of whether it was
// partially filled.
func (o *Order) Cancel(at time.Time) error {
	if o.Terminal() {
		return fmt.Errorf("cancel order %d: %w", o.ID, ErrTerminalOrder)
	}
	if o.Completed.IsPositive() {
		o.Status = StatusPartiallyCancelled
	} else {
		o.Status = StatusCancelled
	}
	o.ClosedAt = &at
	return nil
}
