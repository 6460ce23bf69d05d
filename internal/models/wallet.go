package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VirtualWallet holds one account's balance in one currency. It is created on
// first access and never deleted. Like every money column, Balance is stored
// as exact decimal text.
type VirtualWallet struct {
	gorm.Model
	AccountID  uint            `gorm:"uniqueIndex:idx_account_currency;not null" json:"account_id"`
	CurrencyID uint            `gorm:"uniqueIndex:idx_account_currency;not null" json:"currency_id"`
	Balance    decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"balance"`
}

// FeeBalance is the running total of fees collected in one currency.
type FeeBalance struct {
	gorm.Model
	CurrencyID uint            `gorm:"uniqueIndex;not null"`
	Amount     decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'"`
}
