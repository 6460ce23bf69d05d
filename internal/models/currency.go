package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CurrencyClass tells whether a currency is backed by an external wallet daemon.
type CurrencyClass string

const (
	ClassCrypto  CurrencyClass = "CRYPTO"
	ClassVirtual CurrencyClass = "VIRTUAL"
)

// Currency represents a unit of value held in virtual wallets.
type Currency struct {
	gorm.Model
	Code               string          `gorm:"uniqueIndex;not null" json:"code"`
	Enabled            bool            `json:"enabled"`
	WithdrawFeePercent decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"withdraw_fee_percent"`
	MinWithdrawAmount  decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"min_withdraw_amount"`
	Class              CurrencyClass   `gorm:"type:varchar(16);not null;default:'VIRTUAL'" json:"class"`
	// WalletRef names the daemon wallet holding this currency's funds.
	WalletRef string `json:"wallet_ref"`
}

// IsCrypto reports whether withdrawals settle through the daemon.
func (c *Currency) IsCrypto() bool {
	return c.Class == ClassCrypto
}
