package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// WithdrawalStatus is the lifecycle state of a withdrawal.
type WithdrawalStatus string

const (
	WithdrawalPending WithdrawalStatus = "PENDING"
	WithdrawalSent    WithdrawalStatus = "SENT"
	WithdrawalFailed  WithdrawalStatus = "FAILED"
)

// Withdrawal records funds leaving the exchange through the wallet daemon.
type Withdrawal struct {
	gorm.Model
	Reference  string           `gorm:"uniqueIndex;not null" json:"reference"`
	AccountID  uint             `gorm:"index;not null" json:"account_id"`
	CurrencyID uint             `gorm:"index;not null" json:"currency_id"`
	WalletID   uint             `gorm:"not null" json:"wallet_id"`
	Address    string           `gorm:"not null" json:"address"`
	Amount     decimal.Decimal  `gorm:"type:varchar(40);not null" json:"amount"`
	Fee        decimal.Decimal  `gorm:"type:varchar(40);not null" json:"fee"`
	NetworkFee decimal.Decimal  `gorm:"type:varchar(40);not null;default:'0'" json:"network_fee"`
	TxID       string           `gorm:"index" json:"txid,omitempty"`
	Status     WithdrawalStatus `gorm:"type:varchar(16);not null" json:"status"`
	Synthetic  bool             `gorm:"default:false" json:"synthetic"`
	Error      string           `json:"error,omitempty"`
	SentAt     *time.Time       `json:"sent_at,omitempty"`
}

// DepositAddress maps a daemon address to the account it credits.
type DepositAddress struct {
	gorm.Model
	AccountID  uint   `gorm:"index;not null" json:"account_id"`
	CurrencyID uint   `gorm:"index;not null" json:"currency_id"`
	WalletID   uint   `gorm:"index;not null" json:"wallet_id"`
	Address    string `gorm:"uniqueIndex;not null" json:"address"`
}

// Deposit records a confirmed incoming daemon transaction credited once.
type Deposit struct {
	gorm.Model
	TxID          string          `gorm:"uniqueIndex:idx_deposit_tx;not null" json:"txid"`
	Address       string          `gorm:"uniqueIndex:idx_deposit_tx;not null" json:"address"`
	AccountID     uint            `gorm:"index;not null" json:"account_id"`
	CurrencyID    uint            `gorm:"not null" json:"currency_id"`
	Amount        decimal.Decimal `gorm:"type:varchar(40);not null" json:"amount"`
	Confirmations int             `json:"confirmations"`
}
