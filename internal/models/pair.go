package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradingPair represents a market between a base and a quote currency.
// Prices are quoted in the quote currency per unit of base.
type TradingPair struct {
	gorm.Model
	BaseCurrencyID    uint            `gorm:"uniqueIndex:idx_base_quote;not null" json:"base_currency_id"`
	QuoteCurrencyID   uint            `gorm:"uniqueIndex:idx_base_quote;not null" json:"quote_currency_id"`
	Enabled           bool            `json:"enabled"`
	MinTradeAmount    decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"min_trade_amount"`
	TradingFeePercent decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"trading_fee_percent"`

	// Rolling statistics maintained by market history.
	LastPrice   decimal.Decimal `gorm:"type:varchar(40);not null;default:'0'" json:"last_price"`
	High24h     decimal.Decimal `gorm:"column:high_24h;type:varchar(40);not null;default:'0'" json:"high_24h"`
	Low24h      decimal.Decimal `gorm:"column:low_24h;type:varchar(40);not null;default:'0'" json:"low_24h"`
	Volume24h   decimal.Decimal `gorm:"column:volume_24h;type:varchar(40);not null;default:'0'" json:"volume_24h"`
	LastTradeAt *time.Time      `json:"last_trade_at,omitempty"`
}

// CurrencyIDs returns the pair's first (base) and second (quote) currency.
func (p *TradingPair) CurrencyIDs() (first, second uint) {
	return p.BaseCurrencyID, p.QuoteCurrencyID
}
