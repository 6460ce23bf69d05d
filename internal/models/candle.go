package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Candle represents OHLCV data of one pair over one period.
type Candle struct {
	gorm.Model
	PairID  uint            `gorm:"index:idx_candle_pair_period,priority:1;not null" json:"pair_id"`
	Period  time.Duration   `gorm:"index:idx_candle_pair_period,priority:2;not null" json:"period"`
	OpenAt  time.Time       `gorm:"index:idx_candle_pair_period,priority:3;not null" json:"open_at"`
	CloseAt time.Time       `gorm:"not null" json:"close_at"`
	Open    decimal.Decimal `gorm:"type:varchar(40);not null" json:"open"`
	High    decimal.Decimal `gorm:"type:varchar(40);not null" json:"high"`
	Low     decimal.Decimal `gorm:"type:varchar(40);not null" json:"low"`
	Close   decimal.Decimal `gorm:"type:varchar(40);not null" json:"close"`
	Volume  decimal.Decimal `gorm:"type:varchar(40);not null" json:"volume"`
	// Closed freezes the candle once its period has elapsed.
	Closed bool `gorm:"default:false" json:"closed"`
}
