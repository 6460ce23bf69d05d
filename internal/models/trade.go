package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade represents one crossing step between a buy and a sell order.
type Trade struct {
	gorm.Model
	PairID      uint            `gorm:"index:idx_trade_pair_time,priority:1;not null" json:"pair_id"`
	BuyOrderID  uint            `gorm:"index;not null" json:"buy_order_id"`
	SellOrderID uint            `gorm:"index;not null" json:"sell_order_id"`
	Price       decimal.Decimal `gorm:"type:varchar(40);not null" json:"price"`
	Amount      decimal.Decimal `gorm:"type:varchar(40);not null" json:"amount"`
	Total       decimal.Decimal `gorm:"type:varchar(40);not null" json:"total"`
	BuyerFee    decimal.Decimal `gorm:"type:varchar(40);not null" json:"buyer_fee"`
	SellerFee   decimal.Decimal `gorm:"type:varchar(40);not null" json:"seller_fee"`
	ExecutedAt  time.Time       `gorm:"index:idx_trade_pair_time,priority:2;not null" json:"executed_at"`
}
