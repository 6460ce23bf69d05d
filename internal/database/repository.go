package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exchange-core/internal/models"
	"exchange-core/internal/money"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is the persistence collaborator of the exchange core. A
// Repository obtained inside Transaction shares the transaction; every write
// made through it commits or rolls back together.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps a gorm connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// WithContext returns a repository bound to ctx.
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: r.db.WithContext(ctx)}
}

// Transaction runs fn inside one atomic transaction boundary.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func translate(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

// Load fetches the entity with the given primary key into dest.
func (r *Repository) Load(dest any, id uint) error {
	if err := r.db.First(dest, id).Error; err != nil {
		return translate(err, fmt.Sprintf("%T %d", dest, id))
	}
	return nil
}

// Create inserts a new entity.
func (r *Repository) Create(entity any) error {
	if err := r.db.Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create %T: %w", entity, err)
	}
	return nil
}

// Save updates every column of an existing entity.
func (r *Repository) Save(entity any) error {
	if err := r.db.Save(entity).Error; err != nil {
		return fmt.Errorf("failed to save %T: %w", entity, err)
	}
	return nil
}

// Update sets the given columns on an existing entity.
func (r *Repository) Update(entity any, columns map[string]any) error {
	if err := r.db.Model(entity).Updates(columns).Error; err != nil {
		return fmt.Errorf("failed to update %T: %w", entity, err)
	}
	return nil
}

// Account loads an account.
func (r *Repository) Account(id uint) (*models.Account, error) {
	var a models.Account
	if err := r.Load(&a, id); err != nil {
		return nil, err
	}
	return &a, nil
}

// Currency loads a currency.
func (r *Repository) Currency(id uint) (*models.Currency, error) {
	var c models.Currency
	if err := r.Load(&c, id); err != nil {
		return nil, err
	}
	return &c, nil
}

// CurrencyByCode loads a currency by its code.
func (r *Repository) CurrencyByCode(code string) (*models.Currency, error) {
	var c models.Currency
	if err := r.db.Where("code = ?", code).First(&c).Error; err != nil {
		return nil, translate(err, "currency "+code)
	}
	return &c, nil
}

// Currencies lists every currency.
func (r *Repository) Currencies() ([]models.Currency, error) {
	var cs []models.Currency
	if err := r.db.Order("id").Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	return cs, nil
}

// CryptoCurrencies lists enabled daemon-backed currencies.
func (r *Repository) CryptoCurrencies() ([]models.Currency, error) {
	var cs []models.Currency
	err := r.db.Where("class = ? AND enabled = ?", models.ClassCrypto, true).Order("id").Find(&cs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list crypto currencies: %w", err)
	}
	return cs, nil
}

// Pair loads a trading pair.
func (r *Repository) Pair(id uint) (*models.TradingPair, error) {
	var p models.TradingPair
	if err := r.Load(&p, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// Pairs lists every trading pair.
func (r *Repository) Pairs() ([]models.TradingPair, error) {
	var ps []models.TradingPair
	if err := r.db.Order("id").Find(&ps).Error; err != nil {
		return nil, fmt.Errorf("failed to list pairs: %w", err)
	}
	return ps, nil
}

// Wallet loads a wallet by id.
func (r *Repository) Wallet(id uint) (*models.VirtualWallet, error) {
	var w models.VirtualWallet
	if err := r.Load(&w, id); err != nil {
		return nil, err
	}
	return &w, nil
}

// WalletFor loads the wallet of an account in a currency.
func (r *Repository) WalletFor(accountID, currencyID uint) (*models.VirtualWallet, error) {
	var w models.VirtualWallet
	err := r.db.Where("account_id = ? AND currency_id = ?", accountID, currencyID).First(&w).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("wallet of account %d in currency %d", accountID, currencyID))
	}
	return &w, nil
}

// Wallets lists every wallet of an account.
func (r *Repository) Wallets(accountID uint) ([]models.VirtualWallet, error) {
	var ws []models.VirtualWallet
	if err := r.db.Where("account_id = ?", accountID).Order("currency_id").Find(&ws).Error; err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return ws, nil
}

// Order loads an order.
func (r *Repository) Order(id uint) (*models.Order, error) {
	var o models.Order
	if err := r.Load(&o, id); err != nil {
		return nil, err
	}
	return &o, nil
}

// BookQuery selects resting orders of one side of a pair.
type BookQuery struct {
	PairID uint
	Side   models.Side
	// Ascending orders by price low to high; ties are always broken by
	// opening time then id.
	Ascending bool
	// MaxPrice and MinPrice bound the price when set.
	MaxPrice *decimal.Decimal
	MinPrice *decimal.Decimal
	// Limit caps the number of rows; zero means unlimited.
	Limit int
}

// RestingOrders returns OPEN and PARTIALLY_COMPLETED orders in price-time priority.
func (r *Repository) RestingOrders(q BookQuery) ([]models.Order, error) {
	tx := r.db.Where("pair_id = ? AND side = ? AND status IN ?", q.PairID, q.Side, models.RestingStatuses)
	// Prices are stored as exact text; price_key is their fixed-width,
	// byte-ordered form.
	if q.MaxPrice != nil {
		tx = tx.Where("price_key <= ?", money.SortKey(*q.MaxPrice))
	}
	if q.MinPrice != nil {
		tx = tx.Where("price_key >= ?", money.SortKey(*q.MinPrice))
	}
	if q.Ascending {
		tx = tx.Order("price_key ASC")
	} else {
		tx = tx.Order("price_key DESC")
	}
	tx = tx.Order("opened_at ASC").Order("id ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var orders []models.Order
	if err := tx.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to query resting orders: %w", err)
	}
	return orders, nil
}

// AccountOrders lists an account's orders, newest first.
func (r *Repository) AccountOrders(accountID uint, limit int) ([]models.Order, error) {
	var orders []models.Order
	tx := r.db.Where("account_id = ?", accountID).Order("opened_at DESC").Order("id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list account orders: %w", err)
	}
	return orders, nil
}

// PurgeClosedOrders physically deletes terminal orders closed before cutoff.
func (r *Repository) PurgeClosedOrders(cutoff time.Time) (int64, error) {
	terminal := []models.OrderStatus{models.StatusCompleted, models.StatusCancelled, models.StatusPartiallyCancelled}
	res := r.db.Unscoped().
		Where("status IN ? AND closed_at IS NOT NULL AND closed_at < ?", terminal, cutoff).
		Delete(&models.Order{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge closed orders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TradesSince lists a pair's trades executed at or after since, oldest first.
func (r *Repository) TradesSince(pairID uint, since time.Time) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.Where("pair_id = ? AND executed_at >= ?", pairID, since).
		Order("executed_at ASC").Order("id ASC").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// FeeBalance loads the fee accumulator of a currency.
func (r *Repository) FeeBalance(currencyID uint) (*models.FeeBalance, error) {
	var fb models.FeeBalance
	if err := r.db.Where("currency_id = ?", currencyID).First(&fb).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("fee balance of currency %d", currencyID))
	}
	return &fb, nil
}

// LatestCandle loads the most recent candle of a pair and period.
func (r *Repository) LatestCandle(pairID uint, period time.Duration) (*models.Candle, error) {
	var c models.Candle
	err := r.db.Where("pair_id = ? AND period = ?", pairID, period).
		Order("open_at DESC").
		First(&c).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("candle of pair %d", pairID))
	}
	return &c, nil
}

// Candles lists the newest candles of a pair and period, oldest first.
func (r *Repository) Candles(pairID uint, period time.Duration, limit int) ([]models.Candle, error) {
	var cs []models.Candle
	tx := r.db.Where("pair_id = ? AND period = ?", pairID, period).Order("open_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("failed to list candles: %w", err)
	}
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
	return cs, nil
}

// ElapsedCandles lists open candles whose period ended at or before now.
func (r *Repository) ElapsedCandles(now time.Time) ([]models.Candle, error) {
	var cs []models.Candle
	if err := r.db.Where("closed = ? AND close_at <= ?", false, now).Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("failed to list elapsed candles: %w", err)
	}
	return cs, nil
}

// DepositAddress loads the mapping of a daemon address.
func (r *Repository) DepositAddress(address string) (*models.DepositAddress, error) {
	var da models.DepositAddress
	if err := r.db.Where("address = ?", address).First(&da).Error; err != nil {
		return nil, translate(err, "deposit address "+address)
	}
	return &da, nil
}

// DepositAddresses lists the addresses issued to an account in a currency.
func (r *Repository) DepositAddresses(accountID, currencyID uint) ([]models.DepositAddress, error) {
	var das []models.DepositAddress
	err := r.db.Where("account_id = ? AND currency_id = ?", accountID, currencyID).Order("id").Find(&das).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit addresses: %w", err)
	}
	return das, nil
}

// DepositCredited reports whether a daemon transaction output has been credited.
func (r *Repository) DepositCredited(txid, address string) (bool, error) {
	var n int64
	err := r.db.Model(&models.Deposit{}).Where("tx_id = ? AND address = ?", txid, address).Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check deposit: %w", err)
	}
	return n > 0, nil
}

// Withdrawal loads a withdrawal.
func (r *Repository) Withdrawal(id uint) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.Load(&w, id); err != nil {
		return nil, err
	}
	return &w, nil
}
