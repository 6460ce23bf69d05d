// Package fees accumulates the trading and withdrawal fees collected by the
// exchange, one running total per currency.
package fees

import (
	"context"
	"errors"
	"fmt"

	"exchange-core/internal/database"
	"exchange-core/internal/lock"
	"exchange-core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Collector owns the per-currency fee accumulators.
type Collector struct {
	repo   *database.Repository
	locks  *lock.Manager
	logger *zap.Logger
}

// NewCollector creates a fee collector.
func NewCollector(repo *database.Repository, locks *lock.Manager, logger *zap.Logger) *Collector {
	return &Collector{repo: repo, locks: locks, logger: logger.Named("fees")}
}

// Submit adds amount to a currency's accumulator under the currency's fee
// lock, in a transaction of its own.
func (c *Collector) Submit(ctx context.Context, currencyID uint, amount decimal.Decimal) error {
	release := c.locks.Acquire(lock.Fee(currencyID))
	defer release()

	return c.repo.Transaction(ctx, func(tx *database.Repository) error {
		return c.Post(tx, currencyID, amount)
	})
}

// Post adds amount to a currency's accumulator inside the caller's
// transaction. The caller holds lock.Fee(currencyID) until that transaction
// ends.
func (c *Collector) Post(tx *database.Repository, currencyID uint, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative fee %s for currency %d", amount, currencyID)
	}
	if amount.IsZero() {
		return nil
	}

	fb, err := tx.FeeBalance(currencyID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		fb = &models.FeeBalance{CurrencyID: currencyID, Amount: amount}
		if err := tx.Create(fb); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		total := fb.Amount.Add(amount)
		if err := tx.Update(fb, map[string]any{"amount": total}); err != nil {
			return err
		}
	}

	c.logger.Debug("Fee collected", zap.Uint("currency_id", currencyID), zap.Stringer("amount", amount))
	return nil
}

// Collected returns the running total of a currency.
func (c *Collector) Collected(ctx context.Context, currencyID uint) (decimal.Decimal, error) {
	fb, err := c.repo.WithContext(ctx).FeeBalance(currencyID)
	if errors.Is(err, database.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return fb.Amount, nil
}
