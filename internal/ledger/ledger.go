// Package ledger implements the virtual wallet balance primitive.
//
// AddBalance never rejects a negative result: overdraft prevention belongs to
// callers, which check balances while holding the currency lock and inside the
// same transaction as the mutation.
package ledger

import (
	"errors"
	"fmt"

	"exchange-core/internal/database"
	"exchange-core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger mutates virtual wallet balances.
type Ledger struct {
	logger *zap.Logger
}

// New creates a ledger.
func New(logger *zap.Logger) *Ledger {
	return &Ledger{logger: logger.Named("ledger")}
}

// Wallet returns the wallet of an account in a currency, creating an empty one
// on first access.
func (l *Ledger) Wallet(repo *database.Repository, accountID, currencyID uint) (*models.VirtualWallet, error) {
	w, err := repo.WalletFor(accountID, currencyID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	w = &models.VirtualWallet{AccountID: accountID, CurrencyID: currencyID, Balance: decimal.Zero}
	if err := repo.Create(w); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a creation race outside the currency lock; the row exists now.
			return repo.WalletFor(accountID, currencyID)
		}
		return nil, err
	}
	l.logger.Debug("Created wallet",
		zap.Uint("account_id", accountID),
		zap.Uint("currency_id", currencyID),
		zap.Uint("wallet_id", w.ID))
	return w, nil
}

// AddBalance adds delta (negative for a debit) to a wallet and returns the new
// balance. The caller holds the wallet currency's lock for the whole
// transaction that repo belongs to.
func (l *Ledger) AddBalance(repo *database.Repository, walletID uint, delta decimal.Decimal) (decimal.Decimal, error) {
	w, err := repo.Wallet(walletID)
	if err != nil {
		return decimal.Zero, err
	}
	if delta.IsZero() {
		return w.Balance, nil
	}

	balance := w.Balance.Add(delta)
	if err := repo.Update(w, map[string]any{"balance": balance}); err != nil {
		return decimal.Zero, fmt.Errorf("add %s to wallet %d: %w", delta, walletID, err)
	}
	l.logger.Debug("Balance changed",
		zap.Uint("wallet_id", walletID),
		zap.Stringer("delta", delta),
		zap.Stringer("balance", balance))
	return balance, nil
}

// Balance returns the current balance of a wallet.
func (l *Ledger) Balance(repo *database.Repository, walletID uint) (decimal.Decimal, error) {
	w, err := repo.Wallet(walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Balances lists every wallet of an account.
func (l *Ledger) Balances(repo *database.Repository, accountID uint) ([]models.VirtualWallet, error) {
	return repo.Wallets(accountID)
}
