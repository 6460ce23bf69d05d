package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"exchange-core/internal/database"
	"exchange-core/internal/ledger"
	"exchange-core/internal/lock"
	"exchange-core/internal/market"
	"exchange-core/internal/models"
	"exchange-core/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxReconcilePages bounds how far back one pass pages through a wallet's
// history.
const maxReconcilePages = 100

// Deposits issues receiving addresses and credits confirmed incoming
// transactions to virtual wallets.
type Deposits struct {
	repo    *database.Repository
	locks   *lock.Manager
	ledger  *ledger.Ledger
	client  Client
	minConf int
	batch   int
	logger  *zap.Logger

	mu        sync.RWMutex
	confirmed map[uint]decimal.Decimal
}

// NewDeposits creates the deposit service. batch is the page size used when
// listing daemon transactions during reconciliation.
func NewDeposits(
	repo *database.Repository,
	locks *lock.Manager,
	ledger *ledger.Ledger,
	client Client,
	minConf, batch int,
	logger *zap.Logger,
) *Deposits {
	if batch <= 0 {
		batch = 100
	}
	return &Deposits{
		repo:      repo,
		locks:     locks,
		ledger:    ledger,
		client:    client,
		minConf:   minConf,
		batch:     batch,
		logger:    logger.Named("deposits"),
		confirmed: make(map[uint]decimal.Decimal),
	}
}

// IssueAddress generates a new daemon address for an account's wallet in a
// crypto currency.
func (d *Deposits) IssueAddress(ctx context.Context, accountID, currencyID uint) (*models.DepositAddress, error) {
	repo := d.repo.WithContext(ctx)
	currency, err := repo.Currency(currencyID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, market.ErrCurrencyNotFound
	}
	if err != nil {
		return nil, err
	}
	if !currency.Enabled {
		return nil, market.ErrCurrencyDisabled
	}
	if !currency.IsCrypto() {
		return nil, market.ErrWithdrawUnsupported
	}

	wallet, err := d.ledger.Wallet(repo, accountID, currencyID)
	if err != nil {
		return nil, err
	}

	release := d.locks.Acquire(lock.Wallet(wallet.ID))
	defer release()

	address, err := d.client.GenerateAddress(ctx, currency.WalletRef)
	if err != nil {
		d.logger.Error("Failed to generate deposit address",
			zap.Uint("account_id", accountID),
			zap.String("currency", currency.Code),
			zap.Error(err))
		return nil, err
	}

	da := &models.DepositAddress{
		AccountID:  accountID,
		CurrencyID: currencyID,
		WalletID:   wallet.ID,
		Address:    address,
	}
	if err := repo.Create(da); err != nil {
		return nil, err
	}
	d.logger.Info("Issued deposit address",
		zap.Uint("account_id", accountID),
		zap.String("currency", currency.Code),
		zap.String("address", address))
	return da, nil
}

// Addresses lists the addresses issued to an account in a currency.
func (d *Deposits) Addresses(ctx context.Context, accountID, currencyID uint) ([]models.DepositAddress, error) {
	return d.repo.WithContext(ctx).DepositAddresses(accountID, currencyID)
}

// ConfirmedBalance returns the last confirmed daemon balance successfully read
// for a currency.
func (d *Deposits) ConfirmedBalance(currencyID uint) (decimal.Decimal, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.confirmed[currencyID]
	return b, ok
}

// Reconcile reloads every enabled crypto currency from the daemon and credits
// deposits not seen before. A currency that fails keeps its cached balance;
// the failures are logged and returned together.
func (d *Deposits) Reconcile(ctx context.Context) (int, error) {
	currencies, err := d.repo.WithContext(ctx).CryptoCurrencies()
	if err != nil {
		return 0, err
	}

	var (
		credited int
		errs     []error
	)
	for i := range currencies {
		c := &currencies[i]
		n, err := d.reconcileCurrency(ctx, c)
		credited += n
		if err != nil {
			d.logger.Error("Reconciliation failed, keeping last known state",
				zap.String("currency", c.Code),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("reconcile %s: %w", c.Code, err))
		}
	}
	return credited, errors.Join(errs...)
}

func (d *Deposits) reconcileCurrency(ctx context.Context, c *models.Currency) (int, error) {
	balance, err := d.client.GetConfirmedBalance(ctx, c.WalletRef, d.minConf)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.confirmed[c.ID] = balance
	d.mu.Unlock()

	txs, err := d.uncredited(ctx, c)
	if err != nil {
		return 0, err
	}

	release := d.locks.Acquire(lock.Currency(c.ID))
	defer release()

	credited := 0
	for _, t := range txs {
		if t.Category != CategoryReceive || t.Confirmations < d.minConf || !t.Amount.IsPositive() {
			continue
		}
		ok, err := d.credit(ctx, c, t)
		if err != nil {
			return credited, err
		}
		if ok {
			credited++
		}
	}
	return credited, nil
}

// uncredited pages back through the wallet's history, newest first, and
// returns the receives not yet booked. Paging stops at a short page or at the
// first page holding an already credited receive, since everything older was
// seen by an earlier pass.
func (d *Deposits) uncredited(ctx context.Context, c *models.Currency) ([]Transaction, error) {
	repo := d.repo.WithContext(ctx)
	var out []Transaction
	for page := 0; page < maxReconcilePages; page++ {
		txs, err := d.client.ListTransactions(ctx, c.WalletRef, d.batch, page*d.batch)
		if err != nil {
			return nil, err
		}
		reached := false
		for _, t := range txs {
			if t.Category != CategoryReceive {
				continue
			}
			seen, err := repo.DepositCredited(t.TxID, t.Address)
			if err != nil {
				return nil, err
			}
			if seen {
				reached = true
				continue
			}
			out = append(out, t)
		}
		if reached || len(txs) < d.batch {
			return out, nil
		}
	}
	d.logger.Warn("Reconciliation stopped at page limit",
		zap.String("currency", c.Code),
		zap.Int("pages", maxReconcilePages))
	return out, nil
}

// credit books one confirmed receive once. The caller holds the currency lock.
func (d *Deposits) credit(ctx context.Context, c *models.Currency, t Transaction) (bool, error) {
	l := d.logger.With(zap.String("currency", c.Code), zap.String("txid", t.TxID), zap.String("address", t.Address))
	amount := money.Normalize(t.Amount)

	var credited bool
	err := d.repo.Transaction(ctx, func(tx *database.Repository) error {
		seen, err := tx.DepositCredited(t.TxID, t.Address)
		if err != nil || seen {
			return err
		}
		da, err := tx.DepositAddress(t.Address)
		if errors.Is(err, database.ErrNotFound) {
			l.Warn("Deposit to unknown address")
			return nil
		}
		if err != nil {
			return err
		}
		if da.CurrencyID != c.ID {
			l.Warn("Deposit address belongs to another currency", zap.Uint("address_currency_id", da.CurrencyID))
			return nil
		}

		if err := tx.Create(&models.Deposit{
			TxID:          t.TxID,
			Address:       t.Address,
			AccountID:     da.AccountID,
			CurrencyID:    c.ID,
			Amount:        amount,
			Confirmations: t.Confirmations,
		}); err != nil {
			return err
		}
		if _, err := d.ledger.AddBalance(tx, da.WalletID, amount); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if credited {
		l.Info("Credited deposit", zap.Stringer("amount", amount))
	}
	return credited, nil
}
