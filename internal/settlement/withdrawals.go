package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"exchange-core/internal/database"
	"exchange-core/internal/fees"
	"exchange-core/internal/ledger"
	"exchange-core/internal/lock"
	"exchange-core/internal/market"
	"exchange-core/internal/models"
	"exchange-core/internal/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WithdrawRequest asks to send amount of a currency to an external address.
// The withdrawal fee is charged on top of amount.
type WithdrawRequest struct {
	AccountID  uint
	CurrencyID uint
	Address    string
	Amount     decimal.Decimal
}

// Withdrawals debits virtual wallets and pays out through the daemon.
type Withdrawals struct {
	repo    *database.Repository
	locks   *lock.Manager
	ledger  *ledger.Ledger
	fees    *fees.Collector
	client  Client
	minConf int
	logger  *zap.Logger
	now     func() time.Time
}

// NewWithdrawals creates the withdrawal service.
func NewWithdrawals(
	repo *database.Repository,
	locks *lock.Manager,
	ledger *ledger.Ledger,
	fees *fees.Collector,
	client Client,
	minConf int,
	logger *zap.Logger,
) *Withdrawals {
	return &Withdrawals{
		repo:    repo,
		locks:   locks,
		ledger:  ledger,
		fees:    fees,
		client:  client,
		minConf: minConf,
		logger:  logger.Named("withdrawals"),
		now:     time.Now,
	}
}

// Withdraw runs the whole withdrawal under the currency lock: the ledger
// debit and the PENDING record commit first, then the daemon is asked to
// send, then the record is marked SENT and the fee collected, or marked
// FAILED and the debit reversed when no transaction id was obtained.
func (w *Withdrawals) Withdraw(ctx context.Context, req WithdrawRequest) (*models.Withdrawal, error) {
	amount := money.Normalize(req.Amount)
	address := strings.TrimSpace(req.Address)

	currency, err := w.repo.WithContext(ctx).Currency(req.CurrencyID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, market.ErrCurrencyNotFound
	}
	if err != nil {
		return nil, err
	}
	switch {
	case !currency.Enabled:
		return nil, market.ErrCurrencyDisabled
	case !currency.IsCrypto():
		return nil, market.ErrWithdrawUnsupported
	case address == "":
		return nil, market.ErrInvalidAddress
	case !amount.IsPositive() || amount.LessThan(currency.MinWithdrawAmount):
		return nil, market.ErrMinimalWithdraw
	case !money.InRange(amount):
		return nil, market.ErrAmountOutOfRange
	}

	fee := money.Fee(amount, currency.WithdrawFeePercent)
	total := amount.Add(fee)
	l := w.logger.With(
		zap.Uint("account_id", req.AccountID),
		zap.String("currency", currency.Code),
		zap.Stringer("amount", amount),
		zap.Stringer("fee", fee),
	)

	// Held across the daemon round trip.
	release := w.locks.Acquire(lock.Currency(currency.ID), lock.Fee(currency.ID))
	defer release()

	reserve, err := w.client.GetConfirmedBalance(ctx, currency.WalletRef, w.minConf)
	if err != nil {
		l.Error("Failed to read daemon balance", zap.Error(err))
		return nil, err
	}
	if reserve.LessThan(amount) {
		l.Warn("Daemon balance cannot cover withdrawal", zap.Stringer("confirmed", reserve))
		return nil, ErrReserveShort
	}

	var record *models.Withdrawal
	err = w.repo.Transaction(ctx, func(tx *database.Repository) error {
		wallet, err := w.ledger.Wallet(tx, req.AccountID, currency.ID)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(total) {
			return market.ErrInsufficientFunds
		}
		if _, err := w.ledger.AddBalance(tx, wallet.ID, total.Neg()); err != nil {
			return err
		}
		record = &models.Withdrawal{
			Reference:  uuid.NewString(),
			AccountID:  req.AccountID,
			CurrencyID: currency.ID,
			WalletID:   wallet.ID,
			Address:    address,
			Amount:     amount,
			Fee:        fee,
			NetworkFee: decimal.Zero,
			Status:     models.WithdrawalPending,
		}
		return tx.Create(record)
	})
	if err != nil {
		if market.IsMarketError(err) {
			l.Info("Withdrawal rejected", zap.Error(err))
		}
		return nil, err
	}
	l = l.With(zap.String("reference", record.Reference))

	sent, sendErr := w.client.SendToAddress(ctx, currency.WalletRef, address, amount)
	if sendErr != nil {
		var se *Error
		if errors.As(sendErr, &se) && se.TxID != "" {
			// Funds may have left the wallet; the debit stands.
			l.Error("Withdrawal sent but unconfirmed", zap.String("txid", se.TxID), zap.Error(sendErr))
			if err := w.complete(ctx, record, &SentTransaction{TxID: se.TxID, Amount: amount, Fee: decimal.Zero}, sendErr); err != nil {
				return nil, errors.Join(sendErr, err)
			}
			return record, sendErr
		}

		l.Warn("Withdrawal failed, reversing debit", zap.Error(sendErr))
		if err := w.reverse(ctx, record, total, sendErr); err != nil {
			l.Error("Failed to reverse withdrawal debit", zap.Error(err))
			return nil, errors.Join(sendErr, err)
		}
		return record, sendErr
	}

	if err := w.complete(ctx, record, sent, nil); err != nil {
		l.Error("Failed to record sent withdrawal", zap.String("txid", sent.TxID), zap.Error(err))
		return nil, err
	}
	l.Info("Withdrawal sent",
		zap.String("txid", sent.TxID),
		zap.Stringer("network_fee", sent.Fee),
		zap.Bool("synthetic", sent.Synthetic))
	return record, nil
}

// complete marks the record SENT and collects the withdrawal fee.
func (w *Withdrawals) complete(ctx context.Context, record *models.Withdrawal, sent *SentTransaction, cause error) error {
	at := w.now().UTC()
	columns := map[string]any{
		"status":      models.WithdrawalSent,
		"tx_id":       sent.TxID,
		"network_fee": sent.Fee,
		"synthetic":   sent.Synthetic,
		"sent_at":     &at,
	}
	if cause != nil {
		columns["error"] = cause.Error()
	}
	// The send already happened; the outcome is recorded even if ctx ends.
	err := w.repo.Transaction(context.WithoutCancel(ctx), func(tx *database.Repository) error {
		if err := tx.Update(record, columns); err != nil {
			return err
		}
		return w.fees.Post(tx, record.CurrencyID, record.Fee)
	})
	if err != nil {
		return fmt.Errorf("complete withdrawal %s: %w", record.Reference, err)
	}
	record.Status = models.WithdrawalSent
	record.TxID = sent.TxID
	record.NetworkFee = sent.Fee
	record.Synthetic = sent.Synthetic
	record.SentAt = &at
	if cause != nil {
		record.Error = cause.Error()
	}
	return nil
}

// reverse marks the record FAILED and credits the debit back.
func (w *Withdrawals) reverse(ctx context.Context, record *models.Withdrawal, total decimal.Decimal, cause error) error {
	err := w.repo.Transaction(context.WithoutCancel(ctx), func(tx *database.Repository) error {
		if _, err := w.ledger.AddBalance(tx, record.WalletID, total); err != nil {
			return err
		}
		return tx.Update(record, map[string]any{
			"status": models.WithdrawalFailed,
			"error":  cause.Error(),
		})
	})
	if err != nil {
		return fmt.Errorf("reverse withdrawal %s: %w", record.Reference, err)
	}
	record.Status = models.WithdrawalFailed
	record.Error = cause.Error()
	return nil
}

// Withdrawal loads one withdrawal.
func (w *Withdrawals) Withdrawal(ctx context.Context, id uint) (*models.Withdrawal, error) {
	return w.repo.WithContext(ctx).Withdrawal(id)
}
