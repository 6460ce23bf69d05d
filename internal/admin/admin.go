// Package admin implements the configuration operations on currencies,
// trading pairs and accounts. The matching engine and settlement read these
// settings at their decision points.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"exchange-core/internal/database"
	"exchange-core/internal/lock"
	"exchange-core/internal/models"
	"exchange-core/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidFee      = errors.New("fee percent must be in [0, 100)")
	ErrInvalidAmount   = errors.New("amount must not be negative")
	ErrInvalidCode     = errors.New("currency code is required")
	ErrInvalidClass    = errors.New("unknown currency class")
	ErrSameCurrency    = errors.New("pair currencies must differ")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidName     = errors.New("account name is required")
	ErrCurrencyMissing = errors.New("currency not found")
)

var hundred = decimal.NewFromInt(100)

// CurrencySpec describes a new currency.
type CurrencySpec struct {
	Code               string
	Class              models.CurrencyClass
	WalletRef          string
	WithdrawFeePercent decimal.Decimal
	MinWithdrawAmount  decimal.Decimal
	Enabled            bool
}

// PairSpec describes a new trading pair.
type PairSpec struct {
	BaseCurrencyID    uint
	QuoteCurrencyID   uint
	MinTradeAmount    decimal.Decimal
	TradingFeePercent decimal.Decimal
	Enabled           bool
}

// Service applies administrative changes.
type Service struct {
	repo   *database.Repository
	locks  *lock.Manager
	logger *zap.Logger
}

// NewService creates the admin service.
func NewService(repo *database.Repository, locks *lock.Manager, logger *zap.Logger) *Service {
	return &Service{repo: repo, locks: locks, logger: logger.Named("admin")}
}

func validFee(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThanOrEqual(hundred) {
		return ErrInvalidFee
	}
	return nil
}

func validAmount(a decimal.Decimal) error {
	if a.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func created(err error, what string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", what, ErrAlreadyExists)
	}
	return err
}

// CreateAccount registers an account known to the core.
func (s *Service) CreateAccount(ctx context.Context, name string, feeExempt bool) (*models.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	a := &models.Account{Name: name, FeeExempt: feeExempt}
	if err := s.repo.WithContext(ctx).Create(a); err != nil {
		return nil, created(err, "account "+name)
	}
	s.logger.Info("Created account", zap.Uint("account_id", a.ID), zap.String("name", name), zap.Bool("fee_exempt", feeExempt))
	return a, nil
}

// SetFeeExempt grants or revokes the zero-fee privilege of an account.
func (s *Service) SetFeeExempt(ctx context.Context, accountID uint, exempt bool) error {
	repo := s.repo.WithContext(ctx)
	a, err := repo.Account(accountID)
	if err != nil {
		return err
	}
	if err := repo.Update(a, map[string]any{"fee_exempt": exempt}); err != nil {
		return err
	}
	s.logger.Info("Changed fee exemption", zap.Uint("account_id", accountID), zap.Bool("fee_exempt", exempt))
	return nil
}

// CreateCurrency registers a currency.
func (s *Service) CreateCurrency(ctx context.Context, spec CurrencySpec) (*models.Currency, error) {
	code := strings.ToUpper(strings.TrimSpace(spec.Code))
	if code == "" {
		return nil, ErrInvalidCode
	}
	class := spec.Class
	if class == "" {
		class = models.ClassVirtual
	}
	if class != models.ClassCrypto && class != models.ClassVirtual {
		return nil, ErrInvalidClass
	}
	if err := validFee(spec.WithdrawFeePercent); err != nil {
		return nil, err
	}
	if err := validAmount(spec.MinWithdrawAmount); err != nil {
		return nil, err
	}

	c := &models.Currency{
		Code:               code,
		Enabled:            spec.Enabled,
		WithdrawFeePercent: money.Normalize(spec.WithdrawFeePercent),
		MinWithdrawAmount:  money.Normalize(spec.MinWithdrawAmount),
		Class:              class,
		WalletRef:          spec.WalletRef,
	}
	if err := s.repo.WithContext(ctx).Create(c); err != nil {
		return nil, created(err, "currency "+code)
	}
	s.logger.Info("Created currency", zap.Uint("currency_id", c.ID), zap.String("code", code), zap.String("class", string(class)))
	return c, nil
}

// CreatePair registers a trading pair between two distinct existing currencies.
func (s *Service) CreatePair(ctx context.Context, spec PairSpec) (*models.TradingPair, error) {
	if spec.BaseCurrencyID == spec.QuoteCurrencyID {
		return nil, ErrSameCurrency
	}
	if err := validFee(spec.TradingFeePercent); err != nil {
		return nil, err
	}
	if err := validAmount(spec.MinTradeAmount); err != nil {
		return nil, err
	}
	repo := s.repo.WithContext(ctx)
	for _, id := range []uint{spec.BaseCurrencyID, spec.QuoteCurrencyID} {
		if _, err := repo.Currency(id); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, fmt.Errorf("currency %d: %w", id, ErrCurrencyMissing)
			}
			return nil, err
		}
	}

	p := &models.TradingPair{
		BaseCurrencyID:    spec.BaseCurrencyID,
		QuoteCurrencyID:   spec.QuoteCurrencyID,
		Enabled:           spec.Enabled,
		MinTradeAmount:    money.Normalize(spec.MinTradeAmount),
		TradingFeePercent: money.Normalize(spec.TradingFeePercent),
	}
	if err := repo.Create(p); err != nil {
		return nil, created(err, "pair")
	}
	s.logger.Info("Created trading pair",
		zap.Uint("pair_id", p.ID),
		zap.Uint("base_currency_id", p.BaseCurrencyID),
		zap.Uint("quote_currency_id", p.QuoteCurrencyID))
	return p, nil
}

func (s *Service) updateCurrency(ctx context.Context, id uint, columns map[string]any) error {
	release := s.locks.Acquire(lock.Currency(id))
	defer release()

	repo := s.repo.WithContext(ctx)
	c, err := repo.Currency(id)
	if err != nil {
		return err
	}
	if err := repo.Update(c, columns); err != nil {
		return err
	}
	s.logger.Info("Updated currency", zap.Uint("currency_id", id), zap.Any("changes", columns))
	return nil
}

func (s *Service) updatePair(ctx context.Context, id uint, columns map[string]any) error {
	release := s.locks.Acquire(lock.Pair(id))
	defer release()

	repo := s.repo.WithContext(ctx)
	p, err := repo.Pair(id)
	if err != nil {
		return err
	}
	if err := repo.Update(p, columns); err != nil {
		return err
	}
	s.logger.Info("Updated trading pair", zap.Uint("pair_id", id), zap.Any("changes", columns))
	return nil
}

// SetCurrencyEnabled enables or disables trading and settlement of a currency.
func (s *Service) SetCurrencyEnabled(ctx context.Context, id uint, enabled bool) error {
	return s.updateCurrency(ctx, id, map[string]any{"enabled": enabled})
}

// SetWithdrawFee sets the withdrawal fee percent of a currency.
func (s *Service) SetWithdrawFee(ctx context.Context, id uint, pct decimal.Decimal) error {
	if err := validFee(pct); err != nil {
		return err
	}
	return s.updateCurrency(ctx, id, map[string]any{"withdraw_fee_percent": money.Normalize(pct)})
}

// SetMinWithdrawAmount sets the minimal withdrawal amount of a currency.
func (s *Service) SetMinWithdrawAmount(ctx context.Context, id uint, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	return s.updateCurrency(ctx, id, map[string]any{"min_withdraw_amount": money.Normalize(amount)})
}

// SetPairEnabled enables or disables order entry on a pair.
func (s *Service) SetPairEnabled(ctx context.Context, id uint, enabled bool) error {
	return s.updatePair(ctx, id, map[string]any{"enabled": enabled})
}

// SetTradingFee sets the fee percent applied to orders submitted from now on.
func (s *Service) SetTradingFee(ctx context.Context, id uint, pct decimal.Decimal) error {
	if err := validFee(pct); err != nil {
		return err
	}
	return s.updatePair(ctx, id, map[string]any{"trading_fee_percent": money.Normalize(pct)})
}

// SetMinTradeAmount sets the minimal order amount of a pair.
func (s *Service) SetMinTradeAmount(ctx context.Context, id uint, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	return s.updatePair(ctx, id, map[string]any{"min_trade_amount": money.Normalize(amount)})
}

// Currencies lists every currency.
func (s *Service) Currencies(ctx context.Context) ([]models.Currency, error) {
	return s.repo.WithContext(ctx).Currencies()
}

// Pairs lists every trading pair.
func (s *Service) Pairs(ctx context.Context) ([]models.TradingPair, error) {
	return s.repo.WithContext(ctx).Pairs()
}
