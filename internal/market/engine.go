// Package market is the matching engine: it reserves funds for inbound
// orders, crosses them against the resting book in price-time priority and
// settles every fill between virtual wallets.
//
// Every balance and order mutation of one operation happens while holding the
// pair's two currency locks (plus the quote fee lock) and inside one database
// transaction, so a fault mid-crossing leaves no partial write behind.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exchange-core/internal/database"
	"exchange-core/internal/fees"
	"exchange-core/internal/ledger"
	"exchange-core/internal/lock"
	"exchange-core/internal/models"
	"exchange-core/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeEvent describes one executed crossing step.
type TradeEvent struct {
	PairID uint
	Price  decimal.Decimal
	Amount decimal.Decimal
	At     time.Time
}

// Publisher receives trade events in commit order per pair.
type Publisher interface {
	UpdateMarketInfo(ev TradeEvent)
}

type nopPublisher struct{}

func (nopPublisher) UpdateMarketInfo(TradeEvent) {}

// OrderRequest is an inbound order before normalization.
type OrderRequest struct {
	AccountID uint
	PairID    uint
	Side      models.Side
	Amount    decimal.Decimal
	Price     decimal.Decimal
}

// Engine is the market manager.
type Engine struct {
	repo      *database.Repository
	locks     *lock.Manager
	ledger    *ledger.Ledger
	fees      *fees.Collector
	publisher Publisher
	policy    FeePolicy
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates a matching engine. A nil publisher drops trade events.
func NewEngine(
	repo *database.Repository,
	locks *lock.Manager,
	ledger *ledger.Ledger,
	fees *fees.Collector,
	publisher Publisher,
	policy FeePolicy,
	logger *zap.Logger,
) *Engine {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if policy == nil {
		policy = ExemptEither
	}
	return &Engine{
		repo:      repo,
		locks:     locks,
		ledger:    ledger,
		fees:      fees,
		publisher: publisher,
		policy:    policy,
		logger:    logger.Named("market"),
		now:       time.Now,
	}
}

// ExecuteOrder reserves funds for an order, crosses it against the book and
// leaves any unfilled remainder resting.
func (e *Engine) ExecuteOrder(ctx context.Context, req OrderRequest) (*models.Order, error) {
	if !req.Side.Valid() {
		return nil, ErrInvalidSide
	}
	amount := money.Normalize(req.Amount)
	price := money.Normalize(req.Price)

	repo := e.repo.WithContext(ctx)
	pair, err := e.tradablePair(repo, req.PairID)
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() || !money.InRange(price) {
		return nil, ErrInvalidPrice
	}
	if !amount.IsPositive() || amount.LessThan(pair.MinTradeAmount) {
		return nil, ErrMinimalAmount
	}
	required := money.RequiredTotal(money.Side(req.Side), amount, price, pair.TradingFeePercent)
	if !money.InRange(amount) || !money.InRange(required) {
		return nil, ErrAmountOutOfRange
	}

	l := e.logger.With(
		zap.Uint("account_id", req.AccountID),
		zap.Uint("pair_id", pair.ID),
		zap.String("side", string(req.Side)),
		zap.Stringer("amount", amount),
		zap.Stringer("price", price),
	)

	base, quote := pair.CurrencyIDs()
	release := e.locks.Acquire(lock.Currency(base), lock.Currency(quote), lock.Fee(quote))
	defer release()

	var (
		order  *models.Order
		events []TradeEvent
	)
	err = e.transact(ctx, "execute order", func(tx *database.Repository) error {
		var err error
		order, events, err = e.place(tx, pair, req.AccountID, req.Side, amount, price)
		return err
	})
	if err != nil {
		if IsMarketError(err) {
			l.Info("Order rejected", zap.Error(err))
		} else {
			l.Error("Order failed", zap.Error(err))
		}
		return nil, err
	}

	// Still under the currency locks: events of one pair leave in commit order.
	for _, ev := range events {
		e.publisher.UpdateMarketInfo(ev)
	}

	l.Info("Order executed",
		zap.Uint("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.Stringer("completed", order.Completed),
		zap.Int("trades", len(events)))
	return order, nil
}

// CancelOrder closes a resting order and returns its unused reservation.
func (e *Engine) CancelOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	repo := e.repo.WithContext(ctx)
	o, err := repo.Order(orderID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Terminal() {
		return nil, ErrAlreadyClosed
	}
	pair, err := repo.Pair(o.PairID)
	if err != nil {
		return nil, err
	}

	base, quote := pair.CurrencyIDs()
	release := e.locks.Acquire(lock.Currency(base), lock.Currency(quote))
	defer release()

	var cancelled *models.Order
	err = e.transact(ctx, "cancel order", func(tx *database.Repository) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		// Re-checked under the locks: a crossing may have completed it.
		if o.Terminal() {
			return ErrAlreadyClosed
		}
		if err := o.Cancel(e.now().UTC()); err != nil {
			return err
		}
		if err := e.releaseUnused(tx, o); err != nil {
			return err
		}
		if err := tx.Save(o); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Order cancelled",
		zap.Uint("order_id", cancelled.ID),
		zap.String("status", string(cancelled.Status)),
		zap.Stringer("completed", cancelled.Completed))
	return cancelled, nil
}

// Order loads one order.
func (e *Engine) Order(ctx context.Context, orderID uint) (*models.Order, error) {
	o, err := e.repo.WithContext(ctx).Order(orderID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (e *Engine) tradablePair(repo *database.Repository, pairID uint) (*models.TradingPair, error) {
	pair, err := repo.Pair(pairID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrPairNotFound
	}
	if err != nil {
		return nil, err
	}
	if !pair.Enabled {
		return nil, ErrPairDisabled
	}
	base, quote := pair.CurrencyIDs()
	for _, id := range []uint{base, quote} {
		c, err := repo.Currency(id)
		if err != nil {
			return nil, err
		}
		if !c.Enabled {
			return nil, ErrCurrencyDisabled
		}
	}
	return pair, nil
}

// place reserves the order's funds, persists it and crosses it.
func (e *Engine) place(
	tx *database.Repository,
	pair *models.TradingPair,
	accountID uint,
	side models.Side,
	amount, price decimal.Decimal,
) (*models.Order, []TradeEvent, error) {
	base, quote := pair.CurrencyIDs()
	srcCurrency, dstCurrency := quote, base
	if side == models.SideSell {
		srcCurrency, dstCurrency = base, quote
	}

	src, err := e.ledger.Wallet(tx, accountID, srcCurrency)
	if err != nil {
		return nil, nil, err
	}
	dst, err := e.ledger.Wallet(tx, accountID, dstCurrency)
	if err != nil {
		return nil, nil, err
	}

	required := money.RequiredTotal(money.Side(side), amount, price, pair.TradingFeePercent)
	if src.Balance.LessThan(required) {
		return nil, nil, ErrInsufficientFunds
	}
	if _, err := e.ledger.AddBalance(tx, src.ID, required.Neg()); err != nil {
		return nil, nil, err
	}

	now := e.now().UTC()
	order := &models.Order{
		AccountID:      accountID,
		PairID:         pair.ID,
		Side:           side,
		Status:         models.StatusOpen,
		Price:          price,
		Amount:         amount,
		Completed:      decimal.Zero,
		Total:          decimal.Zero,
		Fee:            decimal.Zero,
		Reserved:       required,
		FeePercent:     pair.TradingFeePercent,
		SourceWalletID: src.ID,
		DestWalletID:   dst.ID,
		OpenedAt:       now,
	}
	if err := tx.Create(order); err != nil {
		return nil, nil, err
	}

	events, err := e.cross(tx, pair, order, now)
	if err != nil {
		return nil, nil, err
	}
	return order, events, nil
}

// cross matches in against the opposite side of the book. Candidates are the
// price-compatible resting orders, best price first, earliest first on ties.
func (e *Engine) cross(tx *database.Repository, pair *models.TradingPair, in *models.Order, now time.Time) ([]TradeEvent, error) {
	q := database.BookQuery{PairID: pair.ID, Side: in.Side.Opposite()}
	if in.Side == models.SideBuy {
		q.Ascending = true
		q.MaxPrice = &in.Price
	} else {
		q.MinPrice = &in.Price
	}
	candidates, err := tx.RestingOrders(q)
	if err != nil {
		return nil, err
	}

	accounts := newAccountCache(tx)
	var (
		events    []TradeEvent
		collected = decimal.Zero
	)
	for i := range candidates {
		if in.Remaining().IsZero() {
			break
		}
		ev, fee, err := e.trade(tx, accounts, in, &candidates[i], now)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
		collected = collected.Add(fee)
	}

	if err := tx.Save(in); err != nil {
		return nil, err
	}
	_, quote := pair.CurrencyIDs()
	if err := e.fees.Post(tx, quote, collected); err != nil {
		return nil, err
	}
	return events, nil
}

// trade executes one crossing step at the resting order's price.
func (e *Engine) trade(
	tx *database.Repository,
	accounts *accountCache,
	in, rest *models.Order,
	now time.Time,
) (TradeEvent, decimal.Decimal, error) {
	amount := money.Min(rest.Remaining(), in.Remaining())
	if !amount.IsPositive() {
		return TradeEvent{}, decimal.Zero, e.violation("size trade",
			fmt.Errorf("order %d has %s remaining", rest.ID, rest.Remaining()))
	}
	price := rest.Price
	total := money.Notional(amount, price)

	buy, sell := in, rest
	if in.Side == models.SideSell {
		buy, sell = rest, in
	}
	buyer, err := accounts.get(buy.AccountID)
	if err != nil {
		return TradeEvent{}, decimal.Zero, err
	}
	seller, err := accounts.get(sell.AccountID)
	if err != nil {
		return TradeEvent{}, decimal.Zero, err
	}

	buyerFee, sellerFee := decimal.Zero, decimal.Zero
	if !e.policy.Exempt(buyer, seller) {
		buyerFee = money.Fee(total, buy.FeePercent)
		sellerFee = money.Fee(total, sell.FeePercent)
	}

	if err := buy.Fill(amount, total, buyerFee, now); err != nil {
		return TradeEvent{}, decimal.Zero, e.violation("fill buy order", err)
	}
	if err := sell.Fill(amount, total, sellerFee, now); err != nil {
		return TradeEvent{}, decimal.Zero, e.violation("fill sell order", err)
	}

	// The buyer's notional and fee were reserved at submission.
	if _, err := e.ledger.AddBalance(tx, buy.DestWalletID, amount); err != nil {
		return TradeEvent{}, decimal.Zero, err
	}
	if _, err := e.ledger.AddBalance(tx, sell.DestWalletID, total.Sub(sellerFee)); err != nil {
		return TradeEvent{}, decimal.Zero, err
	}
	for _, o := range []*models.Order{buy, sell} {
		if o.Status == models.StatusCompleted {
			if err := e.releaseUnused(tx, o); err != nil {
				return TradeEvent{}, decimal.Zero, err
			}
		}
	}
	if err := tx.Save(rest); err != nil {
		return TradeEvent{}, decimal.Zero, err
	}

	record := &models.Trade{
		PairID:      in.PairID,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Price:       price,
		Amount:      amount,
		Total:       total,
		BuyerFee:    buyerFee,
		SellerFee:   sellerFee,
		ExecutedAt:  now,
	}
	if err := tx.Create(record); err != nil {
		return TradeEvent{}, decimal.Zero, err
	}

	e.logger.Debug("Trade executed",
		zap.Uint("trade_id", record.ID),
		zap.Uint("buy_order_id", buy.ID),
		zap.Uint("sell_order_id", sell.ID),
		zap.Stringer("price", price),
		zap.Stringer("amount", amount))

	return TradeEvent{PairID: in.PairID, Price: price, Amount: amount, At: now}, buyerFee.Add(sellerFee), nil
}

// releaseUnused returns what is left of a closed order's reservation to its
// source wallet.
func (e *Engine) releaseUnused(tx *database.Repository, o *models.Order) error {
	unused := o.Unused()
	if unused.IsNegative() {
		return e.violation("release reservation",
			fmt.Errorf("order %d spent %s of %s reserved", o.ID, o.Spent(), o.Reserved))
	}
	if unused.IsZero() {
		return nil
	}
	_, err := e.ledger.AddBalance(tx, o.SourceWalletID, unused)
	return err
}

// violation logs a broken invariant with its stack and converts it to
// ErrInternal.
func (e *Engine) violation(op string, err error) error {
	e.logger.Error("Matching invariant violated", zap.String("op", op), zap.Error(err), zap.Stack("stack"))
	return fmt.Errorf("%s: %v: %w", op, err, ErrInternal)
}

// transact runs fn in one transaction. A panic inside fn rolls the
// transaction back and is reported as ErrInternal.
func (e *Engine) transact(ctx context.Context, op string, fn func(tx *database.Repository) error) error {
	return e.repo.Transaction(ctx, func(tx *database.Repository) (err error) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("Fault while applying market mutations",
					zap.String("op", op), zap.Any("panic", r), zap.Stack("stack"))
				err = fmt.Errorf("%s: %v: %w", op, r, ErrInternal)
			}
		}()
		return fn(tx)
	})
}

type accountCache struct {
	tx    *database.Repository
	known map[uint]*models.Account
}

func newAccountCache(tx *database.Repository) *accountCache {
	return &accountCache{tx: tx, known: make(map[uint]*models.Account)}
}

// get loads an account; accounts the core has never seen carry no privileges.
func (c *accountCache) get(id uint) (*models.Account, error) {
	if a, ok := c.known[id]; ok {
		return a, nil
	}
	a, err := c.tx.Account(id)
	if errors.Is(err, database.ErrNotFound) {
		a, err = &models.Account{}, nil
		a.ID = id
	}
	if err != nil {
		return nil, err
	}
	c.known[id] = a
	return a, nil
}
