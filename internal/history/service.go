// Package history maintains market information derived from executed trades:
// OHLCV candles for every configured period and rolling pair statistics.
//
// Trade events are queued and applied by one consumer goroutine, so events of
// the same pair are applied in the order the matching engine committed them.
// History is best effort: a failed update is logged and never reaches the
// trade that produced it.
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"exchange-core/internal/database"
	"exchange-core/internal/lock"
	"exchange-core/internal/market"
	"exchange-core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sink receives every trade event after it has been applied.
type Sink interface {
	Publish(ctx context.Context, ev market.TradeEvent) error
}

// Service is the market info and history component.
type Service struct {
	repo    *database.Repository
	locks   *lock.Manager
	periods []time.Duration
	window  time.Duration
	sinks   []Sink
	logger  *zap.Logger

	events  chan market.TradeEvent
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Options configures a Service.
type Options struct {
	Periods []time.Duration
	// Window is the span of the rolling pair statistics.
	Window time.Duration
	Buffer int
	Sinks  []Sink
}

// NewService creates a history service. Call Start before publishing.
func NewService(repo *database.Repository, locks *lock.Manager, opts Options, logger *zap.Logger) *Service {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	return &Service{
		repo:    repo,
		locks:   locks,
		periods: opts.Periods,
		window:  opts.Window,
		sinks:   opts.Sinks,
		logger:  logger.Named("history"),
		events:  make(chan market.TradeEvent, opts.Buffer),
		stopped: make(chan struct{}),
	}
}

// Start consumes queued events until ctx is cancelled. Events still queued
// at that point are applied before the consumer exits.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting market history", zap.Durations("periods", s.periods))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Market history stopped")

		for {
			select {
			case ev := <-s.events:
				s.apply(context.Background(), ev)
			case <-ctx.Done():
				s.once.Do(func() { close(s.stopped) })
				for {
					select {
					case ev := <-s.events:
						s.apply(context.Background(), ev)
					default:
						return
					}
				}
			}
		}
	}()
}

// Wait blocks until the consumer started by Start has exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

// UpdateMarketInfo implements market.Publisher. It blocks while the queue is
// full and drops the event once the service has stopped.
func (s *Service) UpdateMarketInfo(ev market.TradeEvent) {
	select {
	case <-s.stopped:
		s.logger.Warn("Dropping trade event after shutdown", zap.Uint("pair_id", ev.PairID))
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.stopped:
		s.logger.Warn("Dropping trade event after shutdown", zap.Uint("pair_id", ev.PairID))
	}
}

func (s *Service) apply(ctx context.Context, ev market.TradeEvent) {
	l := s.logger.With(zap.Uint("pair_id", ev.PairID), zap.Stringer("price", ev.Price))
	if err := s.Apply(ctx, ev); err != nil {
		l.Error("Failed to update market info", zap.Error(err))
		return
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			l.Error("Failed to publish trade event", zap.Error(err))
		}
	}
}

// Apply updates the candles and statistics of the event's pair synchronously.
func (s *Service) Apply(ctx context.Context, ev market.TradeEvent) error {
	release := s.locks.Acquire(lock.Pair(ev.PairID))
	defer release()

	at := ev.At.UTC()
	return s.repo.Transaction(ctx, func(tx *database.Repository) error {
		for _, period := range s.periods {
			if err := s.updateCandle(tx, ev, period, at); err != nil {
				return err
			}
		}
		return s.updateStatistics(tx, ev.PairID, at)
	})
}

func (s *Service) updateCandle(tx *database.Repository, ev market.TradeEvent, period time.Duration, at time.Time) error {
	openAt := at.Truncate(period)

	latest, err := tx.LatestCandle(ev.PairID, period)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	if err == nil && latest.OpenAt.Equal(openAt) {
		if latest.Closed {
			s.logger.Warn("Trade arrived after its candle closed",
				zap.Uint("pair_id", ev.PairID),
				zap.Duration("period", period),
				zap.Time("open_at", openAt))
			return nil
		}
		return tx.Update(latest, map[string]any{
			"high":   decimal.Max(latest.High, ev.Price),
			"low":    decimal.Min(latest.Low, ev.Price),
			"close":  ev.Price,
			"volume": latest.Volume.Add(ev.Amount),
		})
	}
	if err == nil && latest.OpenAt.After(openAt) {
		s.logger.Warn("Trade older than the latest candle",
			zap.Uint("pair_id", ev.PairID),
			zap.Duration("period", period),
			zap.Time("at", at))
		return nil
	}
	if err == nil && !latest.Closed {
		if err := tx.Update(latest, map[string]any{"closed": true}); err != nil {
			return err
		}
	}

	return tx.Create(&models.Candle{
		PairID:  ev.PairID,
		Period:  period,
		OpenAt:  openAt,
		CloseAt: openAt.Add(period),
		Open:    ev.Price,
		High:    ev.Price,
		Low:     ev.Price,
		Close:   ev.Price,
		Volume:  ev.Amount,
	})
}

func (s *Service) updateStatistics(tx *database.Repository, pairID uint, at time.Time) error {
	pair, err := tx.Pair(pairID)
	if err != nil {
		return err
	}
	trades, err := tx.TradesSince(pairID, at.Add(-s.window))
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	high, low, volume := trades[0].Price, trades[0].Price, decimal.Zero
	for _, t := range trades {
		high = decimal.Max(high, t.Price)
		low = decimal.Min(low, t.Price)
		volume = volume.Add(t.Amount)
	}
	last := trades[len(trades)-1]
	executed := last.ExecutedAt.UTC()
	return tx.Update(pair, map[string]any{
		"last_price":    last.Price,
		"high_24h":      high,
		"low_24h":       low,
		"volume_24h":    volume,
		"last_trade_at": &executed,
	})
}

// CloseElapsed freezes every open candle whose period ended at or before now
// and returns how many were closed.
func (s *Service) CloseElapsed(ctx context.Context, now time.Time) (int, error) {
	elapsed, err := s.repo.WithContext(ctx).ElapsedCandles(now.UTC())
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range elapsed {
		c := &elapsed[i]
		release := s.locks.Acquire(lock.Pair(c.PairID))
		err := s.repo.WithContext(ctx).Update(c, map[string]any{"closed": true})
		release()
		if err != nil {
			return closed, err
		}
		closed++
	}
	if closed > 0 {
		s.logger.Debug("Closed elapsed candles", zap.Int("count", closed))
	}
	return closed, nil
}

// Candles lists up to limit of the newest candles of a pair, oldest first.
func (s *Service) Candles(ctx context.Context, pairID uint, period time.Duration, limit int) ([]models.Candle, error) {
	return s.repo.WithContext(ctx).Candles(pairID, period, limit)
}

// Periods returns the configured candle periods.
func (s *Service) Periods() []time.Duration {
	return s.periods
}
