package market

import (
	"context"
	"time"

	"exchange-core/internal/database"
	"exchange-core/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetOpenOrders lists up to limit resting orders of one side of a pair, by
// price (ascending or descending) then by opening time. limit <= 0 lists all.
func (e *Engine) GetOpenOrders(ctx context.Context, pairID uint, side models.Side, limit int, ascending bool) ([]models.Order, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	return e.repo.WithContext(ctx).RestingOrders(database.BookQuery{
		PairID:    pairID,
		Side:      side,
		Ascending: ascending,
		Limit:     limit,
	})
}

// Level is the aggregated remaining amount resting at one price.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Orders int             `json:"orders"`
}

// Depth aggregates one side of the book into at most levels price levels,
// best price first. levels <= 0 returns every level.
func (e *Engine) Depth(ctx context.Context, pairID uint, side models.Side, levels int) ([]Level, error) {
	// Best bids are the highest, best asks the lowest.
	orders, err := e.GetOpenOrders(ctx, pairID, side, 0, side == models.SideSell)
	if err != nil {
		return nil, err
	}

	var out []Level
	for _, o := range orders {
		n := len(out)
		if n > 0 && out[n-1].Price.Equal(o.Price) {
			out[n-1].Amount = out[n-1].Amount.Add(o.Remaining())
			out[n-1].Orders++
			continue
		}
		if levels > 0 && n == levels {
			break
		}
		out = append(out, Level{Price: o.Price, Amount: o.Remaining(), Orders: 1})
	}
	return out, nil
}

// PurgeClosed deletes terminal orders closed more than retention ago.
func (e *Engine) PurgeClosed(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := e.now().UTC().Add(-retention)
	n, err := e.repo.WithContext(ctx).PurgeClosedOrders(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("Purged closed orders", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
