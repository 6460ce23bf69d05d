// Package broker publishes trade events to Kafka for downstream consumers.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"exchange-core/internal/config"
	"exchange-core/internal/market"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the part of kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TradeMessage is the wire form of a trade event.
type TradeMessage struct {
	PairID uint      `json:"pair_id"`
	Price  string    `json:"price"`
	Amount string    `json:"amount"`
	At     time.Time `json:"at"`
}

// Producer is a history.Sink writing one message per trade, keyed by pair so
// that a pair's trades stay ordered within a partition.
type Producer struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewProducer creates a producer for the configured brokers and topic.
func NewProducer(cfg config.Broker, logger *zap.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, logger)
}

// NewProducerWithWriter creates a producer on top of an existing writer.
func NewProducerWithWriter(w MessageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, logger: logger.Named("broker")}
}

// Publish implements history.Sink.
func (p *Producer) Publish(ctx context.Context, ev market.TradeEvent) error {
	value, err := json.Marshal(TradeMessage{
		PairID: ev.PairID,
		Price:  ev.Price.String(),
		Amount: ev.Amount.String(),
		At:     ev.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode trade event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(ev.PairID), 10)),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write trade event: %w", err)
	}
	p.logger.Debug("Published trade event", zap.Uint("pair_id", ev.PairID))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
