package kafka

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/kafkaq"
)

// Publisher announces local writes to peer instances. Notify never blocks;
// events are dropped when the queue is full.
type Publisher struct {
	origin string
	q      *kafkaq.Queue[WireEvent]
	now    func() time.Time
}

func NewPublisher(cfg InvalidationConfig, queueSize int, log *slog.Logger) (*Publisher, error) {
	prod, err := kafkaq.NewAsyncProducer(cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("invalidation: %w", err)
	}
	return newPublisher(prod, cfg, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, cfg InvalidationConfig, queueSize int, log *slog.Logger) *Publisher {
	return &Publisher{
		origin: cfg.Origin,
		q:      kafkaq.New(prod, cfg.Topic, queueSize, func(w WireEvent) string { return w.Key }, log),
		now:    time.Now,
	}
}

// Notify publishes a change of key. Versions are wall-clock nanoseconds so
// events from different writers stay ordered per key.
func (p *Publisher) Notify(key, op string) {
	now := p.now()
	ev := WireEvent{Key: key, Op: op, Version: uint64(now.UnixNano()), TS: now.UTC(), Origin: p.origin}
	if p.q.Offer(ev) {
		observability.ObserveInvalidation("published")
		return
	}
	observability.ObserveInvalidation("dropped")
}

func (p *Publisher) Close() error {
	if err := p.q.Close(); err != nil {
		return fmt.Errorf("invalidation: %w", err)
	}
	return nil
}
