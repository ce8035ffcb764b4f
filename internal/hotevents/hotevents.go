// Package hotevents publishes hot-key lifecycle events to Kafka.
package hotevents

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/kafkaq"
)

type Kind string

const (
	Promoted      Kind = "promoted"
	Demoted       Kind = "demoted"
	Evicted       Kind = "evicted"
	RefreshFailed Kind = "refresh_failed"
)

type Event struct {
	Type     Kind      `json:"type"`
	Key      string    `json:"key"`
	QPS      float64   `json:"qps,omitempty"`
	Failures int       `json:"failures,omitempty"`
	TS       time.Time `json:"ts"`
}

// Sink receives lifecycle events. Implementations must not block.
type Sink interface {
	Publish(ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Publisher sends events to Kafka, keyed by cache key. Publish never blocks;
// events are dropped when the queue is full.
type Publisher struct {
	q *kafkaq.Queue[Event]
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	prod, err := kafkaq.NewAsyncProducer(brokers)
	if err != nil {
		return nil, fmt.Errorf("hotevents: %w", err)
	}
	return newPublisher(prod, topic, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	return &Publisher{q: kafkaq.New(prod, topic, queueSize, func(ev Event) string { return ev.Key }, log)}
}

func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	res := "queued"
	if !p.q.Offer(ev) {
		res = "dropped"
	}
	observability.ObserveEvent(string(ev.Type), res)
}

func (p *Publisher) Close() error {
	if err := p.q.Close(); err != nil {
		return fmt.Errorf("hotevents: %w", err)
	}
	return nil
}
