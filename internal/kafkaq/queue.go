// Package kafkaq feeds JSON messages to a sarama async producer from a
// bounded queue so that callers on the hot path never block on Kafka.
package kafkaq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
)

// NewAsyncProducer returns an async producer that reports errors only.
func NewAsyncProducer(brokers []string) (sarama.AsyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create async producer: %w", err)
	}
	return prod, nil
}

type Queue[T any] struct {
	topic string
	log   *slog.Logger
	prod  sarama.AsyncProducer
	keyOf func(T) string

	mu      sync.RWMutex
	closed  bool
	items   chan T
	stopped chan struct{}
	once    sync.Once
	closeEr error
}

// New starts the pump goroutines. keyOf picks the partition key of an item.
func New[T any](prod sarama.AsyncProducer, topic string, size int, keyOf func(T) string, log *slog.Logger) *Queue[T] {
	if size <= 0 {
		size = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	q := &Queue[T]{
		topic:   topic,
		log:     log.With("topic", topic),
		prod:    prod,
		keyOf:   keyOf,
		items:   make(chan T, size),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(q.stopped)
		for it := range q.items {
			b, err := json.Marshal(it)
			if err != nil {
				q.log.Error("kafka marshal error", "err", err)
				continue
			}
			q.prod.Input() <- &sarama.ProducerMessage{
				Topic: q.topic,
				Key:   sarama.StringEncoder(q.keyOf(it)),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range q.prod.Errors() {
			if err != nil {
				q.log.Warn("kafka producer error", "err", err)
			}
		}
	}()
	return q
}

// Offer enqueues it and reports false when the queue is full or closed.
func (q *Queue[T]) Offer(it T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.items <- it:
		return true
	default:
		return false
	}
}

// Close flushes queued items into the producer and closes it. Safe to call twice.
func (q *Queue[T]) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.items)
		q.mu.Unlock()

		<-q.stopped
		if err := q.prod.Close(); err != nil {
			q.closeEr = fmt.Errorf("close producer: %w", err)
		}
	})
	return q.closeEr
}
