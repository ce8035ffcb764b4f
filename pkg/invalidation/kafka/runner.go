// Package kafka propagates key changes between hot-key instances over a
// Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
)

var (
	errEmptyKey = errors.New("key is required")
	errBadOp    = errors.New("op must be set|delete")
)

// Invalidator drops the local copy of a key changed elsewhere. It reports
// whether the key was cached.
type Invalidator interface {
	InvalidateLocal(key, op string) bool
}

type Runner struct {
	log      *slog.Logger
	cfg      InvalidationConfig
	target   Invalidator
	ms       *metricSet
	ver      *keyVersions
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

func New(cfg InvalidationConfig, target Invalidator, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		target: target,
		ms:     newMetricSet(opts.Register),
		ver:    newKeyVersions(8192),
		assign: map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled")
		return nil
	}
	if r.target == nil {
		return errors.New("kafka runner: invalidation target is required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}
	r.run(ctx, group)
	return nil
}

func (r *Runner) run(ctx context.Context, group sarama.ConsumerGroup) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			claims := sess.Claims()
			r.assignMu.Lock()
			r.assigned.Store(true)
			r.assign = map[int32]struct{}{}
			for _, parts := range claims {
				for _, p := range parts {
					r.assign[p] = struct{}{}
				}
			}
			r.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			r.assignMu.Lock()
			r.assigned.Store(false)
			r.assign = map[int32]struct{}{}
			r.assignMu.Unlock()
		},
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("kafka invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

// Readiness reports whether the consumer currently owns partitions. A
// disabled runner is always ready.
func (r *Runner) Readiness() (ready bool, partitions []int32) {
	if !r.cfg.Enabled {
		return true, nil
	}
	if !r.assigned.Load() {
		return false, nil
	}
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	for p := range r.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// handleMessage never fails on a bad payload so one poison message cannot
// stall the partition.
func (r *Runner) handleMessage(_ context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		r.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var w WireEvent
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		observability.ObserveInvalidation("decode_error")
		r.log.Warn("invalidation decode failed", "offset", msg.Offset, "err", err)
		return nil
	}
	if err := w.Validate(); err != nil {
		observability.ObserveInvalidation("invalid")
		r.log.Warn("invalidation rejected", "offset", msg.Offset, "err", err)
		return nil
	}

	res := r.apply(w)
	observability.ObserveInvalidation(res)
	r.ms.proc.WithLabelValues(w.Op).Observe(time.Since(start).Seconds())
	return nil
}

func (r *Runner) apply(w WireEvent) string {
	if r.cfg.Origin != "" && w.Origin == r.cfg.Origin {
		r.ms.apply.WithLabelValues("skip_self").Inc()
		return "self"
	}
	if !r.ver.admit(w.Key, w.Version) {
		r.ms.apply.WithLabelValues("skip_version").Inc()
		return "duplicate"
	}
	if !r.target.InvalidateLocal(w.Key, w.Op) {
		r.ms.apply.WithLabelValues("not_cached").Inc()
		return "not_cached"
	}
	r.ms.apply.WithLabelValues("invalidate").Inc()
	r.log.Debug("invalidated local entry", "key", w.Key, "op", w.Op, "version", w.Version)
	return "applied"
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
