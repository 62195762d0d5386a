// Package kafka consumes run-change events and drops the cache entries they
// make stale. It runs as a consumer group member so horizontally scaled
// instances split the topic between them.
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

	"github.com/slopecraft/terrain-cache/internal/cache"
	"github.com/slopecraft/terrain-cache/internal/cache/keys"
	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/core/observability"
	"github.com/slopecraft/terrain-cache/internal/geo"
)

type Runner struct {
	log      *slog.Logger
	cfg      RunnerConfig
	cache    cache.Interface
	ms       *metricSet
	ver      *eventVersions
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

func New(cfg RunnerConfig, c cache.Interface, opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		log:    opts.Logger,
		cfg:    cfg,
		cache:  c,
		ms:     newMetricSet(opts.Register),
		ver:    newEventVersions(8192),
		assign: map[int32]struct{}{},
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("invalidation runner disabled")
		return nil
	}
	if r.cache == nil {
		return errors.New("kafka runner: cache dependency is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

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
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("kafka invalidation runner stopped")
}

func (r *Runner) Readiness() (ready bool, partitions []int32) {
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

func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		lag := time.Since(msg.Timestamp).Seconds()
		r.ms.lag.Set(lag)
		observability.SetInvalidationLagSeconds(lag)
	}

	var w WireEvent
	if err := json.Unmarshal(msg.Value, &w); err != nil {
		r.ms.events.WithLabelValues("error").Inc()
		return fmt.Errorf("decode: %w", err)
	}
	if w.RunID == "" && w.SourceAreaID == "" {
		r.ms.events.WithLabelValues("error").Inc()
		return errors.New("event has neither run_id nor source_area_id")
	}

	err := r.apply(ctx, w)
	r.observe(w.Op, err, time.Since(start))
	return err
}

func (r *Runner) observe(op string, err error, dur time.Duration) {
	if op == "" {
		op = "unknown"
	}
	if err != nil {
		r.ms.events.WithLabelValues("error").Inc()
	} else {
		r.ms.events.WithLabelValues("ok").Inc()
	}
	r.ms.handle.WithLabelValues(op).Observe(dur.Seconds())
}

func (r *Runner) apply(ctx context.Context, w WireEvent) error {
	if w.RunID != "" {
		return r.applyRun(ctx, w)
	}
	return r.applyArea(ctx, w)
}

// applyRun drops the run definition and the terrain results derived from
// it. Terrain entries are keyed by boundary fingerprint, so the stored run
// definition must be read back before it is deleted; without it the terrain
// entries are left to their TTL or an area-level event.
func (r *Runner) applyRun(ctx context.Context, w WireEvent) error {
	if !r.ver.advance("run:"+w.RunID, w.Version) {
		r.ms.actions.WithLabelValues("skip_version").Inc()
		return nil
	}

	var run struct {
		Boundary model.Boundary `json:"boundary"`
	}
	found, err := r.cache.Get(ctx, cache.NamespaceRuns, keys.Run(w.RunID), &run)
	if err != nil {
		return fmt.Errorf("load run %q: %w", w.RunID, err)
	}

	deleted := 0
	if found {
		fp, err := geo.Fingerprint(run.Boundary)
		if err != nil {
			return fmt.Errorf("fingerprint run %q: %w", w.RunID, err)
		}
		sizes := r.eventSizes(w)
		terrainKeys := make([]string, 0, len(sizes))
		for _, g := range sizes {
			terrainKeys = append(terrainKeys, keys.Terrain(fp, g))
		}
		if err := r.cache.Invalidate(ctx, cache.NamespaceTerrain, terrainKeys...); err != nil {
			return fmt.Errorf("invalidate terrain (%d keys): %w", len(terrainKeys), err)
		}
		deleted += len(terrainKeys)
	} else {
		r.log.Debug("run event without stored definition", "run_id", w.RunID)
	}

	if err := r.cache.Invalidate(ctx, cache.NamespaceRuns, keys.Run(w.RunID)); err != nil {
		return fmt.Errorf("invalidate run: %w", err)
	}
	r.ms.actions.WithLabelValues("delete").Add(float64(deleted + 1))
	return nil
}

// applyArea drops every cached artifact grouped under a source area: run
// definitions, terrain results and upstream agent responses.
func (r *Runner) applyArea(ctx context.Context, w WireEvent) error {
	if !r.ver.advance("area:"+w.SourceAreaID, w.Version) {
		r.ms.actions.WithLabelValues("skip_version").Inc()
		return nil
	}

	group := keys.Group(w.SourceAreaID)
	deleted := 0
	for _, ns := range []string{cache.NamespaceTerrain, cache.NamespaceRuns, cache.NamespaceAgents} {
		ks, err := r.cache.KeysForGroup(ctx, ns, group)
		if err != nil {
			return fmt.Errorf("keys for group %s/%s: %w", ns, group, err)
		}
		if len(ks) == 0 {
			continue
		}
		if err := r.cache.Invalidate(ctx, ns, ks...); err != nil {
			return fmt.Errorf("invalidate %s (%d keys): %w", ns, len(ks), err)
		}
		deleted += len(ks)
	}
	if deleted > 0 {
		r.ms.actions.WithLabelValues("delete").Add(float64(deleted))
	}
	return nil
}

func (r *Runner) eventSizes(w WireEvent) []model.GridSize {
	if len(w.GridSizes) == 0 {
		return model.GridSizes()
	}
	out := make([]model.GridSize, 0, len(w.GridSizes))
	for _, n := range w.GridSizes {
		g := model.GridSize(n)
		if g.Valid() {
			out = append(out, g)
		}
	}
	if len(out) == 0 {
		return model.GridSizes()
	}
	return out
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
