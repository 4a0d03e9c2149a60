package indexmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sushant-115/memindex/config"
	"github.com/sushant-115/memindex/core/history"
	"github.com/sushant-115/memindex/core/indexing/allocator"
	"github.com/sushant-115/memindex/core/indexing/btree"
	internaltelemetry "github.com/sushant-115/memindex/internal/telemetry"
	zaplogger "github.com/sushant-115/memindex/pkg/logger"
	"github.com/sushant-115/memindex/pkg/telemetry"
)

var _ IndexManager[string] = (*BTreeIndexManager[string])(nil)

// BTreeIndexManager owns one tree together with its history and address
// allocator, and serializes access to them: one writer or many readers.
type BTreeIndexManager[V any] struct {
	mu      sync.RWMutex
	tree    *btree.BTree[V]
	history *history.CheckpointManager[V]
	alloc   *allocator.AddressAllocator

	// cache maps "generation/key" to the entry Search returned. Every
	// mutation bumps generation, so older keys are never read again and age
	// out of the cache.
	cache      *ristretto.Cache[string, btree.Entry[V]]
	generation uint64

	tracer      trace.Tracer
	metrics     *internaltelemetry.IndexMetrics
	gauges      metric.Registration
	serviceName string
	logger      *zap.Logger
}

// NewBTreeIndexManager builds an empty index from cfg. A nil tel disables
// tracing and metrics; a nil logger disables logging.
func NewBTreeIndexManager[V any](cfg config.IndexConfig, tel *telemetry.Telemetry, logger *zap.Logger) (*BTreeIndexManager[V], error) {
	if tel == nil {
		tel = telemetry.Noop()
	}
	logger = zaplogger.OrNop(logger).Named("btree_indexmanager")

	codec, err := btree.NewKeyCodec(cfg.KeyWidth, cfg.Locale)
	if err != nil {
		return nil, err
	}
	tree, err := btree.NewBTree[V](cfg.Order, codec, logger.Named("btree"))
	if err != nil {
		return nil, err
	}
	hist, err := history.NewCheckpointManager(tree, cfg.CheckpointInterval, logger.Named("history"))
	if err != nil {
		return nil, err
	}
	alloc := allocator.New(allocator.Config{
		Space:  cfg.AddressSpace,
		Seed:   cfg.AddressSeed,
		Format: codec.FormatNumber,
	}, logger.Named("allocator"))

	metrics, err := internaltelemetry.NewIndexMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create index metrics: %w", err)
	}

	m := &BTreeIndexManager[V]{
		tree:        tree,
		history:     hist,
		alloc:       alloc,
		tracer:      tel.Tracer,
		metrics:     metrics,
		serviceName: "btree_indexmanager",
		logger:      logger,
	}

	if cfg.CacheEntries > 0 {
		m.cache, err = ristretto.NewCache(&ristretto.Config[string, btree.Entry[V]]{
			NumCounters: cfg.CacheEntries * 10,
			MaxCost:     cfg.CacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create read cache: %w", err)
		}
	}

	m.gauges, err = internaltelemetry.ObserveTree(tel.Meter, m.stats)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to register tree gauges: %w", err)
	}

	logger.Info("index ready",
		zap.Int("order", tree.Order()),
		zap.Int("checkpointInterval", hist.Interval()),
		zap.Int("keyWidth", codec.Width()),
		zap.String("locale", codec.Locale()),
		zap.Bool("cache", m.cache != nil),
	)
	return m, nil
}

// WithValueCloner sets how payloads are copied into snapshots; see
// btree.BTree.WithValueCloner.
func (m *BTreeIndexManager[V]) WithValueCloner(fn func(V) V) *BTreeIndexManager[V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.WithValueCloner(fn)
	return m
}

func (m *BTreeIndexManager[V]) Name() string { return "btree" }

// Close releases the read cache and the metric callbacks.
func (m *BTreeIndexManager[V]) Close() {
	if m.gauges != nil {
		if err := m.gauges.Unregister(); err != nil {
			m.logger.Warn("failed to unregister tree gauges", zap.Error(err))
		}
	}
	if m.cache != nil {
		m.cache.Close()
	}
}

// Put inserts value under key at a freshly allocated address and records
// the insertion in the history.
func (m *BTreeIndexManager[V]) Put(ctx context.Context, key any, value V) (btree.Entry[V], error) {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "Put")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "Put", statusCode) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	k, err := m.tree.Codec().Normalize(key)
	if err != nil {
		statusCode = otelcodes.Error
		return btree.Entry[V]{}, err
	}
	span.SetAttributes(attribute.String("index.key", k))

	n, addr, err := m.alloc.Allocate()
	if err != nil {
		statusCode = otelcodes.Error
		return btree.Entry[V]{}, err
	}
	if err := m.tree.Insert(k, addr, value); err != nil {
		m.alloc.Delete(n)
		statusCode = otelcodes.Error
		return btree.Entry[V]{}, err
	}
	m.history.Record(history.InsertOp(k, addr, value))
	m.generation++

	m.logger.Debug("inserted", zap.String("key", k), zap.String("address", addr))
	return btree.Entry[V]{Key: k, Address: addr, Value: value}, nil
}

// Get looks key up and returns the projection selected by mode: the
// canonical key, the address, the payload or the whole btree.Entry.
func (m *BTreeIndexManager[V]) Get(ctx context.Context, key any, mode Mode) (any, bool, error) {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "Get")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "Get", statusCode) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	k, err := m.tree.Codec().Normalize(key)
	if err != nil {
		statusCode = otelcodes.Error
		return nil, false, err
	}
	span.SetAttributes(attribute.String("index.key", k), attribute.String("index.mode", mode.String()))

	e, found := m.lookup(ctx, k)
	if !found {
		return nil, false, nil
	}
	return project(e, mode), true, nil
}

func (m *BTreeIndexManager[V]) lookup(ctx context.Context, k string) (btree.Entry[V], bool) {
	if m.cache == nil {
		e, found, _ := m.tree.Search(k)
		return e, found
	}

	cacheKey := fmt.Sprintf("%d/%s", m.generation, k)
	if e, ok := m.cache.Get(cacheKey); ok {
		m.metrics.CacheLookupsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "hit")))
		return e, true
	}
	m.metrics.CacheLookupsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "miss")))

	e, found, _ := m.tree.Search(k)
	if found {
		m.cache.Set(cacheKey, e, 1)
	}
	return e, found
}

func project[V any](e btree.Entry[V], mode Mode) any {
	switch mode {
	case ModeKey:
		return e.Key
	case ModeAddress:
		return e.Address
	case ModeValue:
		return e.Value
	default:
		return e
	}
}

// GetAll returns every entry stored under key.
func (m *BTreeIndexManager[V]) GetAll(ctx context.Context, key any) ([]btree.Entry[V], error) {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "GetAll")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "GetAll", statusCode) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, err := m.tree.SearchAll(key)
	if err != nil {
		statusCode = otelcodes.Error
	}
	return entries, err
}

// Entries returns the whole index in key order.
func (m *BTreeIndexManager[V]) Entries(ctx context.Context) []btree.Entry[V] {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "Entries")
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "Entries", otelcodes.Ok) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Entries()
}

// Update replaces the payload of the entry Get would return.
func (m *BTreeIndexManager[V]) Update(ctx context.Context, key any, value V) (bool, error) {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "Update")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "Update", statusCode) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, found, err := m.tree.Search(key)
	if err != nil {
		statusCode = otelcodes.Error
		return false, err
	}
	if !found {
		m.logger.Debug("update of absent key", zap.Any("key", key))
		return false, nil
	}
	prev, _, err := m.tree.UpdateEntry(e.Key, e.Address, value)
	if err != nil {
		statusCode = otelcodes.Error
		return false, err
	}
	m.history.Record(history.UpdateOp(e.Key, e.Address, prev, value))
	m.generation++
	return true, nil
}

// Delete removes the entry Get would return. Its address stays reserved so
// that redoing the insertion can reuse it.
func (m *BTreeIndexManager[V]) Delete(ctx context.Context, key any) (bool, error) {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "Delete")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "Delete", statusCode) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, found, err := m.tree.Search(key)
	if err != nil {
		statusCode = otelcodes.Error
		return false, err
	}
	if !found {
		m.logger.Debug("delete of absent key", zap.Any("key", key))
		return false, nil
	}
	removed, _, err := m.tree.RemoveEntry(e.Key, e.Address)
	if err != nil {
		statusCode = otelcodes.Error
		return false, err
	}
	m.history.Record(history.DeleteOp(removed.Key, removed.Address, removed.Value))
	m.generation++
	return true, nil
}

// Undo reverts the most recent mutation.
func (m *BTreeIndexManager[V]) Undo(ctx context.Context) (history.UndoOutcome, error) {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "Undo")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "Undo", statusCode) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	outcome, err := m.history.Undo()
	if err != nil {
		m.recordHistoryStep(ctx, "undo", "failed")
		statusCode = otelcodes.Error
		return outcome, err
	}
	m.recordHistoryStep(ctx, "undo", outcome.String())
	if outcome != history.NothingToUndo {
		m.generation++
	}
	return outcome, nil
}

// Redo reapplies the most recently undone mutation.
func (m *BTreeIndexManager[V]) Redo(ctx context.Context) (history.RedoOutcome, error) {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "Redo")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "Redo", statusCode) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	outcome, err := m.history.Redo()
	if err != nil {
		m.recordHistoryStep(ctx, "redo", "failed")
		statusCode = otelcodes.Error
		return outcome, err
	}
	m.recordHistoryStep(ctx, "redo", outcome.String())
	if outcome == history.Redone {
		m.generation++
	}
	return outcome, nil
}

// RestoreToCheckpoint rewinds to checkpoint i; see
// history.CheckpointManager.RestoreToCheckpoint.
func (m *BTreeIndexManager[V]) RestoreToCheckpoint(ctx context.Context, i int) error {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "RestoreToCheckpoint")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "RestoreToCheckpoint", statusCode) }()
	span.SetAttributes(attribute.Int("index.checkpoint", i))

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.history.RestoreToCheckpoint(i); err != nil {
		m.recordHistoryStep(ctx, "restore", "failed")
		statusCode = otelcodes.Error
		return err
	}
	m.recordHistoryStep(ctx, "restore", "restored")
	m.generation++
	return nil
}

// Checkpoints lists the retained checkpoints, oldest first.
func (m *BTreeIndexManager[V]) Checkpoints(ctx context.Context) []history.CheckpointInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Checkpoints()
}

// HistoryState reports the operation counter and the pending and redo depths.
func (m *BTreeIndexManager[V]) HistoryState() (opCounter, pending, redo int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.OpCounter(), m.history.PendingLen(), m.history.RedoLen()
}

// Dump renders the tree structure for debugging.
func (m *BTreeIndexManager[V]) Dump() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.String()
}

func (m *BTreeIndexManager[V]) ExportSnapshot(ctx context.Context, format btree.SnapshotFormat) ([]byte, error) {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "ExportSnapshot")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "ExportSnapshot", statusCode) }()

	m.mu.RLock()
	snap := m.tree.Serialize()
	m.mu.RUnlock()

	data, err := btree.EncodeSnapshot(snap, format)
	if err != nil {
		statusCode = otelcodes.Error
		return nil, err
	}
	span.SetAttributes(attribute.Int("snapshot.bytes", len(data)))
	return data, nil
}

func (m *BTreeIndexManager[V]) ImportSnapshot(ctx context.Context, data []byte, format btree.SnapshotFormat) error {
	ctx, span, startTime := m.startMetricsAndTrace(ctx, "ImportSnapshot")
	statusCode := otelcodes.Ok
	defer func() { m.endMetricsAndTrace(ctx, span, startTime, "ImportSnapshot", statusCode) }()

	snap, err := btree.DecodeSnapshot[V](data, format)
	if err != nil {
		statusCode = otelcodes.Error
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tree.Restore(snap); err != nil {
		statusCode = otelcodes.Error
		return err
	}
	for e := range m.tree.All() {
		if err := m.alloc.Reserve(e.Address); err != nil {
			m.logger.Debug("imported address not reserved", zap.String("address", e.Address), zap.Error(err))
		}
	}
	m.history.Truncate()
	m.generation++
	m.logger.Info("imported snapshot", zap.Int("entries", m.tree.Len()), zap.Int("height", m.tree.Height()))
	return nil
}

func (m *BTreeIndexManager[V]) stats() internaltelemetry.TreeStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return internaltelemetry.TreeStats{
		Entries:     int64(m.tree.Len()),
		Height:      int64(m.tree.Height()),
		Checkpoints: int64(len(m.history.Checkpoints())),
		Pending:     int64(m.history.PendingLen()),
	}
}

func (m *BTreeIndexManager[V]) recordHistoryStep(ctx context.Context, step, outcome string) {
	m.metrics.HistoryStepsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("history.step", step),
		attribute.String("history.outcome", outcome),
	))
}

// startMetricsAndTrace begins the telemetry recording for an index operation.
// It returns a new context, the trace span, and the start time.
func (m *BTreeIndexManager[V]) startMetricsAndTrace(ctx context.Context, op string) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()
	attrs := metric.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.op", op),
	)
	m.metrics.ActiveOpsUpDownCounter.Add(ctx, 1, attrs)
	m.metrics.OpsStartedCounter.Add(ctx, 1, attrs)

	ctx, span := m.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.op", op),
	))
	return ctx, span, startTime
}

// endMetricsAndTrace completes the telemetry recording for an index operation.
func (m *BTreeIndexManager[V]) endMetricsAndTrace(ctx context.Context, span trace.Span, startTime time.Time, op string, statusCode otelcodes.Code) {
	latency := float64(time.Since(startTime).Microseconds()) / 1000

	if statusCode != otelcodes.Ok {
		span.SetStatus(otelcodes.Error, statusCode.String())
	} else {
		span.SetStatus(otelcodes.Ok, "")
	}
	span.End()

	m.metrics.ActiveOpsUpDownCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.op", op),
	))
	done := attribute.NewSet(
		attribute.String("index.service", m.serviceName),
		attribute.String("index.op", op),
		attribute.String("index.status", statusCode.String()),
	)
	m.metrics.OpLatencyHistogram.Record(ctx, latency, metric.WithAttributeSet(done))
	m.metrics.OpsHandledCounter.Add(ctx, 1, metric.WithAttributeSet(done))
}
