package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// IndexMetrics holds all the metric instruments for an index manager.
type IndexMetrics struct {
	OpsStartedCounter      metric.Int64Counter
	OpsHandledCounter      metric.Int64Counter
	OpLatencyHistogram     metric.Float64Histogram
	ActiveOpsUpDownCounter metric.Int64UpDownCounter
	CacheLookupsCounter    metric.Int64Counter
	HistoryStepsCounter    metric.Int64Counter
}

// NewIndexMetrics creates and registers the index manager instruments.
func NewIndexMetrics(meter metric.Meter) (*IndexMetrics, error) {
	opsStarted, err := meter.Int64Counter(
		"memindex.index.ops.started",
		metric.WithDescription("Total number of index operations started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opsHandled, err := meter.Int64Counter(
		"memindex.index.ops.handled",
		metric.WithDescription("Total number of index operations completed, by status."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	opLatency, err := meter.Float64Histogram(
		"memindex.index.ops.duration",
		metric.WithDescription("The latency of index operations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeOps, err := meter.Int64UpDownCounter(
		"memindex.index.ops.active",
		metric.WithDescription("Number of index operations in flight."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"memindex.index.cache.lookups",
		metric.WithDescription("Read cache lookups, by result."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	historySteps, err := meter.Int64Counter(
		"memindex.history.steps",
		metric.WithDescription("Undo, redo and restore steps, by outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &IndexMetrics{
		OpsStartedCounter:      opsStarted,
		OpsHandledCounter:      opsHandled,
		OpLatencyHistogram:     opLatency,
		ActiveOpsUpDownCounter: activeOps,
		CacheLookupsCounter:    cacheLookups,
		HistoryStepsCounter:    historySteps,
	}, nil
}

// TreeStats is sampled by the gauges registered with ObserveTree.
type TreeStats struct {
	Entries     int64
	Height      int64
	Checkpoints int64
	Pending     int64
}

// ObserveTree registers gauges reporting the tree and history shape each time
// metrics are collected. Unregister the returned registration on shutdown.
func ObserveTree(meter metric.Meter, sample func() TreeStats) (metric.Registration, error) {
	entries, err := meter.Int64ObservableGauge("memindex.tree.entries",
		metric.WithDescription("Entries currently held by the tree."))
	if err != nil {
		return nil, err
	}
	height, err := meter.Int64ObservableGauge("memindex.tree.height",
		metric.WithDescription("Number of levels in the tree."))
	if err != nil {
		return nil, err
	}
	checkpoints, err := meter.Int64ObservableGauge("memindex.history.checkpoints",
		metric.WithDescription("Checkpoints currently retained."))
	if err != nil {
		return nil, err
	}
	pending, err := meter.Int64ObservableGauge("memindex.history.pending",
		metric.WithDescription("Operations logged since the last checkpoint."))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := sample()
		o.ObserveInt64(entries, s.Entries)
		o.ObserveInt64(height, s.Height)
		o.ObserveInt64(checkpoints, s.Checkpoints)
		o.ObserveInt64(pending, s.Pending)
		return nil
	}, entries, height, checkpoints, pending)
}
