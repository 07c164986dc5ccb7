// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SyncTicks           prometheus.Counter
	SyncTicksSkipped    prometheus.Counter // tick fired while a pass was still running
	RosterFetchFailures prometheus.Counter
	ReconcileRuns       *prometheus.CounterVec // trigger=debounce|manual|cli
	BroadcastOps        *prometheus.CounterVec // op=create|update|delete
	RegistryErrors      *prometheus.CounterVec // op, class=transient|permanent
	Anomalies           *prometheus.CounterVec // kind
	NotifyPushes        *prometheus.CounterVec // kind=live|next|clear
	NotifyFailures      *prometheus.CounterVec // pusher

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer

	// Gauges
	ManagedBroadcasts  prometheus.Gauge
	LastSyncTimestamp  prometheus.Gauge
	DisplaySubscribers prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SyncTicks = promauto.NewCounter(prometheus.CounterOpts{Name: "openmic_sync_ticks_total", Help: "Number of sync loop ticks"})
		SyncTicksSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "openmic_sync_ticks_skipped_total", Help: "Ticks skipped because a previous pass was still running"})
		RosterFetchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "openmic_roster_fetch_failures_total", Help: "Failed roster pulls"})
		ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "openmic_reconcile_runs_total", Help: "Reconciliation passes by trigger"}, []string{"trigger"})
		BroadcastOps = promauto.NewCounterVec(prometheus.CounterOpts{Name: "openmic_broadcast_operations_total", Help: "Successful registry mutations"}, []string{"op"})
		RegistryErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "openmic_registry_errors_total", Help: "Failed registry calls by class"}, []string{"op", "class"})
		Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{Name: "openmic_anomalies_total", Help: "Data anomalies found while planning"}, []string{"kind"})
		NotifyPushes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "openmic_lower_thirds_pushes_total", Help: "Lower-thirds display events sent"}, []string{"kind"})
		NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "openmic_lower_thirds_failures_total", Help: "Lower-thirds pushes that failed or timed out"}, []string{"pusher"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "openmic_reconcile_duration_seconds", Help: "Duration of a reconciliation pass", Buckets: prometheus.DefBuckets})
		ManagedBroadcasts = promauto.NewGauge(prometheus.GaugeOpts{Name: "openmic_managed_broadcasts", Help: "Managed broadcasts seen in the last registry snapshot"})
		LastSyncTimestamp = promauto.NewGauge(prometheus.GaugeOpts{Name: "openmic_last_sync_timestamp_seconds", Help: "Unix time of the last completed pass"})
		DisplaySubscribers = promauto.NewGauge(prometheus.GaugeOpts{Name: "openmic_lower_thirds_subscribers", Help: "Connected lower-thirds display clients"})
	})
}

// CountOp records a successful registry mutation.
func CountOp(op string) {
	if BroadcastOps != nil {
		BroadcastOps.WithLabelValues(op).Inc()
	}
}

// CountRegistryError records a failed registry call.
func CountRegistryError(op, class string) {
	if RegistryErrors != nil {
		RegistryErrors.WithLabelValues(op, class).Inc()
	}
}

// CountAnomaly records a data anomaly.
func CountAnomaly(kind string) {
	if Anomalies != nil {
		Anomalies.WithLabelValues(kind).Inc()
	}
}

// Inc increments c if it has been registered.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetGauge sets g if it has been registered.
func SetGauge(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
