// Package showsync runs the polling loop that keeps the broadcast registry in
// step with the roster, and the status poller that drives the lower thirds
// from whichever broadcast is live.
//
// A tick pulls the roster, feeds roster edits into the debouncer and, once
// the roster has been quiet long enough (or a manual run was requested),
// reconciles the registry against it. Ticks never overlap; every external
// call is bounded by a timeout.
package showsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/reconcile"
	"github.com/onnwee/openmic/roster"
	"github.com/onnwee/openmic/telemetry"
)

// Triggers recorded with each run.
const (
	TriggerDebounce = "debounce"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

// ErrBusy is returned when a pass is requested while another is running.
var ErrBusy = errors.New("a sync pass is already running")

// Recorder persists the outcome of a pass.
type Recorder interface {
	Record(ctx context.Context, run db.SyncRun) error
}

// Job is the reconciliation loop.
type Job struct {
	Source    roster.Source
	Registry  reconcile.Registry
	Engine    *reconcile.Engine
	Debouncer *reconcile.Debouncer
	// Interval between ticks.
	Interval time.Duration
	// CallTimeout bounds the roster pull and the registry listing.
	CallTimeout time.Duration
	// Recorder is optional.
	Recorder Recorder

	running atomic.Bool
	force   atomic.Bool

	mu          sync.Mutex
	fingerprint string
	performers  []roster.Performer
	last        *db.SyncRun

	now func() time.Time
}

// NewJob wires a job with the given collaborators.
func NewJob(src roster.Source, reg reconcile.Registry, eng *reconcile.Engine, deb *reconcile.Debouncer, interval, callTimeout time.Duration) *Job {
	return &Job{Source: src, Registry: reg, Engine: eng, Debouncer: deb, Interval: interval, CallTimeout: callTimeout, now: time.Now}
}

func (j *Job) clock() time.Time {
	if j.now == nil {
		return time.Now()
	}
	return j.now()
}

// MarkChanged tells the loop the roster was edited out of band (a sign-up or
// cancellation through the API).
func (j *Job) MarkChanged() { j.Debouncer.MarkChanged() }

// Trigger requests a run on the next tick regardless of the debouncer.
func (j *Job) Trigger() { j.force.Store(true) }

// Pending reports whether a debounced run is owed, and when the roster last changed.
func (j *Job) Pending() (bool, time.Time) { return j.Debouncer.Pending() }

// Running reports whether a tick is in progress.
func (j *Job) Running() bool { return j.running.Load() }

// LastRun returns the most recent pass, if any.
func (j *Job) LastRun() (db.SyncRun, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.last == nil {
		return db.SyncRun{}, false
	}
	return *j.last, true
}

// Roster returns the roster from the last successful pull.
func (j *Job) Roster() []roster.Performer {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]roster.Performer(nil), j.performers...)
}

// Run ticks every Interval until ctx is done. The first tick fires immediately.
func (j *Job) Run(ctx context.Context) error {
	interval := j.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	slog.Info("sync loop started", slog.Duration("interval", interval), slog.String("component", "showsync"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		j.Tick(ctx)
		select {
		case <-ctx.Done():
			slog.Info("sync loop stopped", slog.String("component", "showsync"))
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one loop iteration. It returns the summary when a pass ran.
func (j *Job) Tick(ctx context.Context) (*reconcile.Summary, error) {
	if !j.running.CompareAndSwap(false, true) {
		telemetry.Inc(telemetry.SyncTicksSkipped)
		return nil, ErrBusy
	}
	defer j.running.Store(false)
	telemetry.Inc(telemetry.SyncTicks)

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "showsync"))

	performers, err := j.fetch(ctx)
	if err != nil {
		telemetry.Inc(telemetry.RosterFetchFailures)
		log.Warn("roster fetch failed; will retry next tick", slog.Any("err", err))
		return nil, err
	}
	j.observe(performers, log)

	trigger := ""
	switch {
	case j.force.Swap(false):
		trigger = TriggerManual
	case j.Debouncer.ShouldRun():
		trigger = TriggerDebounce
	default:
		return nil, nil
	}
	j.Debouncer.Begin()
	s, err := j.pass(ctx, trigger, performers)
	if err != nil || s.HasTransient() || s.Aborted {
		j.Debouncer.Requeue()
	}
	return s, err
}

// RunOnce pulls the roster and reconciles immediately, bypassing the
// debouncer. It fails with ErrBusy if a tick is in progress.
func (j *Job) RunOnce(ctx context.Context, trigger string) (*reconcile.Summary, error) {
	if !j.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer j.running.Store(false)
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	performers, err := j.fetch(ctx)
	if err != nil {
		telemetry.Inc(telemetry.RosterFetchFailures)
		return nil, err
	}
	j.observe(performers, telemetry.LoggerWithCorr(ctx))
	j.Debouncer.Begin()
	s, err := j.pass(ctx, trigger, performers)
	if err != nil || s.HasTransient() || s.Aborted {
		j.Debouncer.Requeue()
	}
	return s, err
}

// Preview computes the plan for the current roster and registry without
// applying it.
func (j *Job) Preview(ctx context.Context) (reconcile.Plan, error) {
	performers, err := j.fetch(ctx)
	if err != nil {
		return reconcile.Plan{}, err
	}
	snapshot, err := j.list(ctx)
	if err != nil {
		return reconcile.Plan{}, err
	}
	return j.Engine.Plan(performers, snapshot), nil
}

func (j *Job) fetch(ctx context.Context) ([]roster.Performer, error) {
	c, cancel := j.bounded(ctx)
	defer cancel()
	return j.Source.Fetch(c)
}

func (j *Job) list(ctx context.Context) ([]reconcile.ManagedBroadcast, error) {
	c, cancel := j.bounded(ctx)
	defer cancel()
	return j.Registry.List(c)
}

func (j *Job) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if j.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, j.CallTimeout)
}

// observe marks the debouncer when the pulled roster differs from the last
// successful pull. The first pull counts as a change.
func (j *Job) observe(performers []roster.Performer, log *slog.Logger) {
	fp := roster.Fingerprint(performers)
	j.mu.Lock()
	changed := fp != j.fingerprint
	j.fingerprint = fp
	j.performers = performers
	j.mu.Unlock()
	if changed {
		log.Debug("roster changed", slog.Int("performers", len(performers)), slog.String("fingerprint", fp[:12]))
		j.Debouncer.MarkChanged()
	}
}

func (j *Job) pass(ctx context.Context, trigger string, performers []roster.Performer) (*reconcile.Summary, error) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "showsync"), slog.String("trigger", trigger))
	ctx, span := telemetry.StartSpan(ctx, "showsync", "reconcile")
	defer span.End()

	started := j.clock()
	if telemetry.ReconcileRuns != nil {
		telemetry.ReconcileRuns.WithLabelValues(trigger).Inc()
	}

	snapshot, err := j.list(ctx)
	if err != nil {
		telemetry.CountRegistryError("list", reconcile.ClassOf(err).String())
		telemetry.RecordError(span, err)
		log.Warn("registry list failed; pass abandoned", slog.Any("err", err))
		j.record(ctx, db.SyncRun{Trigger: trigger, StartedAt: started, FinishedAt: j.clock(), Error: err.Error()})
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}

	var s reconcile.Summary
	plan := j.Engine.Plan(performers, snapshot)
	d := telemetry.TimeFunc(telemetry.ReconcileDuration, func() {
		s = j.Engine.Apply(ctx, j.Registry, plan)
	})
	telemetry.SetGauge(telemetry.ManagedBroadcasts, float64(plan.Managed+s.Created-s.Deleted))
	telemetry.SetGauge(telemetry.LastSyncTimestamp, float64(j.clock().Unix()))
	for range s.Created {
		telemetry.CountOp(string(reconcile.OpCreate))
	}
	for range s.Updated {
		telemetry.CountOp(string(reconcile.OpUpdate))
	}
	for range s.Deleted {
		telemetry.CountOp(string(reconcile.OpDelete))
	}
	for _, e := range s.Errors {
		telemetry.CountRegistryError(string(e.Op.Kind), e.Class.String())
	}
	for _, a := range s.Anomalies {
		telemetry.CountAnomaly(string(a.Kind))
	}
	if len(s.Errors) > 0 {
		telemetry.RecordError(span, fmt.Errorf("%d registry operations failed", len(s.Errors)))
	} else {
		telemetry.SetSpanSuccess(span)
	}

	log.Info("reconcile pass finished",
		slog.Int("created", s.Created),
		slog.Int("updated", s.Updated),
		slog.Int("deleted", s.Deleted),
		slog.Int("errors", len(s.Errors)),
		slog.Int("anomalies", len(s.Anomalies)),
		slog.Bool("aborted", s.Aborted),
		slog.Duration("took", d))

	run := db.SyncRun{
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: j.clock(),
		Created:    s.Created,
		Updated:    s.Updated,
		Deleted:    s.Deleted,
		Errors:     len(s.Errors),
		Anomalies:  len(s.Anomalies),
		Aborted:    s.Aborted,
	}
	if len(s.Errors) > 0 || len(s.Anomalies) > 0 {
		if detail, err := json.Marshal(map[string]any{"errors": s.Errors, "anomalies": s.Anomalies}); err == nil {
			run.Detail = detail
		}
	}
	j.record(ctx, run)
	return &s, nil
}

func (j *Job) record(ctx context.Context, run db.SyncRun) {
	j.mu.Lock()
	j.last = &run
	j.mu.Unlock()
	if j.Recorder == nil {
		return
	}
	// the run is recorded even when the pass was cancelled
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := j.Recorder.Record(c, run); err != nil {
		slog.Warn("failed to record sync run", slog.Any("err", err), slog.String("component", "showsync"))
	}
}
