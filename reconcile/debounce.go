package reconcile

import (
	"sync"
	"time"
)

// DefaultQuietPeriod is how long the roster must be unchanged before a pass runs.
const DefaultQuietPeriod = 15 * time.Second

// Debouncer holds reconciliation back while the roster is being edited.
// It is idle until MarkChanged, pending until the quiet period has elapsed
// since the last edit and idle again once Begin is called for a run.
type Debouncer struct {
	mu       sync.Mutex
	quiet    time.Duration
	now      func() time.Time
	pending  bool
	lastEdit time.Time
}

// NewDebouncer returns a debouncer with the given quiet period. A nil clock
// uses time.Now.
func NewDebouncer(quiet time.Duration, now func() time.Time) *Debouncer {
	if quiet < 0 {
		quiet = 0
	}
	if now == nil {
		now = time.Now
	}
	return &Debouncer{quiet: quiet, now: now}
}

// MarkChanged records an edit at the current time.
func (d *Debouncer) MarkChanged() {
	d.mu.Lock()
	d.pending = true
	d.lastEdit = d.now()
	d.mu.Unlock()
}

// ShouldRun reports whether an edit is pending and the quiet period has elapsed.
func (d *Debouncer) ShouldRun() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending && d.now().Sub(d.lastEdit) >= d.quiet
}

// Begin clears the pending flag before a run starts, so edits that arrive
// during the run schedule another one.
func (d *Debouncer) Begin() {
	d.mu.Lock()
	d.pending = false
	d.mu.Unlock()
}

// Requeue marks a run as still owed after it failed, without moving the last
// edit time, so the next tick retries immediately.
func (d *Debouncer) Requeue() {
	d.mu.Lock()
	d.pending = true
	d.mu.Unlock()
}

// Pending reports whether a run is owed, and the time of the last edit.
func (d *Debouncer) Pending() (bool, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, d.lastEdit
}
