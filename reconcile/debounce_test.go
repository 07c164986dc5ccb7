package reconcile

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDebouncerQuietPeriod(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)}
	d := NewDebouncer(15*time.Second, clk.now)

	if d.ShouldRun() {
		t.Fatal("idle debouncer should not run")
	}
	d.MarkChanged() // t=0
	clk.advance(5 * time.Second)
	d.MarkChanged() // t=5
	for _, at := range []int{6, 10, 19} {
		clk.t = time.Date(2026, 1, 1, 20, 0, at, 0, time.UTC)
		if d.ShouldRun() {
			t.Fatalf("should not run at t=%ds", at)
		}
	}
	clk.advance(time.Second)
	if !d.ShouldRun() {
		t.Fatal("should run at t=20s")
	}
}

func TestDebouncerBeginClearsPending(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	d := NewDebouncer(time.Second, clk.now)
	d.MarkChanged()
	clk.advance(2 * time.Second)
	if !d.ShouldRun() {
		t.Fatal("expected run")
	}
	d.Begin()
	if d.ShouldRun() {
		t.Fatal("pending should be cleared by Begin")
	}

	// an edit during the run schedules another one after the quiet period
	d.MarkChanged()
	if d.ShouldRun() {
		t.Fatal("quiet period restarts")
	}
	clk.advance(time.Second)
	if !d.ShouldRun() {
		t.Fatal("expected follow-up run")
	}
}

func TestDebouncerRequeue(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	d := NewDebouncer(10*time.Second, clk.now)
	d.MarkChanged()
	clk.advance(10 * time.Second)
	d.Begin()
	d.Requeue()
	if !d.ShouldRun() {
		t.Fatal("requeued run should be due immediately")
	}
	pending, last := d.Pending()
	if !pending || !last.Equal(time.Unix(0, 0)) {
		t.Fatalf("Pending = %v, %v", pending, last)
	}
}
