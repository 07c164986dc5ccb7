package lowerthirds

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	got    chan struct{}
}

func newRecorder() *recorder { return &recorder{got: make(chan struct{}, 16)} }

func (r *recorder) Push(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(2 * time.Second):
		t.Fatal("push not delivered")
	}
}

func TestNotifierDeliversToEveryPusher(t *testing.T) {
	n := NewNotifier(time.Second, nil)
	defer n.Close()
	hub := NewHub(nil)
	rec := newRecorder()
	n.Add("hub", hub)
	n.Add("rec", rec)

	n.NotifyLive("Sarah", "Midnight Dreams", "Sarah", 7)
	rec.wait(t)

	require.Len(t, rec.events, 1)
	assert.Equal(t, Live("Sarah", "Midnight Dreams", "Sarah", 7), rec.events[0])
	assert.Eventually(t, func() bool { return hub.Current().Type == KindLive }, time.Second, 10*time.Millisecond)
}

func TestNotifierSwallowsFailures(t *testing.T) {
	n := NewNotifier(time.Second, nil)
	defer n.Close()
	failed := make(chan struct{}, 4)
	n.Add("broken", PusherFunc(func(context.Context, Event) error {
		failed <- struct{}{}
		return errors.New("display down")
	}))
	rec := newRecorder()
	n.Add("rec", rec)

	n.Clear()
	rec.wait(t)
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("broken pusher not called")
	}
}

func TestNotifierDoesNotBlockOnSlowPusher(t *testing.T) {
	n := NewNotifier(50*time.Millisecond, nil)
	defer n.Close()
	n.Add("slow", PusherFunc(func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			n.NotifyUpNext("A", "B")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow pusher")
	}
}

func TestNotifyAfterCloseIsNoop(t *testing.T) {
	n := NewNotifier(time.Second, nil)
	n.Add("rec", newRecorder())
	n.Close()
	n.Clear()
}
