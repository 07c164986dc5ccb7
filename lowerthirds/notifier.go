package lowerthirds

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/openmic/telemetry"
)

// DefaultTimeout bounds a single push.
const DefaultTimeout = 3 * time.Second

// Pusher delivers one event to a display surface.
type Pusher interface {
	Push(ctx context.Context, e Event) error
}

// PusherFunc adapts a function to Pusher.
type PusherFunc func(ctx context.Context, e Event) error

func (f PusherFunc) Push(ctx context.Context, e Event) error { return f(ctx, e) }

// Notifier fans events out to pushers without blocking the caller. Each
// pusher gets its own ordered lane; if a pusher falls behind, intermediate
// events are dropped in favour of the latest one.
type Notifier struct {
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	lanes  []*lane
	wg     sync.WaitGroup
}

type lane struct {
	name string
	p    Pusher
	in   chan Event
}

// NewNotifier returns a notifier whose pushes each time out after timeout.
func NewNotifier(timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{timeout: timeout, logger: logger, ctx: ctx, cancel: cancel}
}

// Add registers a pusher under name (used in logs and metrics).
func (n *Notifier) Add(name string, p Pusher) {
	l := &lane{name: name, p: p, in: make(chan Event, 1)}
	n.mu.Lock()
	n.lanes = append(n.lanes, l)
	n.mu.Unlock()
	n.wg.Add(1)
	go n.run(l)
}

func (n *Notifier) run(l *lane) {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case e := <-l.in:
			ctx, cancel := context.WithTimeout(n.ctx, n.timeout)
			err := l.p.Push(ctx, e)
			cancel()
			if err != nil {
				if telemetry.NotifyFailures != nil {
					telemetry.NotifyFailures.WithLabelValues(l.name).Inc()
				}
				n.logger.Warn("lower-thirds push failed", slog.String("pusher", l.name), slog.String("type", string(e.Type)), slog.Any("err", err), slog.String("component", "lowerthirds"))
				continue
			}
			if telemetry.NotifyPushes != nil {
				telemetry.NotifyPushes.WithLabelValues(string(e.Type)).Inc()
			}
		}
	}
}

// Notify queues e on every lane and returns immediately.
func (n *Notifier) Notify(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx.Err() != nil {
		return
	}
	for _, l := range n.lanes {
		select {
		case l.in <- e:
			continue
		default:
		}
		select {
		case <-l.in:
		default:
		}
		select {
		case l.in <- e:
		default:
		}
	}
}

// NotifyLive shows a performer on stage.
func (n *Notifier) NotifyLive(artist, song, writer string, episode int) {
	n.Notify(Live(artist, song, writer, episode))
}

// NotifyUpNext shows who is up next.
func (n *Notifier) NotifyUpNext(artist, song string) { n.Notify(UpNext(artist, song)) }

// Clear blanks the display.
func (n *Notifier) Clear() { n.Notify(Clear()) }

// Close stops all lanes. Queued events are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.cancel()
	n.mu.Unlock()
	n.wg.Wait()
}
