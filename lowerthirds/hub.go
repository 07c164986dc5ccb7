// Package lowerthirds drives the on-stream lower-thirds display: who is on
// stage now and who is up next.
//
// The display surface is a Hub holding one current state (none, live or next)
// and fanning every change out to connected displays. New subscribers receive
// the current state immediately and never a backlog. The Notifier delivers
// events to the hub and any remote pushers best-effort: failures are logged
// and never reach the caller.
package lowerthirds

import (
	"context"
	"sync"
	"time"
)

// Kind is the type of a display event or state.
type Kind string

const (
	KindNone  Kind = "none"
	KindLive  Kind = "live"
	KindNext  Kind = "next"
	KindClear Kind = "clear"
)

// Event is a display event. Writer and Episode are only set for live events.
type Event struct {
	Type    Kind   `json:"type"`
	Artist  string `json:"artist,omitempty"`
	Song    string `json:"song,omitempty"`
	Writer  string `json:"writer,omitempty"`
	Episode int    `json:"episode,omitempty"`
}

// Live is the "now on stage" event.
func Live(artist, song, writer string, episode int) Event {
	return Event{Type: KindLive, Artist: artist, Song: song, Writer: writer, Episode: episode}
}

// UpNext is the "up next" event.
func UpNext(artist, song string) Event { return Event{Type: KindNext, Artist: artist, Song: song} }

// Clear blanks the display.
func Clear() Event { return Event{Type: KindClear} }

// State is what the display currently shows.
type State struct {
	Event
	UpdatedAt time.Time `json:"updated_at"`
}

// Hub is the in-process display surface.
type Hub struct {
	mu      sync.Mutex
	current State
	subs    map[*Subscription]struct{}
	onCount func(int)
	now     func() time.Time
}

// NewHub returns a hub in state none. onCount, if non-nil, is called with the
// subscriber count whenever it changes.
func NewHub(onCount func(int)) *Hub {
	return &Hub{
		current: State{Event: Event{Type: KindNone}},
		subs:    map[*Subscription]struct{}{},
		onCount: onCount,
		now:     time.Now,
	}
}

// Subscription receives state changes on C. C holds at most one pending
// state; a slow reader only ever sees the latest one.
type Subscription struct {
	C    <-chan State
	ch   chan State
	hub  *Hub
	once sync.Once
}

// Subscribe registers a display. The current state is already waiting on C.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan State, 1)
	s := &Subscription{C: ch, ch: ch, hub: h}
	h.mu.Lock()
	ch <- h.current
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	if h.onCount != nil {
		h.onCount(n)
	}
	return s
}

// Close removes the subscription from the fan-out.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		delete(h.subs, s)
		n := len(h.subs)
		h.mu.Unlock()
		if h.onCount != nil {
			h.onCount(n)
		}
	})
}

// Publish applies e and pushes the resulting state to every subscriber.
func (h *Hub) Publish(e Event) State {
	if e.Type == KindClear || e.Type == "" {
		e = Event{Type: KindNone}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = State{Event: e, UpdatedAt: h.now()}
	for s := range h.subs {
		offer(s.ch, h.current)
	}
	return h.current
}

// offer replaces any unread state with st. Only the hub sends on ch, under its lock.
func offer(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- st
}

// Current returns the state being displayed.
func (h *Hub) Current() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Subscribers returns the number of connected displays.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Push implements Pusher.
func (h *Hub) Push(_ context.Context, e Event) error {
	h.Publish(e)
	return nil
}
