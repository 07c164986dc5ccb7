package showsync

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/openmic/reconcile"
	"github.com/onnwee/openmic/roster"
)

// Display receives lower-thirds updates (lowerthirds.Notifier in production).
type Display interface {
	NotifyLive(artist, song, writer string, episode int)
	NotifyUpNext(artist, song string)
	Clear()
}

// StatusPoller watches the registry for the broadcast currently on air and
// drives the display from it:
//
//   - a managed broadcast is live: show it as live
//   - nothing is live but part of the show has aired: show the first song
//     still to come as up next
//   - otherwise: clear
//
// The display is only pushed when what it should show changes.
type StatusPoller struct {
	Registry    reconcile.Registry
	Roster      func() []roster.Performer
	Format      reconcile.Formatter
	Display     Display
	Interval    time.Duration
	CallTimeout time.Duration

	shown string
}

type slot struct {
	artist string
	song   string
	writer string
	key    reconcile.MatchKey
}

// Run polls every Interval until ctx is done.
func (p *StatusPoller) Run(ctx context.Context) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.Poll(ctx); err != nil {
			slog.Debug("status poll failed", slog.Any("err", err), slog.String("component", "status"))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll checks the registry once and updates the display if needed. The
// display is left alone when the registry cannot be listed.
func (p *StatusPoller) Poll(ctx context.Context) error {
	timeout := p.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c, cancel := context.WithTimeout(ctx, timeout)
	snapshot, err := p.Registry.List(c)
	cancel()
	if err != nil {
		return err
	}

	var lineup []slot
	if p.Roster != nil {
		performers := p.Roster()
		roster.SortBySlot(performers)
		for _, perf := range performers {
			if perf.Cancelled {
				continue
			}
			for _, s := range perf.RealSongs() {
				lineup = append(lineup, slot{artist: perf.Name, song: s.Title, writer: s.Writer, key: reconcile.KeyOf(perf, s)})
			}
		}
	}

	aired := map[reconcile.MatchKey]bool{}
	for _, b := range snapshot {
		pt, ok := p.Format.Parse(b.Title)
		if !ok || pt.Episode != p.Format.Episode {
			continue
		}
		switch b.State {
		case reconcile.StateLive:
			s := slot{artist: pt.Artist, song: pt.Song, key: pt.Key()}
			for _, l := range lineup {
				if l.key == s.key {
					s = l
					break
				}
			}
			p.show("live|"+string(s.key), func() { p.Display.NotifyLive(s.artist, s.song, s.writer, pt.Episode) })
			return nil
		case reconcile.StateComplete:
			aired[pt.Key()] = true
		}
	}

	if len(aired) > 0 {
		for _, l := range lineup {
			if !aired[l.key] {
				p.show("next|"+string(l.key), func() { p.Display.NotifyUpNext(l.artist, l.song) })
				return nil
			}
		}
	}
	p.show("clear", p.Display.Clear)
	return nil
}

func (p *StatusPoller) show(state string, push func()) {
	if state == p.shown {
		return
	}
	p.shown = state
	slog.Info("lower thirds updated", slog.String("state", state), slog.String("component", "status"))
	push()
}
