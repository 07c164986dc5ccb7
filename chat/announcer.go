package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/openmic/lowerthirds"
)

// Sayer is the part of the IRC client the announcer needs.
type Sayer interface {
	Say(channel, text string)
}

// AnnouncementFor renders the chat line for a display event. ok is false for
// events that are not announced (clear, none).
func AnnouncementFor(e lowerthirds.Event) (string, bool) {
	switch e.Type {
	case lowerthirds.KindLive:
		var b strings.Builder
		fmt.Fprintf(&b, "Now on stage: %s performing \"%s\"", e.Artist, e.Song)
		if e.Writer != "" && !strings.EqualFold(e.Writer, e.Artist) {
			fmt.Fprintf(&b, " (written by %s)", e.Writer)
		}
		return b.String(), true
	case lowerthirds.KindNext:
		return fmt.Sprintf("Up next: %s with \"%s\"", e.Artist, e.Song), true
	}
	return "", false
}

// Announcer relays hub state changes to a chat channel.
type Announcer struct {
	Channel string
	Say     Sayer
	Hub     *lowerthirds.Hub
}

// Run posts announcements until ctx is done. The state current at subscribe
// time is not announced; only later changes are.
func (a *Announcer) Run(ctx context.Context) {
	sub := a.Hub.Subscribe()
	defer sub.Close()
	last := <-sub.C
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-sub.C:
			if st.Event == last.Event {
				continue
			}
			last = st
			if line, ok := AnnouncementFor(st.Event); ok {
				a.Say.Say(a.Channel, line)
				slog.Debug("chat announcement sent", slog.String("channel", a.Channel), slog.String("type", string(st.Type)), slog.String("component", "chat"))
			}
		}
	}
}

// StartTwitchAnnouncer connects to Twitch IRC and announces hub changes into
// channel until ctx is cancelled.
func StartTwitchAnnouncer(ctx context.Context, hub *lowerthirds.Hub, channel, username, token string) {
	if channel == "" || username == "" || token == "" {
		slog.Info("twitch creds not set; skipping chat announcer")
		return
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	client := twitch.NewClient(username, token)
	client.Join(channel)
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("channel", channel), slog.String("component", "chat"))
	})

	a := &Announcer{Channel: channel, Say: client, Hub: hub}
	go a.Run(ctx)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = client.Disconnect()
		close(done)
	}()
	if err := client.Connect(); err != nil && ctx.Err() == nil {
		slog.Error("twitch chat connect error", slog.Any("err", err), slog.String("component", "chat"))
	}
	<-done
}
