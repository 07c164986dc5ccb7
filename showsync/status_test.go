package showsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/onnwee/openmic/reconcile"
	regmocks "github.com/onnwee/openmic/reconcile/mocks"
	"github.com/onnwee/openmic/roster"
)

type displayLog struct{ events []string }

func (d *displayLog) NotifyLive(artist, song, writer string, episode int) {
	d.events = append(d.events, "live "+artist+"/"+song+"/"+writer)
}
func (d *displayLog) NotifyUpNext(artist, song string) {
	d.events = append(d.events, "next "+artist+"/"+song)
}
func (d *displayLog) Clear() { d.events = append(d.events, "clear") }

func TestStatusPoller(t *testing.T) {
	lineup := []roster.Performer{
		{Name: "Bob", TimeSlot: "8:30", Songs: []roster.Song{{Title: "Rain"}}},
		sarah,
	}
	reg := reconcile.NewMemoryRegistry(
		reconcile.ManagedBroadcast{ID: "s", Title: "Open Mic #7 | Sarah | Midnight Dreams", State: reconcile.StateReady},
		reconcile.ManagedBroadcast{ID: "b", Title: "Open Mic #7 | Bob | Rain", State: reconcile.StateReady},
		reconcile.ManagedBroadcast{ID: "old", Title: "Open Mic #6 | Zed | Old", State: reconcile.StateLive},
	)
	disp := &displayLog{}
	p := &StatusPoller{
		Registry: reg,
		Roster:   func() []roster.Performer { return append([]roster.Performer(nil), lineup...) },
		Format:   reconcile.Formatter{Show: "Open Mic", Episode: 7},
		Display:  disp,
	}
	ctx := context.Background()

	require.NoError(t, p.Poll(ctx))
	require.NoError(t, p.Poll(ctx))
	assert.Equal(t, []string{"clear"}, disp.events, "nothing aired yet, and no repeat pushes")

	require.NoError(t, reg.SetState("s", reconcile.StateLive))
	require.NoError(t, p.Poll(ctx))
	assert.Equal(t, "live Sarah/Midnight Dreams/Sarah", disp.events[len(disp.events)-1])

	require.NoError(t, reg.SetState("s", reconcile.StateComplete))
	require.NoError(t, p.Poll(ctx))
	assert.Equal(t, "next Bob/Rain", disp.events[len(disp.events)-1])

	require.NoError(t, reg.SetState("b", reconcile.StateComplete))
	require.NoError(t, p.Poll(ctx))
	assert.Equal(t, "clear", disp.events[len(disp.events)-1])
	assert.Len(t, disp.events, 4)
}

func TestStatusPollerKeepsDisplayOnListError(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := regmocks.NewMockRegistry(ctrl)
	reg.EXPECT().List(gomock.Any()).Return(nil, errors.New("down"))
	disp := &displayLog{}
	p := &StatusPoller{Registry: reg, Format: reconcile.Formatter{Show: "Open Mic", Episode: 7}, Display: disp}

	assert.Error(t, p.Poll(context.Background()))
	assert.Empty(t, disp.events)
}
