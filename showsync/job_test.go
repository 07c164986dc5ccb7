package showsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/reconcile"
	regmocks "github.com/onnwee/openmic/reconcile/mocks"
	"github.com/onnwee/openmic/roster"
	rostermocks "github.com/onnwee/openmic/roster/mocks"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var sarah = roster.Performer{Name: "Sarah", TimeSlot: "8:00", Songs: []roster.Song{{Title: "Midnight Dreams", Writer: "Sarah"}}}

func newTestJob(src roster.Source, reg reconcile.Registry, clock *fakeClock, quiet time.Duration) *Job {
	eng := reconcile.NewEngine(reconcile.Formatter{Show: "Open Mic", Episode: 7})
	j := NewJob(src, reg, eng, reconcile.NewDebouncer(quiet, clock.Now), time.Second, time.Second)
	j.now = clock.Now
	return j
}

func staticRoster(p ...roster.Performer) roster.Source {
	return roster.SourceFunc(func(context.Context) ([]roster.Performer, error) { return p, nil })
}

func TestTickWaitsForQuietPeriod(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	reg := reconcile.NewMemoryRegistry()
	j := newTestJob(staticRoster(sarah), reg, clock, 15*time.Second)
	ctx := context.Background()

	s, err := j.Tick(ctx)
	require.NoError(t, err)
	assert.Nil(t, s, "first pull only marks the roster changed")
	pending, _ := j.Debouncer.Pending()
	assert.True(t, pending)

	clock.Advance(14 * time.Second)
	s, _ = j.Tick(ctx)
	assert.Nil(t, s)

	clock.Advance(time.Second)
	s, err = j.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Created)
	assert.Equal(t, []string{"create Open Mic #7 | Sarah | Midnight Dreams"}, reg.Calls())

	// unchanged roster: no further passes
	clock.Advance(time.Minute)
	s, _ = j.Tick(ctx)
	assert.Nil(t, s)

	run, ok := j.LastRun()
	require.True(t, ok)
	assert.Equal(t, TriggerDebounce, run.Trigger)
	assert.Equal(t, 1, run.Created)
}

func TestTickFetchErrorLeavesDebouncerAlone(t *testing.T) {
	ctrl := gomock.NewController(t)
	src := rostermocks.NewMockSource(ctrl)
	reg := regmocks.NewMockRegistry(ctrl)
	src.EXPECT().Fetch(gomock.Any()).Return(nil, roster.ErrFetch)

	j := newTestJob(src, reg, &fakeClock{t: time.Unix(0, 0)}, 0)
	j.Trigger()
	_, err := j.Tick(context.Background())
	require.ErrorIs(t, err, roster.ErrFetch)

	pending, _ := j.Debouncer.Pending()
	assert.False(t, pending)
	assert.True(t, j.force.Load(), "manual trigger survives a failed pull")
}

func TestTickSkipsWhenBusy(t *testing.T) {
	ctrl := gomock.NewController(t)
	j := newTestJob(rostermocks.NewMockSource(ctrl), regmocks.NewMockRegistry(ctrl), &fakeClock{}, 0)
	j.running.Store(true)

	_, err := j.Tick(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = j.RunOnce(context.Background(), TriggerCLI)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestManualTriggerBypassesDebouncer(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	reg := reconcile.NewMemoryRegistry()
	j := newTestJob(staticRoster(sarah), reg, clock, time.Hour)
	j.Trigger()

	s, err := j.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, s.Created)
	run, _ := j.LastRun()
	assert.Equal(t, TriggerManual, run.Trigger)
}

func TestListFailureRequeuesAndRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := regmocks.NewMockRegistry(ctrl)
	reg.EXPECT().List(gomock.Any()).Return(nil, reconcile.Transient("list", "", errors.New("quota")))

	var recorded []db.SyncRun
	j := newTestJob(staticRoster(sarah), reg, &fakeClock{t: time.Unix(0, 0)}, 0)
	j.Recorder = RecorderFunc(func(_ context.Context, run db.SyncRun) error {
		recorded = append(recorded, run)
		return nil
	})

	s, err := j.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrTransient)
	assert.Nil(t, s)

	pending, _ := j.Debouncer.Pending()
	assert.True(t, pending)
	require.Len(t, recorded, 1)
	assert.Contains(t, recorded[0].Error, "quota")
}

func TestTransientItemFailureRetriesNextTick(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	reg := reconcile.NewMemoryRegistry()
	reg.FailOn("create", "", reconcile.Transient("create", "", errors.New("rate limited")))
	j := newTestJob(staticRoster(sarah), reg, clock, 0)

	s, err := j.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Len(t, s.Errors, 1)
	assert.True(t, s.HasTransient())

	reg.FailOn("create", "", nil)
	s, err = j.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s, "transient failure requeues the pass")
	assert.Equal(t, 1, s.Created)

	s, _ = j.Tick(context.Background())
	assert.Nil(t, s)
}

func TestPermanentItemFailureIsNotRetried(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := regmocks.NewMockRegistry(ctrl)
	gomock.InOrder(
		reg.EXPECT().List(gomock.Any()).Return(nil, nil),
		reg.EXPECT().Create(gomock.Any(), "Open Mic #7 | Sarah | Midnight Dreams", gomock.Any()).
			Return("", reconcile.Permanent("create", "", errors.New("invalid"))),
	)
	j := newTestJob(staticRoster(sarah), reg, &fakeClock{t: time.Unix(0, 0)}, 0)

	s, err := j.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, reconcile.ClassPermanent, s.Errors[0].Class)

	s, err = j.Tick(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	ctrl := gomock.NewController(t)
	reg := regmocks.NewMockRegistry(ctrl)
	reg.EXPECT().List(gomock.Any()).Return([]reconcile.ManagedBroadcast{
		{ID: "b1", Title: "Open Mic #6 | Sarah | Midnight Dreams", State: reconcile.StateReady},
	}, nil)
	j := newTestJob(staticRoster(sarah), reg, &fakeClock{}, 0)

	plan, err := j.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Upserts, 1)
	assert.Equal(t, reconcile.OpUpdate, plan.Upserts[0].Kind)
	assert.Equal(t, "b1", plan.Upserts[0].ID)
	assert.Empty(t, plan.Deletes)
}

func TestEditDuringPassSchedulesAnother(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	reg := reconcile.NewMemoryRegistry()
	j := newTestJob(staticRoster(sarah), reg, clock, 0)

	_, err := j.Tick(context.Background())
	require.NoError(t, err)
	j.MarkChanged()

	s, err := j.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s, "an out-of-band edit triggers a new pass")
	assert.Equal(t, 0, s.Operations())
}
