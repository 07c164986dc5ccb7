package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/openmic/config"
	"github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/lowerthirds"
	"github.com/onnwee/openmic/reconcile"
	"github.com/onnwee/openmic/roster"
	"github.com/onnwee/openmic/showsync"
)

type fakeSignups struct {
	mu        sync.Mutex
	added     []roster.Performer
	cancelled []int64
	slots     map[string]bool
}

func (f *fakeSignups) Add(_ context.Context, p roster.Performer) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.slots == nil {
		f.slots = map[string]bool{}
	}
	if f.slots[p.TimeSlot] {
		return 0, roster.ErrSlotTaken
	}
	f.slots[p.TimeSlot] = true
	f.added = append(f.added, p)
	return int64(len(f.added)), nil
}

func (f *fakeSignups) Cancel(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id < 1 || int(id) > len(f.added) {
		return roster.ErrNotFound
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeSync struct {
	changed   int
	triggered int
	busy      bool
	plan      reconcile.Plan
	summary   reconcile.Summary
	last      *db.SyncRun
}

func (f *fakeSync) MarkChanged()               { f.changed++ }
func (f *fakeSync) Trigger()                   { f.triggered++ }
func (f *fakeSync) Running() bool              { return f.busy }
func (f *fakeSync) Pending() (bool, time.Time) { return f.changed > 0, time.Time{} }
func (f *fakeSync) LastRun() (db.SyncRun, bool) {
	if f.last == nil {
		return db.SyncRun{}, false
	}
	return *f.last, true
}
func (f *fakeSync) Preview(context.Context) (reconcile.Plan, error) { return f.plan, nil }
func (f *fakeSync) RunOnce(context.Context, string) (*reconcile.Summary, error) {
	if f.busy {
		return nil, showsync.ErrBusy
	}
	return &f.summary, nil
}

type fakeDisplay struct{ events []lowerthirds.Event }

func (f *fakeDisplay) Notify(e lowerthirds.Event) { f.events = append(f.events, e) }

type testEnv struct {
	handler http.Handler
	signups *fakeSignups
	sync    *fakeSync
	display *fakeDisplay
	hub     *lowerthirds.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	env := &testEnv{signups: &fakeSignups{}, sync: &fakeSync{}, display: &fakeDisplay{}, hub: lowerthirds.NewHub(nil)}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.handler = NewRouter(ctx, Deps{
		Config:  &config.Config{ShowName: "Open Mic", EpisodeNumber: 7, RosterSource: config.RosterDB, RegistryBackend: config.RegistryMemory},
		Signups: env.signups,
		Roster: roster.SourceFunc(func(context.Context) ([]roster.Performer, error) {
			return []roster.Performer{{Name: "Late", TimeSlot: "9:00"}, {Name: "Early", TimeSlot: "8:00"}}, nil
		}),
		Sync:    env.sync,
		Hub:     env.hub,
		Display: env.display,
	})
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthzWithoutDB(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
}

func TestReadyzNeedsDatabase(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "database", resp["failed_check"])
}

func TestSignup(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{
		"name":      "  Sarah  ",
		"time_slot": "8:00",
		"email":     "sarah@example.com",
		"songs":     []map[string]string{{"title": "Midnight Dreams", "writer": "Sarah"}, {"title": "  "}},
	}

	rr := env.do(http.MethodPost, "/signup", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Len(t, env.signups.added, 1)
	assert.Equal(t, "Sarah", env.signups.added[0].Name)
	assert.Len(t, env.signups.added[0].Songs, 1)
	assert.Equal(t, 1, env.sync.changed)

	rr = env.do(http.MethodPost, "/signup", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, 1, env.sync.changed)
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/signup", map[string]any{"name": "", "time_slot": "8:00"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp.Fields, "name")
	assert.Contains(t, resp.Fields, "songs")
	assert.Empty(t, env.signups.added)
	assert.Zero(t, env.sync.changed)
}

func TestAdminRosterSortedBySlot(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/admin/roster", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Performers []roster.Performer `json:"performers"`
		Total      int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "Early", resp.Performers[0].Name)
}

func TestAdminCancel(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.signups.Add(context.Background(), roster.Performer{Name: "Sarah", TimeSlot: "8:00"})

	rr := env.do(http.MethodPost, "/admin/performers/1/cancel", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []int64{1}, env.signups.cancelled)
	assert.Equal(t, 1, env.sync.changed)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/admin/performers/9/cancel", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/admin/performers/abc/cancel", nil).Code)
}

func TestAdminSync(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/admin/sync", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, env.sync.triggered)

	env.sync.summary = reconcile.Summary{Created: 2}
	rr = env.do(http.MethodPost, "/admin/sync?wait=1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var s reconcile.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, 2, s.Created)

	env.sync.busy = true
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/admin/sync?wait=1", nil).Code)
}

func TestAdminPlan(t *testing.T) {
	env := newTestEnv(t)
	env.sync.plan = reconcile.Plan{Upserts: []reconcile.Operation{{Kind: reconcile.OpCreate, Title: "Open Mic #7 | Sarah | Midnight Dreams"}}, Expected: 1}
	rr := env.do(http.MethodGet, "/admin/sync/plan", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var plan reconcile.Plan
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &plan))
	require.Len(t, plan.Upserts, 1)
	assert.Equal(t, reconcile.OpCreate, plan.Upserts[0].Kind)
}

func TestAdminLowerThirds(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/admin/lower-thirds", map[string]string{"type": "live", "artist": "Sarah", "song": "Midnight Dreams"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, env.display.events, 1)
	assert.Equal(t, lowerthirds.Live("Sarah", "Midnight Dreams", "", 7), env.display.events[0])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/admin/lower-thirds", map[string]string{"type": "next"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/admin/lower-thirds", map[string]string{"type": "bogus"}).Code)
	assert.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/admin/lower-thirds", map[string]string{"type": "clear"}).Code)
	assert.Len(t, env.display.events, 2)
}

func TestLowerThirdsState(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Publish(lowerthirds.UpNext("Bob", "Rain"))
	rr := env.do(http.MethodGet, "/lower-thirds", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var st lowerthirds.State
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, lowerthirds.KindNext, st.Type)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.sync.last = &db.SyncRun{Trigger: "debounce", Created: 3}
	rr := env.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Show    string `json:"show"`
		Episode int    `json:"episode"`
		Sync    struct {
			Running bool       `json:"running"`
			LastRun db.SyncRun `json:"last_run"`
		} `json:"sync"`
		LowerThirds struct {
			Subscribers int `json:"subscribers"`
		} `json:"lower_thirds"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Open Mic", resp.Show)
	assert.Equal(t, 7, resp.Episode)
	assert.Equal(t, 3, resp.Sync.LastRun.Created)
}

func TestAdminRequiresAuthWhenConfigured(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "s3cret")
	env := newTestEnv(t)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/admin/roster", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/roster", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// public endpoints stay open
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/status", nil).Code)
}

func TestMissingDependencies(t *testing.T) {
	h := NewRouter(context.Background(), Deps{})
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/signup"},
		{http.MethodPost, "/admin/sync"},
		{http.MethodGet, "/admin/sync/history"},
		{http.MethodPut, "/admin/config"},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString("{}")))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, tc.path)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/youtube/start", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOAuthCallbackRejectsUnknownState(t *testing.T) {
	h := NewHandlers(context.Background(), Deps{})
	assert.True(t, h.addOAuthState("good", time.Now().Add(time.Minute)))
	assert.True(t, h.takeOAuthState("good"))
	assert.False(t, h.takeOAuthState("good"), "state is single use")
	assert.True(t, h.addOAuthState("old", time.Now().Add(-time.Minute)))
	assert.False(t, h.takeOAuthState("old"))
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
