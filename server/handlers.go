package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/openmic/config"
	"github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/lowerthirds"
	"github.com/onnwee/openmic/reconcile"
	"github.com/onnwee/openmic/roster"
	"github.com/onnwee/openmic/youtubeapi"
)

// Maximum number of OAuth states kept in memory.
const maxOAuthStates = 10000

// SignupStore persists sign-ups (roster.Store in production).
type SignupStore interface {
	Add(ctx context.Context, p roster.Performer) (int64, error)
	Cancel(ctx context.Context, id int64) error
}

// SyncController is the part of the sync loop the API drives
// (showsync.Job in production).
type SyncController interface {
	MarkChanged()
	Trigger()
	Running() bool
	Pending() (bool, time.Time)
	LastRun() (db.SyncRun, bool)
	Preview(ctx context.Context) (reconcile.Plan, error)
	RunOnce(ctx context.Context, trigger string) (*reconcile.Summary, error)
}

// Notifier accepts display events (lowerthirds.Notifier in production).
type Notifier interface {
	Notify(e lowerthirds.Event)
}

// Deps are the collaborators of the HTTP handlers. Any of them may be nil;
// the endpoints that need a missing one answer 503.
type Deps struct {
	DB      *sql.DB
	Config  *config.Config
	Signups SignupStore
	Roster  roster.Source
	Sync    SyncController
	Hub     *lowerthirds.Hub
	Display Notifier
	YouTube *youtubeapi.Service
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	ctx        context.Context
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a Handlers instance.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &Handlers{Deps: deps, ctx: ctx, stateStore: make(map[string]time.Time)}
}

// cleanExpiredStates must be called with stateMu held.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState stores state until expiry. It reports false when the store is
// full, which fails the OAuth flow rather than growing without bound.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// takeOAuthState consumes state and reports whether it was valid.
func (h *Handlers) takeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" not configured")
}
