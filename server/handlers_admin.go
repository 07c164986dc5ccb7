package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	dbpkg "github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/lowerthirds"
	"github.com/onnwee/openmic/roster"
	"github.com/onnwee/openmic/showsync"
)

// HandleAdminRoster lists the current roster in running order.
func (h *Handlers) HandleAdminRoster(w http.ResponseWriter, r *http.Request) {
	if h.Roster == nil {
		unavailable(w, "roster source")
		return
	}
	performers, err := h.Roster.Fetch(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	roster.SortBySlot(performers)
	writeJSON(w, http.StatusOK, map[string]any{"performers": performers, "total": len(performers)})
}

// HandleAdminCancel marks a performer cancelled. Their broadcasts are removed
// on the next pass unless already live or complete.
func (h *Handlers) HandleAdminCancel(w http.ResponseWriter, r *http.Request) {
	if h.Signups == nil {
		unavailable(w, "sign-up store")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid performer id")
		return
	}
	switch err := h.Signups.Cancel(r.Context(), id); {
	case errors.Is(err, roster.ErrNotFound):
		writeError(w, http.StatusNotFound, "performer not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.Sync != nil {
		h.Sync.MarkChanged()
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": true})
}

// HandleAdminSync requests a pass. With ?wait=1 the pass runs in the request
// and its summary is returned; otherwise it runs on the next tick.
func (h *Handlers) HandleAdminSync(w http.ResponseWriter, r *http.Request) {
	if h.Sync == nil {
		unavailable(w, "sync loop")
		return
	}
	if r.URL.Query().Get("wait") != "1" {
		h.Sync.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
		return
	}
	s, err := h.Sync.RunOnce(r.Context(), showsync.TriggerManual)
	switch {
	case errors.Is(err, showsync.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, s)
	}
}

// HandleAdminPlan previews the next pass without applying it.
func (h *Handlers) HandleAdminPlan(w http.ResponseWriter, r *http.Request) {
	if h.Sync == nil {
		unavailable(w, "sync loop")
		return
	}
	plan, err := h.Sync.Preview(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// HandleAdminHistory lists recent passes (?limit=, default 20).
func (h *Handlers) HandleAdminHistory(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		unavailable(w, "database")
		return
	}
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	runs, err := dbpkg.RecentSyncRuns(r.Context(), h.DB, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// HandleAdminLowerThirds pushes a display event by hand.
func (h *Handlers) HandleAdminLowerThirds(w http.ResponseWriter, r *http.Request) {
	if h.Display == nil {
		unavailable(w, "lower thirds")
		return
	}
	var e lowerthirds.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	switch e.Type {
	case lowerthirds.KindLive:
		if e.Artist == "" || e.Song == "" {
			writeError(w, http.StatusBadRequest, "live requires artist and song")
			return
		}
		if e.Episode == 0 {
			e.Episode = h.Config.EpisodeNumber
		}
		e = lowerthirds.Live(e.Artist, e.Song, e.Writer, e.Episode)
	case lowerthirds.KindNext:
		if e.Artist == "" || e.Song == "" {
			writeError(w, http.StatusBadRequest, "next requires artist and song")
			return
		}
		e = lowerthirds.UpNext(e.Artist, e.Song)
	case lowerthirds.KindClear:
		e = lowerthirds.Clear()
	default:
		writeError(w, http.StatusBadRequest, "type must be live, next or clear")
		return
	}
	h.Display.Notify(e)
	writeJSON(w, http.StatusAccepted, e)
}
