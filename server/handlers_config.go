package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"

	dbpkg "github.com/onnwee/openmic/db"
)

// ConfigKeys are the settings that may be overridden at runtime through the
// kv table (stored as "cfg:<KEY>"). Overrides take effect on the next start.
var ConfigKeys = []string{
	"LOG_LEVEL",
	"LOG_FORMAT",
	"SHOW_NAME",
	"EPISODE_NUMBER",
	"SYNC_INTERVAL",
	"SYNC_QUIET_PERIOD",
	"STATUS_POLL_INTERVAL",
	"BROADCAST_PRIVACY",
	"REGISTRY_COMPLETE_LOOKBACK",
}

func isConfigKey(k string) bool {
	for _, c := range ConfigKeys {
		if c == k {
			return true
		}
	}
	return false
}

// HandleConfigGet returns the safe keys, kv override first, then env.
func (h *Handlers) HandleConfigGet(w http.ResponseWriter, r *http.Request) {
	out := map[string]string{}
	for _, k := range ConfigKeys {
		var v string
		if h.DB != nil {
			v, _ = dbpkg.GetKV(r.Context(), h.DB, "cfg:"+k)
		}
		if v == "" {
			v = os.Getenv(k)
		}
		if v != "" {
			out[k] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleConfigPut stores overrides for safe keys; other keys are ignored. An
// empty value removes the override.
func (h *Handlers) HandleConfigPut(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		unavailable(w, "database")
		return
	}
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	for k, v := range body {
		if !isConfigKey(k) {
			continue
		}
		var err error
		if v = strings.TrimSpace(v); v == "" {
			err = dbpkg.DeleteKV(r.Context(), h.DB, "cfg:"+k)
		} else {
			err = dbpkg.SetKV(r.Context(), h.DB, "cfg:"+k, v)
		}
		if err != nil {
			slog.Error("failed to update config", slog.String("key", k), slog.Any("err", err))
			writeError(w, http.StatusInternalServerError, "failed to update config")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus summarises the show, the sync loop and the display.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config
	resp := map[string]any{
		"show":          cfg.ShowName,
		"episode":       cfg.EpisodeNumber,
		"roster_source": cfg.RosterSource,
		"registry":      cfg.RegistryBackend,
	}
	if h.Sync != nil {
		pending, lastEdit := h.Sync.Pending()
		syncState := map[string]any{
			"running": h.Sync.Running(),
			"pending": pending,
		}
		if !lastEdit.IsZero() {
			syncState["last_roster_change"] = lastEdit
		}
		if run, ok := h.Sync.LastRun(); ok {
			syncState["last_run"] = run
		}
		resp["sync"] = syncState
	}
	if h.Hub != nil {
		resp["lower_thirds"] = map[string]any{
			"state":       h.Hub.Current(),
			"subscribers": h.Hub.Subscribers(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
