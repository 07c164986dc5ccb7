package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/onnwee/openmic/config"
	dbpkg "github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/youtubeapi"
)

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports whether the service can sync: the database answers and,
// with the YouTube registry, a YouTube token has been stored.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"database", func(ctx context.Context) error {
			if h.DB == nil {
				return errors.New("no database")
			}
			return h.DB.PingContext(ctx)
		}},
		{"credentials", func(ctx context.Context) error {
			if h.Config.RegistryBackend != config.RegistryYouTube {
				return nil
			}
			_, refresh, _, _, err := dbpkg.GetOAuthToken(ctx, h.DB, youtubeapi.Provider)
			if err != nil {
				return err
			}
			if refresh == "" {
				return fmt.Errorf("missing %s OAuth token", youtubeapi.Provider)
			}
			return nil
		}},
	}
	for _, c := range checks {
		if err := c.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": c.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
