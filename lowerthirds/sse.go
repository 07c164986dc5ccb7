package lowerthirds

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// keepAlive is how often an idle stream sends a comment line so proxies keep
// the connection open.
const keepAlive = 25 * time.Second

// StreamHandler serves the hub as server-sent events. The first event is the
// current state; each later event is a state change.
func StreamHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		sub := h.Subscribe()
		defer sub.Close()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Write([]byte(": ping\n\n")); err != nil {
					return
				}
				flusher.Flush()
			case st := <-sub.C:
				data, err := json.Marshal(st)
				if err != nil {
					slog.Warn("failed to encode display state", slog.Any("err", err))
					continue
				}
				if _, err := w.Write([]byte("event: " + string(st.Type) + "\ndata: ")); err != nil {
					return
				}
				if _, err := w.Write(data); err != nil {
					return
				}
				if _, err := w.Write([]byte("\n\n")); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// StateHandler returns the current state as JSON.
func StateHandler(h *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.Current())
	}
}
