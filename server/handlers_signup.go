package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/openmic/roster"
	"github.com/onnwee/openmic/telemetry"
)

type signupRequest struct {
	Name     string        `json:"name"`
	TimeSlot string        `json:"time_slot"`
	Email    string        `json:"email"`
	Songs    []roster.Song `json:"songs"`
}

// HandleSignup registers a performer for the episode.
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if h.Signups == nil {
		unavailable(w, "sign-up store")
		return
	}
	var req signupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	p, err := roster.NormalizeSignup(roster.Performer{Name: req.Name, TimeSlot: req.TimeSlot, Email: req.Email, Songs: req.Songs})
	var verr *roster.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid sign-up", "fields": verr.Fields})
		return
	}
	id, err := h.Signups.Add(r.Context(), p)
	switch {
	case errors.Is(err, roster.ErrSlotTaken):
		writeError(w, http.StatusConflict, "time slot already taken")
		return
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Error("sign-up failed", slog.Any("err", err), slog.String("component", "http"))
		writeError(w, http.StatusInternalServerError, "sign-up failed")
		return
	}
	if h.Sync != nil {
		h.Sync.MarkChanged()
	}
	telemetry.LoggerWithCorr(r.Context()).Info("performer signed up", slog.Int64("id", id), slog.String("name", p.Name), slog.String("time_slot", p.TimeSlot), slog.Int("songs", len(p.Songs)))
	p.ID = id
	writeJSON(w, http.StatusCreated, p)
}
