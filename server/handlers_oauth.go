package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/openmic/telemetry"
)

// HandleYouTubeOAuthStart redirects to Google's consent screen.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.YouTube == nil || !h.Config.YouTubeConfigured() {
		writeError(w, http.StatusBadRequest, "youtube oauth not configured (need YT_CLIENT_ID, YT_CLIENT_SECRET, YT_REDIRECT_URI)")
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		writeError(w, http.StatusInternalServerError, "state gen error")
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(10*time.Minute)) {
		writeError(w, http.StatusServiceUnavailable, "too many pending oauth flows")
		return
	}
	http.Redirect(w, r, h.YouTube.AuthCodeURL(st), http.StatusFound)
}

// HandleYouTubeOAuthCallback exchanges the code and stores the token
// (encrypted when ENCRYPTION_KEY is set).
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.YouTube == nil {
		writeError(w, http.StatusBadRequest, "youtube oauth not configured")
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		writeError(w, http.StatusBadRequest, "missing code/state")
		return
	}
	if !h.takeOAuthState(st) {
		writeError(w, http.StatusBadRequest, "invalid state")
		return
	}
	tok, err := h.YouTube.Exchange(r.Context(), code)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("youtube oauth exchange failed", slog.Any("err", err), slog.String("component", "oauth"))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	// a pass may have been waiting for credentials
	if h.Sync != nil {
		h.Sync.Trigger()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"expiry":                tok.Expiry,
		"access_token_present":  tok.AccessToken != "",
		"refresh_token_present": tok.RefreshToken != "",
	})
}
