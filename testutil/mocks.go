package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockGoogleServer is a test server standing in for the Google REST APIs
// (YouTube Data API, Sheets API). Point a client at it with
// option.WithEndpoint(m.URL+"/") and option.WithHTTPClient(m.Client()).
type MockGoogleServer struct {
	*httptest.Server
	// Handlers are keyed by "METHOD /path"; a key without a method matches any method.
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []*http.Request
}

// NewMockGoogleServer creates a new mock Google API server closed at test cleanup.
func NewMockGoogleServer(t *testing.T) *MockGoogleServer {
	t.Helper()
	m := &MockGoogleServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.Clone(r.Context()))
		full := r.Method + " " + r.URL.Path
		h, ok := m.Handlers[full]
		if !ok {
			h, ok = m.Handlers[r.URL.Path]
		}
		if !ok {
			for key, candidate := range m.Handlers {
				prefix, wildcard := strings.CutSuffix(key, "*")
				if wildcard && (strings.HasPrefix(full, prefix) || strings.HasPrefix(r.URL.Path, prefix)) {
					h, ok = candidate, true
					break
				}
			}
		}
		m.mu.Unlock()
		if ok {
			h(w, r)
			return
		}
		WriteGoogleError(w, http.StatusNotFound, "notFound", "no mock handler for "+r.Method+" "+r.URL.Path)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for "METHOD /path" (or a "/prefix*" pattern).
func (m *MockGoogleServer) Handle(key string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[key] = h
}

// Requests returns the requests received so far.
func (m *MockGoogleServer) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// WriteJSON writes v as a JSON response with status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// WriteGoogleError writes an error body in the shape googleapi.CheckResponse parses.
func WriteGoogleError(w http.ResponseWriter, code int, reason, message string) {
	WriteJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"errors": []map[string]string{
				{"reason": reason, "message": message},
			},
		},
	})
}

// MockSheetValues serves rows for any spreadsheet values request.
func (m *MockGoogleServer) MockSheetValues(rows [][]any) {
	m.Handle("GET /v4/spreadsheets/*", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"range":          "Signups!A1:Z500",
			"majorDimension": "ROWS",
			"values":         rows,
		})
	})
}
