package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	defer ok.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }))
	defer down.Close()

	client := &http.Client{Timeout: time.Second}
	if code := probe(context.Background(), client, ok.URL); code != 0 {
		t.Errorf("healthy server: exit %d", code)
	}
	if code := probe(context.Background(), client, down.URL); code != 1 {
		t.Errorf("unhealthy server: exit %d", code)
	}
	if code := probe(context.Background(), client, "http://127.0.0.1:1/healthz"); code != 1 {
		t.Errorf("unreachable server: exit %d", code)
	}
}
