package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/testutil"
)

type memStore struct {
	mu      sync.Mutex
	access  string
	refresh string
	expiry  time.Time
	scope   string
}

func (m *memStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access, m.refresh, m.expiry, m.scope, nil
}

func (m *memStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access, m.refresh, m.expiry, m.scope = access, refresh, expiry, scope
	return nil
}

func TestCheckOutsideWindow(t *testing.T) {
	store := &memStore{access: "a", refresh: "r", expiry: time.Now().Add(time.Hour)}
	called := false
	r := NewRefresher(store, "youtube", time.Minute, 15*time.Minute, func(ctx context.Context, rt string) (string, string, time.Time, string, error) {
		called = true
		return "", "", time.Time{}, "", nil
	})
	refreshed, err := r.Check(context.Background())
	if err != nil || refreshed || called {
		t.Fatalf("Check = %v, %v (called=%v)", refreshed, err, called)
	}
}

func TestCheckWithinWindow(t *testing.T) {
	store := &memStore{access: "old", refresh: "old-refresh", expiry: time.Now().Add(5 * time.Minute), scope: "scope1"}
	newExp := time.Now().Add(2 * time.Hour)
	r := NewRefresher(store, "youtube", time.Minute, 15*time.Minute, func(ctx context.Context, rt string) (string, string, time.Time, string, error) {
		if rt != "old-refresh" {
			t.Errorf("refresh called with %q", rt)
		}
		// provider did not rotate the refresh token
		return "new", "", newExp, "", nil
	})
	refreshed, err := r.Check(context.Background())
	if err != nil || !refreshed {
		t.Fatalf("Check = %v, %v", refreshed, err)
	}
	if store.access != "new" || store.refresh != "old-refresh" || store.scope != "scope1" || !store.expiry.Equal(newExp) {
		t.Errorf("stored token = %+v", store)
	}
}

func TestCheckErrors(t *testing.T) {
	store := &memStore{refresh: "r", expiry: time.Now()}
	r := NewRefresher(store, "youtube", 0, 0, func(ctx context.Context, rt string) (string, string, time.Time, string, error) {
		return "", "", time.Time{}, "", errors.New("invalid_grant")
	})
	if r.Interval != 5*time.Minute || r.Window != 15*time.Minute {
		t.Errorf("defaults not applied: %s %s", r.Interval, r.Window)
	}
	if _, err := r.Check(context.Background()); err == nil {
		t.Error("expected refresh error")
	}

	// no refresh token: nothing to do
	store.refresh = ""
	if refreshed, err := r.Check(context.Background()); refreshed || err != nil {
		t.Errorf("Check without refresh token = %v, %v", refreshed, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := NewRefresher(&memStore{}, "youtube", 10*time.Millisecond, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Run(ctx); close(done) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCheckWithDatabase(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := &db.TokenStoreAdapter{DB: database}
	ctx := context.Background()
	if err := store.UpsertOAuthToken(ctx, "youtube", "old", "old-refresh", time.Now().Add(time.Minute), "s"); err != nil {
		t.Fatal(err)
	}
	r := NewRefresher(store, "youtube", time.Minute, 15*time.Minute, func(ctx context.Context, rt string) (string, string, time.Time, string, error) {
		return "new", "new-refresh", time.Now().Add(time.Hour), "s2", nil
	})
	if refreshed, err := r.Check(ctx); err != nil || !refreshed {
		t.Fatalf("Check = %v, %v", refreshed, err)
	}
	access, refresh, _, scope, err := store.GetOAuthToken(ctx, "youtube")
	if err != nil || access != "new" || refresh != "new-refresh" || scope != "s2" {
		t.Errorf("stored = %q %q %q %v", access, refresh, scope, err)
	}
}
