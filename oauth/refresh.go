// Package oauth schedules background refreshes of OAuth tokens persisted in
// the oauth_tokens table. It performs jittered checks and refreshes when the
// token's expiry falls within a configured window.
package oauth

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"
)

// Store is the token persistence the refresher reads and writes
// (db.TokenStoreAdapter in production).
type Store interface {
	GetOAuthToken(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// Refresher keeps one provider's token fresh.
type Refresher struct {
	Store    Store
	Provider string
	// Interval is how often to wake up and check.
	Interval time.Duration
	// Window: refresh when remaining lifetime <= Window.
	Window  time.Duration
	Refresh RefreshFunc

	now func() time.Time
}

// NewRefresher applies defaults of a 5 minute interval and 15 minute window.
func NewRefresher(store Store, provider string, interval, window time.Duration, fn RefreshFunc) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Refresher{Store: store, Provider: provider, Interval: interval, Window: window, Refresh: fn, now: time.Now}
}

// Check refreshes the token once if it is inside the window. It reports
// whether a refresh happened.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	_, rt, exp, scope, err := r.Store.GetOAuthToken(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if rt == "" || exp.Sub(r.now()) > r.Window {
		return false, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	newAT, newRT, newExp, newScope, err := r.Refresh(ctx2, rt)
	if err != nil {
		return false, err
	}
	if newRT == "" {
		newRT = rt
	}
	if newScope == "" {
		newScope = scope
	}
	if err := r.Store.UpsertOAuthToken(ctx, r.Provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
		return false, err
	}
	return true, nil
}

// Run checks on a jittered interval until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initial := time.Duration(rand.Int63n(int64(r.Interval/2) + 1))
	if !sleep(ctx, initial) {
		return
	}
	for {
		refreshed, err := r.Check(ctx)
		switch {
		case err != nil:
			slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err), slog.String("component", "oauth"))
		case refreshed:
			slog.Info("token refreshed", slog.String("provider", r.Provider), slog.String("component", "oauth"))
		}
		// per-iteration jitter of +/-20% of the interval
		jitterRange := int64(r.Interval/5) + 1
		//nolint:gosec // G404: scheduling jitter only
		next := r.Interval + time.Duration(rand.Int63n(jitterRange*2)-jitterRange)
		if !sleep(ctx, next) {
			return
		}
	}
}

// StartRefresher launches Run in a goroutine.
func StartRefresher(ctx context.Context, store Store, provider string, interval, window time.Duration, fn RefreshFunc) {
	go NewRefresher(store, provider, interval, window, fn).Run(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
