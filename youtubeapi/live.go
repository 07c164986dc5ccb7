package youtubeapi

import (
	"context"
	"errors"
	"time"

	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/openmic/reconcile"
)

const (
	listPageSize = 50
	// completed broadcasts accumulate forever; only the newest pages are read
	maxCompletedPages = 4
)

var errNotFound = errors.New("broadcast not found")

// ClientFunc yields a YouTube client, typically Service.YouTube.
type ClientFunc func(ctx context.Context) (*yt.Service, error)

// LiveRegistry is the YouTube Live implementation of reconcile.Registry.
type LiveRegistry struct {
	client   ClientFunc
	privacy  string
	lookback time.Duration
	lead     time.Duration
	now      func() time.Time
}

// RegistryOption configures a LiveRegistry.
type RegistryOption func(*LiveRegistry)

// WithCompletedLookback limits completed broadcasts in List to those that
// ended within d. Zero lists every completed broadcast on the first pages.
func WithCompletedLookback(d time.Duration) RegistryOption {
	return func(r *LiveRegistry) { r.lookback = d }
}

// WithScheduleLead sets how far in the future new broadcasts are scheduled.
func WithScheduleLead(d time.Duration) RegistryOption {
	return func(r *LiveRegistry) { r.lead = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *LiveRegistry) { r.now = now }
}

// NewLiveRegistry returns a registry creating broadcasts with the given
// privacy status.
func NewLiveRegistry(client ClientFunc, privacy string, opts ...RegistryOption) *LiveRegistry {
	if privacy == "" {
		privacy = string(reconcile.PrivacyUnlisted)
	}
	r := &LiveRegistry{client: client, privacy: privacy, lookback: 24 * time.Hour, lead: time.Hour, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *LiveRegistry) service(ctx context.Context, op, id string) (*yt.Service, error) {
	svc, err := r.client(ctx)
	if err != nil {
		// no token yet, or the token could not be refreshed; retry next tick
		return nil, reconcile.Transient(op, id, err)
	}
	return svc, nil
}

// List returns upcoming, active and recently completed broadcasts of the
// authorised channel, deduplicated by id.
func (r *LiveRegistry) List(ctx context.Context) ([]reconcile.ManagedBroadcast, error) {
	svc, err := r.service(ctx, "list", "")
	if err != nil {
		return nil, err
	}
	var cutoff time.Time
	if r.lookback > 0 {
		cutoff = r.now().Add(-r.lookback)
	}
	seen := map[string]bool{}
	var out []reconcile.ManagedBroadcast
	for _, status := range []string{"upcoming", "active", "completed"} {
		pageToken := ""
		for page := 0; ; page++ {
			call := svc.LiveBroadcasts.List([]string{"id", "snippet", "status"}).
				BroadcastStatus(status).
				MaxResults(listPageSize).
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			resp, err := call.Do()
			if err != nil {
				return nil, classify("list", "", err)
			}
			for _, b := range resp.Items {
				if b == nil || b.Id == "" || seen[b.Id] {
					continue
				}
				if status == "completed" && endedBefore(b, cutoff) {
					continue
				}
				seen[b.Id] = true
				out = append(out, toManaged(b))
			}
			if resp.NextPageToken == "" || (status == "completed" && page+1 >= maxCompletedPages) {
				break
			}
			pageToken = resp.NextPageToken
		}
	}
	return out, nil
}

// Create inserts an event broadcast scheduled lead after now and returns its id.
func (r *LiveRegistry) Create(ctx context.Context, title, description string) (string, error) {
	svc, err := r.service(ctx, "create", "")
	if err != nil {
		return "", err
	}
	b := &yt.LiveBroadcast{
		Snippet: &yt.LiveBroadcastSnippet{
			Title:              title,
			Description:        description,
			ScheduledStartTime: r.now().Add(r.lead).UTC().Format(time.RFC3339),
		},
		Status: &yt.LiveBroadcastStatus{
			PrivacyStatus:           r.privacy,
			SelfDeclaredMadeForKids: false,
		},
		ContentDetails: &yt.LiveBroadcastContentDetails{
			EnableAutoStart: true,
			EnableAutoStop:  true,
		},
	}
	res, err := svc.LiveBroadcasts.Insert([]string{"snippet", "status", "contentDetails"}, b).Context(ctx).Do()
	if err != nil {
		return "", classify("create", "", err)
	}
	if res.Id == "" {
		return "", reconcile.Permanent("create", "", errors.New("empty broadcast id in response"))
	}
	return res.Id, nil
}

// Update rewrites title and description. The current snippet is read first
// because a snippet update must carry the scheduled start time.
func (r *LiveRegistry) Update(ctx context.Context, id, title, description string) error {
	svc, err := r.service(ctx, "update", id)
	if err != nil {
		return err
	}
	resp, err := svc.LiveBroadcasts.List([]string{"id", "snippet", "status"}).Id(id).Context(ctx).Do()
	if err != nil {
		return classify("update", id, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return reconcile.Permanent("update", id, errNotFound)
	}
	cur := resp.Items[0]
	if toManaged(cur).State.Terminal() {
		return reconcile.Permanent("update", id, errors.New("broadcast is live or complete"))
	}
	snippet := &yt.LiveBroadcastSnippet{
		Title:              title,
		Description:        description,
		ScheduledStartTime: cur.Snippet.ScheduledStartTime,
		ScheduledEndTime:   cur.Snippet.ScheduledEndTime,
	}
	if _, err := svc.LiveBroadcasts.Update([]string{"snippet"}, &yt.LiveBroadcast{Id: id, Snippet: snippet}).Context(ctx).Do(); err != nil {
		return classify("update", id, err)
	}
	return nil
}

// Delete removes a broadcast.
func (r *LiveRegistry) Delete(ctx context.Context, id string) error {
	svc, err := r.service(ctx, "delete", id)
	if err != nil {
		return err
	}
	if err := svc.LiveBroadcasts.Delete(id).Context(ctx).Do(); err != nil {
		return classify("delete", id, err)
	}
	return nil
}

func toManaged(b *yt.LiveBroadcast) reconcile.ManagedBroadcast {
	m := reconcile.ManagedBroadcast{ID: b.Id, State: reconcile.StateCreated}
	if b.Snippet != nil {
		m.Title = b.Snippet.Title
		m.Description = b.Snippet.Description
	}
	if b.Status != nil {
		m.State = lifecycle(b.Status.LifeCycleStatus)
		m.Privacy = reconcile.Privacy(b.Status.PrivacyStatus)
	}
	return m
}

// lifecycle maps YouTube's lifeCycleStatus. Transitional states collapse onto
// their target; unknown states are treated as already aired so they are never
// mutated.
func lifecycle(s string) reconcile.LifecycleState {
	switch s {
	case "created", "":
		return reconcile.StateCreated
	case "ready":
		return reconcile.StateReady
	case "testing", "testStarting":
		return reconcile.StateTesting
	case "live", "liveStarting":
		return reconcile.StateLive
	case "complete":
		return reconcile.StateComplete
	case "revoked":
		return reconcile.StateRevoked
	default:
		return reconcile.StateComplete
	}
}

func endedBefore(b *yt.LiveBroadcast, cutoff time.Time) bool {
	if cutoff.IsZero() || b.Snippet == nil || b.Snippet.ActualEndTime == "" {
		return false
	}
	end, err := time.Parse(time.RFC3339, b.Snippet.ActualEndTime)
	if err != nil {
		return false
	}
	return end.Before(cutoff)
}
