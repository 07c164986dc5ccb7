package lowerthirds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HTTPPusher POSTs events as JSON to a remote display server. Server errors
// and network failures are retried with exponential backoff until the push
// context expires; 4xx responses are not retried.
type HTTPPusher struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewHTTPPusher returns a pusher for url. A non-empty token is sent as a
// bearer token.
func NewHTTPPusher(url, token string) *HTTPPusher {
	return &HTTPPusher{URL: url, Token: token, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *HTTPPusher) Push(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.post(ctx, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(4))
	return err
}

func (p *HTTPPusher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("display server returned %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("display server rejected event: %d", resp.StatusCode))
	}
}
