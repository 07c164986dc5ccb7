// Package youtubeapi wraps the Google OAuth2 client config and the YouTube
// Data API live-broadcast endpoints used as the broadcast registry. Tokens are
// persisted via the provided TokenStore so they survive restarts and can be
// refreshed in the background; the same credentials authorise the Sheets
// roster source.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/openmic/config"
)

// Provider is the oauth_tokens row key for YouTube credentials.
const Provider = "youtube"

// ErrNoToken is returned until the OAuth flow has been completed once.
var ErrNoToken = errors.New("no youtube token stored")

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, scope string, err error)
}

type Service struct {
	store TokenStore
	oauth *oauth2.Config
	opts  []option.ClientOption

	mu     sync.Mutex
	source oauth2.TokenSource
}

// New builds the service. opts are appended to every API client, which lets
// tests point the clients at a mock endpoint.
func New(cfg *config.Config, ts TokenStore, opts ...option.ClientOption) *Service {
	scopes := []string{yt.YoutubeForceSslScope, sheets.SpreadsheetsReadonlyScope}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	oc := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{store: ts, oauth: oc, opts: opts}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and persists it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpsertOAuthToken(ctx, Provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, scopeOf(tok)); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	s.reset()
	return tok, nil
}

// Refresh exchanges a refresh token for a new access token. It matches
// oauth.RefreshFunc so the background refresher can keep the stored token warm.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	s.reset()
	return tok.AccessToken, tok.RefreshToken, tok.Expiry, scopeOf(tok), nil
}

func scopeOf(tok *oauth2.Token) string {
	if v, ok := tok.Extra("scope").(string); ok {
		return v
	}
	return ""
}

func (s *Service) reset() {
	s.mu.Lock()
	s.source = nil
	s.mu.Unlock()
}

// tokenSource loads the stored token once and keeps a refreshing source for
// it. Refreshed tokens are written back to the store.
func (s *Service) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		return s.source, nil
	}
	access, refresh, expiry, scope, err := s.store.GetOAuthToken(ctx, Provider)
	if err != nil {
		return nil, fmt.Errorf("load youtube token: %w", err)
	}
	if access == "" && refresh == "" {
		return nil, ErrNoToken
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry, TokenType: "Bearer"}
	// the source outlives ctx, so refreshes must not be tied to it
	base := s.oauth.TokenSource(context.Background(), tok)
	s.source = &persistingSource{base: base, store: s.store, scope: scope, last: access}
	return s.source, nil
}

// HTTPClient returns an authorised HTTP client.
func (s *Service) HTTPClient(ctx context.Context) (*http.Client, error) {
	ts, err := s.tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(context.Background(), ts), nil
}

// YouTube returns a YouTube Data API client.
func (s *Service) YouTube(ctx context.Context) (*yt.Service, error) {
	client, err := s.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	return yt.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, s.opts...)...)
}

// Sheets returns a Sheets API client using the same credentials.
func (s *Service) Sheets(ctx context.Context) (*sheets.Service, error) {
	client, err := s.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	return sheets.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, s.opts...)...)
}

type persistingSource struct {
	base  oauth2.TokenSource
	store TokenStore
	scope string

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.store.UpsertOAuthToken(ctx, Provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, p.scope); err != nil {
			slog.Warn("persist refreshed youtube token failed", slog.Any("err", err), slog.String("component", "youtube"))
		}
	}
	return tok, nil
}
