// Package oauth caches client-credentials access tokens for the mail API.
//
// A token is reused until skew before its expiry. Concurrent callers that
// find no usable token share a single request to the token endpoint, and a
// provider that gets a 401 can drop the token it used so the next call
// fetches a fresh one.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/mailflow/internal/pkg/httpretry"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSkew = 60 * time.Second

	// Used when the endpoint omits expires_in.
	defaultLifetime = time.Hour
	requestTimeout  = 30 * time.Second
)

// AccessToken is a bearer token and the moment it stops being accepted.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Usable reports whether the token can still be sent at now.
func (t AccessToken) Usable(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-skew))
}

// State describes the cached token.
type State int

const (
	NoToken State = iota
	Valid
	Expired
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return "no_token"
	}
}

// AuthError is returned when the token endpoint refuses or cannot be reached.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "oauth: token request failed: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// Config configures a TokenManager.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Skew         time.Duration
	// HTTPClient defaults to a client that retries transient failures.
	HTTPClient *http.Client
}

// TokenManager hands out access tokens, refreshing them as needed.
// It is safe for concurrent use.
type TokenManager struct {
	creds      clientcredentials.Config
	httpClient *http.Client
	skew       time.Duration
	now        func() time.Time

	mu     sync.Mutex
	cached AccessToken

	group     singleflight.Group
	refreshes atomic.Int64
}

// NewTokenManager creates a TokenManager. No request is made until the
// first call to Token.
func NewTokenManager(cfg Config) *TokenManager {
	skew := cfg.Skew
	if skew <= 0 {
		skew = DefaultSkew
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpretry.NewClient(requestTimeout, 2)
	}
	return &TokenManager{
		creds: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: hc,
		skew:       skew,
		now:        time.Now,
	}
}

// Token returns a usable access token, fetching one if the cache is empty
// or within skew of expiry.
func (m *TokenManager) Token(ctx context.Context) (AccessToken, error) {
	if tok, ok := m.cachedToken(); ok {
		return tok, nil
	}

	ch := m.group.DoChan("token", func() (any, error) {
		if tok, ok := m.cachedToken(); ok {
			return tok, nil
		}
		// Detached from the first caller so its cancellation does not
		// fail everyone else waiting on this refresh.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
		defer cancel()
		return m.fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return AccessToken{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AccessToken{}, res.Err
		}
		return res.Val.(AccessToken), nil
	}
}

// Invalidate drops the cached token if it is still stale. An empty stale
// value drops whatever is cached.
func (m *TokenManager) Invalidate(stale string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached.Value == "" {
		return
	}
	if stale == "" || m.cached.Value == stale {
		m.cached = AccessToken{}
		logger.Info("oauth: token invalidated")
	}
}

// State reports whether a usable token is cached.
func (m *TokenManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.cached.Value == "":
		return NoToken
	case m.cached.Usable(m.now(), m.skew):
		return Valid
	default:
		return Expired
	}
}

// Refreshes is the number of token requests issued so far.
func (m *TokenManager) Refreshes() int64 {
	return m.refreshes.Load()
}

func (m *TokenManager) cachedToken() (AccessToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cached, m.cached.Usable(m.now(), m.skew)
}

func (m *TokenManager) fetch(ctx context.Context) (AccessToken, error) {
	m.refreshes.Add(1)
	issuedAt := m.now()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	tok, err := m.creds.Token(ctx)
	if err != nil {
		m.mu.Lock()
		m.cached = AccessToken{}
		m.mu.Unlock()
		logger.Error("oauth: token request failed", "token_url", m.creds.TokenURL, "error", err)
		return AccessToken{}, &AuthError{Err: err}
	}

	at := AccessToken{Value: tok.AccessToken, ExpiresAt: expiresAt(tok, issuedAt)}
	m.mu.Lock()
	m.cached = at
	m.mu.Unlock()

	logger.Info("oauth: token refreshed", "expires_at", at.ExpiresAt.Format(time.RFC3339))
	return at, nil
}

// expiresAt prefers the raw expires_in so the lifetime is measured on the
// manager's clock.
func expiresAt(tok *oauth2.Token, issuedAt time.Time) time.Time {
	if secs, ok := expiresIn(tok.Extra("expires_in")); ok {
		return issuedAt.Add(time.Duration(secs) * time.Second)
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	return issuedAt.Add(defaultLifetime)
}

func expiresIn(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n > 0
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i > 0
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil && i > 0
	}
	return 0, false
}

// IsAuthError reports whether err came from the token endpoint.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
