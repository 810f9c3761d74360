package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type tokenServer struct {
	*httptest.Server
	requests atomic.Int64
	status   atomic.Int64
	delay    time.Duration
	lastForm sync.Map
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.status.Store(http.StatusOK)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.requests.Add(1)
		_ = r.ParseForm()
		for k := range r.PostForm {
			ts.lastForm.Store(k, r.PostForm.Get(k))
		}
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		w.Header().Set("Content-Type", "application/json")
		if code := int(ts.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			w.Write([]byte(`{"error":"invalid_client","error_description":"bad secret"}`))
			return
		}
		w.Write([]byte(`{"access_token":"tok-` + string(rune('0'+n)) + `","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newManager(ts *tokenServer, clock *fakeClock) *TokenManager {
	m := NewTokenManager(Config{
		TokenURL:     ts.URL + "/tenant/oauth2/v2.0/token",
		ClientID:     "client-1",
		ClientSecret: "s3cret",
		Scopes:       []string{"https://graph.microsoft.com/.default"},
		HTTPClient:   ts.Client(),
	})
	m.now = clock.Now
	return m
}

func TestTokenCachedWithinLifetime(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(ts, clock)
	ctx := context.Background()

	assert.Equal(t, NoToken, m.State())

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)
	assert.Equal(t, clock.Now().Add(time.Hour), tok.ExpiresAt)
	assert.Equal(t, Valid, m.State())

	clock.Advance(3539 * time.Second)
	tok, err = m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)
	assert.EqualValues(t, 1, ts.requests.Load())
	assert.EqualValues(t, 1, m.Refreshes())
}

func TestTokenRefreshedInsideSkew(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := newManager(ts, clock)
	ctx := context.Background()

	_, err := m.Token(ctx)
	require.NoError(t, err)

	clock.Advance(3540 * time.Second)
	assert.Equal(t, Expired, m.State())

	tok, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.Value)

	_, err = m.Token(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, ts.requests.Load())
}

func TestTokenRequestForm(t *testing.T) {
	ts := newTokenServer(t)
	m := newManager(ts, &fakeClock{t: time.Now()})

	_, err := m.Token(context.Background())
	require.NoError(t, err)

	form := map[string]string{}
	ts.lastForm.Range(func(k, v any) bool {
		form[k.(string)] = v.(string)
		return true
	})
	assert.Equal(t, "client_credentials", form["grant_type"])
	assert.Equal(t, "client-1", form["client_id"])
	assert.Equal(t, "s3cret", form["client_secret"])
	assert.Equal(t, "https://graph.microsoft.com/.default", form["scope"])
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	ts := newTokenServer(t)
	ts.delay = 50 * time.Millisecond
	m := newManager(ts, &fakeClock{t: time.Now()})

	var wg sync.WaitGroup
	values := make([]string, 20)
	for i := range values {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.Token(context.Background())
			if err == nil {
				values[i] = tok.Value
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ts.requests.Load())
	for _, v := range values {
		assert.Equal(t, "tok-1", v)
	}
}

func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	ts := newTokenServer(t)
	ts.delay = 50 * time.Millisecond
	m := newManager(ts, &fakeClock{t: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.Token(ctx)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.Value)
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.EqualValues(t, 1, ts.requests.Load())
}

func TestInvalidateForcesRefresh(t *testing.T) {
	ts := newTokenServer(t)
	m := newManager(ts, &fakeClock{t: time.Now()})
	ctx := context.Background()

	tok, err := m.Token(ctx)
	require.NoError(t, err)

	m.Invalidate(tok.Value)
	assert.Equal(t, NoToken, m.State())

	tok2, err := m.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok2.Value)

	// A late 401 for the old token must not drop the new one.
	m.Invalidate(tok.Value)
	assert.Equal(t, Valid, m.State())

	m.Invalidate("")
	assert.Equal(t, NoToken, m.State())
}

func TestTokenEndpointFailure(t *testing.T) {
	ts := newTokenServer(t)
	ts.status.Store(http.StatusUnauthorized)
	m := newManager(ts, &fakeClock{t: time.Now()})

	_, err := m.Token(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Equal(t, NoToken, m.State())

	ts.status.Store(http.StatusOK)
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Value)
}

func TestExpiresIn(t *testing.T) {
	for _, v := range []any{float64(3600), "3600"} {
		n, ok := expiresIn(v)
		assert.True(t, ok)
		assert.EqualValues(t, 3600, n)
	}
	_, ok := expiresIn(nil)
	assert.False(t, ok)
	_, ok = expiresIn(float64(0))
	assert.False(t, ok)
}
