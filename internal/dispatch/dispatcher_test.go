package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/provider"
	"github.com/ignite/mailflow/internal/tracking"
)

// scriptedProvider returns the queued outcomes in order, repeating the
// last one once the script runs out.
type scriptedProvider struct {
	name   domain.ProviderType
	mu     sync.Mutex
	script []domain.SendOutcome
	calls  int
	last   domain.Message
}

func (p *scriptedProvider) Name() domain.ProviderType { return p.name }

func (p *scriptedProvider) Send(_ context.Context, msg domain.Message) domain.SendOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = msg
	i := p.calls
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	p.calls++
	out := p.script[i]
	out.Provider = p.name
	return out
}

func ok(id string) domain.SendOutcome {
	return domain.SendOutcome{Success: true, ProviderMessageID: id}
}

func fail(kind domain.ErrorKind) domain.SendOutcome {
	return domain.SendOutcome{ErrorKind: kind, Err: &provider.Error{Kind: kind, Err: errors.New(string(kind) + " failure")}}
}

var fastRetry = WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})

func message() domain.Message {
	return domain.Message{
		From:     domain.Address{Email: "hello@bistro.test"},
		To:       []domain.Address{{Email: "guest@guest.test"}},
		Subject:  "Hi",
		HTMLBody: `<a href="https://dest.test">Go</a></body>`,
	}
}

func TestSendEmailEndToEndScenario(t *testing.T) {
	p := &scriptedProvider{name: domain.ProviderGraph, script: []domain.SendOutcome{ok("m-1")}}
	store := eventlog.NewMemoryStore()
	d := New([]provider.Provider{p}, store, fastRetry)

	tc := &domain.TrackingContext{ContactID: "c1", CampaignID: "camp1", BaseURL: "https://x.test"}
	sent, err := d.SendEmail(context.Background(), message(), tc)
	require.NoError(t, err)
	assert.True(t, sent)

	wantLink := "https://x.test/track/click?cid=c1&cmp=camp1&u=" + tracking.EncodeURL("https://dest.test")
	assert.Contains(t, p.last.HTMLBody, `href="`+wantLink+`"`)
	assert.Contains(t, p.last.HTMLBody, `<img src="https://x.test/track/open?cid=c1&cmp=camp1"`)
	assert.True(t, strings.HasSuffix(p.last.HTMLBody, `style="display:none" /></body>`))

	events, _ := store.List(context.Background(), eventlog.Filter{})
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSent, events[0].Type)
	assert.Equal(t, "c1", events[0].ContactID)
	assert.Equal(t, "camp1", events[0].CampaignID)
	assert.Equal(t, "m-1", events[0].Meta["message_id"])
}

func TestSendEmailDoesNotMutateCallerMessage(t *testing.T) {
	p := &scriptedProvider{name: domain.ProviderSMTP, script: []domain.SendOutcome{ok("")}}
	d := New([]provider.Provider{p}, eventlog.NewMemoryStore())

	msg := message()
	_, err := d.SendEmail(context.Background(), msg, &domain.TrackingContext{ContactID: "c1", BaseURL: "https://x.test"})
	require.NoError(t, err)
	assert.Equal(t, `<a href="https://dest.test">Go</a></body>`, msg.HTMLBody)
}

func TestSendEmailWithoutTrackingLogsNothing(t *testing.T) {
	p := &scriptedProvider{name: domain.ProviderSMTP, script: []domain.SendOutcome{fail(domain.KindRejected)}}
	store := eventlog.NewMemoryStore()
	d := New([]provider.Provider{p}, store, fastRetry)

	sent, err := d.SendEmail(context.Background(), message(), nil)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, `<a href="https://dest.test">Go</a></body>`, p.last.HTMLBody)
}

func TestTotalFailureLogsExactlyOneBounce(t *testing.T) {
	graph := &scriptedProvider{name: domain.ProviderGraph, script: []domain.SendOutcome{fail(domain.KindAuth)}}
	smtp := &scriptedProvider{name: domain.ProviderSMTP, script: []domain.SendOutcome{fail(domain.KindTransport)}}
	store := eventlog.NewMemoryStore()
	d := New([]provider.Provider{graph, smtp}, store, fastRetry)

	del, err := d.Deliver(context.Background(), message(), &domain.TrackingContext{ContactID: "c7", CampaignID: "camp9", BaseURL: "https://x.test"})
	require.NoError(t, err)
	assert.False(t, del.Success)
	assert.Equal(t, domain.KindTransport, del.ErrorKind)

	// Auth is not retried; Transport uses all three attempts.
	assert.Equal(t, 1, graph.calls)
	assert.Equal(t, 3, smtp.calls)
	assert.Equal(t, 4, del.Attempts)

	events, _ := store.List(context.Background(), eventlog.Filter{})
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventBounce, events[0].Type)
	assert.Equal(t, "c7", events[0].ContactID)
	assert.Equal(t, "camp9", events[0].CampaignID)
	assert.Equal(t, "transport", events[0].Meta["error_kind"])
	assert.Equal(t, "smtp", events[0].Meta["provider"])
}

func TestFailoverToNextProvider(t *testing.T) {
	graph := &scriptedProvider{name: domain.ProviderGraph, script: []domain.SendOutcome{fail(domain.KindConfiguration)}}
	resend := &scriptedProvider{name: domain.ProviderResend, script: []domain.SendOutcome{ok("re-1")}}
	d := New([]provider.Provider{graph, resend}, nil, fastRetry)

	del, err := d.Deliver(context.Background(), message(), nil)
	require.NoError(t, err)
	assert.True(t, del.Success)
	assert.Equal(t, domain.ProviderResend, del.Provider)
	assert.Equal(t, "re-1", del.MessageID)
	assert.Len(t, del.Outcomes, 2)
	assert.NoError(t, del.Err)
}

func TestTransientFailureRetriedOnSameProvider(t *testing.T) {
	p := &scriptedProvider{name: domain.ProviderSES, script: []domain.SendOutcome{fail(domain.KindTransport), ok("ses-1")}}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	d := New([]provider.Provider{p}, nil, fastRetry, WithMetrics(m))

	del, err := d.Deliver(context.Background(), message(), nil)
	require.NoError(t, err)
	assert.True(t, del.Success)
	assert.Equal(t, 2, del.Attempts)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("ses", "transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("ses", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("sent")))
}

func TestRejectedIsNotRetried(t *testing.T) {
	p := &scriptedProvider{name: domain.ProviderResend, script: []domain.SendOutcome{fail(domain.KindRejected), ok("never")}}
	d := New([]provider.Provider{p}, nil, fastRetry)

	sent, err := d.SendEmail(context.Background(), message(), nil)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1, p.calls)
}

func TestInvalidMessageIsAnError(t *testing.T) {
	p := &scriptedProvider{name: domain.ProviderSMTP, script: []domain.SendOutcome{ok("x")}}
	store := eventlog.NewMemoryStore()
	d := New([]provider.Provider{p}, store)

	msg := message()
	msg.To = nil
	sent, err := d.SendEmail(context.Background(), msg, &domain.TrackingContext{ContactID: "c1"})
	assert.ErrorIs(t, err, domain.ErrInvalidMessage)
	assert.False(t, sent)
	assert.Equal(t, 0, p.calls)
	assert.Equal(t, 0, store.Len())
}

func TestNoProvidersBounces(t *testing.T) {
	store := eventlog.NewMemoryStore()
	d := New(nil, store)

	del, err := d.Deliver(context.Background(), message(), &domain.TrackingContext{ContactID: "c1", BaseURL: "https://x.test"})
	require.NoError(t, err)
	assert.False(t, del.Success)
	assert.Equal(t, domain.KindConfiguration, del.ErrorKind)
	assert.ErrorIs(t, del.Err, ErrNoProviders)

	counts, _ := store.CountByType(context.Background(), "")
	assert.Equal(t, 1, counts[domain.EventBounce])
}

type brokenRecorder struct{}

func (brokenRecorder) Append(context.Context, domain.EmailEvent) error { return errors.New("db down") }

func TestEventLogFailureDoesNotChangeResult(t *testing.T) {
	p := &scriptedProvider{name: domain.ProviderGraph, script: []domain.SendOutcome{ok("m")}}
	d := New([]provider.Provider{p}, brokenRecorder{})

	sent, err := d.SendEmail(context.Background(), message(), &domain.TrackingContext{ContactID: "c1", BaseURL: "https://x.test"})
	require.NoError(t, err)
	assert.True(t, sent)
}
