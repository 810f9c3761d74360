// Package dispatch delivers a message through the configured providers.
//
// Providers are tried in order. Each one gets a bounded number of attempts
// with exponential backoff, but only Transport failures are retried; Auth,
// Rejected and Configuration failures move straight to the next provider.
// When a tracking context is supplied the HTML body is instrumented and the
// outcome is written to the event log as exactly one SENT or BOUNCE event.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/provider"
	"github.com/ignite/mailflow/internal/tracking"
)

// ErrNoProviders is reported when the chain is empty.
var ErrNoProviders = errors.New("no mail providers configured")

// RetryPolicy bounds the attempts made against one provider.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// PolicyFromConfig converts the mail retry settings.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval(),
		MaxInterval:     cfg.MaxInterval(),
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Delivery describes how a message was (or was not) delivered.
type Delivery struct {
	Success   bool
	Provider  domain.ProviderType
	MessageID string
	Attempts  int
	ErrorKind domain.ErrorKind
	Err       error
	Outcomes  []domain.SendOutcome
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetryPolicy overrides the default policy of three attempts.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher sends messages through an ordered provider chain.
type Dispatcher struct {
	providers []provider.Provider
	events    eventlog.Recorder
	policy    RetryPolicy
	metrics   *Metrics
}

// New creates a Dispatcher. events may be nil when nothing is tracked.
func New(providers []provider.Provider, events eventlog.Recorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		providers: providers,
		events:    events,
		policy:    RetryPolicy{MaxAttempts: 3, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	return d
}

// SendEmail delivers msg and reports whether any provider accepted it.
// The error is non-nil only for an invalid message; delivery failures
// are reported as false.
func (d *Dispatcher) SendEmail(ctx context.Context, msg domain.Message, tc *domain.TrackingContext) (bool, error) {
	del, err := d.Deliver(ctx, msg, tc)
	if err != nil {
		return false, err
	}
	return del.Success, nil
}

// Deliver is SendEmail with the details of every attempt.
func (d *Dispatcher) Deliver(ctx context.Context, msg domain.Message, tc *domain.TrackingContext) (*Delivery, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	out := msg.Clone()
	tracked := tc != nil && tc.ContactID != ""
	if tracked && out.HTMLBody != "" {
		if tc.BaseURL != "" {
			out.HTMLBody = tracking.InjectTracking(out.HTMLBody, *tc)
		} else {
			logger.Warn("dispatch: tracking requested without a base URL, links left as-is", "contact_id", tc.ContactID)
		}
	}

	del := &Delivery{}
	if len(d.providers) == 0 {
		del.ErrorKind = domain.KindConfiguration
		del.Err = &provider.Error{Kind: domain.KindConfiguration, Err: ErrNoProviders}
	}

	for _, p := range d.providers {
		outcome, attempts := d.attempt(ctx, p, out)
		del.Attempts += attempts
		del.Outcomes = append(del.Outcomes, outcome)
		del.Provider = p.Name()

		if outcome.Success {
			del.Success = true
			del.MessageID = outcome.ProviderMessageID
			del.ErrorKind = domain.KindNone
			del.Err = nil
			break
		}
		del.ErrorKind = outcome.ErrorKind
		del.Err = outcome.Err
		logger.Warn("dispatch: provider failed",
			"provider", string(p.Name()), "error_kind", string(outcome.ErrorKind), "attempts", attempts, "error", outcome.Err)

		if ctx.Err() != nil {
			break
		}
	}

	if del.Success {
		d.metrics.dispatches.WithLabelValues("sent").Inc()
		logger.Info("dispatch: message sent",
			"provider", string(del.Provider), "message_id", del.MessageID, "attempts", del.Attempts, "recipients", len(msg.To))
	} else {
		d.metrics.dispatches.WithLabelValues("failed").Inc()
		logger.Error("dispatch: all providers failed",
			"error_kind", string(del.ErrorKind), "attempts", del.Attempts, "error", del.Err)
	}

	if tracked {
		d.record(ctx, *tc, del)
	}
	return del, nil
}

func (d *Dispatcher) attempt(ctx context.Context, p provider.Provider, msg domain.Message) (domain.SendOutcome, int) {
	var (
		outcome  domain.SendOutcome
		attempts int
	)
	op := func() error {
		attempts++
		start := time.Now()
		outcome = p.Send(ctx, msg)
		d.metrics.duration.WithLabelValues(string(p.Name())).Observe(time.Since(start).Seconds())

		if outcome.Success {
			d.metrics.attempts.WithLabelValues(string(p.Name()), "success").Inc()
			return nil
		}
		if outcome.ErrorKind == domain.KindNone {
			outcome.ErrorKind = domain.KindTransport
		}
		if outcome.Err == nil {
			outcome.Err = &provider.Error{Kind: outcome.ErrorKind, Provider: p.Name(), Err: errors.New("send failed")}
		}
		d.metrics.attempts.WithLabelValues(string(p.Name()), string(outcome.ErrorKind)).Inc()

		if !outcome.ErrorKind.Retryable() {
			return backoff.Permanent(outcome.Err)
		}
		return outcome.Err
	}

	notify := func(err error, wait time.Duration) {
		logger.Debug("dispatch: retrying provider",
			"provider", string(p.Name()), "attempt", attempts, "wait", wait.String(), "error", err)
	}
	_ = backoff.RetryNotify(op, d.policy.backOff(ctx), notify)
	return outcome, attempts
}

func (d *Dispatcher) record(ctx context.Context, tc domain.TrackingContext, del *Delivery) {
	if d.events == nil {
		return
	}
	evt := domain.EmailEvent{
		ContactID:  tc.ContactID,
		CampaignID: tc.CampaignID,
		Meta: map[string]string{
			"provider": string(del.Provider),
			"attempts": strconv.Itoa(del.Attempts),
		},
	}
	if del.Success {
		evt.Type = domain.EventSent
		evt.Meta["message_id"] = del.MessageID
	} else {
		evt.Type = domain.EventBounce
		evt.Meta["error_kind"] = string(del.ErrorKind)
		if del.Err != nil {
			evt.Meta["error"] = del.Err.Error()
		}
	}

	// The delivery already happened; a caller's cancellation should not
	// lose its record.
	if err := d.events.Append(context.WithoutCancel(ctx), evt); err != nil {
		logger.Error("dispatch: record event failed",
			"type", string(evt.Type), "contact_id", tc.ContactID, "campaign_id", tc.CampaignID, "error", err)
	}
}
