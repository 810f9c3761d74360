package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/resend/resend-go/v2"
)

// ResendProvider sends through the Resend transactional API.
type ResendProvider struct {
	client   *resend.Client
	problems []error
}

// NewResendProvider creates a ResendProvider. baseURL overrides the API
// endpoint and may be empty.
func NewResendProvider(apiKey, baseURL string, timeout time.Duration, problems ...error) *ResendProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc := &http.Client{Timeout: timeout, Transport: statusRecorder{base: http.DefaultTransport}}
	client := resend.NewCustomClient(hc, apiKey)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		if u, err := url.Parse(baseURL); err == nil {
			client.BaseURL = u
		} else {
			problems = append(problems, err)
		}
	}
	return &ResendProvider{client: client, problems: problems}
}

func (p *ResendProvider) Name() domain.ProviderType { return domain.ProviderResend }

func (p *ResendProvider) Send(ctx context.Context, msg domain.Message) domain.SendOutcome {
	if len(p.problems) > 0 {
		return misconfigured(p.Name(), p.problems)
	}

	params := &resend.SendEmailRequest{
		From:    msg.From.String(),
		To:      formatted(msg.To),
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
		Text:    msg.TextBody,
		Headers: msg.Headers,
	}
	if len(msg.Cc) > 0 {
		params.Cc = formatted(msg.Cc)
	}
	if len(msg.Bcc) > 0 {
		params.Bcc = formatted(msg.Bcc)
	}
	if msg.ReplyTo != nil {
		params.ReplyTo = msg.ReplyTo.String()
	}

	status := new(int)
	resp, err := p.client.Emails.SendWithContext(withStatus(ctx, status), params)
	if err != nil {
		return failed(p.Name(), classifyHTTPStatus(*status), err)
	}
	return sent(p.Name(), resp.Id)
}

// classifyHTTPStatus maps an API status onto an ErrorKind. A zero status
// means no response was received.
func classifyHTTPStatus(status int) domain.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.KindAuth
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.KindRejected
	default:
		return domain.KindTransport
	}
}

type statusKey struct{}

func withStatus(ctx context.Context, status *int) context.Context {
	return context.WithValue(ctx, statusKey{}, status)
}

// statusRecorder records the response status into the *int carried by
// the request context, since the API client only returns an error.
type statusRecorder struct {
	base http.RoundTripper
}

func (t statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}
