package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/oauth"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// TokenSource supplies bearer tokens for the Graph API.
type TokenSource interface {
	Token(ctx context.Context) (oauth.AccessToken, error)
	Invalidate(stale string)
}

// GraphProvider sends through the Microsoft Graph sendMail endpoint on
// behalf of one mailbox.
type GraphProvider struct {
	baseURL    string
	mailbox    string
	tokens     TokenSource
	httpClient *http.Client
	problems   []error
}

// NewGraphProvider creates a GraphProvider. problems, if any, make every
// Send fail with a Configuration error without touching the network.
func NewGraphProvider(baseURL, mailbox string, tokens TokenSource, httpClient *http.Client, problems ...error) *GraphProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GraphProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		mailbox:    mailbox,
		tokens:     tokens,
		httpClient: httpClient,
		problems:   problems,
	}
}

func (p *GraphProvider) Name() domain.ProviderType { return domain.ProviderGraph }

type graphEmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphMessage struct {
	Subject                string           `json:"subject"`
	Body                   graphBody        `json:"body"`
	From                   *graphRecipient  `json:"from,omitempty"`
	ToRecipients           []graphRecipient `json:"toRecipients"`
	CcRecipients           []graphRecipient `json:"ccRecipients,omitempty"`
	BccRecipients          []graphRecipient `json:"bccRecipients,omitempty"`
	ReplyTo                []graphRecipient `json:"replyTo,omitempty"`
	InternetMessageHeaders []graphHeader    `json:"internetMessageHeaders,omitempty"`
}

type graphSendMailRequest struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func graphRecipients(list []domain.Address) []graphRecipient {
	if len(list) == 0 {
		return nil
	}
	out := make([]graphRecipient, 0, len(list))
	for _, a := range list {
		out = append(out, graphRecipient{EmailAddress: graphEmailAddress{Address: a.Email, Name: a.Name}})
	}
	return out
}

func (p *GraphProvider) buildRequest(msg domain.Message) graphSendMailRequest {
	body := graphBody{ContentType: "HTML", Content: msg.HTMLBody}
	if msg.HTMLBody == "" {
		body = graphBody{ContentType: "Text", Content: msg.TextBody}
	}
	gm := graphMessage{
		Subject:       msg.Subject,
		Body:          body,
		ToRecipients:  graphRecipients(msg.To),
		CcRecipients:  graphRecipients(msg.Cc),
		BccRecipients: graphRecipients(msg.Bcc),
	}
	if msg.From.Email != "" && !strings.EqualFold(msg.From.Email, p.mailbox) {
		gm.From = &graphRecipient{EmailAddress: graphEmailAddress{Address: msg.From.Email, Name: msg.From.Name}}
	}
	if msg.ReplyTo != nil {
		gm.ReplyTo = graphRecipients([]domain.Address{*msg.ReplyTo})
	}
	// Graph only accepts custom headers in the X- namespace.
	for k, v := range msg.Headers {
		if strings.HasPrefix(strings.ToLower(k), "x-") {
			gm.InternetMessageHeaders = append(gm.InternetMessageHeaders, graphHeader{Name: k, Value: v})
		}
	}
	return graphSendMailRequest{Message: gm, SaveToSentItems: false}
}

// Send posts the message to /users/{mailbox}/sendMail. A 401 drops the
// token that was used so the next attempt fetches a new one.
func (p *GraphProvider) Send(ctx context.Context, msg domain.Message) domain.SendOutcome {
	if len(p.problems) > 0 {
		return misconfigured(p.Name(), p.problems)
	}

	tok, err := p.tokens.Token(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return failed(p.Name(), domain.KindTransport, err)
		}
		return failed(p.Name(), domain.KindAuth, err)
	}

	payload, err := json.Marshal(p.buildRequest(msg))
	if err != nil {
		return failed(p.Name(), domain.KindRejected, fmt.Errorf("encode message: %w", err))
	}

	endpoint := p.baseURL + "/v1.0/users/" + url.PathEscape(p.mailbox) + "/sendMail"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return failed(p.Name(), domain.KindConfiguration, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return failed(p.Name(), domain.KindTransport, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return sent(p.Name(), resp.Header.Get("request-id"))
	}

	apiErr := graphError(resp.StatusCode, respBody)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		p.tokens.Invalidate(tok.Value)
		logger.Warn("graph: token rejected, invalidated", "mailbox", p.mailbox)
		return failed(p.Name(), domain.KindAuth, apiErr)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return failed(p.Name(), domain.KindTransport, apiErr)
	default:
		return failed(p.Name(), domain.KindRejected, apiErr)
	}
}

func graphError(status int, body []byte) error {
	var ge graphErrorResponse
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Code != "" {
		return fmt.Errorf("graph API returned %d: %s: %s", status, ge.Error.Code, ge.Error.Message)
	}
	if len(body) > 0 {
		return fmt.Errorf("graph API returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	return errors.New("graph API returned " + http.StatusText(status))
}
