package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailflow/internal/dispatch"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/httputil"
)

// TrackingRequest asks for open/click tracking and event logging.
type TrackingRequest struct {
	ContactID  string `json:"contact_id"`
	CampaignID string `json:"campaign_id,omitempty"`
}

// SendEmailRequest is the body of POST /api/emails.
type SendEmailRequest struct {
	domain.Message
	Tracking *TrackingRequest `json:"tracking,omitempty"`
}

// SendTemplateRequest is the body of POST /api/emails/template/{name}.
type SendTemplateRequest struct {
	From      *domain.Address   `json:"from,omitempty"`
	To        []domain.Address  `json:"to"`
	Cc        []domain.Address  `json:"cc,omitempty"`
	Bcc       []domain.Address  `json:"bcc,omitempty"`
	ReplyTo   *domain.Address   `json:"reply_to,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
	Tracking  *TrackingRequest  `json:"tracking,omitempty"`
}

// SendEmailResponse reports the delivery result.
type SendEmailResponse struct {
	Sent      bool                `json:"sent"`
	Provider  domain.ProviderType `json:"provider,omitempty"`
	MessageID string              `json:"message_id,omitempty"`
	Attempts  int                 `json:"attempts"`
	ErrorKind domain.ErrorKind    `json:"error_kind,omitempty"`
}

// SendEmail handles POST /api/emails.
func (h *Handlers) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req SendEmailRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	h.deliver(w, r, req.Message, req.Tracking)
}

// SendTemplateEmail handles POST /api/emails/template/{name}.
func (h *Handlers) SendTemplateEmail(w http.ResponseWriter, r *http.Request) {
	var req SendTemplateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	vars := make(map[string]string, len(req.Variables)+2)
	for k, v := range req.Variables {
		vars[k] = v
	}
	if req.Tracking != nil && req.Tracking.ContactID != "" {
		if _, ok := vars["contactId"]; !ok {
			vars["contactId"] = req.Tracking.ContactID
		}
	}
	if len(req.To) > 0 {
		if _, ok := vars["email"]; !ok {
			vars["email"] = req.To[0].Email
		}
	}

	content, err := h.templates.Render(r.Context(), chi.URLParam(r, "name"), vars)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	msg := domain.Message{
		To:       req.To,
		Cc:       req.Cc,
		Bcc:      req.Bcc,
		ReplyTo:  req.ReplyTo,
		Subject:  content.Subject,
		HTMLBody: content.HTMLBody,
		TextBody: content.TextBody,
		Headers:  req.Headers,
	}
	if req.From != nil {
		msg.From = *req.From
	}
	h.deliver(w, r, msg, req.Tracking)
}

func (h *Handlers) deliver(w http.ResponseWriter, r *http.Request, msg domain.Message, tr *TrackingRequest) {
	if msg.From.Email == "" {
		msg.From = h.defaultFrom
	}

	var tc *domain.TrackingContext
	if tr != nil && tr.ContactID != "" {
		tc = &domain.TrackingContext{
			ContactID:  tr.ContactID,
			CampaignID: tr.CampaignID,
			BaseURL:    h.trackingBaseURL,
		}
	}

	del, err := h.mailer.Deliver(r.Context(), msg, tc)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, deliveryResponse(del))
}

func deliveryResponse(del *dispatch.Delivery) SendEmailResponse {
	resp := SendEmailResponse{
		Sent:      del.Success,
		Provider:  del.Provider,
		MessageID: del.MessageID,
		Attempts:  del.Attempts,
	}
	if !del.Success {
		resp.ErrorKind = del.ErrorKind
	}
	return resp
}
