package tracking

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// ContactUnsubscriber marks a contact as opted out.
type ContactUnsubscriber interface {
	Unsubscribe(ctx context.Context, contactID string, at time.Time) error
}

// Handler serves the public tracking endpoints.
type Handler struct {
	events   eventlog.Recorder
	contacts ContactUnsubscriber
	now      func() time.Time
}

// NewHandler creates a Handler. contacts may be nil, in which case an
// unsubscribe is only recorded as an event.
func NewHandler(events eventlog.Recorder, contacts ContactUnsubscriber) *Handler {
	return &Handler{events: events, contacts: contacts, now: time.Now}
}

// Register mounts the tracking routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get(openPath, h.HandleOpen)
	r.Get(clickPath, h.HandleClick)
	r.Get(unsubscribePath, h.HandleUnsubscribe)
	r.Post(unsubscribePath, h.HandleUnsubscribe)
}

// Routes returns a standalone router for the tracking edge service.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an open and always answers with the pixel.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	cid, cmp := r.URL.Query().Get("cid"), r.URL.Query().Get("cmp")
	if cid != "" {
		ua := r.UserAgent()
		h.record(r.Context(), domain.EmailEvent{
			ContactID:  cid,
			CampaignID: cmp,
			Type:       domain.EventOpen,
			Meta: map[string]string{
				"ip":         realIP(r),
				"user_agent": ua,
				"device":     detectDevice(ua),
			},
		})
	}
	h.servePixel(w)
}

// HandleClick records a click and redirects to the decoded destination.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw, err := DecodeURL(q.Get("u"))
	if err != nil || raw == "" {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	dest, err := ValidDestination(raw)
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if cid := q.Get("cid"); cid != "" {
		h.record(r.Context(), domain.EmailEvent{
			ContactID:  cid,
			CampaignID: q.Get("cmp"),
			Type:       domain.EventClick,
			Meta: map[string]string{
				"url":        dest.String(),
				"ip":         realIP(r),
				"user_agent": r.UserAgent(),
			},
		})
	}
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// HandleUnsubscribe opts the contact out. POST supports one-click
// unsubscribe from mail clients.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cid := q.Get("cid")
	if cid == "" {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	now := h.now()
	h.record(r.Context(), domain.EmailEvent{
		ContactID:  cid,
		CampaignID: q.Get("cmp"),
		Type:       domain.EventUnsubscribe,
		Meta:       map[string]string{"ip": realIP(r), "method": r.Method},
		CreatedAt:  now,
	})
	if h.contacts != nil {
		if err := h.contacts.Unsubscribe(r.Context(), cid, now); err != nil {
			logger.Error("tracking: unsubscribe contact failed", "contact_id", cid, "error", err)
			http.Error(w, "could not unsubscribe, please try again", http.StatusInternalServerError)
			return
		}
	}

	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive these emails.</p>
	</body></html>`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) record(ctx context.Context, evt domain.EmailEvent) {
	if err := h.events.Append(ctx, evt); err != nil {
		logger.Error("tracking: record event failed",
			"type", string(evt.Type), "contact_id", evt.ContactID, "campaign_id", evt.CampaignID, "error", err)
		return
	}
	logger.Debug("tracking: event recorded",
		"type", string(evt.Type), "contact_id", evt.ContactID, "campaign_id", evt.CampaignID)
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func detectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}
