package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/httputil"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/service/campaign"
)

// UpdateCampaignRequest is the body of PUT /api/campaigns/{id}. Omitted
// fields are left unchanged.
type UpdateCampaignRequest struct {
	Name         *string            `json:"name"`
	TemplateName *string            `json:"template_name"`
	SegmentTags  *[]string          `json:"segment_tags"`
	FromName     *string            `json:"from_name"`
	FromEmail    *string            `json:"from_email"`
	ReplyTo      *string            `json:"reply_to"`
	Variables    *map[string]string `json:"variables"`
	ScheduledAt  *time.Time         `json:"scheduled_at"`
}

// ScheduleRequest is the body of POST /api/campaigns/{id}/schedule.
type ScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ListCampaigns handles GET /api/campaigns?status=&page=&limit=.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	status := domain.CampaignStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		httputil.BadRequest(w, fmt.Sprintf("unknown status %q", status))
		return
	}

	list, total, err := h.campaigns.List(r.Context(), campaign.ListFilter{Status: status, Limit: p.Limit, Offset: p.offset()})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, newPage(list, p, total))
}

// CreateCampaign handles POST /api/campaigns.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, c)
}

// GetCampaign handles GET /api/campaigns/{id}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// UpdateCampaign handles PUT /api/campaigns/{id}.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req UpdateCampaignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	err := h.campaigns.Update(r.Context(), id, campaign.UpdateFields{
		Name:         req.Name,
		TemplateName: req.TemplateName,
		SegmentTags:  req.SegmentTags,
		FromName:     req.FromName,
		FromEmail:    req.FromEmail,
		ReplyTo:      req.ReplyTo,
		Variables:    req.Variables,
		ScheduledAt:  req.ScheduledAt,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	h.GetCampaign(w, r)
}

// DeleteCampaign handles DELETE /api/campaigns/{id}.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.campaigns.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ScheduleCampaign handles POST /api/campaigns/{id}/schedule.
func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, err := h.campaigns.Schedule(r.Context(), chi.URLParam(r, "id"), req.ScheduledAt)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// UnscheduleCampaign handles POST /api/campaigns/{id}/unschedule.
func (h *Handlers) UnscheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Unschedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// CancelCampaign handles POST /api/campaigns/{id}/cancel.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

// SendCampaignNow handles POST /api/campaigns/{id}/send-now.
//
// By default the send runs in the background and the response is 202 once
// the campaign is known to be sendable. With ?wait=true the request blocks
// until every batch is done and returns the send report.
func (h *Handlers) SendCampaignNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.URL.Query().Get("wait") == "true" {
		report, err := h.campaigns.SendNow(r.Context(), id)
		if err != nil && report == nil {
			respondServiceError(w, err)
			return
		}
		if err != nil {
			// The run started but ended early; the report says how far it got.
			httputil.JSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "report": report})
			return
		}
		httputil.OK(w, report)
		return
	}

	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	switch c.Status {
	case domain.CampaignSending, domain.CampaignSent:
		respondServiceError(w, campaign.ErrAlreadySending)
		return
	case domain.CampaignCancelled:
		respondServiceError(w, fmt.Errorf("%w: campaign is cancelled", domain.ErrInvalidTransition))
		return
	}

	ctx := h.bgCtx
	h.background(func() {
		report, err := h.campaigns.SendNow(ctx, id)
		switch {
		case errors.Is(err, campaign.ErrAlreadySending):
			logger.Info("campaign send skipped, already claimed", "campaign_id", id)
		case err != nil:
			logger.Error("campaign send failed", "campaign_id", id, "error", err)
		default:
			logger.Info("campaign send finished", "campaign_id", id, "sent", report.Sent, "failed", report.Failed)
		}
	})
	httputil.JSON(w, http.StatusAccepted, map[string]any{"campaign_id": id, "status": domain.CampaignSending})
}

// GetCampaignStats handles GET /api/campaigns/{id}/stats.
func (h *Handlers) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.campaigns.Get(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	stats, err := h.stats.GetCampaignStats(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, stats)
}
