package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/tracking"
)

// SendReport summarises one SendNow run.
type SendReport struct {
	CampaignID string                `json:"campaign_id"`
	Status     domain.CampaignStatus `json:"status"`
	Batches    int                   `json:"batches"`
	Recipients int                   `json:"recipients"`
	Sent       int                   `json:"sent"`
	Failed     int                   `json:"failed"`
	Duration   time.Duration         `json:"duration_ns"`
}

// SendNow sends a draft or scheduled campaign immediately and returns once
// every recipient has been processed. If the template cannot be loaded or
// compiled the campaign is cancelled before anything is sent.
func (s *Service) SendNow(ctx context.Context, id string) (*SendReport, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case domain.CampaignSending, domain.CampaignSent:
		return nil, ErrAlreadySending
	case domain.CampaignCancelled:
		return nil, fmt.Errorf("%w: campaign is cancelled", domain.ErrInvalidTransition)
	}

	started := s.now().UTC()
	if err := s.repo.TransitionStatus(ctx, id, c.Status, domain.CampaignSending, StatusUpdate{StartedAt: &started}); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrAlreadySending
		}
		return nil, fmt.Errorf("transition to sending: %w", err)
	}
	c.Status = domain.CampaignSending
	c.StartedAt = &started
	logger.Info("campaign sending", "campaign_id", id, "template", c.TemplateName)

	return s.run(ctx, c)
}

func (s *Service) run(ctx context.Context, c *domain.Campaign) (*SendReport, error) {
	start := time.Now()
	report := &SendReport{CampaignID: c.ID, Status: domain.CampaignSending}

	tpl, err := s.templates.Get(ctx, c.TemplateName)
	if err == nil {
		err = s.renderer.Compile(tpl)
	}
	if err != nil {
		s.finish(ctx, c, domain.CampaignCancelled, "template: "+err.Error(), report)
		return report, fmt.Errorf("%w: %v", ErrTemplateFailed, err)
	}

	contacts, err := s.contacts.ListRecipients(ctx, c.SegmentTags)
	if err != nil {
		s.finish(ctx, c, domain.CampaignCancelled, "recipients: "+err.Error(), report)
		return report, fmt.Errorf("list recipients: %w", err)
	}
	recipients := contacts[:0]
	for _, ct := range contacts {
		if ct.Eligible(c.SegmentTags) {
			recipients = append(recipients, ct)
		}
	}
	report.Recipients = len(recipients)

	var sent, failed atomic.Int64
	for offset := 0; offset < len(recipients); offset += s.opts.BatchSize {
		if offset > 0 {
			if err := s.sleep(ctx, s.opts.BatchPause); err != nil {
				break
			}
			if s.cancelled(ctx, c.ID) {
				report.Status = domain.CampaignCancelled
				break
			}
		}

		end := offset + s.opts.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		var g errgroup.Group
		g.SetLimit(s.opts.MaxInFlight)
		for i := offset; i < end; i++ {
			if ctx.Err() != nil {
				break
			}
			contact := recipients[i]
			g.Go(func() error {
				if s.sendOne(ctx, c, tpl, contact) {
					sent.Add(1)
				} else {
					failed.Add(1)
				}
				return nil
			})
		}
		g.Wait()
		report.Batches++

		logger.Info("campaign batch complete",
			"campaign_id", c.ID, "batch", report.Batches, "size", end-offset,
			"sent", sent.Load(), "failed", failed.Load())
	}

	report.Sent = int(sent.Load())
	report.Failed = int(failed.Load())
	report.Duration = time.Since(start)

	switch {
	case report.Status == domain.CampaignCancelled:
		// Cancelled by an operator mid-send; the status is already final.
	case ctx.Err() != nil && report.Sent+report.Failed < report.Recipients:
		s.finish(ctx, c, domain.CampaignCancelled,
			fmt.Sprintf("interrupted after %d of %d recipients", report.Sent+report.Failed, report.Recipients), report)
	default:
		var summary string
		if report.Failed > 0 {
			summary = fmt.Sprintf("%d of %d recipients failed", report.Failed, report.Recipients)
		}
		s.finish(ctx, c, domain.CampaignSent, summary, report)
	}

	logger.Info("campaign finished",
		"campaign_id", c.ID, "status", string(report.Status), "batches", report.Batches,
		"recipients", report.Recipients, "sent", report.Sent, "failed", report.Failed,
		"duration", report.Duration.String())
	return report, nil
}

// sendOne renders and sends to one contact. It never returns an error;
// the outcome is in the event log.
func (s *Service) sendOne(ctx context.Context, c *domain.Campaign, tpl *domain.Template, contact domain.Contact) bool {
	tc := domain.TrackingContext{ContactID: contact.ID, CampaignID: c.ID, BaseURL: s.opts.TrackingBaseURL}

	vars := make(map[string]string, len(c.Variables)+len(contact.Fields)+5)
	for k, v := range c.Variables {
		vars[k] = v
	}
	for k, v := range contact.TemplateVars() {
		vars[k] = v
	}

	var headers map[string]string
	if tc.BaseURL != "" {
		vars["unsubscribeUrl"] = tracking.UnsubscribeURL(tc)
		headers = tracking.UnsubscribeHeaders(tc)
	}

	content, err := s.renderer.RenderTemplate(tpl, vars)
	if err != nil {
		logger.Error("campaign: render failed", "campaign_id", c.ID, "contact_id", contact.ID, "error", err)
		s.recordBounce(ctx, tc, err)
		return false
	}

	msg := domain.Message{
		From:     s.from(c),
		To:       []domain.Address{{Email: contact.Email, Name: fullName(contact)}},
		Subject:  content.Subject,
		HTMLBody: content.HTMLBody,
		TextBody: content.TextBody,
		Headers:  headers,
	}
	if c.ReplyTo != "" {
		if addr, err := domain.ParseAddress(c.ReplyTo); err == nil {
			msg.ReplyTo = &addr
		}
	}

	ok, err := s.sender.SendEmail(ctx, msg, &tc)
	if err != nil {
		logger.Warn("campaign: message rejected before sending", "campaign_id", c.ID, "contact_id", contact.ID, "error", err)
		s.recordBounce(ctx, tc, err)
		return false
	}
	return ok
}

// recordBounce logs a failure that never reached a provider, so the
// sender wrote no event for it.
func (s *Service) recordBounce(ctx context.Context, tc domain.TrackingContext, cause error) {
	if s.events == nil {
		return
	}
	evt := domain.EmailEvent{
		ContactID:  tc.ContactID,
		CampaignID: tc.CampaignID,
		Type:       domain.EventBounce,
		Meta: map[string]string{
			"error":      cause.Error(),
			"error_kind": string(domain.KindRejected),
		},
	}
	if err := s.events.Append(context.WithoutCancel(ctx), evt); err != nil {
		logger.Error("campaign: record bounce failed", "campaign_id", tc.CampaignID, "contact_id", tc.ContactID, "error", err)
	}
}

func (s *Service) from(c *domain.Campaign) domain.Address {
	if c.FromEmail == "" {
		return s.opts.DefaultFrom
	}
	return domain.Address{Email: c.FromEmail, Name: c.FromName}
}

func fullName(c domain.Contact) string {
	switch {
	case c.FirstName != "" && c.LastName != "":
		return c.FirstName + " " + c.LastName
	default:
		return c.FirstName + c.LastName
	}
}

func (s *Service) cancelled(ctx context.Context, id string) bool {
	cur, err := s.repo.Get(ctx, id)
	return err == nil && cur.Status == domain.CampaignCancelled
}

// finish moves the campaign out of SENDING. It runs even when ctx is
// already cancelled so an interrupted send never stays SENDING.
func (s *Service) finish(ctx context.Context, c *domain.Campaign, to domain.CampaignStatus, lastError string, report *SendReport) {
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	u := StatusUpdate{CompletedAt: &now}
	if lastError != "" {
		u.LastError = &lastError
	}
	if err := s.repo.TransitionStatus(ctx, c.ID, domain.CampaignSending, to, u); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			if cur, gerr := s.repo.Get(ctx, c.ID); gerr == nil {
				report.Status = cur.Status
				return
			}
		}
		logger.Error("campaign: final status update failed", "campaign_id", c.ID, "status", string(to), "error", err)
	}
	c.Status = to
	c.CompletedAt = &now
	c.LastError = lastError
	report.Status = to
}
