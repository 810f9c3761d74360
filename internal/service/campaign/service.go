package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// Options tune batch sending.
type Options struct {
	BatchSize   int
	BatchPause  time.Duration
	MaxInFlight int
	// TrackingBaseURL is where open/click/unsubscribe links point. Empty
	// disables link rewriting; events are still recorded.
	TrackingBaseURL string
	// DefaultFrom is used when a campaign has no sender of its own.
	DefaultFrom domain.Address
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 20
	}
	if o.BatchPause < 0 {
		o.BatchPause = 0
	}
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying collaborators are.
type Service struct {
	repo      Repository
	contacts  ContactSource
	templates TemplateSource
	renderer  Renderer
	sender    Sender
	events    eventlog.Recorder
	opts      Options
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewService creates a campaign service. events receives a BOUNCE for
// recipients that fail before reaching the sender; it may be nil.
func NewService(repo Repository, contacts ContactSource, templates TemplateSource, renderer Renderer, sender Sender, events eventlog.Recorder, opts Options) *Service {
	opts.applyDefaults()
	return &Service{
		repo:      repo,
		contacts:  contacts,
		templates: templates,
		renderer:  renderer,
		sender:    sender,
		events:    events,
		opts:      opts,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name         string            `json:"name"`
	TemplateName string            `json:"template_name"`
	SegmentTags  []string          `json:"segment_tags"`
	FromName     string            `json:"from_name"`
	FromEmail    string            `json:"from_email"`
	ReplyTo      string            `json:"reply_to"`
	Variables    map[string]string `json:"variables"`
	ScheduledAt  *time.Time        `json:"scheduled_at"`
}

// Create validates and persists a new campaign. It starts as a draft, or
// scheduled when ScheduledAt is set.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.TemplateName) == "" {
		return nil, fmt.Errorf("%w: template_name is required", ErrInvalidInput)
	}
	if in.FromEmail != "" {
		if _, err := domain.ParseAddress(in.FromEmail); err != nil {
			return nil, fmt.Errorf("%w: from_email: %v", ErrInvalidInput, err)
		}
	}
	if in.ReplyTo != "" {
		if _, err := domain.ParseAddress(in.ReplyTo); err != nil {
			return nil, fmt.Errorf("%w: reply_to: %v", ErrInvalidInput, err)
		}
	}

	now := s.now().UTC()
	c := &domain.Campaign{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Status:       domain.CampaignDraft,
		TemplateName: in.TemplateName,
		SegmentTags:  in.SegmentTags,
		FromName:     in.FromName,
		FromEmail:    in.FromEmail,
		ReplyTo:      in.ReplyTo,
		Variables:    in.Variables,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		c.Status = domain.CampaignScheduled
		c.ScheduledAt = &at
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	logger.Info("campaign created", "campaign_id", c.ID, "status", string(c.Status))
	return c, nil
}

// Update modifies a draft or scheduled campaign.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return ErrNotEditable
	}
	return s.repo.Update(ctx, id, u)
}

// Delete removes a draft or cancelled campaign.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Schedule sets the send time. A draft becomes scheduled; a scheduled
// campaign is moved to the new time.
func (s *Service) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_at is required", ErrInvalidInput)
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	at = at.UTC()

	switch c.Status {
	case domain.CampaignScheduled:
		if err := s.repo.Update(ctx, id, UpdateFields{ScheduledAt: &at}); err != nil {
			return nil, err
		}
	default:
		if err := s.transition(ctx, c, domain.CampaignScheduled, StatusUpdate{ScheduledAt: &at}); err != nil {
			return nil, err
		}
	}
	c.Status = domain.CampaignScheduled
	c.ScheduledAt = &at
	logger.Info("campaign scheduled", "campaign_id", id, "scheduled_at", at.Format(time.RFC3339))
	return c, nil
}

// Unschedule returns a scheduled campaign to draft.
func (s *Service) Unschedule(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, domain.CampaignDraft, StatusUpdate{}); err != nil {
		return nil, err
	}
	c.Status = domain.CampaignDraft
	return c, nil
}

// Cancel stops a campaign. A campaign that is sending stops before its
// next batch.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	msg := "cancelled by operator"
	if err := s.transition(ctx, c, domain.CampaignCancelled, StatusUpdate{CompletedAt: &now, LastError: &msg}); err != nil {
		return nil, err
	}
	c.Status = domain.CampaignCancelled
	c.CompletedAt = &now
	c.LastError = msg
	logger.Info("campaign cancelled", "campaign_id", id)
	return c, nil
}

// Due returns the scheduled campaigns whose time has come.
func (s *Service) Due(ctx context.Context, limit int) ([]domain.Campaign, error) {
	return s.repo.ListDue(ctx, s.now().UTC(), limit)
}

func (s *Service) transition(ctx context.Context, c *domain.Campaign, to domain.CampaignStatus, u StatusUpdate) error {
	if !domain.CanTransition(c.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.Status, to)
	}
	err := s.repo.TransitionStatus(ctx, c.ID, c.Status, to, u)
	if errors.Is(err, ErrStatusConflict) {
		return fmt.Errorf("%w: campaign %s is no longer %s", err, c.ID, c.Status)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
