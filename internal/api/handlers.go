package api

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/mailflow/internal/dispatch"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/service/campaign"
)

// Mailer delivers a single message.
type Mailer interface {
	Deliver(ctx context.Context, msg domain.Message, tc *domain.TrackingContext) (*dispatch.Delivery, error)
}

// TemplateService stores and renders templates.
type TemplateService interface {
	Save(ctx context.Context, tpl *domain.Template) error
	Get(ctx context.Context, name string) (*domain.Template, error)
	List(ctx context.Context) ([]domain.Template, error)
	Delete(ctx context.Context, name string) error
	Render(ctx context.Context, name string, vars map[string]string) (domain.RenderedContent, error)
	Preview(ctx context.Context, name string, vars map[string]string) (domain.RenderedContent, []string, error)
}

// CampaignService manages the campaign lifecycle.
type CampaignService interface {
	Create(ctx context.Context, in campaign.CreateInput) (*domain.Campaign, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Update(ctx context.Context, id string, u campaign.UpdateFields) error
	Delete(ctx context.Context, id string) error
	Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error)
	Unschedule(ctx context.Context, id string) (*domain.Campaign, error)
	Cancel(ctx context.Context, id string) (*domain.Campaign, error)
	SendNow(ctx context.Context, id string) (*campaign.SendReport, error)
}

// StatsService answers campaign statistics queries.
type StatsService interface {
	GetCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	mailer    Mailer
	templates TemplateService
	campaigns CampaignService
	stats     StatsService

	defaultFrom     domain.Address
	trackingBaseURL string

	// background runs detached work such as asynchronous campaign sends.
	background func(func())
	bgCtx      context.Context
	bgWG       sync.WaitGroup
}

// Options carries the defaults applied to incoming requests.
type Options struct {
	DefaultFrom     domain.Address
	TrackingBaseURL string
	// BackgroundContext is handed to asynchronous sends. Cancelling it
	// interrupts them at the next recipient; see Drain.
	BackgroundContext context.Context
}

// NewHandlers creates a new Handlers instance
func NewHandlers(mailer Mailer, templates TemplateService, campaigns CampaignService, stats StatsService, opts Options) *Handlers {
	h := &Handlers{
		mailer:          mailer,
		templates:       templates,
		campaigns:       campaigns,
		stats:           stats,
		defaultFrom:     opts.DefaultFrom,
		trackingBaseURL: opts.TrackingBaseURL,
		bgCtx:           opts.BackgroundContext,
	}
	if h.bgCtx == nil {
		h.bgCtx = context.Background()
	}
	h.background = func(fn func()) {
		h.bgWG.Add(1)
		go func() {
			defer h.bgWG.Done()
			fn()
		}()
	}
	return h
}

// Drain waits for background sends to return, or for ctx to end.
func (h *Handlers) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
