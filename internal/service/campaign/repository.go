package campaign

import (
	"context"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, ordered by created_at DESC.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error)

	// Create inserts a new campaign.
	Create(ctx context.Context, c *domain.Campaign) error

	// Update modifies a draft or scheduled campaign. Nil fields are not applied.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes a campaign. Only draft/cancelled campaigns can be deleted.
	Delete(ctx context.Context, id string) error

	// TransitionStatus moves a campaign from one status to another only if
	// it is still in from. Returns ErrStatusConflict when it is not, and
	// ErrNotFound when the campaign does not exist.
	TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus, u StatusUpdate) error

	// ListDue returns scheduled campaigns whose scheduled_at is not after now,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
}

// ContactSource resolves the recipients of a campaign.
type ContactSource interface {
	// ListRecipients returns consenting, subscribed contacts carrying at
	// least one of the tags, or all such contacts when tags is empty.
	ListRecipients(ctx context.Context, tags []string) ([]domain.Contact, error)
}

// TemplateSource loads templates by name.
type TemplateSource interface {
	Get(ctx context.Context, name string) (*domain.Template, error)
}

// Renderer compiles and renders templates.
type Renderer interface {
	Compile(tpl *domain.Template) error
	RenderTemplate(tpl *domain.Template, vars map[string]string) (domain.RenderedContent, error)
}

// Sender delivers one message and records its outcome.
type Sender interface {
	SendEmail(ctx context.Context, msg domain.Message, tc *domain.TrackingContext) (bool, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status domain.CampaignStatus
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a campaign update.
// Nil fields are not applied.
type UpdateFields struct {
	Name         *string
	TemplateName *string
	SegmentTags  *[]string
	FromName     *string
	FromEmail    *string
	ReplyTo      *string
	Variables    *map[string]string
	ScheduledAt  *time.Time
}

// StatusUpdate carries the columns written alongside a status change.
type StatusUpdate struct {
	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
}
