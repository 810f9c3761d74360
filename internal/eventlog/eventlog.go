// Package eventlog is the append-only record of what happened to each
// email: sends, bounces, opens, clicks, complaints and unsubscribes.
// Campaign statistics are derived from it and from nothing else.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailflow/internal/domain"
)

// ErrInvalidEvent is returned for events missing a type or contact.
var ErrInvalidEvent = errors.New("invalid email event")

// Recorder appends events. Implementations must be safe for concurrent use.
type Recorder interface {
	Append(ctx context.Context, evt domain.EmailEvent) error
}

// Store is a Recorder that can also be queried.
type Store interface {
	Recorder
	// CountByType returns per-type event counts for one campaign.
	CountByType(ctx context.Context, campaignID string) (map[domain.EventType]int, error)
	// List returns events matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]domain.EmailEvent, error)
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	CampaignID string
	ContactID  string
	Type       domain.EventType
	Limit      int
}

func (f Filter) matches(e domain.EmailEvent) bool {
	if f.CampaignID != "" && e.CampaignID != f.CampaignID {
		return false
	}
	if f.ContactID != "" && e.ContactID != f.ContactID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return true
}

// Prepare validates evt and fills in a missing ID and timestamp.
func Prepare(evt *domain.EmailEvent, now time.Time) error {
	if !evt.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, evt.Type)
	}
	if evt.ContactID == "" {
		return fmt.Errorf("%w: contact id is required", ErrInvalidEvent)
	}
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = now.UTC()
	}
	return nil
}
