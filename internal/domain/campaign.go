package domain

import (
	"errors"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignCancelled CampaignStatus = "cancelled"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// allowed lists every legal edge of the campaign state machine.
var allowed = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignSending, CampaignCancelled},
	CampaignScheduled: {CampaignDraft, CampaignSending, CampaignCancelled},
	CampaignSending:   {CampaignSent, CampaignCancelled},
}

// CanTransition reports whether a campaign may move from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignSent, CampaignCancelled:
		return true
	}
	return false
}

// Campaign is a bulk send of one template to a segment of contacts.
type Campaign struct {
	ID           string            `json:"id" db:"id"`
	Name         string            `json:"name" db:"name"`
	Status       CampaignStatus    `json:"status" db:"status"`
	TemplateName string            `json:"template_name" db:"template_name"`
	SegmentTags  []string          `json:"segment_tags" db:"segment_tags"`
	FromName     string            `json:"from_name" db:"from_name"`
	FromEmail    string            `json:"from_email" db:"from_email"`
	ReplyTo      string            `json:"reply_to,omitempty" db:"reply_to"`
	Variables    map[string]string `json:"variables,omitempty" db:"variables"`
	ScheduledAt  *time.Time        `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	LastError    string            `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignCancelled
}

// IsDue reports whether a scheduled campaign should be sent at now.
func (c *Campaign) IsDue(now time.Time) bool {
	return c.Status == CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
}
