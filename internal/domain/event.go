package domain

import "time"

// EventType enumerates the kinds of entries in the email event log.
type EventType string

const (
	EventSent        EventType = "sent"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventComplaint   EventType = "complaint"
	EventUnsubscribe EventType = "unsubscribe"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventOpen, EventClick, EventBounce, EventComplaint, EventUnsubscribe:
		return true
	}
	return false
}

// EmailEvent is a single append-only log entry. Entries are never updated.
type EmailEvent struct {
	ID         string            `json:"id" db:"id"`
	ContactID  string            `json:"contact_id" db:"contact_id"`
	CampaignID string            `json:"campaign_id,omitempty" db:"campaign_id"`
	Type       EventType         `json:"type" db:"type"`
	Meta       map[string]string `json:"meta,omitempty" db:"meta"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// CampaignStats aggregates event counts for one campaign.
// Every rate is relative to Sent and is zero when nothing was sent.
// DeliveryRate is (Sent-Bounced)/Sent, floored at zero.
type CampaignStats struct {
	CampaignID      string  `json:"campaign_id"`
	Sent            int     `json:"sent"`
	Opened          int     `json:"opened"`
	Clicked         int     `json:"clicked"`
	Bounced         int     `json:"bounced"`
	Complained      int     `json:"complained"`
	Unsubscribed    int     `json:"unsubscribed"`
	DeliveryRate    float64 `json:"delivery_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	ComplaintRate   float64 `json:"complaint_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
}

// ComputeStats builds campaign stats from per-type event counts.
func ComputeStats(campaignID string, counts map[EventType]int) CampaignStats {
	s := CampaignStats{
		CampaignID:   campaignID,
		Sent:         counts[EventSent],
		Opened:       counts[EventOpen],
		Clicked:      counts[EventClick],
		Bounced:      counts[EventBounce],
		Complained:   counts[EventComplaint],
		Unsubscribed: counts[EventUnsubscribe],
	}
	if s.Sent == 0 {
		return s
	}
	sent := float64(s.Sent)
	if delivered := s.Sent - s.Bounced; delivered > 0 {
		s.DeliveryRate = float64(delivered) / sent
	}
	s.OpenRate = float64(s.Opened) / sent
	s.ClickRate = float64(s.Clicked) / sent
	s.BounceRate = float64(s.Bounced) / sent
	s.ComplaintRate = float64(s.Complained) / sent
	s.UnsubscribeRate = float64(s.Unsubscribed) / sent
	return s
}
