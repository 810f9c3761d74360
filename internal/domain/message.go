package domain

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidMessage marks a message that can never be delivered as built.
// It signals a caller bug, not a provider failure.
var ErrInvalidMessage = errors.New("invalid message")

// Address is a single mailbox with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// String renders the address in RFC 5322 form.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// ParseAddress accepts either "user@example.com" or "Name <user@example.com>".
func ParseAddress(s string) (Address, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return Address{}, fmt.Errorf("%w: address %q: %v", ErrInvalidMessage, s, err)
	}
	return Address{Email: parsed.Address, Name: parsed.Name}, nil
}

// Emails returns the bare addresses of a list.
func Emails(list []Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Email)
	}
	return out
}

// Message is one outbound email. Senders treat it as read-only; any
// rewriting (tracking, headers) produces a new value.
type Message struct {
	From     Address           `json:"from"`
	To       []Address         `json:"to"`
	Cc       []Address         `json:"cc,omitempty"`
	Bcc      []Address         `json:"bcc,omitempty"`
	ReplyTo  *Address          `json:"reply_to,omitempty"`
	Subject  string            `json:"subject"`
	HTMLBody string            `json:"html_body,omitempty"`
	TextBody string            `json:"text_body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Validate checks the structural requirements every provider relies on.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if m.HTMLBody == "" && m.TextBody == "" {
		return fmt.Errorf("%w: html or text body is required", ErrInvalidMessage)
	}
	all := make([]Address, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	all = append(all, m.Bcc...)
	if m.ReplyTo != nil {
		all = append(all, *m.ReplyTo)
	}
	for _, a := range all {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			return fmt.Errorf("%w: address %q", ErrInvalidMessage, a.Email)
		}
	}
	return nil
}

// Clone returns a deep copy so callers can rewrite bodies and headers freely.
func (m Message) Clone() Message {
	c := m
	c.To = append([]Address(nil), m.To...)
	c.Cc = append([]Address(nil), m.Cc...)
	c.Bcc = append([]Address(nil), m.Bcc...)
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	return c
}

// TrackingContext ties a send to a contact and, optionally, a campaign.
// Its presence switches on tracking injection and event recording.
type TrackingContext struct {
	ContactID  string `json:"contact_id"`
	CampaignID string `json:"campaign_id,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
}
