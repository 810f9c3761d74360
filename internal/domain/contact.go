package domain

import "time"

// Contact is a potential campaign recipient.
type Contact struct {
	ID             string            `json:"id" db:"id"`
	Email          string            `json:"email" db:"email"`
	FirstName      string            `json:"first_name" db:"first_name"`
	LastName       string            `json:"last_name" db:"last_name"`
	Tags           []string          `json:"tags" db:"tags"`
	Consent        bool              `json:"consent" db:"consent"`
	Fields         map[string]string `json:"fields,omitempty" db:"fields"`
	UnsubscribedAt *time.Time        `json:"unsubscribed_at" db:"unsubscribed_at"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// Eligible reports whether the contact may receive a campaign targeting
// the given segment tags. An empty segment matches everyone.
func (c *Contact) Eligible(segment []string) bool {
	if !c.Consent || c.UnsubscribedAt != nil {
		return false
	}
	if len(segment) == 0 {
		return true
	}
	for _, want := range segment {
		for _, have := range c.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// TemplateVars returns the per-recipient variables exposed to templates.
func (c *Contact) TemplateVars() map[string]string {
	vars := make(map[string]string, len(c.Fields)+4)
	for k, v := range c.Fields {
		vars[k] = v
	}
	vars["contactId"] = c.ID
	vars["email"] = c.Email
	vars["firstName"] = c.FirstName
	vars["lastName"] = c.LastName
	return vars
}
