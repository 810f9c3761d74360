package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfigurationError reports a setting that is missing or still holds
// example text. It is surfaced at startup and by the health endpoint.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

var placeholderMarkers = []string{
	"your-", "your_", "changeme", "change-me", "replace-me", "example-key", "xxxx",
}

// IsPlaceholder reports whether v looks like unedited sample configuration.
func IsPlaceholder(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		return true
	}
	for _, m := range placeholderMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// Validate checks the settings each configured provider needs.
// Every problem is reported, not just the first.
func (c *Config) Validate() []error {
	var errs []error
	need := func(field, v string) {
		switch {
		case strings.TrimSpace(v) == "":
			errs = append(errs, &ConfigurationError{Field: field, Reason: "is required"})
		case IsPlaceholder(v):
			errs = append(errs, &ConfigurationError{Field: field, Reason: "contains a placeholder value"})
		}
	}

	need("mail.from_email", c.Mail.FromEmail)
	if len(c.Mail.Providers) == 0 {
		errs = append(errs, &ConfigurationError{Field: "mail.providers", Reason: "at least one provider is required"})
	}

	for _, p := range c.Mail.Providers {
		switch p {
		case "graph":
			need("mail.graph.tenant_id", c.Mail.Graph.TenantID)
			need("mail.graph.client_id", c.Mail.Graph.ClientID)
			need("mail.graph.client_secret", c.Mail.Graph.ClientSecret)
			need("mail.graph.mailbox", c.Mail.Graph.Mailbox)
		case "smtp":
			need("mail.smtp.host", c.Mail.SMTP.Host)
			if c.Mail.SMTP.Username != "" {
				need("mail.smtp.password", c.Mail.SMTP.Password)
			}
		case "resend":
			need("mail.resend.api_key", c.Mail.Resend.APIKey)
		case "ses":
			need("mail.ses.region", c.Mail.SES.Region)
			if c.Mail.SES.AccessKey != "" || c.Mail.SES.SecretKey != "" {
				need("mail.ses.access_key", c.Mail.SES.AccessKey)
				need("mail.ses.secret_key", c.Mail.SES.SecretKey)
			}
		default:
			errs = append(errs, &ConfigurationError{Field: "mail.providers", Reason: fmt.Sprintf("unknown provider %q", p)})
		}
	}

	if c.Tracking.BaseURL != "" {
		if u, err := url.Parse(c.Tracking.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, &ConfigurationError{Field: "tracking.base_url", Reason: "must be an absolute http(s) URL"})
		} else if IsPlaceholder(c.Tracking.BaseURL) {
			errs = append(errs, &ConfigurationError{Field: "tracking.base_url", Reason: "contains a placeholder value"})
		}
	}

	if c.Campaigns.BatchSize < 0 || c.Campaigns.MaxInFlight < 0 {
		errs = append(errs, &ConfigurationError{Field: "campaigns", Reason: "batch_size and max_in_flight must be positive"})
	}
	return errs
}
