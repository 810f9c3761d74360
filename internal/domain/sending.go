package domain

import "time"

// ProviderType identifies a delivery backend.
type ProviderType string

const (
	ProviderGraph  ProviderType = "graph"
	ProviderSMTP   ProviderType = "smtp"
	ProviderResend ProviderType = "resend"
	ProviderSES    ProviderType = "ses"
)

// ErrorKind classifies why a send failed.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindAuth          ErrorKind = "auth"
	KindTransport     ErrorKind = "transport"
	KindRejected      ErrorKind = "rejected"
	KindConfiguration ErrorKind = "configuration"
)

// Retryable reports whether another attempt on the same provider may succeed.
func (k ErrorKind) Retryable() bool { return k == KindTransport }

// SendOutcome is what a provider reports for one send attempt.
type SendOutcome struct {
	Success           bool         `json:"success"`
	Provider          ProviderType `json:"provider"`
	ProviderMessageID string       `json:"provider_message_id,omitempty"`
	ErrorKind         ErrorKind    `json:"error_kind,omitempty"`
	Err               error        `json:"-"`
	SentAt            time.Time    `json:"sent_at"`
}
