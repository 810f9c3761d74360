// Package provider adapts the mail delivery backends to one contract.
//
// Every adapter performs exactly one delivery attempt per Send and reports
// the result as a domain.SendOutcome whose ErrorKind tells the dispatcher
// whether to retry, fail over or give up. Adapters never retry internally.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mailflow/internal/domain"
)

// Provider sends a message through one backend. Implementations must be
// safe for concurrent use.
type Provider interface {
	Name() domain.ProviderType
	Send(ctx context.Context, msg domain.Message) domain.SendOutcome
}

// Error is a classified delivery failure.
type Error struct {
	Kind     domain.ErrorKind
	Provider domain.ProviderType
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or
// KindTransport for unclassified errors.
func KindOf(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindNone
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return domain.KindTransport
}

// Retryable reports whether another attempt on the same provider may succeed.
func Retryable(kind domain.ErrorKind) bool { return kind.Retryable() }

// ErrMisconfigured is wrapped by the Configuration failures an adapter
// reports when its settings are missing or still hold placeholder text.
var ErrMisconfigured = errors.New("provider is not configured")

var now = time.Now

func sent(p domain.ProviderType, messageID string) domain.SendOutcome {
	return domain.SendOutcome{Success: true, Provider: p, ProviderMessageID: messageID, SentAt: now().UTC()}
}

func failed(p domain.ProviderType, kind domain.ErrorKind, err error) domain.SendOutcome {
	return domain.SendOutcome{
		Provider:  p,
		ErrorKind: kind,
		Err:       &Error{Kind: kind, Provider: p, Err: err},
	}
}

func misconfigured(p domain.ProviderType, problems []error) domain.SendOutcome {
	return failed(p, domain.KindConfiguration, fmt.Errorf("%w: %w", ErrMisconfigured, errors.Join(problems...)))
}

// formatted renders each address as "Name <email>" where a name is set.
func formatted(list []domain.Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
