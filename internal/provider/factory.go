package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/oauth"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// Deps are optional collaborators for Build. Nil fields are created from
// configuration.
type Deps struct {
	HTTPClient *http.Client
	Tokens     TokenSource
	SES        SESAPI
}

// Build creates the failover chain in the order listed in cfg.Providers.
// A provider whose settings are incomplete is still built, but reports
// Configuration failures so the dispatcher moves on to the next one.
func Build(ctx context.Context, cfg config.MailConfig, deps Deps) ([]Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, &config.ConfigurationError{Field: "mail.providers", Reason: "at least one provider is required"}
	}

	problems := providerProblems(cfg)
	chain := make([]Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		kind := domain.ProviderType(strings.ToLower(strings.TrimSpace(name)))
		probs := problems[kind]
		for _, p := range probs {
			logger.Warn("provider misconfigured", "provider", string(kind), "error", p)
		}

		switch kind {
		case domain.ProviderGraph:
			tokens := deps.Tokens
			if tokens == nil {
				tokens = oauth.NewTokenManager(oauth.Config{
					TokenURL:     cfg.Graph.ResolvedTokenURL(),
					ClientID:     cfg.Graph.ClientID,
					ClientSecret: cfg.Graph.ClientSecret,
					Scopes:       []string{cfg.Graph.Scope},
					Skew:         cfg.Graph.TokenSkew(),
				})
			}
			hc := deps.HTTPClient
			if hc == nil {
				hc = &http.Client{Timeout: cfg.Graph.Timeout()}
			}
			chain = append(chain, NewGraphProvider(cfg.Graph.BaseURL, cfg.Graph.Mailbox, tokens, hc, probs...))

		case domain.ProviderSMTP:
			chain = append(chain, NewSMTPProvider(cfg.SMTP, probs...))

		case domain.ProviderResend:
			chain = append(chain, NewResendProvider(cfg.Resend.APIKey, cfg.Resend.BaseURL, cfg.Resend.Timeout(), probs...))

		case domain.ProviderSES:
			client := deps.SES
			if client == nil && len(probs) == 0 {
				c, err := NewSESClient(ctx, cfg.SES)
				if err != nil {
					probs = append(probs, err)
				} else {
					client = c
				}
			}
			chain = append(chain, NewSESProvider(client, cfg.SES.ConfigurationSet, probs...))

		default:
			return nil, &config.ConfigurationError{Field: "mail.providers", Reason: fmt.Sprintf("unknown provider %q", name)}
		}
	}

	names := make([]string, 0, len(chain))
	for _, p := range chain {
		names = append(names, string(p.Name()))
	}
	logger.Info("mail providers configured", "chain", strings.Join(names, ","))
	return chain, nil
}

// providerProblems groups the mail configuration errors by provider.
func providerProblems(cfg config.MailConfig) map[domain.ProviderType][]error {
	full := config.Config{Mail: cfg}
	out := map[domain.ProviderType][]error{}
	for _, err := range full.Validate() {
		var ce *config.ConfigurationError
		if !errors.As(err, &ce) {
			continue
		}
		for _, kind := range []domain.ProviderType{domain.ProviderGraph, domain.ProviderSMTP, domain.ProviderResend, domain.ProviderSES} {
			if strings.HasPrefix(ce.Field, "mail."+string(kind)+".") {
				out[kind] = append(out[kind], err)
			}
		}
	}
	return out
}
