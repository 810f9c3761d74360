package provider

import (
	"context"
	"testing"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildChainOrder(t *testing.T) {
	cfg := config.MailConfig{
		Providers: []string{"resend", "graph", "ses", "smtp"},
		Graph:     config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Mailbox: "m@bistro.test"},
		Resend:    config.ResendConfig{APIKey: "re_live"},
		SES:       config.SESConfig{Region: "us-west-2"},
		SMTP:      config.SMTPConfig{Host: "smtp.bistro.test", Port: 587},
	}
	chain, err := Build(context.Background(), cfg, Deps{Tokens: &fakeTokens{value: "t"}, SES: &fakeSES{}})
	require.NoError(t, err)

	var names []domain.ProviderType
	for _, p := range chain {
		names = append(names, p.Name())
	}
	assert.Equal(t, []domain.ProviderType{domain.ProviderResend, domain.ProviderGraph, domain.ProviderSES, domain.ProviderSMTP}, names)
}

func TestBuildMarksMisconfiguredProviders(t *testing.T) {
	cfg := config.MailConfig{
		Providers: []string{"graph", "ses"},
		Graph:     config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "your-client-secret", Mailbox: "m@bistro.test"},
		SES:       config.SESConfig{Region: "us-west-2"},
	}
	fake := &fakeSES{}
	chain, err := Build(context.Background(), cfg, Deps{Tokens: &fakeTokens{value: "t"}, SES: fake})
	require.NoError(t, err)
	require.Len(t, chain, 2)

	out := chain[0].Send(context.Background(), testMessage())
	assert.Equal(t, domain.KindConfiguration, out.ErrorKind)
	assert.Contains(t, out.Err.Error(), "mail.graph.client_secret")

	out = chain[1].Send(context.Background(), testMessage())
	assert.True(t, out.Success)
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	_, err := Build(context.Background(), config.MailConfig{Providers: []string{"pigeon"}}, Deps{})
	var ce *config.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "mail.providers", ce.Field)

	_, err = Build(context.Background(), config.MailConfig{}, Deps{})
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.KindNone, KindOf(nil))
	assert.Equal(t, domain.KindRejected, KindOf(&Error{Kind: domain.KindRejected}))
	assert.Equal(t, domain.KindTransport, KindOf(assert.AnError))
	assert.True(t, Retryable(domain.KindTransport))
	assert.False(t, Retryable(domain.KindAuth))
}
