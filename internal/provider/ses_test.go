package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("0100-ses-id")}, nil
}

func TestSESSend(t *testing.T) {
	client := &fakeSES{}
	out := NewSESProvider(client, "transactional").Send(context.Background(), testMessage())

	require.True(t, out.Success)
	assert.Equal(t, "0100-ses-id", out.ProviderMessageID)

	in := client.in
	assert.Equal(t, `"Bistro" <hello@bistro.test>`, aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{`"Ana" <ana@guest.test>`, "ben@guest.test"}, in.Destination.ToAddresses)
	assert.Equal(t, []string{"chef@bistro.test"}, in.Destination.CcAddresses)
	assert.Equal(t, []string{"reservations@bistro.test"}, in.ReplyToAddresses)
	assert.Equal(t, "transactional", aws.ToString(in.ConfigurationSetName))
	assert.Equal(t, "<p>See you at 7</p>", aws.ToString(in.Content.Simple.Body.Html.Data))
	assert.Equal(t, "See you at 7", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Len(t, in.Content.Simple.Headers, 2)
}

func TestSESClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"rejected", &types.MessageRejected{Message: aws.String("Email address is not verified")}, domain.KindRejected},
		{"unverified domain", &types.MailFromDomainNotVerifiedException{}, domain.KindRejected},
		{"bad request", &types.BadRequestException{}, domain.KindRejected},
		{"bad credentials", &smithy.GenericAPIError{Code: "UnrecognizedClientException"}, domain.KindAuth},
		{"throttled", &types.TooManyRequestsException{}, domain.KindTransport},
		{"network", errors.New("dial tcp: i/o timeout"), domain.KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewSESProvider(&fakeSES{err: tt.err}, "").Send(context.Background(), testMessage())
			assert.False(t, out.Success)
			assert.Equal(t, tt.want, out.ErrorKind)
			assert.ErrorIs(t, out.Err, tt.err)
		})
	}
}

func TestSESMisconfigured(t *testing.T) {
	out := NewSESProvider(nil, "", errors.New("mail.ses.region: is required")).Send(context.Background(), testMessage())
	assert.Equal(t, domain.KindConfiguration, out.ErrorKind)
}
