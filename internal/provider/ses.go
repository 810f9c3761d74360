package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
)

// SESAPI is the subset of the SES v2 client the adapter uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends through AWS SES v2.
type SESProvider struct {
	client           SESAPI
	configurationSet string
	problems         []error
}

// NewSESProvider wraps an existing SES client.
func NewSESProvider(client SESAPI, configurationSet string, problems ...error) *SESProvider {
	return &SESProvider{client: client, configurationSet: configurationSet, problems: problems}
}

// NewSESClient builds an SES v2 client. Static keys are used when set,
// otherwise the default credential chain.
func NewSESClient(ctx context.Context, cfg config.SESConfig) (*sesv2.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

func (p *SESProvider) Name() domain.ProviderType { return domain.ProviderSES }

func (p *SESProvider) Send(ctx context.Context, msg domain.Message) domain.SendOutcome {
	if len(p.problems) > 0 {
		return misconfigured(p.Name(), p.problems)
	}

	out, err := p.client.SendEmail(ctx, p.buildInput(msg))
	if err != nil {
		return failed(p.Name(), classifySES(err), err)
	}
	return sent(p.Name(), aws.ToString(out.MessageId))
}

func (p *SESProvider) buildInput(msg domain.Message) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	simple := &types.Message{
		Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
		Body:    body,
	}
	for k, v := range msg.Headers {
		simple.Headers = append(simple.Headers, types.MessageHeader{Name: aws.String(k), Value: aws.String(v)})
	}

	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From.String()),
		Destination: &types.Destination{
			ToAddresses:  formatted(msg.To),
			CcAddresses:  formatted(msg.Cc),
			BccAddresses: formatted(msg.Bcc),
		},
		Content: &types.EmailContent{Simple: simple},
	}
	if msg.ReplyTo != nil {
		in.ReplyToAddresses = []string{msg.ReplyTo.String()}
	}
	if p.configurationSet != "" {
		in.ConfigurationSetName = aws.String(p.configurationSet)
	}
	return in
}

func classifySES(err error) domain.ErrorKind {
	var (
		rejected   *types.MessageRejected
		unverified *types.MailFromDomainNotVerifiedException
		badRequest *types.BadRequestException
		notFound   *types.NotFoundException
	)
	switch {
	case errors.As(err, &rejected), errors.As(err, &unverified), errors.As(err, &badRequest), errors.As(err, &notFound):
		return domain.KindRejected
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch",
			"AccessDeniedException", "AccessDenied", "ExpiredTokenException", "ExpiredToken":
			return domain.KindAuth
		}
	}
	return domain.KindTransport
}
