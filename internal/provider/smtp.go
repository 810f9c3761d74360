package provider

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/wneessen/go-mail"
)

// SMTPProvider sends through an SMTP relay, one session per message.
type SMTPProvider struct {
	cfg      config.SMTPConfig
	problems []error
}

// NewSMTPProvider creates an SMTPProvider.
func NewSMTPProvider(cfg config.SMTPConfig, problems ...error) *SMTPProvider {
	return &SMTPProvider{cfg: cfg, problems: problems}
}

func (p *SMTPProvider) Name() domain.ProviderType { return domain.ProviderSMTP }

func (p *SMTPProvider) Send(ctx context.Context, msg domain.Message) domain.SendOutcome {
	if len(p.problems) > 0 {
		return misconfigured(p.Name(), p.problems)
	}

	m, err := buildMailMsg(msg)
	if err != nil {
		return failed(p.Name(), domain.KindRejected, err)
	}

	client, err := mail.NewClient(p.cfg.Host, p.clientOptions()...)
	if err != nil {
		return failed(p.Name(), domain.KindConfiguration, fmt.Errorf("create SMTP client: %w", err))
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return failed(p.Name(), classifySMTP(err), err)
	}

	var id string
	if ids := m.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		id = strings.Trim(ids[0], "<>")
	}
	return sent(p.Name(), id)
}

func (p *SMTPProvider) clientOptions() []mail.Option {
	timeout := p.cfg.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts := []mail.Option{
		mail.WithPort(p.cfg.Port),
		mail.WithTimeout(timeout),
	}

	switch {
	case p.cfg.Port == 465:
		opts = append(opts, mail.WithSSL())
	case p.cfg.TLSPolicy == "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	case p.cfg.TLSPolicy == "mandatory" || (p.cfg.TLSPolicy == "" && p.cfg.Port == 587):
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if p.cfg.Username != "" && p.cfg.Password != "" {
		opts = append(opts,
			mail.WithUsername(p.cfg.Username),
			mail.WithPassword(p.cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts
}

func buildMailMsg(msg domain.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(msg.From.Name, msg.From.Email); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(formatted(msg.To)...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(formatted(msg.Cc)...); err != nil {
			return nil, fmt.Errorf("invalid cc address: %w", err)
		}
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(formatted(msg.Bcc)...); err != nil {
			return nil, fmt.Errorf("invalid bcc address: %w", err)
		}
	}
	if msg.ReplyTo != nil {
		if err := m.ReplyToFormat(msg.ReplyTo.Name, msg.ReplyTo.Email); err != nil {
			return nil, fmt.Errorf("invalid reply-to address: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetDate()

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
	}

	for k, v := range msg.Headers {
		m.SetGenHeader(mail.Header(k), v)
	}
	return m, nil
}

// classifySMTP maps a go-mail error onto an ErrorKind. 530, 534 and 535
// replies are authentication failures; permanent envelope or data
// rejections are Rejected; everything else, including temporary 4xx
// replies and dial errors, is Transport.
func classifySMTP(err error) domain.ErrorKind {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 530, 534, 535:
			return domain.KindAuth
		}
	}

	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return domain.KindTransport
		}
		switch sendErr.Reason {
		case mail.ErrGetSender, mail.ErrGetRcpts, mail.ErrSMTPMailFrom, mail.ErrSMTPRcptTo,
			mail.ErrSMTPData, mail.ErrSMTPDataClose, mail.ErrNoUnencoded:
			return domain.KindRejected
		}
		return domain.KindTransport
	}

	if strings.Contains(strings.ToLower(err.Error()), "smtp auth") {
		return domain.KindAuth
	}
	return domain.KindTransport
}
