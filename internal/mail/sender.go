package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/mdollan-source/payg/types/config"
	gomail "github.com/wneessen/go-mail"
)

// Sender delivers a rendered message and returns the message id it was sent with.
type Sender interface {
	Send(ctx context.Context, to string, msg *Message) (string, error)
}

// SMTPSender dials the relay for every message. Email traffic here is a handful of messages per tenant.
type SMTPSender struct {
	cfg  config.SMTPConfig
	opts []gomail.Option
}

func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	if !cfg.Enabled() {
		return nil, errors.New("smtp host and sender address are required")
	}

	if cfg.Port == 0 {
		cfg.Port = config.DefaultSMTPPort
	}
	opts := []gomail.Option{gomail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	if cfg.Port == 465 {
		opts = append(opts, gomail.WithSSLPort(false))
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSOpportunistic))
	}
	return &SMTPSender{cfg: cfg, opts: opts}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to string, msg *Message) (string, error) {
	m, err := s.build(to, msg)
	if err != nil {
		return "", err
	}

	client, err := gomail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return m.GetMessageID(), nil
}

func (s *SMTPSender) build(to string, msg *Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("invalid reply-to address: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	return m, nil
}
