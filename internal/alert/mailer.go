package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig contains what SMTPSender needs to reach the relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// To is a comma-separated recipient list.
	To string

	Timeout time.Duration
}

// SMTPSender delivers HTML mail through an SMTP relay with mandatory STARTTLS.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates a sender. No connection is made until Send.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send opens a connection, delivers one message and closes the connection.
func (s *SMTPSender) Send(ctx context.Context, subject, htmlBody string) error {
	msg, err := s.buildMessage(subject, htmlBody)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending mail via %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

func (s *SMTPSender) buildMessage(subject, htmlBody string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", s.cfg.From, err)
	}
	to := recipients(s.cfg.To)
	if len(to) == 0 {
		return nil, fmt.Errorf("no recipient in %q", s.cfg.To)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipient list %q: %w", s.cfg.To, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}

func recipients(list string) []string {
	var out []string
	for _, r := range strings.Split(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
