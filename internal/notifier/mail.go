package notifier

import (
	"context"
	"errors"
	"strings"

	mail "github.com/wneessen/go-mail"

	"paybybot/internal/parking"
)

// SMTPConfig selects the outgoing server. The recipient's own address and
// password authenticate, so each task mails itself.
type SMTPConfig struct {
	Host string
	Port int
	From string
	// SSL selects implicit TLS; otherwise STARTTLS is required.
	SSL bool
}

// Mail delivers over SMTP with PLAIN auth.
type Mail struct {
	cfg SMTPConfig
}

func NewMail(cfg SMTPConfig) *Mail {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port <= 0 {
		cfg.Port = 465
	}
	if cfg.Port == 465 {
		cfg.SSL = true
	}
	return &Mail{cfg: cfg}
}

func (m *Mail) Name() string { return "mail" }

func (m *Mail) Accepts(to parking.Recipient) bool {
	return strings.Contains(to.Email, "@")
}

func (m *Mail) Deliver(ctx context.Context, to parking.Recipient, subject, body string) error {
	if !m.Accepts(to) {
		return errors.New("mail recipient incomplete")
	}
	msg, err := m.message(to, subject, body)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(to.Email),
		mail.WithPassword(to.Password),
	}
	if m.cfg.SSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	c, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return c.DialAndSendWithContext(ctx, msg)
}

func (m *Mail) message(to parking.Recipient, subject, body string) (*mail.Msg, error) {
	from := m.cfg.From
	if from == "" {
		from = to.Email
	}
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, err
	}
	if err := msg.To(to.Email); err != nil {
		return nil, err
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
