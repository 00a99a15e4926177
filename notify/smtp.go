package notify

import (
	"context"
	"errors"
	"fmt"

	goOTP "github.com/MrEthical07/goOTP"
	"github.com/wneessen/go-mail"
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
	// AppName is substituted into subjects and bodies.
	AppName string
}

// sender is the part of *mail.Client the notifier needs.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTP is a goOTP.Notifier and goOTP.CredentialNotifier that sends mail
// through one SMTP relay.
type SMTP struct {
	cfg    Config
	client sender
}

var (
	_ goOTP.Notifier           = (*SMTP)(nil)
	_ goOTP.CredentialNotifier = (*SMTP)(nil)
)

// NewSMTP validates cfg and builds the mail client. No connection is made
// until the first send.
func NewSMTP(cfg Config) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("SMTP from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.AppName == "" {
		cfg.AppName = "goOTP"
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		// Implicit TLS on 465, STARTTLS elsewhere.
		if cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating mail client: %w", err)
	}
	return &SMTP{cfg: cfg, client: client}, nil
}

// Send mails the code for msg.Purpose to msg.To.
func (s *SMTP) Send(ctx context.Context, msg goOTP.Message) error {
	tpl, ok := codeTemplates[msg.Purpose]
	if !ok {
		return goOTP.ErrInvalidPurpose
	}
	view := codeView{
		AppName:   s.cfg.AppName,
		Code:      msg.Code,
		ExpiresIn: humanDuration(msg.ExpiresIn),
	}
	m, err := s.compose(msg.To, tpl, view)
	if err != nil {
		return err
	}
	return s.deliver(ctx, m)
}

// NotifyCredentialChanged tells to that their password was reset.
func (s *SMTP) NotifyCredentialChanged(ctx context.Context, to string) error {
	m, err := s.compose(to, credentialChanged, noticeView{AppName: s.cfg.AppName})
	if err != nil {
		return err
	}
	return s.deliver(ctx, m)
}

func (s *SMTP) compose(to string, tpl mailTemplate, data any) (*mail.Msg, error) {
	m := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := m.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("setting from address: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	m.Subject(fmt.Sprintf(tpl.subject, s.cfg.AppName))
	if err := m.SetBodyTextTemplate(tpl.text, data); err != nil {
		return nil, fmt.Errorf("rendering text body: %w", err)
	}
	if err := m.AddAlternativeHTMLTemplate(tpl.html, data); err != nil {
		return nil, fmt.Errorf("rendering html body: %w", err)
	}
	return m, nil
}

func (s *SMTP) deliver(ctx context.Context, m *mail.Msg) error {
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}
