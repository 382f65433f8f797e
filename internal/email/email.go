// Package email sends workflow notification emails over SMTP, falling back
// to log-only delivery when no credentials are configured.
package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Result reports a delivery attempt. Sending never fails the calling step;
// failures are carried in the result so the workflow records them and moves
// on.
type Result struct {
	Success   bool
	MessageID string
	Error     string
}

// Sender delivers email messages.
type Sender interface {
	Send(msg Message) Result
}

// SMTPConfig holds SMTP transport settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether credentials are present.
func (c SMTPConfig) Configured() bool {
	return c.Username != "" && c.Password != ""
}

// NewSender returns an SMTP-backed sender when credentials are configured,
// otherwise a sender that only logs what it would have sent.
func NewSender(cfg SMTPConfig, logger zerolog.Logger) Sender {
	if !cfg.Configured() {
		logger.Warn().Msg("SMTP credentials not configured, emails will be logged but not sent")
		return &logSender{logger: logger}
	}
	if cfg.Host == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &smtpSender{cfg: cfg, logger: logger}
}

type smtpSender struct {
	cfg    SMTPConfig
	logger zerolog.Logger
}

func (s *smtpSender) Send(msg Message) Result {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	s.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("sending email")

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{msg.To}, []byte(b.String())); err != nil {
		s.logger.Error().
			Err(err).
			Str("to", msg.To).
			Str("subject", msg.Subject).
			Msg("failed to send email")
		return Result{Success: false, Error: err.Error()}
	}

	id := fmt.Sprintf("smtp-%d", time.Now().UnixNano())
	s.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("messageId", id).
		Msg("email sent")
	return Result{Success: true, MessageID: id}
}

// logSender records the message instead of delivering it.
type logSender struct {
	logger zerolog.Logger
}

func (s *logSender) Send(msg Message) Result {
	body := msg.Body
	if len(body) > 100 {
		body = body[:100]
	}
	s.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", body).
		Msg("email would be sent (SMTP not configured)")
	return Result{
		Success:   true,
		MessageID: fmt.Sprintf("mock-%d", time.Now().UnixMilli()),
	}
}
