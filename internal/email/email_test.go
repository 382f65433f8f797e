package email

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewSenderFallsBackToLogOnly(t *testing.T) {
	s := NewSender(SMTPConfig{}, zerolog.Nop())
	if _, ok := s.(*logSender); !ok {
		t.Fatalf("expected log-only sender without credentials, got %T", s)
	}

	res := s.Send(Message{To: "ops@example.com", Subject: "hi", Body: "hello"})
	if !res.Success {
		t.Fatalf("log-only send should succeed: %+v", res)
	}
	if !strings.HasPrefix(res.MessageID, "mock-") {
		t.Fatalf("expected mock message id, got %q", res.MessageID)
	}
}

func TestNewSenderUsesSMTPWithCredentials(t *testing.T) {
	s := NewSender(SMTPConfig{Username: "user", Password: "pass"}, zerolog.Nop())
	smtp, ok := s.(*smtpSender)
	if !ok {
		t.Fatalf("expected smtp sender, got %T", s)
	}
	if smtp.cfg.Host != "smtp.gmail.com" || smtp.cfg.Port != 587 {
		t.Fatalf("defaults not applied: %+v", smtp.cfg)
	}
	if smtp.cfg.From != "user" {
		t.Fatalf("from should default to username, got %q", smtp.cfg.From)
	}
}

func TestSMTPSendReportsFailureInResult(t *testing.T) {
	// Point at a port nothing listens on; Send must not panic or error out,
	// it reports failure in the result.
	s := &smtpSender{
		cfg: SMTPConfig{
			Host:     "127.0.0.1",
			Port:     1,
			Username: "user",
			Password: "pass",
			From:     "user@example.com",
		},
		logger: zerolog.Nop(),
	}

	res := s.Send(Message{To: "ops@example.com", Subject: "hi", Body: "hello"})
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.Error == "" {
		t.Fatal("expected error message in result")
	}
}
