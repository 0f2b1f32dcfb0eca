package notifications

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"tipline/internal/config"
)

func TestNewMailerWithoutHostIsNop(t *testing.T) {
	cfg := config.Default()
	if _, ok := NewMailer(&cfg).(NopMailer); !ok {
		t.Fatal("expected NopMailer without smtp host")
	}
}

func TestSMTPMailerRendersMessage(t *testing.T) {
	cfg := config.Default()
	cfg.SMTP.Host = "mail.example.org"
	cfg.SMTP.Port = 2525
	cfg.SMTP.Username = "user"
	cfg.SMTP.Password = "secret"
	cfg.SMTP.From = "tipline@example.org"

	mailer, ok := NewMailer(&cfg).(*SMTPMailer)
	if !ok {
		t.Fatal("expected SMTPMailer")
	}

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	mailer.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	err := mailer.Send(context.Background(), Message{To: "alice@example.org", Subject: "New tip", Body: "line one\nline two"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "mail.example.org:2525" {
		t.Fatalf("unexpected addr %q", gotAddr)
	}
	if gotAuth == nil {
		t.Fatal("expected plain auth when username is set")
	}
	if len(gotTo) != 1 || gotTo[0] != "alice@example.org" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	for _, want := range []string{"Subject: New tip\r\n", "From: tipline@example.org\r\n", "\r\n\r\nline one\r\nline two"} {
		if !strings.Contains(gotMsg, want) {
			t.Fatalf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestSMTPMailerRejectsHeaderInjection(t *testing.T) {
	mailer := &SMTPMailer{Addr: "x:25", Host: "x", From: "a@x"}
	mailer.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("must not be called")
	}
	err := mailer.Send(context.Background(), Message{To: "a@x\r\nBcc: b@y", Subject: "s"})
	if err == nil || strings.Contains(err.Error(), "must not be called") {
		t.Fatalf("expected header injection to be refused, got %v", err)
	}
}
