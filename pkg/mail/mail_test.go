package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
)

func TestRenderPasswordResetEscapesAndLinks(t *testing.T) {
	body, err := RenderPasswordReset("https://app.example.com/", PasswordReset{
		To:    "dev@example.com",
		Name:  "<b>Ada</b>",
		Token: "abc-_123",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(body, "https://app.example.com/reset-password.html?token=abc-_123") {
		t.Fatalf("reset link missing: %s", body)
	}
	if strings.Contains(body, "<b>Ada</b>") || !strings.Contains(body, "&lt;b&gt;Ada&lt;/b&gt;") {
		t.Fatalf("name not html-escaped: %s", body)
	}
	if !strings.Contains(body, "expires in 1 hour") {
		t.Fatalf("expiry notice missing")
	}
}

func TestSMTPMailerSendsMessage(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{
		Host:        "smtp.example.com",
		Username:    "bot@example.com",
		Password:    "pw",
		From:        "bot@example.com",
		FrontendURL: "https://app.example.com",
	})
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	m.send = func(_ context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, auth, from, to, msg
		return nil
	}

	if err := m.SendPasswordReset(context.Background(), PasswordReset{To: "dev@example.com", Name: "Ada", Token: "t"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "bot@example.com" || len(gotTo) != 1 || gotTo[0] != "dev@example.com" {
		t.Fatalf("unexpected envelope addr=%s from=%s to=%v", gotAddr, gotFrom, gotTo)
	}
	if gotAuth == nil {
		t.Fatalf("expected plain auth when username is set")
	}
	msg := string(gotMsg)
	for _, want := range []string{
		"From: \"BugLens\" <bot@example.com>\r\n",
		"To: dev@example.com\r\n",
		"Subject: Password Reset Request - BugLens\r\n",
		"Content-Type: text/html; charset=\"utf-8\"\r\n",
		"reset-password.html?token=t",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSMTPMailerWrapsSendError(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", From: "bot@example.com"})
	if err != nil {
		t.Fatalf("new mailer: %v", err)
	}
	boom := errors.New("connection refused")
	m.send = func(context.Context, string, smtp.Auth, string, []string, []byte) error { return boom }
	if err := m.SendPasswordReset(context.Background(), PasswordReset{To: "a@example.com"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestNewSMTPMailerValidates(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{From: "bot@example.com"}); err == nil {
		t.Fatalf("expected missing host to fail")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "h", From: "not an address"}); err == nil {
		t.Fatalf("expected invalid from address to fail")
	}
}

func TestLogMailerKeepsTokenOutOfInfoLogs(t *testing.T) {
	msg := PasswordReset{To: "dev@example.com", Name: "Ada", Token: "live-token-123"}

	var info bytes.Buffer
	m := LogMailer{
		FrontendURL: "https://app.example.com",
		Logger:      slog.New(slog.NewJSONHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	if err := m.SendPasswordReset(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Contains(info.String(), msg.Token) {
		t.Fatalf("token leaked at info level: %s", info.String())
	}
	if !strings.Contains(info.String(), msg.To) {
		t.Fatalf("recipient missing from log: %s", info.String())
	}

	var debug bytes.Buffer
	m.Logger = slog.New(slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := m.SendPasswordReset(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(debug.String(), "reset-password.html?token="+msg.Token) {
		t.Fatalf("debug log should carry the link: %s", debug.String())
	}
}
