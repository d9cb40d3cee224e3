package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSMTPPort    = 587
	defaultSendTimeout = 10 * time.Second
	defaultFromName    = "BugLens"
	resetSubject       = "Password Reset Request - BugLens"
)

// PasswordReset is the input of a reset email.
type PasswordReset struct {
	To    string `json:"to"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// Mailer sends transactional email.
type Mailer interface {
	SendPasswordReset(ctx context.Context, msg PasswordReset) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	FromName    string
	FrontendURL string
	Timeout     time.Duration
}

type sendFunc func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers mail through an SMTP relay using STARTTLS when offered.
type SMTPMailer struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewSMTPMailer validates cfg and builds a mailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Host == "" {
		return nil, errors.New("smtp host required")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultSMTPPort
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSendTimeout
	}
	return &SMTPMailer{cfg: cfg, send: sendSMTP}, nil
}

// SendPasswordReset renders and sends the reset email.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, msg PasswordReset) error {
	body, err := RenderPasswordReset(m.cfg.FrontendURL, msg)
	if err != nil {
		return err
	}
	raw := buildMessage(m.cfg.FromName, m.cfg.From, msg.To, resetSubject, body)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(ctx, addr, auth, m.cfg.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("send password reset to %s: %w", msg.To, err)
	}
	return nil
}

// ResetLink is the frontend page a reset token is redeemed on.
func ResetLink(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/reset-password.html?token=" + url.QueryEscape(token)
}

var resetTemplate = template.Must(template.New("reset").Parse(`<html>
<body style="font-family: Arial, sans-serif;">
  <h2>Password Reset Request</h2>
  <p>Hello {{.Name}},</p>
  <p>We received a request to reset your password.</p>
  <p><a href="{{.Link}}" style="display: inline-block; padding: 10px 20px; background-color: #007bff; color: white; text-decoration: none; border-radius: 5px;">Reset Password</a></p>
  <p>Or copy this link: {{.Link}}</p>
  <p>This link expires in 1 hour.</p>
  <p>Thanks,<br>BugLens Team</p>
</body>
</html>
`))

// RenderPasswordReset returns the HTML body of the reset email.
func RenderPasswordReset(frontendURL string, msg PasswordReset) (string, error) {
	var buf bytes.Buffer
	err := resetTemplate.Execute(&buf, struct {
		Name string
		Link string
	}{Name: msg.Name, Link: ResetLink(frontendURL, msg.Token)})
	if err != nil {
		return "", fmt.Errorf("render reset email: %w", err)
	}
	return buf.String(), nil
}

func buildMessage(fromName, from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + (&mail.Address{Name: fromName, Address: from}).String() + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))
	return []byte(b.String())
}

func sendSMTP(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	host, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// LogMailer records reset requests in the log instead of sending mail.
// It is used when no SMTP relay is configured. The link carries a live
// token, so it is only logged at debug level.
type LogMailer struct {
	FrontendURL string
	Logger      *slog.Logger
}

func (m LogMailer) SendPasswordReset(ctx context.Context, msg PasswordReset) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "password reset email not sent (smtp disabled)", "to", msg.To)
	logger.DebugContext(ctx, "password reset link", "to", msg.To, "link", ResetLink(m.FrontendURL, msg.Token))
	return nil
}
