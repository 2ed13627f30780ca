// Package mail delivers password-reset codes over SMTP.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     string
	User     string
	Pass     string
	From     string
	Security string // starttls (default), ssl|smtps, none
}

type Mailer interface {
	SendOTP(ctx context.Context, to, code string, expires time.Time) error
	Enabled() bool
}

// New returns an SMTP mailer, or a no-op one when host or sender is missing.
func New(cfg Config, logger *slog.Logger) Mailer {
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Port = strings.TrimSpace(cfg.Port)
	cfg.User = strings.TrimSpace(cfg.User)
	cfg.From = strings.TrimSpace(cfg.From)
	cfg.Security = strings.ToLower(strings.TrimSpace(cfg.Security))
	if cfg.Security == "" {
		cfg.Security = "starttls"
	}
	if cfg.Host == "" || cfg.From == "" {
		logger.Info("mailer disabled; SMTP host or sender missing")
		return Noop{}
	}
	if cfg.Port == "" {
		cfg.Port = "587"
		if cfg.Security == "ssl" || cfg.Security == "smtps" {
			cfg.Port = "465"
		}
	}
	logger.Info("mailer enabled", "host", cfg.Host, "port", cfg.Port, "security", cfg.Security, "user", Mask(cfg.User))
	return &smtpMailer{cfg: cfg}
}

type Noop struct{}

func (Noop) SendOTP(context.Context, string, string, time.Time) error { return nil }
func (Noop) Enabled() bool                                           { return false }

type smtpMailer struct {
	cfg Config
}

func (m *smtpMailer) Enabled() bool { return true }

func (m *smtpMailer) SendOTP(ctx context.Context, to, code string, expires time.Time) error {
	body := fmt.Sprintf("Your password reset code is:\n\n    %s\n\nThis code will expire in %d minutes (at %s UTC).\n\nIf you didn't request this, please ignore this email.",
		code, int(time.Until(expires).Round(time.Minute).Minutes()), expires.UTC().Format(time.RFC3339))
	msg := Message(m.cfg.From, to, "Password Reset Code", body)

	client, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("mail: dial %s: %w", m.addr(), err)
	}
	defer client.Close()
	if err := m.deliver(client, to, msg); err != nil {
		return fmt.Errorf("mail: send to %s: %w", Mask(to), err)
	}
	return nil
}

// dial opens the SMTP session, upgrading to TLS per the configured security.
func (m *smtpMailer) dial(ctx context.Context) (*smtp.Client, error) {
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > 30*time.Second {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	tlsCfg := &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	switch m.cfg.Security {
	case "ssl", "smtps":
		d := &tls.Dialer{Config: tlsCfg}
		conn, err = d.DialContext(ctx, "tcp", m.addr())
	default:
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", m.addr())
	}
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if m.cfg.Security == "starttls" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsCfg); err != nil {
				client.Close()
				return nil, err
			}
		}
	}
	return client, nil
}

func (m *smtpMailer) deliver(client *smtp.Client, to string, msg []byte) error {
	if m.cfg.User != "" && m.cfg.Pass != "" {
		if err := client.Auth(smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)); err != nil {
			return err
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (m *smtpMailer) addr() string {
	return net.JoinHostPort(m.cfg.Host, m.cfg.Port)
}

// Message renders a plain-text RFC 5322 message.
func Message(from, to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Mask hides all but the first and last character for log output.
func Mask(s string) string {
	if s == "" {
		return "(none)"
	}
	if len(s) <= 2 {
		return "***"
	}
	return s[:1] + "***" + s[len(s)-1:]
}
