package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Email sends alerts over SMTP.
type Email struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// NewEmail returns nil when the transport is not fully configured.
func NewEmail(host string, port int, username, password, from string, to []string) *Email {
	if host == "" || from == "" || len(to) == 0 {
		return nil
	}
	if port == 0 {
		port = 587
	}
	return &Email{Host: host, Port: port, Username: username, Password: password, From: from, To: to}
}

func (e *Email) Name() string { return "email" }

func (e *Email) Send(_ context.Context, title, message string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", title)
	b.WriteString("\r\n")
	b.WriteString(message)
	b.WriteString("\r\n")

	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	if err := smtp.SendMail(addr, auth, e.From, e.To, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
