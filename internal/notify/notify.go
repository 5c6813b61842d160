// Package notify dispatches best-effort account notifications. Failures are
// the caller's to log; they never affect the outcome of the primary flow.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Message is a plain-text account notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender dispatches a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers mail over SMTP with optional plain auth.
type SMTPSender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	_ = ctx
	if s.Host == "" {
		return fmt.Errorf("notify: smtp host not configured")
	}
	from := s.From
	if from == "" {
		from = s.Username
	}
	if from == "" {
		return fmt.Errorf("notify: smtp from not configured")
	}

	headers := []string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	data := strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Body

	var auth smtp.Auth
	if s.Username != "" || s.Password != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	return smtp.SendMail(s.Host+":"+s.Port, auth, from, []string{msg.To}, []byte(data))
}

// LogSender records notifications in the log instead of delivering them.
// Used when SMTP is not configured.
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification dispatched",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}
