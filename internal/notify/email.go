package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"time"
)

// SMTPConfig holds the configuration for email delivery.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// EmailSender implements Notifier over SMTP.
type EmailSender struct {
	config SMTPConfig
}

func NewEmailSender(config SMTPConfig) *EmailSender {
	return &EmailSender{config: config}
}

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	if msg.Target == "" {
		return fmt.Errorf("email: empty target for job %s", msg.JobID)
	}

	subject, body := composeEmail(msg)
	raw := []byte(fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\n\r\n%s",
		msg.Target, s.config.From, subject, body))

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := s.config.Host + ":" + s.config.Port
	if err := smtp.SendMail(addr, auth, s.config.From, []string{msg.Target}, raw); err != nil {
		return fmt.Errorf("email: send to %s: %w", msg.Target, err)
	}
	return nil
}

func composeEmail(msg Message) (subject, body string) {
	title := msg.Title
	if title == "" {
		title = msg.JobID.String()
	}

	switch msg.Kind {
	case KindScheduled:
		subject = fmt.Sprintf("Task %q scheduled", title)
	case KindReminder:
		subject = fmt.Sprintf("Reminder: task %q", title)
	case KindCompleted:
		subject = fmt.Sprintf("Task %q completed", title)
	case KindFailed:
		subject = fmt.Sprintf("Task %q failed", title)
	default:
		subject = fmt.Sprintf("Task %q", title)
	}

	body = fmt.Sprintf(
		"Task ID: %s\nTitle: %s\n\n%s\n\nSent %s",
		msg.JobID, title, msg.Detail, time.Now().UTC().Format(time.RFC3339))
	return subject, body
}

var _ Notifier = (*EmailSender)(nil)
