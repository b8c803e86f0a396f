package ledger

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/kubemendstack/kubemend/internal/models"
)

// AlertSink delivers one formatted failure report.
type AlertSink interface {
	Deliver(subject, body string) error
}

// FormatReport renders the accumulated records as a single alert block.
func FormatReport(records []models.FailureRecord) string {
	var b strings.Builder
	b.WriteString("Alert: Below is the failure report since the last flush:\n\n")
	for _, record := range records {
		fmt.Fprintf(&b, "Failure: %s\n", record.FailureKind)
		fmt.Fprintf(&b, "Action Taken: %s\n", record.ActionTaken)
		message := record.ErrorMessage
		if message == "" {
			message = "No error message"
		}
		fmt.Fprintf(&b, "Error Message: %s\n", message)
		b.WriteString(strings.Repeat("-", 50))
		b.WriteString("\n")
	}
	return b.String()
}

// SMTPSink delivers reports by email.
type SMTPSink struct {
	Host     string
	Port     int
	From     string
	To       string
	Username string
	Password string
}

// Deliver sends the report as a plain-text email.
func (s *SMTPSink) Deliver(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", s.From, s.To, subject, body)

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	if err := smtp.SendMail(addr, auth, s.From, []string{s.To}, []byte(msg)); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

// LogSink writes reports to the structured log. Used when no SMTP host is
// configured.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver logs the report.
func (s *LogSink) Deliver(subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("failure report", slog.String("subject", subject), slog.String("body", body))
	return nil
}
