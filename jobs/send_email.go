package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atlas-grants/atlas-grants/internal/jobs"
)

// EmailSender delivers one email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig carries connection settings for the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one message. Auth is used only when a username is set, so
// local relays like Mailpit work without credentials.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if s.cfg.Host == "" {
		return errors.New("jobs: smtp host not configured")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var msg strings.Builder
	msg.WriteString("From: " + s.cfg.From + "\r\n")
	msg.WriteString("To: " + to + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String()))
}

// SendEmailJob processes TaskTypeSendEmail tasks.
type SendEmailJob struct {
	Sender  EmailSender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSendEmailJob initialises the email handler.
func NewSendEmailJob(sender EmailSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *SendEmailJob {
	return &SendEmailJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle delivers the email described by the task payload.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sender == nil {
		return errors.New("send email: handler not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskTypeSendEmail)
	err := j.Sender.Send(ctx, payload.To, payload.Subject, payload.Body)
	err = tracker.End(err)
	if err != nil {
		j.Metrics.AddEmails("failure", 1)
		if j.Logger != nil {
			j.Logger.Error("send email",
				slog.String("to", payload.To),
				slog.String("subject", payload.Subject),
				slog.Any("error", err))
		}
		return err
	}
	j.Metrics.AddEmails("success", 1)
	if j.Logger != nil {
		j.Logger.Info("sent email",
			slog.String("to", payload.To),
			slog.String("subject", payload.Subject))
	}
	return nil
}
