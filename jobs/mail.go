package jobs

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"text/template"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jordan-wright/email"

	jobmetrics "github.com/abrechnung/console/internal/jobs"
)

// MailConfig holds SMTP settings. An empty Host disables delivery.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, e *email.Email) error
}

// SMTPSender sends mail through an SMTP relay, choosing the TLS mode from the port.
type SMTPSender struct {
	cfg MailConfig
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(cfg MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(_ context.Context, e *email.Email) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	tlsCfg := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	switch s.cfg.Port {
	case 465:
		return e.SendWithTLS(addr, auth, tlsCfg)
	case 587:
		return e.SendWithStartTLS(addr, auth, tlsCfg)
	default:
		return e.Send(addr, auth)
	}
}

const passwordChangedBody = `Hello {{.Username}},

the password of your account was changed on {{.At.Format "2006-01-02 15:04 MST"}}.

If you did not do this, contact your administrator immediately.
`

var passwordChangedTemplate = template.Must(template.New("password_changed").Parse(passwordChangedBody))

// PasswordChangedMailJob handles TaskPasswordChangedMail tasks.
type PasswordChangedMailJob struct {
	Sender  Sender
	From    string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPasswordChangedMailJob wires the mail job. A nil sender logs instead of sending.
func NewPasswordChangedMailJob(sender Sender, from string, logger *slog.Logger, metrics *jobmetrics.Metrics) *PasswordChangedMailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordChangedMailJob{Sender: sender, From: from, Logger: logger, Metrics: metrics}
}

// Handle renders and sends the notification.
func (j *PasswordChangedMailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("password changed mail: handler not configured")
	}
	var payload PasswordChangedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Email == "" {
		return fmt.Errorf("payload without recipient: %w", asynq.SkipRetry)
	}
	if payload.At.IsZero() {
		payload.At = time.Now().UTC()
	}

	tracker := j.Metrics.Track(TaskPasswordChangedMail)
	defer func() { err = tracker.End(err) }()

	var body bytes.Buffer
	if err := passwordChangedTemplate.Execute(&body, payload); err != nil {
		return fmt.Errorf("render mail: %v: %w", err, asynq.SkipRetry)
	}

	if j.Sender == nil {
		j.Logger.Info("mail disabled, skipping password change notice", slog.String("user", payload.Username))
		return nil
	}

	e := email.NewEmail()
	e.From = j.From
	e.To = []string{payload.Email}
	e.Subject = "Your password was changed"
	e.Text = body.Bytes()
	if err := j.Sender.Send(ctx, e); err != nil {
		j.Logger.Warn("send password change notice", slog.String("user", payload.Username), slog.Any("error", err))
		return err
	}
	j.Logger.Info("password change notice sent", slog.String("user", payload.Username))
	return nil
}
