package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"github.com/abrechnung/console/internal/account"
	jobmetrics "github.com/abrechnung/console/internal/jobs"
	"github.com/abrechnung/console/internal/shared"
)

// Enqueuer submits tasks to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// PasswordChangedMailer queues a notification mail after each successful change.
type PasswordChangedMailer struct {
	queue   Enqueuer
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewPasswordChangedMailer constructs the listener.
func NewPasswordChangedMailer(queue Enqueuer, metrics *jobmetrics.Metrics) *PasswordChangedMailer {
	return &PasswordChangedMailer{queue: queue, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

// OnPasswordChanged implements account.ChangeListener. Principals without an
// email address are skipped.
func (m *PasswordChangedMailer) OnPasswordChanged(ctx context.Context, p shared.Principal) error {
	if p.Email == "" {
		return nil
	}
	task, err := NewPasswordChangedMailTask(PasswordChangedPayload{Username: p.Username, Email: p.Email, At: m.now()})
	if err != nil {
		return err
	}
	_, err = m.queue.Enqueue(ctx, task, asynq.Queue(QueueDefault))
	m.metrics.Enqueued(TaskPasswordChangedMail, err)
	return err
}

var _ account.ChangeListener = (*PasswordChangedMailer)(nil)
