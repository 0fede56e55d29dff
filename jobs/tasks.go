package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPasswordChangedMail notifies a user by mail that their password was changed.
	TaskPasswordChangedMail = "mail:password_changed"
)

// PasswordChangedPayload describes the mail sent after a password change.
type PasswordChangedPayload struct {
	Username string    `json:"username"`
	Email    string    `json:"email"`
	At       time.Time `json:"at"`
}

// NewPasswordChangedMailTask constructs an Asynq task.
func NewPasswordChangedMailTask(payload PasswordChangedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPasswordChangedMail, data, asynq.MaxRetry(5), asynq.Timeout(time.Minute)), nil
}
