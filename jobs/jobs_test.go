package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jordan-wright/email"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/abrechnung/console/internal/jobs"
	"github.com/abrechnung/console/internal/shared"
	"github.com/abrechnung/console/jobs"
)

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	if q.err != nil {
		return nil, q.err
	}
	return &asynq.TaskInfo{ID: "1", Queue: jobs.QueueDefault, Type: task.Type()}, nil
}

type fakeSender struct {
	sent []*email.Email
	err  error
}

func (s *fakeSender) Send(_ context.Context, e *email.Email) error {
	s.sent = append(s.sent, e)
	return s.err
}

func TestPasswordChangedMailerEnqueues(t *testing.T) {
	queue := &fakeQueue{}
	mailer := jobs.NewPasswordChangedMailer(queue, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := mailer.OnPasswordChanged(context.Background(), shared.Principal{ID: "1", Username: "alice", Email: "alice@example.test"})
	require.NoError(t, err)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, jobs.TaskPasswordChangedMail, queue.tasks[0].Type())

	var payload jobs.PasswordChangedPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	assert.Equal(t, "alice", payload.Username)
	assert.Equal(t, "alice@example.test", payload.Email)
	assert.False(t, payload.At.IsZero())
}

func TestPasswordChangedMailerSkipsWithoutEmail(t *testing.T) {
	queue := &fakeQueue{}
	mailer := jobs.NewPasswordChangedMailer(queue, nil)
	require.NoError(t, mailer.OnPasswordChanged(context.Background(), shared.Principal{ID: "1", Username: "alice"}))
	assert.Empty(t, queue.tasks)
}

func TestPasswordChangedMailerReportsQueueErrors(t *testing.T) {
	queue := &fakeQueue{err: errors.New("redis down")}
	mailer := jobs.NewPasswordChangedMailer(queue, nil)
	err := mailer.OnPasswordChanged(context.Background(), shared.Principal{Username: "alice", Email: "a@example.test"})
	assert.EqualError(t, err, "redis down")
}

func newMailTask(t *testing.T, payload jobs.PasswordChangedPayload) *asynq.Task {
	t.Helper()
	task, err := jobs.NewPasswordChangedMailTask(payload)
	require.NoError(t, err)
	return task
}

func TestPasswordChangedMailJobSends(t *testing.T) {
	sender := &fakeSender{}
	job := jobs.NewPasswordChangedMailJob(sender, "console@example.test", nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	err := job.Handle(context.Background(), newMailTask(t, jobs.PasswordChangedPayload{Username: "alice", Email: "alice@example.test", At: at}))
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, []string{"alice@example.test"}, msg.To)
	assert.Equal(t, "console@example.test", msg.From)
	assert.Equal(t, "Your password was changed", msg.Subject)
	assert.Contains(t, string(msg.Text), "Hello alice")
	assert.Contains(t, string(msg.Text), "2026-03-01 12:30 UTC")
}

func TestPasswordChangedMailJobErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	job := jobs.NewPasswordChangedMailJob(sender, "console@example.test", nil, nil)

	err := job.Handle(context.Background(), newMailTask(t, jobs.PasswordChangedPayload{Username: "alice", Email: "alice@example.test"}))
	assert.EqualError(t, err, "smtp down")

	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskPasswordChangedMail, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), newMailTask(t, jobs.PasswordChangedPayload{Username: "alice"}))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPasswordChangedMailJobWithoutSender(t *testing.T) {
	job := jobs.NewPasswordChangedMailJob(nil, "", nil, nil)
	err := job.Handle(context.Background(), newMailTask(t, jobs.PasswordChangedPayload{Username: "alice", Email: "alice@example.test"}))
	assert.NoError(t, err)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := jobs.NewWorker(jobs.WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	assert.Error(t, err)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	jobs.NewHandler(nil, nil).MountRoutes(r)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"retry":0}`, res.Body.String())
}
