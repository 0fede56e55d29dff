package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abrechnung/console/internal/shared"
)

// SuccessMessage is the notification issued after a password was changed.
const SuccessMessage = "Successfully changed password"

var (
	// ErrSubmissionInFlight is reported when the session already has an unresolved submission.
	ErrSubmissionInFlight = errors.New("a password change is already in progress")
	// ErrCurrentPasswordInvalid is returned by backends when the old password does not verify.
	ErrCurrentPasswordInvalid = errors.New("current password is incorrect")
)

// ChangeRequest is handed to the account backend.
type ChangeRequest struct {
	Principal   shared.Principal
	OldPassword string
	NewPassword string
}

// PasswordChanger performs the actual password change against an account backend.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, req ChangeRequest) error
}

// Notifier delivers the user-visible outcome of a submission.
type Notifier interface {
	NotifySuccess(ctx context.Context, message string)
	NotifyError(ctx context.Context, message string)
}

// ChangeListener observes successful password changes. Listener errors are
// logged and never alter the submission outcome.
type ChangeListener interface {
	OnPasswordChanged(ctx context.Context, p shared.Principal) error
}

// OutcomeRecorder receives one call per submission, e.g. for metrics.
type OutcomeRecorder interface {
	RecordPasswordChange(outcome string)
}

// Outcome classifies a submission attempt.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeRejected
	OutcomeInvalid
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRejected:
		return "rejected"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Result is the typed outcome of Submit.
type Result struct {
	Outcome Outcome
	// Errors is set for OutcomeInvalid.
	Errors FieldErrors
	// Message is the text that was (or, for busy, would be) shown to the user.
	Message string
	// Err carries the backend failure for OutcomeRejected.
	Err error
}

// OK reports whether the password was changed.
func (r Result) OK() bool { return r.Outcome == OutcomeSucceeded }

// SubmitterConfig collects the dependencies of a Submitter.
type SubmitterConfig struct {
	Changer   PasswordChanger
	Guard     Guard
	Listeners []ChangeListener
	Recorder  OutcomeRecorder
	Logger    *slog.Logger
}

// Submitter runs password change submissions, allowing at most one in flight per key.
type Submitter struct {
	changer   PasswordChanger
	guard     Guard
	listeners []ChangeListener
	recorder  OutcomeRecorder
	logger    *slog.Logger
}

// NewSubmitter constructs a Submitter. A nil guard falls back to an in-memory guard.
func NewSubmitter(cfg SubmitterConfig) *Submitter {
	s := &Submitter{
		changer:   cfg.Changer,
		guard:     cfg.Guard,
		listeners: cfg.Listeners,
		recorder:  cfg.Recorder,
		logger:    cfg.Logger,
	}
	if s.guard == nil {
		s.guard = NewMemoryGuard()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// InFlight reports whether a submission for key is currently unresolved.
func (s *Submitter) InFlight(ctx context.Context, key string) bool {
	held, err := s.guard.Held(ctx, key)
	if err != nil {
		s.logger.Warn("password change guard lookup", slog.Any("error", err))
		return false
	}
	return held
}

// Submit validates the form and, when valid and no other submission for key is
// unresolved, calls the backend and notifies n of the outcome exactly once.
func (s *Submitter) Submit(ctx context.Context, key string, p shared.Principal, form Form, n Notifier) Result {
	if n == nil {
		n = DiscardNotifier{}
	}

	if errs := Validate(form); len(errs) > 0 {
		return s.finish(Result{Outcome: OutcomeInvalid, Errors: errs})
	}

	token, acquired, err := s.guard.Acquire(ctx, key)
	if err != nil {
		err = fmt.Errorf("password change unavailable: %w", err)
		s.logger.Error("acquire password change guard", slog.Any("error", err))
		n.NotifyError(ctx, err.Error())
		return s.finish(Result{Outcome: OutcomeRejected, Message: err.Error(), Err: err})
	}
	if !acquired {
		return s.finish(Result{Outcome: OutcomeBusy, Message: ErrSubmissionInFlight.Error(), Err: ErrSubmissionInFlight})
	}

	err = s.changer.ChangePassword(ctx, ChangeRequest{Principal: p, OldPassword: form.CurrentPassword, NewPassword: form.NewPassword})
	s.release(key, token)

	if err != nil {
		s.logger.Info("password change rejected", slog.String("user", p.Username), slog.Any("error", err))
		n.NotifyError(ctx, err.Error())
		return s.finish(Result{Outcome: OutcomeRejected, Message: err.Error(), Err: err})
	}

	s.logger.Info("password changed", slog.String("user", p.Username))
	n.NotifySuccess(ctx, SuccessMessage)
	for _, l := range s.listeners {
		if lerr := l.OnPasswordChanged(ctx, p); lerr != nil {
			s.logger.Warn("password change listener", slog.String("user", p.Username), slog.Any("error", lerr))
		}
	}
	return s.finish(Result{Outcome: OutcomeSucceeded, Message: SuccessMessage})
}

// release uses its own context so a cancelled request never leaves the guard held.
func (s *Submitter) release(key, token string) {
	if err := s.guard.Release(context.Background(), key, token); err != nil {
		s.logger.Error("release password change guard", slog.Any("error", err))
	}
}

func (s *Submitter) finish(res Result) Result {
	if s.recorder != nil {
		s.recorder.RecordPasswordChange(res.Outcome.String())
	}
	return res
}
