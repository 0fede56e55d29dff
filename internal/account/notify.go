package account

import (
	"context"

	"github.com/abrechnung/console/internal/shared"
)

// FlashNotifier queues notifications as session flash messages, rendered as
// toasts on the next page.
type FlashNotifier struct {
	Session *shared.Session
}

func (n FlashNotifier) NotifySuccess(_ context.Context, message string) {
	if n.Session != nil {
		n.Session.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: message})
	}
}

func (n FlashNotifier) NotifyError(_ context.Context, message string) {
	if n.Session != nil {
		n.Session.AddFlash(shared.FlashMessage{Kind: shared.FlashError, Message: message})
	}
}

// DiscardNotifier drops notifications; callers read Result.Message instead.
type DiscardNotifier struct{}

func (DiscardNotifier) NotifySuccess(context.Context, string) {}
func (DiscardNotifier) NotifyError(context.Context, string)   {}
