package billing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hook kinds emitted by the lifecycle engine.
const (
	HookCheckoutCompleted      = "billing.checkout.completed"
	HookSubscriptionActivated  = "billing.subscription.activated"
	HookSubscriptionUpdated    = "billing.subscription.updated"
	HookSubscriptionCancelled  = "billing.subscription.cancelled"
	HookSubscriptionDowngraded = "billing.subscription.downgraded"
	HookPaymentSucceeded       = "billing.payment.succeeded"
	HookPaymentFailed          = "billing.payment.failed"
)

// HookEvent notifies downstream observers of a committed state change.
type HookEvent struct {
	TenantID   uuid.UUID
	Kind       string
	Resource   string // entity kind the event refers to, e.g. "subscription"
	ResourceID string
	Metadata   map[string]string
	EmittedAt  time.Time
}

// Notifier delivers hook events to one downstream sink.
type Notifier interface {
	Notify(ctx context.Context, event HookEvent) error
}

// Emitter dispatches hook events to notifiers after the owning transaction
// has committed. Delivery is fire-and-forget: Emit never blocks the caller,
// notifier errors and panics are logged and dropped, and the emitter never
// redelivers. A dropped notification never invalidates the committed state
// change.
type Emitter struct {
	notifiers []Notifier
	log       *slog.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewEmitter creates an Emitter. A nil logger falls back to slog.Default.
func NewEmitter(log *slog.Logger, notifiers ...Notifier) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{
		notifiers: notifiers,
		log:       log,
		timeout:   10 * time.Second,
	}
}

// Emit dispatches each event to every notifier on its own goroutine and
// returns immediately. The dispatch context is detached from the caller's
// cancellation: the request that triggered the commit usually finishes
// before delivery does.
func (e *Emitter) Emit(ctx context.Context, events ...HookEvent) {
	if len(e.notifiers) == 0 || len(events) == 0 {
		return
	}

	base := context.WithoutCancel(ctx)
	for _, event := range events {
		for _, n := range e.notifiers {
			e.wg.Add(1)
			go e.dispatch(base, n, event)
		}
	}
}

func (e *Emitter) dispatch(ctx context.Context, n Notifier, event HookEvent) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "hook notifier panicked",
				"hook", event.Kind, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := n.Notify(ctx, event); err != nil {
		e.log.WarnContext(ctx, "hook notification dropped",
			"hook", event.Kind,
			"tenant_id", event.TenantID,
			"resource", event.Resource,
			"error", err)
	}
}

// Flush waits for in-flight dispatches to finish or the context to end. It
// exists for graceful shutdown and tests; the commit path never waits.
func (e *Emitter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
