// Package delivery turns fired reminder events into notifications.
//
// A reminder is claimed in the store before anything is sent, so duplicate
// events (a resync racing a fire, a redelivered queue message, two server
// replicas) reach the user at most once. Send failures are logged and the
// reminder stays completed; there are no retries.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/notifier"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/queue"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/reminders"
)

const defaultSendTimeout = 30 * time.Second

// Outcome describes what happened to one event.
type Outcome string

// Outcomes.
const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMissing   Outcome = "missing"
)

// Dispatcher consumes fired events and delivers them.
type Dispatcher struct {
	store       reminders.Store
	notifier    notifier.Notifier
	sendTimeout time.Duration
	onOutcome   func(ev queue.Event, outcome Outcome)
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSendTimeout bounds a single provider call.
func WithSendTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) { dp.sendTimeout = d }
}

// WithOutcomeHook registers a callback invoked after each event.
func WithOutcomeHook(fn func(ev queue.Event, outcome Outcome)) Option {
	return func(dp *Dispatcher) { dp.onOutcome = fn }
}

// New creates a Dispatcher.
func New(store reminders.Store, n notifier.Notifier, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:       store,
		notifier:    n,
		sendTimeout: defaultSendTimeout,
		logger:      logger.With("component", "delivery"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes events from c until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, c queue.Consumer) error {
	d.logger.Info("dispatcher started")
	defer d.logger.Info("dispatcher stopped")
	return c.Consume(ctx, d.Handle)
}

// Handle processes one fired event. Only store failures are returned;
// everything else is final and logged.
func (d *Dispatcher) Handle(ctx context.Context, ev queue.Event) error {
	outcome, err := d.handle(ctx, ev)
	if d.onOutcome != nil {
		d.onOutcome(ev, outcome)
	}
	return err
}

func (d *Dispatcher) handle(ctx context.Context, ev queue.Event) (Outcome, error) {
	r, err := d.store.Get(ctx, ev.ReminderID)
	if errors.Is(err, reminders.ErrNotFound) {
		d.logger.Warn("fired reminder not found", "id", ev.ReminderID, "event", ev.ID)
		return OutcomeMissing, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	claimed, err := d.store.MarkComplete(ctx, r.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if !claimed {
		d.logger.Info("reminder already delivered, skipping", "id", r.ID, "event", ev.ID)
		return OutcomeDuplicate, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	deliveryID, err := d.notifier.Deliver(sendCtx, r.UserID, reminders.FormatNotification(r.Task))
	if err != nil {
		d.logger.Error("failed to deliver reminder",
			"id", r.ID,
			"user", r.UserID,
			"event", ev.ID,
			"error", err,
		)
		return OutcomeFailed, nil
	}

	d.logger.Info("reminder delivered",
		"id", r.ID,
		"user", r.UserID,
		"delivery_id", deliveryID,
		"delay", ev.FiredAt.Sub(ev.FireAt).String(),
	)
	return OutcomeDelivered, nil
}
