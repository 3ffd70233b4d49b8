package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// confirmationLayout renders fire times in replies, e.g.
// "07:00 PM on Monday, January 01, 2024".
const confirmationLayout = "03:04 PM on Monday, January 02, 2006"

// Timers arms a one-shot timer for a stored reminder.
type Timers interface {
	Schedule(id int64, fireAt time.Time) error
}

// Service creates reminders: resolve, persist, arm.
type Service struct {
	store    Store
	timers   Timers
	resolver *Resolver
	clock    func() time.Time
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock sets the wall clock. It must be the same clock the scheduler uses.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithResolver replaces the default resolver.
func WithResolver(r *Resolver) ServiceOption {
	return func(s *Service) { s.resolver = r }
}

// NewService creates a Service. timers may be nil, in which case reminders
// are only persisted and picked up later by scheduler reconciliation.
func NewService(store Store, timers Timers, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		timers:   timers,
		resolver: NewResolver(),
		clock:    time.Now,
		logger:   logger.With("component", "reminders"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service wall clock.
func (s *Service) Now() time.Time {
	return s.clock()
}

// Create resolves timeText, stores the reminder and arms its timer.
func (s *Service) Create(ctx context.Context, userID, timeText, task string) (*Reminder, error) {
	userID = strings.TrimSpace(userID)
	task = strings.TrimSpace(task)
	if userID == "" || strings.TrimSpace(timeText) == "" || task == "" {
		return nil, ErrMissingArgument
	}

	now := s.clock()
	fireAt, err := s.resolver.Resolve(timeText, now)
	if err != nil {
		return nil, err
	}

	id, err := s.store.Insert(ctx, userID, task, fireAt)
	if err != nil {
		s.logger.Error("failed to store reminder", "user", userID, "error", err)
		return nil, err
	}

	r := &Reminder{
		ID:        id,
		UserID:    userID,
		Task:      task,
		FireAt:    fireAt,
		CreatedAt: now,
	}

	if s.timers != nil {
		// Arming failures are recoverable: the stored reminder is re-armed
		// by the scheduler's next reconciliation.
		if err := s.timers.Schedule(id, PinYear(fireAt, s.clock())); err != nil {
			s.logger.Error("failed to arm reminder timer", "id", id, "error", err)
		}
	}

	s.logger.Info("reminder created",
		"id", id,
		"user", userID,
		"fire_at", fireAt.Format(time.RFC3339),
	)
	return r, nil
}

// Reply runs Create and renders the outcome as a message for the user.
// It never returns an error: every failure becomes text.
func (s *Service) Reply(ctx context.Context, userID, timeText, task string) string {
	r, err := s.Create(ctx, userID, timeText, task)
	if err == nil {
		return fmt.Sprintf("✅ I'll remind you to '%s' at %s.", r.Task, r.FireAt.Format(confirmationLayout))
	}
	return ErrorReply(timeText, err)
}

// ErrorReply converts a Create error into user-facing text.
func ErrorReply(timeText string, err error) string {
	var (
		parseErr   *ParseError
		pastErr    *PastTimeError
		storageErr *StorageError
	)
	switch {
	case errors.Is(err, ErrMissingArgument):
		return "Error: please tell me both when and what to remind you about (e.g. 'remind me at 7pm to call mom')."
	case errors.As(err, &parseErr):
		return fmt.Sprintf("Error: I couldn't understand the time '%s'. Please use a clearer format "+
			"(e.g., '9:30 PM', '1830', 'tomorrow at 10am', 'in 2 hours').", timeText)
	case errors.As(err, &pastErr):
		return fmt.Sprintf("Error: The reminder time '%s' seems to be in the past.", timeText)
	case errors.As(err, &storageErr):
		return "Sorry, I couldn't save your reminder right now. Please try again later."
	default:
		return "Sorry, something went wrong while setting your reminder. Please try again later."
	}
}

// Pending lists a user's reminders that have not fired yet.
func (s *Service) Pending(ctx context.Context, userID string) ([]*Reminder, error) {
	return s.store.ListPendingByUser(ctx, userID)
}

// FormatNotification is the text delivered when a reminder fires.
func FormatNotification(task string) string {
	return "📅 Reminder: " + task
}

// FormatList renders reminders for a chat reply, in loc.
func FormatList(list []*Reminder, loc *time.Location) string {
	if len(list) == 0 {
		return "You don't have any pending reminders."
	}
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	b.WriteString("Your pending reminders:\n\n")
	for i, r := range list {
		fmt.Fprintf(&b, "%d. %s at %s\n", i+1, r.Task, r.FireAt.In(loc).Format(confirmationLayout))
	}
	return b.String()
}
