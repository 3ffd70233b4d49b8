// Package scheduler arms one-shot timers for stored reminders and publishes
// an event to the dispatch queue when each one fires.
// Uses robfig/cron as the single timing loop: every armed reminder is a
// cron entry with a schedule that fires exactly once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/queue"
)

// ErrPastDue is returned when arming a timer whose fire time is further in
// the past than the misfire grace window.
var ErrPastDue = errors.New("fire time is past due")

const (
	defaultMisfireGrace = time.Second
	defaultStopTimeout  = 10 * time.Second
	publishTimeout      = 10 * time.Second
)

// Timer is an armed reminder timer.
type Timer struct {
	ID     int64     `json:"id"`
	FireAt time.Time `json:"fire_at"`
}

// Source lists incomplete reminders for reconciliation. A zero after
// returns all of them.
type Source interface {
	Pending(ctx context.Context, after time.Time) ([]Timer, error)
}

// Scheduler manages one-shot reminder timers.
type Scheduler struct {
	// cron is the timing loop; one entry per armed timer plus the resync entry.
	cron *cron.Cron

	// timers maps reminder ids to their armed timer.
	timers map[int64]*timer

	// fired remembers the fire time of timers that already fired, so a
	// resync racing the dispatcher does not re-arm them.
	fired map[int64]time.Time

	// dropped remembers past-due reminders already reported.
	dropped map[int64]time.Time

	source    Source
	publisher queue.Publisher

	clock          func() time.Time
	location       *time.Location
	misfireGrace   time.Duration
	resyncInterval time.Duration
	stopTimeout    time.Duration

	resyncID cron.EntryID
	running  bool

	logger *slog.Logger
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

type timer struct {
	fireAt time.Time
	entry  cron.EntryID
	fn     func(ctx context.Context)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the wall clock used for past-due checks and fire stamps.
// It must be the clock the reminder service resolves against.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithLocation sets the cron loop's time zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

// WithMisfireGrace sets how far in the past a fire time may be and still
// fire immediately. Defaults to one second.
func WithMisfireGrace(d time.Duration) Option {
	return func(s *Scheduler) { s.misfireGrace = d }
}

// WithResyncInterval enables periodic reconciliation against the source.
func WithResyncInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.resyncInterval = d }
}

// WithStopTimeout bounds how long Stop waits for running callbacks.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.stopTimeout = d }
}

// New creates a Scheduler. source may be nil, in which case Start skips
// reconciliation. publisher receives an event for every fired timer armed
// with Schedule.
func New(source Source, publisher queue.Publisher, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		timers:       make(map[int64]*timer),
		fired:        make(map[int64]time.Time),
		dropped:      make(map[int64]time.Time),
		source:       source,
		publisher:    publisher,
		clock:        time.Now,
		location:     time.Local,
		misfireGrace: defaultMisfireGrace,
		stopTimeout:  defaultStopTimeout,
		logger:       logger.With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	cronLogger := NewCronLogger(s.logger)
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	return s
}

// Start runs the timing loop and reconciles against the source. Calling
// Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()

	armed, err := s.Reconcile(ctx)
	if err != nil {
		s.Stop()
		return fmt.Errorf("reconcile reminders: %w", err)
	}

	if s.resyncInterval > 0 && s.source != nil {
		id, err := s.cron.AddFunc("@every "+s.resyncInterval.String(), s.resync)
		if err != nil {
			s.Stop()
			return fmt.Errorf("register resync: %w", err)
		}
		s.mu.Lock()
		s.resyncID = id
		s.mu.Unlock()
	}

	s.logger.Info("scheduler started",
		"armed", armed,
		"resync_interval", s.resyncInterval.String(),
	)
	return nil
}

// Stop cancels every pending timer and shuts the timing loop down, waiting
// for running callbacks up to the stop timeout. Calling Stop more than once
// is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false

	pending := len(s.timers)
	for id, t := range s.timers {
		s.cron.Remove(t.entry)
		delete(s.timers, id)
	}
	if s.resyncID != 0 {
		s.cron.Remove(s.resyncID)
		s.resyncID = 0
	}
	cancel := s.cancel
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(s.stopTimeout):
		s.logger.Warn("scheduler stop timed out")
	}
	if cancel != nil {
		cancel()
	}

	s.logger.Info("scheduler stopped", "cancelled", pending)
}

// Schedule arms a timer that publishes a fired event for reminder id. An
// existing timer for the same id is replaced.
func (s *Scheduler) Schedule(id int64, fireAt time.Time) error {
	return s.ScheduleFunc(id, fireAt, func(ctx context.Context) {
		s.publish(ctx, id, fireAt)
	})
}

// ScheduleFunc arms a timer that runs fn. An existing timer for the same id
// is replaced. A fire time within the misfire grace window in the past
// fires immediately; anything older is rejected with ErrPastDue.
func (s *Scheduler) ScheduleFunc(id int64, fireAt time.Time, fn func(ctx context.Context)) error {
	now := s.clock()
	if !fireAt.After(now) && now.Sub(fireAt) > s.misfireGrace {
		return fmt.Errorf("arm reminder %d at %s: %w", id, fireAt.Format(time.RFC3339), ErrPastDue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.arm(id, fireAt, fn)
	return nil
}

// Cancel disarms the timer for id. It reports whether a timer was armed.
func (s *Scheduler) Cancel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	s.cron.Remove(t.entry)
	delete(s.timers, id)
	s.logger.Debug("reminder timer cancelled", "id", id)
	return true
}

// Armed returns the armed timers ordered by fire time.
func (s *Scheduler) Armed() []Timer {
	s.mu.Lock()
	result := make([]Timer, 0, len(s.timers))
	for id, t := range s.timers {
		result = append(result, Timer{ID: id, FireAt: t.fireAt})
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].FireAt.Equal(result[j].FireAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].FireAt.Before(result[j].FireAt)
	})
	return result
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Reconcile arms every pending reminder from the source that is not
// already armed at the same fire time. Reminders past the misfire grace
// window are dropped and reported once. It returns how many timers were
// armed.
func (s *Scheduler) Reconcile(ctx context.Context) (int, error) {
	return s.reconcile(ctx, time.Time{})
}

// reconcile is Reconcile restricted to reminders firing after the given
// time. A zero after scans every pending reminder.
func (s *Scheduler) reconcile(ctx context.Context, after time.Time) (int, error) {
	if s.source == nil {
		return 0, nil
	}

	pending, err := s.source.Pending(ctx, after)
	if err != nil {
		return 0, err
	}

	now := s.clock()
	seen := make(map[int64]struct{}, len(pending))

	s.mu.Lock()
	defer s.mu.Unlock()

	armed := 0
	for _, p := range pending {
		seen[p.ID] = struct{}{}

		if t, ok := s.timers[p.ID]; ok && t.fireAt.Equal(p.FireAt) {
			continue
		}
		if at, ok := s.fired[p.ID]; ok && at.Equal(p.FireAt) {
			continue
		}

		if !p.FireAt.After(now) && now.Sub(p.FireAt) > s.misfireGrace {
			if at, ok := s.dropped[p.ID]; !ok || !at.Equal(p.FireAt) {
				s.dropped[p.ID] = p.FireAt
				s.logger.Warn("dropping past-due reminder",
					"id", p.ID,
					"fire_at", p.FireAt.Format(time.RFC3339),
					"overdue", now.Sub(p.FireAt).Round(time.Second).String(),
				)
			}
			continue
		}

		id, fireAt := p.ID, p.FireAt
		s.arm(id, fireAt, func(ctx context.Context) {
			s.publish(ctx, id, fireAt)
		})
		armed++
	}

	// Forget ids that are no longer pending.
	for id := range s.fired {
		if _, ok := seen[id]; !ok {
			delete(s.fired, id)
		}
	}
	for id := range s.dropped {
		if _, ok := seen[id]; !ok {
			delete(s.dropped, id)
		}
	}

	if armed > 0 {
		s.logger.Info("reminders reconciled", "pending", len(pending), "armed", armed)
	}
	return armed, nil
}

// ---------- Internal ----------

// arm registers a one-shot cron entry. Caller holds s.mu.
func (s *Scheduler) arm(id int64, fireAt time.Time, fn func(ctx context.Context)) {
	if old, ok := s.timers[id]; ok {
		s.cron.Remove(old.entry)
	}

	t := &timer{fireAt: fireAt, fn: fn}
	t.entry = s.cron.Schedule(newOnce(fireAt), cron.FuncJob(func() {
		s.fire(id, t)
	}))
	s.timers[id] = t
	delete(s.fired, id)

	s.logger.Debug("reminder timer armed",
		"id", id,
		"fire_at", fireAt.Format(time.RFC3339),
	)
}

// fire runs on a cron job goroutine. Timers replaced or cancelled after
// cron picked them up are ignored.
func (s *Scheduler) fire(id int64, t *timer) {
	s.mu.Lock()
	if cur, ok := s.timers[id]; !ok || cur != t {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	if s.source != nil {
		s.fired[id] = t.fireAt
	}
	s.pruneFired()
	s.cron.Remove(t.entry)
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if late := s.clock().Sub(t.fireAt); late > s.misfireGrace {
		s.logger.Warn("reminder fired late", "id", id, "late", late.String())
	}

	t.fn(ctx)
}

// pruneFired forgets fired timers older than the misfire grace window.
// Reconciliation drops those as past due anyway. Caller holds s.mu.
func (s *Scheduler) pruneFired() {
	cutoff := s.clock().Add(-s.misfireGrace)
	for id, at := range s.fired {
		if at.Before(cutoff) {
			delete(s.fired, id)
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, id int64, fireAt time.Time) {
	if s.publisher == nil {
		s.logger.Warn("no publisher, dropping fired reminder", "id", id)
		return
	}

	ev := queue.NewEvent(id, fireAt, s.clock())

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, ev); err != nil {
		s.logger.Error("failed to publish fired reminder",
			"id", id, "event", ev.ID, "error", err)
		return
	}

	s.logger.Info("reminder fired", "id", id, "event", ev.ID)
}

func (s *Scheduler) resync() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	// Start already reported everything past due; only look at reminders
	// that can still fire.
	if _, err := s.reconcile(ctx, s.clock().Add(-s.misfireGrace)); err != nil {
		s.logger.Error("resync failed", "error", err)
	}
}
