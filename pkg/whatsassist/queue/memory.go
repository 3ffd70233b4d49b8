package queue

import (
	"context"
	"log/slog"
	"sync"
)

// Memory is an in-process queue on a buffered channel.
type Memory struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewMemory creates an in-process queue holding up to size events.
func NewMemory(size int, logger *slog.Logger) *Memory {
	if size <= 0 {
		size = DefaultConfig().BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		events: make(chan Event, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Publish enqueues ev, blocking while the buffer is full.
func (m *Memory) Publish(ctx context.Context, ev Event) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs h for each event until ctx is cancelled or Close is called.
// Events are handled one at a time in publish order. After Close, events
// still buffered are handled before Consume returns.
func (m *Memory) Consume(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			m.drain(ctx, h)
			return nil
		case ev := <-m.events:
			m.handle(ctx, h, ev)
		}
	}
}

func (m *Memory) drain(ctx context.Context, h Handler) {
	for {
		select {
		case ev := <-m.events:
			if ctx.Err() != nil {
				m.logger.Warn("dropping buffered event", "event", ev.ID, "reminder", ev.ReminderID)
				continue
			}
			m.handle(ctx, h, ev)
		default:
			return
		}
	}
}

func (m *Memory) handle(ctx context.Context, h Handler, ev Event) {
	if err := h(ctx, ev); err != nil {
		m.logger.Error("event handler failed",
			"event", ev.ID, "reminder", ev.ReminderID, "error", err)
	}
}

// Len reports buffered events.
func (m *Memory) Len() int {
	return len(m.events)
}

// Close rejects further publishes. Consumers finish the buffered events
// and return.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
