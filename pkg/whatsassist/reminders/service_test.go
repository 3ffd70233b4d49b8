package reminders

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeTimers struct {
	mu    sync.Mutex
	armed map[int64]time.Time
	err   error
}

func (f *fakeTimers) Schedule(id int64, fireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.armed == nil {
		f.armed = make(map[int64]time.Time)
	}
	f.armed[id] = fireAt
	return nil
}

// failingStore fails every write.
type failingStore struct {
	Store
}

func (failingStore) Insert(context.Context, string, string, time.Time) (int64, error) {
	return 0, &StorageError{Op: "insert", Err: errors.New("disk full")}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestService_Create(t *testing.T) {
	store := newTestStore(t)
	timers := &fakeTimers{}
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := NewService(store, timers, nil, WithClock(fixedClock(now)))

	r, err := svc.Create(context.Background(), "whatsapp:+1555", "7pm", "call mom")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	want := time.Date(2030, 1, 1, 19, 0, 0, 0, time.UTC)
	if !r.FireAt.Equal(want) {
		t.Errorf("expected fire_at %s, got %s", want, r.FireAt)
	}
	if armed, ok := timers.armed[r.ID]; !ok || !armed.Equal(want) {
		t.Errorf("expected timer armed at %s, got %v (ok=%v)", want, armed, ok)
	}

	stored, err := store.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Task != "call mom" {
		t.Errorf("expected stored task, got %q", stored.Task)
	}
}

func TestService_CreateArmFailureStillStores(t *testing.T) {
	store := newTestStore(t)
	timers := &fakeTimers{err: errors.New("scheduler stopped")}
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := NewService(store, timers, nil, WithClock(fixedClock(now)))

	r, err := svc.Create(context.Background(), "u1", "1830", "stretch")
	if err != nil {
		t.Fatalf("Create should succeed when arming fails: %v", err)
	}
	if _, err := store.Get(context.Background(), r.ID); err != nil {
		t.Errorf("reminder should be stored: %v", err)
	}
}

func TestService_CreateErrors(t *testing.T) {
	store := newTestStore(t)
	timers := &fakeTimers{}
	now := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := NewService(store, timers, nil,
		WithClock(fixedClock(now)),
		WithResolver(NewResolver(ClockWithMeridiem, BareDigits)),
	)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", "7pm", "x"); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("missing user: expected ErrMissingArgument, got %v", err)
	}
	if _, err := svc.Create(ctx, "u1", "7pm", "  "); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("missing task: expected ErrMissingArgument, got %v", err)
	}
	if _, err := svc.Create(ctx, "u1", "someday", "x"); !errors.Is(err, ErrUnrecognizedFormat) {
		t.Errorf("bad time: expected ErrUnrecognizedFormat, got %v", err)
	}

	list, _ := store.ListPending(ctx, nil)
	if len(list) != 0 {
		t.Errorf("failed creates must not store anything, got %d", len(list))
	}
	if len(timers.armed) != 0 {
		t.Errorf("failed creates must not arm timers, got %d", len(timers.armed))
	}
}

func TestService_Reply(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	t.Run("confirmation", func(t *testing.T) {
		svc := NewService(newTestStore(t), &fakeTimers{}, nil, WithClock(fixedClock(now)))
		got := svc.Reply(context.Background(), "u1", "7pm", "call mom")
		want := "✅ I'll remind you to 'call mom' at 07:00 PM on Monday, January 01, 2024."
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("unparseable", func(t *testing.T) {
		svc := NewService(newTestStore(t), &fakeTimers{}, nil,
			WithClock(fixedClock(now)),
			WithResolver(NewResolver(ClockWithMeridiem, BareDigits)),
		)
		got := svc.Reply(context.Background(), "u1", "blah", "x")
		if !strings.HasPrefix(got, "Error: I couldn't understand the time 'blah'") {
			t.Errorf("unexpected reply %q", got)
		}
	})

	t.Run("past", func(t *testing.T) {
		past := func(string, time.Time) (time.Time, bool) { return now.Add(-time.Hour), true }
		svc := NewService(newTestStore(t), &fakeTimers{}, nil,
			WithClock(fixedClock(now)),
			WithResolver(NewResolver(past)),
		)
		got := svc.Reply(context.Background(), "u1", "earlier", "x")
		want := "Error: The reminder time 'earlier' seems to be in the past."
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	})

	t.Run("storage", func(t *testing.T) {
		svc := NewService(failingStore{}, &fakeTimers{}, nil, WithClock(fixedClock(now)))
		got := svc.Reply(context.Background(), "u1", "7pm", "x")
		if !strings.HasPrefix(got, "Sorry, I couldn't save your reminder") {
			t.Errorf("unexpected reply %q", got)
		}
	})
}

func TestFormatList(t *testing.T) {
	if got := FormatList(nil, time.UTC); got != "You don't have any pending reminders." {
		t.Errorf("unexpected empty list text %q", got)
	}

	list := []*Reminder{
		{ID: 1, Task: "call mom", FireAt: time.Date(2024, 1, 1, 19, 0, 0, 0, time.UTC)},
		{ID: 2, Task: "gym", FireAt: time.Date(2024, 1, 2, 7, 30, 0, 0, time.UTC)},
	}
	got := FormatList(list, time.UTC)
	for _, want := range []string{
		"1. call mom at 07:00 PM on Monday, January 01, 2024",
		"2. gym at 07:30 AM on Tuesday, January 02, 2024",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
}

func TestFormatNotification(t *testing.T) {
	if got := FormatNotification("call mom"); got != "📅 Reminder: call mom" {
		t.Errorf("unexpected notification %q", got)
	}
}
