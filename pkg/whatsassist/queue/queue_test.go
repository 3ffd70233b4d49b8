package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemory_PublishConsumeOrder(t *testing.T) {
	q := NewMemory(8, nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	for i := int64(1); i <= 3; i++ {
		if err := q.Publish(ctx, NewEvent(i, now, now)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 buffered events, got %d", q.Len())
	}

	var (
		mu  sync.Mutex
		got []int64
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Consume(ctx, func(_ context.Context, ev Event) error {
			mu.Lock()
			got = append(got, ev.ReminderID)
			n := len(got)
			mu.Unlock()
			if n == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range got {
		if id != int64(i+1) {
			t.Errorf("position %d: expected reminder %d, got %d", i, i+1, id)
		}
	}
}

func TestMemory_HandlerErrorDoesNotStopConsumer(t *testing.T) {
	q := NewMemory(4, nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Publish(ctx, NewEvent(1, time.Now(), time.Now()))
	q.Publish(ctx, NewEvent(2, time.Now(), time.Now()))

	seen := make(chan int64, 2)
	go q.Consume(ctx, func(_ context.Context, ev Event) error {
		seen <- ev.ReminderID
		return errors.New("provider down")
	})

	for i := 0; i < 2; i++ {
		select {
		case <-seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d not consumed", i+1)
		}
	}
}

func TestMemory_Close(t *testing.T) {
	q := NewMemory(1, nil)

	done := make(chan error, 1)
	go func() {
		done <- q.Consume(context.Background(), func(context.Context, Event) error { return nil })
	}()

	q.Close()
	q.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil from Consume after Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after Close")
	}

	if err := q.Publish(context.Background(), NewEvent(1, time.Now(), time.Now())); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMemory_CloseDrainsBuffered(t *testing.T) {
	q := NewMemory(4, nil)
	now := time.Now()
	for i := int64(1); i <= 3; i++ {
		if err := q.Publish(context.Background(), NewEvent(i, now, now)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	q.Close()

	var got []int64
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(context.Background(), func(_ context.Context, ev Event) error {
			got = append(got, ev.ReminderID)
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Consume returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after draining")
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("expected buffered events 1..3 handled in order, got %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", q.Len())
	}
}

func TestMemory_PublishRespectsContext(t *testing.T) {
	q := NewMemory(1, nil)
	defer q.Close()

	q.Publish(context.Background(), NewEvent(1, time.Now(), time.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, NewEvent(2, time.Now(), time.Now())); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded on full buffer, got %v", err)
	}
}

func TestEventCodec(t *testing.T) {
	fire := time.Date(2030, 1, 1, 19, 0, 0, 0, time.UTC)
	ev := NewEvent(42, fire, fire.Add(3*time.Millisecond))
	if ev.ID == "" {
		t.Fatal("expected generated event id")
	}

	b, err := encode(ev)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := decode(b)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.ID != ev.ID || got.ReminderID != 42 || !got.FireAt.Equal(fire) {
		t.Errorf("unexpected decoded event: %+v", got)
	}

	if _, err := decode([]byte("{not json")); err == nil {
		t.Error("expected decode error for malformed input")
	}
}

func TestNew_Backends(t *testing.T) {
	q, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New(default) failed: %v", err)
	}
	if _, ok := q.(*Memory); !ok {
		t.Errorf("expected memory backend by default, got %T", q)
	}
	q.Close()

	if _, err := New(Config{Backend: "kafka"}, nil); err == nil {
		t.Error("expected error for unsupported backend")
	}
}
