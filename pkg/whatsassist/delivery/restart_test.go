package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/queue"
	"github.com/jholhewres/whatsassist/pkg/whatsassist/scheduler"
)

// A reminder armed by a process that stops before the fire time is
// delivered exactly once by the next process reading the same store.
func TestRestart_DeliversFromStore(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := store.Insert(ctx, "whatsapp:+1", "call", time.Now().Add(1500*time.Millisecond))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// First process arms the reminder and goes away.
	before := queue.NewMemory(4, nil)
	defer before.Close()
	s1 := scheduler.New(scheduler.FromStore(store), before, nil)
	if err := s1.Start(ctx); err != nil {
		t.Fatalf("s1.Start failed: %v", err)
	}
	if s1.Len() != 1 {
		t.Fatalf("expected the reminder armed on s1, got %d", s1.Len())
	}
	s1.Stop()

	// Second process rebuilds its timers from the store.
	after := queue.NewMemory(4, nil)
	defer after.Close()

	n := &fakeNotifier{}
	outcomes := make(chan Outcome, 4)
	d := New(store, n, nil, WithOutcomeHook(func(_ queue.Event, o Outcome) { outcomes <- o }))
	go d.Run(ctx, after)

	s2 := scheduler.New(scheduler.FromStore(store), after, nil)
	if err := s2.Start(ctx); err != nil {
		t.Fatalf("s2.Start failed: %v", err)
	}
	defer s2.Stop()

	select {
	case o := <-outcomes:
		if o != OutcomeDelivered {
			t.Fatalf("expected delivered, got %s", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reminder not delivered after restart")
	}

	// Nothing else arrives.
	select {
	case o := <-outcomes:
		t.Errorf("unexpected second outcome %s", o)
	case <-time.After(300 * time.Millisecond):
	}

	n.mu.Lock()
	sent := append([]string(nil), n.sent...)
	n.mu.Unlock()
	if len(sent) != 1 || sent[0] != "whatsapp:+1|📅 Reminder: call" {
		t.Errorf("expected a single delivery, got %q", sent)
	}
	if before.Len() != 0 {
		t.Errorf("stopped scheduler published %d events", before.Len())
	}

	r, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !r.Completed {
		t.Error("reminder should be completed after delivery")
	}
}
