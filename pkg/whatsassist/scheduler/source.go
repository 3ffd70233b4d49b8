package scheduler

import (
	"context"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/reminders"
)

// FromStore adapts a reminder store to Source.
func FromStore(store reminders.Store) Source {
	return storeSource{store: store}
}

type storeSource struct {
	store reminders.Store
}

func (s storeSource) Pending(ctx context.Context, after time.Time) ([]Timer, error) {
	var filter *time.Time
	if !after.IsZero() {
		filter = &after
	}

	list, err := s.store.ListPending(ctx, filter)
	if err != nil {
		return nil, err
	}

	result := make([]Timer, 0, len(list))
	for _, r := range list {
		result = append(result, Timer{ID: r.ID, FireAt: r.FireAt})
	}
	return result, nil
}
