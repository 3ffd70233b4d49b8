package notifier

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Router dispatches to a notifier by the recipient's channel prefix.
type Router struct {
	routes   map[string]Notifier
	fallback Notifier
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		routes: make(map[string]Notifier),
		logger: logger.With("component", "notifier"),
	}
}

// Handle routes recipients with the given channel prefix to n.
func (r *Router) Handle(channel string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[channel] = n
}

// SetFallback sets the notifier used for recipients without a route.
func (r *Router) SetFallback(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = n
}

// Channels lists the routed channel prefixes.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]string, 0, len(r.routes))
	for ch := range r.routes {
		result = append(result, ch)
	}
	sort.Strings(result)
	return result
}

// Deliver implements Notifier.
func (r *Router) Deliver(ctx context.Context, recipient, text string) (string, error) {
	channel := Channel(recipient)

	r.mu.RLock()
	n, ok := r.routes[channel]
	if !ok {
		n = r.fallback
	}
	r.mu.RUnlock()

	if n == nil {
		return "", &DeliveryError{Recipient: recipient, Backend: "router", Err: ErrNoRoute}
	}

	id, err := n.Deliver(ctx, recipient, text)
	if err != nil {
		return "", err
	}
	r.logger.Debug("message delivered", "channel", channel, "recipient", recipient, "delivery_id", id)
	return id, nil
}
