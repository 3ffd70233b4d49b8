// Package notifier delivers outbound text messages to users through a
// messaging provider: Twilio's WhatsApp API, a linked WhatsApp Web device,
// a Discord bot, or a dry-run log.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Notifier sends one text message and returns the provider's delivery id.
type Notifier interface {
	Deliver(ctx context.Context, recipient, text string) (string, error)
}

// Errors.
var (
	ErrNotConfigured    = errors.New("notifier not configured")
	ErrNotConnected     = errors.New("notifier not connected")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrNoRoute          = errors.New("no notifier for recipient")
)

// DeliveryError reports a failed send.
type DeliveryError struct {
	Recipient string
	Backend   string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s via %s: %v", e.Recipient, e.Backend, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Channel returns the channel prefix of a recipient handle
// ("whatsapp:+15550001" => "whatsapp"), or "" when there is none.
func Channel(recipient string) string {
	prefix, _, ok := strings.Cut(recipient, ":")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(prefix))
}

// Address strips the channel prefix from a recipient handle.
func Address(recipient string) string {
	if _, addr, ok := strings.Cut(recipient, ":"); ok {
		return strings.TrimSpace(addr)
	}
	return strings.TrimSpace(recipient)
}

// digitsOnly keeps ASCII digits.
func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
