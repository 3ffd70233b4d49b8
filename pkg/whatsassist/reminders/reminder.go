// Package reminders implements the reminder engine's synchronous half:
// resolving free-form time expressions into fire times, persisting
// reminders and turning create requests into user-facing replies.
// Timers and delivery live in the scheduler, queue and delivery packages.
package reminders

import (
	"errors"
	"fmt"
	"time"
)

// Reminder is a persisted reminder.
type Reminder struct {
	// ID is assigned by the store on insert and never changes.
	ID int64 `json:"id"`

	// UserID is the opaque recipient handle (e.g. "whatsapp:+5511999999999").
	UserID string `json:"user_id"`

	// Task is the free text the user asked to be reminded about.
	Task string `json:"task"`

	// FireAt is the absolute instant the notification is due.
	FireAt time.Time `json:"fire_at"`

	// CreatedAt is when the reminder was stored.
	CreatedAt time.Time `json:"created_at"`

	// Completed is set once the reminder has fired.
	Completed bool `json:"completed"`

	// CompletedAt is when the reminder fired, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Errors.
var (
	ErrUnrecognizedFormat = errors.New("unrecognized format")
	ErrEmptyInput         = errors.New("empty time expression")
	ErrTimeInPast         = errors.New("time in past")
	ErrMissingArgument    = errors.New("user, time and task are all required")
	ErrNotFound           = errors.New("reminder not found")
)

// ParseError reports a time expression the resolver could not understand.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse time %q: %v", e.Input, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PastTimeError reports an expression that resolved to an instant that is
// not in the future.
type PastTimeError struct {
	Input string
	At    time.Time
}

func (e *PastTimeError) Error() string {
	return fmt.Sprintf("time %q resolved to %s: %v", e.Input, e.At.Format(time.RFC3339), ErrTimeInPast)
}

func (e *PastTimeError) Unwrap() error { return ErrTimeInPast }

// StorageError wraps a persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("reminder store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
