package reminders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/database"
)

// Store persists reminders. Implementations must be safe for concurrent use
// by the request path (writer) and the scheduler (reader).
type Store interface {
	// Insert stores a new reminder and returns its id.
	Insert(ctx context.Context, userID, task string, fireAt time.Time) (int64, error)

	// Get returns a reminder by id, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Reminder, error)

	// ListPending returns incomplete reminders ordered by fire time. When
	// after is non-nil only reminders firing strictly after it are returned.
	ListPending(ctx context.Context, after *time.Time) ([]*Reminder, error)

	// ListPendingByUser returns a user's incomplete reminders ordered by fire time.
	ListPendingByUser(ctx context.Context, userID string) ([]*Reminder, error)

	// MarkComplete flags the reminder as fired. It reports false when the
	// reminder was already complete, so only one caller ever claims it.
	MarkComplete(ctx context.Context, id int64) (bool, error)
}

// SQLStore implements Store on the shared SQLite/PostgreSQL database.
type SQLStore struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLStore creates a store on an already migrated database.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

const reminderColumns = `id, user_id, task, fire_at, created_at, completed, completed_at`

// Insert stores a new reminder.
func (s *SQLStore) Insert(ctx context.Context, userID, task string, fireAt time.Time) (int64, error) {
	d := s.db.Dialect
	id, err := s.db.InsertID(ctx,
		`INSERT INTO reminders (user_id, task, fire_at, created_at, completed) VALUES (?, ?, ?, ?, ?)`,
		userID, task, d.TimeArg(fireAt), d.TimeArg(s.now()), false,
	)
	if err != nil {
		return 0, &StorageError{Op: "insert", Err: err}
	}
	return id, nil
}

// Get returns a reminder by id.
func (s *SQLStore) Get(ctx context.Context, id int64) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		s.db.Dialect.Rebind(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`), id)

	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return r, nil
}

// ListPending returns incomplete reminders in fire order.
func (s *SQLStore) ListPending(ctx context.Context, after *time.Time) ([]*Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE completed = ?`
	args := []any{false}
	if after != nil {
		query += ` AND fire_at > ?`
		args = append(args, s.db.Dialect.TimeArg(*after))
	}
	query += ` ORDER BY fire_at ASC, id ASC`

	return s.query(ctx, "list pending", query, args...)
}

// ListPendingByUser returns one user's incomplete reminders in fire order.
func (s *SQLStore) ListPendingByUser(ctx context.Context, userID string) ([]*Reminder, error) {
	return s.query(ctx, "list by user",
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE completed = ? AND user_id = ?
		 ORDER BY fire_at ASC, id ASC`,
		false, userID,
	)
}

// MarkComplete atomically claims an incomplete reminder.
func (s *SQLStore) MarkComplete(ctx context.Context, id int64) (bool, error) {
	d := s.db.Dialect
	res, err := s.db.ExecContext(ctx,
		d.Rebind(`UPDATE reminders SET completed = ?, completed_at = ? WHERE id = ? AND completed = ?`),
		true, d.TimeArg(s.now()), id, false,
	)
	if err != nil {
		return false, &StorageError{Op: "mark complete", Err: err}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "mark complete", Err: err}
	}
	if n > 0 {
		return true, nil
	}

	// Nothing updated: either already complete or unknown id.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) query(ctx context.Context, op, query string, args ...any) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Dialect.Rebind(query), args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var result []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, &StorageError{Op: op, Err: err}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (*Reminder, error) {
	var (
		r           Reminder
		fireAt      database.Time
		createdAt   database.Time
		completedAt database.Time
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.Task, &fireAt, &createdAt, &r.Completed, &completedAt); err != nil {
		return nil, err
	}

	r.FireAt = fireAt.Time
	r.CreatedAt = createdAt.Time
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
