// Package links stores the URLs users ask the assistant to keep.
package links

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/whatsassist/pkg/whatsassist/database"
)

// ErrInvalidURL is returned for links that are not http(s).
var ErrInvalidURL = errors.New("link must start with http:// or https://")

// Link is a saved URL.
type Link struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

var reURL = regexp.MustCompile(`https?://[^\s<>"']+`)

// Extract returns the http(s) URLs in text, in order of appearance, with
// trailing sentence punctuation removed.
func Extract(text string) []string {
	matches := reURL.FindAllString(text, -1)
	for i, m := range matches {
		matches[i] = strings.TrimRight(m, ".,;:!?)]}")
	}
	return matches
}

// Store persists links.
type Store struct {
	db  *database.DB
	now func() time.Time
}

// NewStore creates a store on an already migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Save stores url for userID and returns its id.
func (s *Store) Save(ctx context.Context, userID, url string) (int64, error) {
	url = strings.TrimSpace(url)
	if userID == "" || url == "" {
		return 0, errors.New("user and link are required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return 0, fmt.Errorf("%q: %w", url, ErrInvalidURL)
	}

	id, err := s.db.InsertID(ctx,
		`INSERT INTO links (user_id, url, created_at) VALUES (?, ?, ?)`,
		userID, url, s.db.Dialect.TimeArg(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("save link: %w", err)
	}
	return id, nil
}

// List returns a user's links, newest first. With keywords, only links
// containing any of them (case-insensitive) are returned.
func (s *Store) List(ctx context.Context, userID string, keywords ...string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Dialect.Rebind(
		`SELECT id, user_id, url, created_at FROM links
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var result []Link
	for rows.Next() {
		var (
			l         Link
			createdAt database.Time
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.URL, &createdAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.CreatedAt = createdAt.Time
		if matchesAny(l.URL, keywords) {
			result = append(result, l)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return result, nil
}

func matchesAny(url string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(url)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// FormatList renders links as a numbered chat reply.
func FormatList(list []Link) string {
	var b strings.Builder
	b.WriteString("Your saved links:\n\n")
	for i, l := range list {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l.URL)
	}
	return b.String()
}
