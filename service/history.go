package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrServiceNotFound indicates the requested service is not in the
// history store.
var ErrServiceNotFound = errors.New("service: not found in history")

// History is a local SQLite record of services published from this
// machine. It lets callers list past publishes, re-publish to a prior
// endpoint, and rebuild invocation handles without the management API.
type History struct {
	db *sql.DB
	mu sync.Mutex
}

// HistoryEntry is one recorded publish.
type HistoryEntry struct {
	ServiceID   string
	Name        string
	URL         string
	APIKey      string
	HelpURL     string
	Params      []string
	PublishedAt time.Time
}

// OpenHistory opens (creating if needed) the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("service: open history database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("service: set busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS services (
		service_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		api_key TEXT NOT NULL,
		help_url TEXT NOT NULL,
		params JSON NOT NULL,
		published_at TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("service: create history table: %w", err)
	}

	return &History{db: db}, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Record stores or replaces the entry for a published service.
func (h *History) Record(ctx context.Context, pub *Published) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	params, err := json.Marshal(pub.params)
	if err != nil {
		return fmt.Errorf("service: encode history params: %w", err)
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO services
		 (service_id, name, url, api_key, help_url, params, published_at)
		 VALUES (?, ?, ?, ?, ?, json(?), ?)`,
		pub.ServiceID, pub.Name, pub.URL, pub.APIKey, pub.HelpURL,
		string(params), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("service: record history: %w", err)
	}
	return nil
}

// Lookup returns the most recently published entry with the given name.
func (h *History) Lookup(ctx context.Context, name string) (*HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	row := h.db.QueryRowContext(ctx,
		`SELECT service_id, name, url, api_key, help_url, params, published_at
		 FROM services WHERE name = ? ORDER BY published_at DESC LIMIT 1`, name)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	return entry, err
}

// List returns every recorded entry, most recent first.
func (h *History) List(ctx context.Context) ([]*HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.QueryContext(ctx,
		`SELECT service_id, name, url, api_key, help_url, params, published_at
		 FROM services ORDER BY published_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("service: list history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Handle rebuilds an invocation handle from a stored entry.
func (e *HistoryEntry) Handle(opts ...Option) *Published {
	return Restore(e.URL, e.APIKey, e.HelpURL, e.ServiceID, e.Name, e.Params, opts...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*HistoryEntry, error) {
	var e HistoryEntry
	var params, publishedAt string
	if err := row.Scan(&e.ServiceID, &e.Name, &e.URL, &e.APIKey, &e.HelpURL, &params, &publishedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
		return nil, fmt.Errorf("service: decode history params: %w", err)
	}
	t, err := time.Parse(time.RFC3339, publishedAt)
	if err != nil {
		return nil, fmt.Errorf("service: decode history timestamp: %w", err)
	}
	e.PublishedAt = t
	return &e, nil
}
