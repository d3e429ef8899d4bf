package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS bookmarks (
    chat_id TEXT PRIMARY KEY,
    title TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS preferences (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bookmarks_created_at ON bookmarks(created_at);
`

// Preference keys. Missing keys default to false; there is no migration
// logic.
const (
	PrefAutoClose      = "auto_close"
	PrefInfiniteScroll = "infinite_scroll"
)

type Bookmark struct {
	ChatID    string
	Title     string
	CreatedAt time.Time
}

// Store persists bookmarks and preference flags in a local sqlite file.
type Store struct {
	db *sql.DB
}

func New() (*Store, error) {
	dbPath, err := defaultDBPath()
	if err != nil {
		return nil, err
	}
	return NewWithPath(dbPath)
}

func NewWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func defaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".chatdump", "chatdump.db"), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AddBookmark(ctx context.Context, chatID, title string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookmarks (chat_id, title, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET title = excluded.title`,
		chatID, title, time.Now())
	return err
}

func (s *Store) RemoveBookmark(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE chat_id = ?`, chatID)
	return err
}

func (s *Store) IsBookmarked(ctx context.Context, chatID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM bookmarks WHERE chat_id = ?`, chatID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) ListBookmarks(ctx context.Context) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, title, created_at FROM bookmarks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookmarks []Bookmark
	for rows.Next() {
		var b Bookmark
		var title sql.NullString
		if err := rows.Scan(&b.ChatID, &title, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Title = title.String
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

func (s *Store) GetPref(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *Store) SetPref(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

// GetBoolPref returns the flag, defaulting to false for missing or malformed
// values.
func (s *Store) GetBoolPref(ctx context.Context, key string) (bool, error) {
	raw, err := s.GetPref(ctx, key)
	if err != nil || raw == "" {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return v, nil
}

func (s *Store) SetBoolPref(ctx context.Context, key string, value bool) error {
	return s.SetPref(ctx, key, strconv.FormatBool(value))
}
