package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS adapter_storage (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (namespace, key)
);`

// SQLiteBackend persists records in a SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// DefaultSQLitePath returns ~/.sitebridge/storage.db.
func DefaultSQLitePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("storage: resolve user home: %w", err)
	}
	return filepath.Join(home, ".sitebridge", "storage.db"), nil
}

// NewSQLiteBackend opens (or creates) the database at dsn.
func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("storage: sqlite dsn is required")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0750); err != nil {
			return nil, fmt.Errorf("storage: create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite open: %w", err)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: sqlite init schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context, namespace string) (map[string]json.RawMessage, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, value FROM adapter_storage WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite load: %w", err)
	}
	defer rows.Close()

	records := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("storage: sqlite scan: %w", err)
		}
		records[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: sqlite rows: %w", err)
	}
	return records, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, namespace, key string, value json.RawMessage) error {
	_, err := b.db.ExecContext(ctx, `
INSERT INTO adapter_storage (namespace, key, value, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET
	value = excluded.value,
	updated_at = excluded.updated_at`,
		namespace, key, []byte(value), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: sqlite put: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, namespace, key string) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM adapter_storage WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
		return fmt.Errorf("storage: sqlite delete: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Clear(ctx context.Context, namespace string) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM adapter_storage WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("storage: sqlite clear: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
