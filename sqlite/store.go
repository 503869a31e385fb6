// Package sqlite provides an attachment backend that keeps file content in
// a single SQLite table. Handles returned by Get carry no local path, so
// the HTTP layer spools them through a temporary file when streaming.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/hoistd/hoist"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS hoist_attachments (
	id         TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	size       INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Store is a SQLite-backed hoist.Backend.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dsn and ensures the attachment
// table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create attachment table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type blobFile struct {
	*bytes.Reader
}

func (blobFile) Close() error { return nil }

// Get retrieves the blob stored under id. Returns hoist.ErrNotFound for
// unknown ids.
func (s *Store) Get(ctx context.Context, id string) (hoist.File, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM hoist_attachments WHERE id = ?`, id,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hoist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query attachment %q: %w", id, err)
	}

	return blobFile{bytes.NewReader(content)}, nil
}

// Upload reads content fully and inserts it under a fresh uuid.
func (s *Store) Upload(ctx context.Context, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read upload content: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hoist_attachments (id, content, size) VALUES (?, ?, ?)`,
		id, data, len(data),
	)
	if err != nil {
		return "", fmt.Errorf("insert attachment: %w", err)
	}

	return id, nil
}

// Presign is not supported for SQLite storage.
func (s *Store) Presign(context.Context) (*hoist.Presigned, error) {
	return nil, fmt.Errorf("sqlite backend: presign: %w", hoist.ErrNotSupported)
}
