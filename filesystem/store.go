// Package filesystem provides a local-disk attachment backend. Files are
// stored flat under a sandboxed root directory, keyed by generated uuids,
// and written atomically via a temp file and rename. Handles expose their
// local path so the HTTP layer can stream them straight from disk.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hoistd/hoist"
)

// Store is a filesystem-backed hoist.Backend.
type Store struct {
	root *os.Root
	dir  string
}

// New creates a Store rooted at dir, creating the directory if needed.
// The os.Root sandbox prevents ids from escaping the directory.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}

	return &Store{root: root, dir: abs}, nil
}

// Close releases the storage root.
func (s *Store) Close() error {
	return s.root.Close()
}

type localFile struct {
	*os.File
	path string
}

func (f *localFile) LocalPath() string { return f.path }

// Get opens the file stored under id. Returns hoist.ErrNotFound if the id
// is unknown or malformed.
func (s *Store) Get(ctx context.Context, id string) (hoist.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !validID(id) {
		return nil, hoist.ErrNotFound
	}

	f, err := s.root.Open(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, hoist.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return &localFile{File: f, path: filepath.Join(s.dir, id)}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Upload stores content under a fresh uuid and returns it. The write goes
// through a temp file and rename so a failed upload never leaves a partial
// file visible under its id.
func (s *Store) Upload(ctx context.Context, content io.Reader) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	id := uuid.New().String()
	tmpFile := tmpFileName()

	t, createErr := s.root.Create(tmpFile)
	if createErr != nil {
		return "", fmt.Errorf("could not open temp file: %w", createErr)
	}

	success := false
	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			slog.Warn("failed to close tmp file", "err", closeErr)
		}
		if !success {
			if rmErr := s.root.Remove(t.Name()); rmErr != nil {
				slog.Warn("failed to remove tmp file", "err", rmErr)
			}
		}
	}()

	if _, err := io.Copy(t, &ctxReader{ctx: ctx, r: content}); err != nil {
		return "", fmt.Errorf("could not copy file contents: %w", err)
	}

	if err := t.Sync(); err != nil {
		return "", fmt.Errorf("could not sync written file: %w", err)
	}

	if renameErr := s.root.Rename(tmpFile, id); renameErr != nil {
		return "", fmt.Errorf("failed to rename file: %w", renameErr)
	}

	success = true
	return id, nil
}

// Presign is not supported for local storage.
func (s *Store) Presign(context.Context) (*hoist.Presigned, error) {
	return nil, fmt.Errorf("filesystem backend: presign: %w", hoist.ErrNotSupported)
}

// validID rejects anything that is not a plain single-segment name. The
// os.Root sandbox already blocks traversal; this keeps lookups from ever
// touching temp files or subdirectories.
func validID(id string) bool {
	if id == "" || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

func tmpFileName() string {
	return fmt.Sprintf(".t%s", uuid.New().String())
}
