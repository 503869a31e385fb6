package hoist

import (
	"context"
	"io"
	"log/slog"
)

// File is a handle to stored or transformed content. Handles are owned by the
// call scope that produced them and must be closed by the consumer.
type File interface {
	io.ReadCloser
}

// LocalFile is a File that is backed by a file on the local filesystem.
// The response streamer serves such handles directly from disk instead of
// spooling them through a temporary file.
type LocalFile interface {
	File
	LocalPath() string
}

// Presigned is a presign payload a backend hands to clients for direct
// uploads. The URL and headers are backend-defined and returned to the
// client verbatim.
type Presigned struct {
	ID      string            `json:"id"`
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Backend is a storage adapter. Implementations must be safe for concurrent
// use; the dispatcher shares one instance across requests.
type Backend interface {
	// Get retrieves the file stored under id.
	// Returns ErrNotFound if no such file exists.
	Get(ctx context.Context, id string) (File, error)

	// Upload stores content under a newly generated id and returns that id.
	Upload(ctx context.Context, content io.Reader) (string, error)

	// Presign returns a payload clients can use to upload directly to the
	// underlying store. Backends without direct-upload support return
	// ErrNotSupported.
	Presign(ctx context.Context) (*Presigned, error)
}

// Processor transforms a file. The args are free-form strings captured from
// the request path and format is the requested output extension ("" when the
// client did not request one). The input file is owned by the processor once
// passed in; the returned handle is owned by the caller.
type Processor interface {
	Process(ctx context.Context, f File, args []string, format string) (File, error)
}

// Registry is the process-wide lookup table for named backends and
// processors. It is populated once at startup and read-only afterwards, so
// it is safe to share across concurrent requests without locking.
type Registry struct {
	backends   map[string]Backend
	processors map[string]Processor
	log        *slog.Logger
}

// NewRegistry builds a registry from the given maps. The maps are copied;
// later mutation of the arguments does not affect the registry.
func NewRegistry(backends map[string]Backend, processors map[string]Processor, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	b := make(map[string]Backend, len(backends))
	for name, backend := range backends {
		b[name] = backend
	}

	p := make(map[string]Processor, len(processors))
	for name, proc := range processors {
		p[name] = proc
	}

	return &Registry{backends: b, processors: p, log: log}
}

// Backend looks up a backend by name. A missing name is logged and reported
// as ErrNotFound, never as a fatal condition.
func (r *Registry) Backend(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		r.log.Warn("unknown backend requested", "backend", name)
		return nil, ErrNotFound
	}
	return b, nil
}

// Processor looks up a processor by name. A missing name is logged and
// reported as ErrNotFound.
func (r *Registry) Processor(name string) (Processor, error) {
	p, ok := r.processors[name]
	if !ok {
		r.log.Warn("unknown processor requested", "processor", name)
		return nil, ErrNotFound
	}
	return p, nil
}
