package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/go-chi/cors"

	"github.com/hoistd/hoist"
)

// multipartMemory caps how much of a multipart body is held in memory
// before the stdlib spools the rest to disk.
const multipartMemory = 32 << 20

// Config holds the immutable per-process settings of an App. Everything in
// here is read-only once the App is constructed; concurrent requests share
// it without locking.
type Config struct {
	// Signer verifies download tokens and signs upload response URLs.
	// A nil Signer disables verification (development mode).
	Signer *hoist.Signer

	// Registry resolves backend and processor names from the path.
	Registry *hoist.Registry

	// AllowedOrigin enables CORS handling when non-empty. The value is
	// emitted as Access-Control-Allow-Origin and preflight requests echo
	// the requested headers and method.
	AllowedOrigin string

	// UploadBackends lists the backends that accept uploads and presign
	// requests. The single entry "all" allows every registered backend.
	UploadBackends []string

	// MaxUploadSize caps upload bodies in bytes. Zero means no limit.
	MaxUploadSize int64

	// CacheMaxAge is the max-age, in seconds, for Cache-Control and
	// Expires headers on streamed responses.
	CacheMaxAge int

	Logger *slog.Logger
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, m *hoist.Match) error

type route struct {
	pattern *hoist.Pattern
	handle  handlerFunc
}

// routeTable holds per-method ordered pattern lists. Matching is tried in
// registration order and the first structural match wins, so more specific
// templates are registered before more general ones. HEAD lookups reuse the
// GET routes.
type routeTable struct {
	byMethod map[string][]route
}

func newRouteTable() *routeTable {
	return &routeTable{byMethod: make(map[string][]route)}
}

func (t *routeTable) add(method, template string, h handlerFunc) {
	t.byMethod[method] = append(t.byMethod[method], route{
		pattern: hoist.MustCompile(template),
		handle:  h,
	})
}

func (t *routeTable) lookup(method, p string) (handlerFunc, *hoist.Match, bool) {
	if method == http.MethodHead {
		method = http.MethodGet
	}
	for _, rt := range t.byMethod[method] {
		if m, ok := rt.pattern.Match(p); ok {
			return rt.handle, m, true
		}
	}
	return nil, nil, false
}

// App is the request dispatcher. It matches inbound requests against the
// route table, binds captured parameters, and funnels every handler failure
// through a single error-to-status mapping. App implements http.Handler and
// expects its mount prefix to be stripped by the outer mux.
type App struct {
	cfg    Config
	routes *routeTable
	log    *slog.Logger
}

// NewApp builds an App and registers the attachment routes. The wildcard
// transform templates come before their non-wildcard twins and the
// dot-extension variants before the plain-filename ones.
func NewApp(cfg Config) *App {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &App{cfg: cfg, log: cfg.Logger}

	t := newRouteTable()
	t.add(http.MethodGet, "/:token/:backend/:id/:filename", a.handleDownload)
	t.add(http.MethodGet, "/:backend/presign", a.handlePresign)
	t.add(http.MethodGet, "/:token/:backend/:processor/*/:id/:basename.:extension", a.handleTransform)
	t.add(http.MethodGet, "/:token/:backend/:processor/*/:id/:filename", a.handleTransform)
	t.add(http.MethodGet, "/:token/:backend/:processor/:id/:basename.:extension", a.handleTransform)
	t.add(http.MethodGet, "/:token/:backend/:processor/:id/:filename", a.handleTransform)
	t.add(http.MethodPost, "/:backend", a.handleUpload)
	t.add(http.MethodOptions, "/:backend", a.handleOptions)
	a.routes = t

	return a
}

// Router wraps the App in CORS middleware when an allowed origin is
// configured. Preflight requests are answered by the middleware; all other
// requests fall through to the dispatcher.
func (a *App) Router() http.Handler {
	if a.cfg.AllowedOrigin == "" {
		return a
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{a.cfg.AllowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})(a)
}

// ServeHTTP dispatches one request. Every request produces exactly one
// terminal response: route misses become a fixed 404, handler errors are
// mapped by handleError, and panics are trapped here with their backtrace
// logged line by line.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w = headWriter{w}
	}
	sw := &statusWriter{ResponseWriter: w}

	defer func() {
		if rec := recover(); rec != nil {
			a.logPanic(r, rec)
			if !sw.wrote {
				writeText(sw, http.StatusBadRequest, "error")
			}
		}
	}()

	h, m, ok := a.routes.lookup(r.Method, r.URL.Path)
	if !ok {
		writeText(sw, http.StatusNotFound, "not found")
		return
	}

	if err := h(sw, r, m); err != nil {
		a.handleError(sw, r, err)
	}
}

// resourcePath is the canonical path a token signs: the request path with
// the mount prefix (already stripped by the outer mux) and the token
// segment removed.
func resourcePath(r *http.Request, token string) string {
	return strings.TrimPrefix(r.URL.Path, "/"+token)
}

func (a *App) verifyToken(r *http.Request, m *hoist.Match) error {
	if a.cfg.Signer == nil {
		return nil
	}
	token := m.Param("token")
	if !a.cfg.Signer.Verify(resourcePath(r, token), token) {
		return fmt.Errorf("verify token for %s: %w", r.URL.Path, hoist.ErrForbidden)
	}
	return nil
}

func (a *App) uploadAllowed(backend string) bool {
	if slices.Contains(a.cfg.UploadBackends, "all") {
		return true
	}
	return slices.Contains(a.cfg.UploadBackends, backend)
}

func (a *App) handleDownload(w http.ResponseWriter, r *http.Request, m *hoist.Match) error {
	if err := a.verifyToken(r, m); err != nil {
		return err
	}

	backend, err := a.cfg.Registry.Backend(m.Param("backend"))
	if err != nil {
		return err
	}

	id := m.Param("id")
	f, err := backend.Get(r.Context(), id)
	if err != nil {
		return fmt.Errorf("get %q from %q: %w", id, m.Param("backend"), err)
	}

	return a.stream(w, f, id, m.Param("filename"))
}

func (a *App) handleTransform(w http.ResponseWriter, r *http.Request, m *hoist.Match) error {
	if err := a.verifyToken(r, m); err != nil {
		return err
	}

	backend, err := a.cfg.Registry.Backend(m.Param("backend"))
	if err != nil {
		return err
	}
	processor, err := a.cfg.Registry.Processor(m.Param("processor"))
	if err != nil {
		return err
	}

	id := m.Param("id")
	f, err := backend.Get(r.Context(), id)
	if err != nil {
		return fmt.Errorf("get %q from %q: %w", id, m.Param("backend"), err)
	}

	args := m.Splat
	if args == nil {
		args = []string{}
	}
	format := m.Param("extension")

	out, err := processor.Process(r.Context(), f, args, format)
	if err != nil {
		return fmt.Errorf("process %q with %q: %w", id, m.Param("processor"), err)
	}

	filename := m.Param("filename")
	if filename == "" {
		filename = m.Param("basename") + "." + format
	}

	return a.stream(w, out, id, filename)
}

func (a *App) handlePresign(w http.ResponseWriter, r *http.Request, m *hoist.Match) error {
	name := m.Param("backend")
	if !a.uploadAllowed(name) {
		a.log.Warn("presign rejected, backend not upload-allowed", "backend", name)
		return hoist.ErrNotFound
	}

	backend, err := a.cfg.Registry.Backend(name)
	if err != nil {
		return err
	}

	payload, err := backend.Presign(r.Context())
	if err != nil {
		return fmt.Errorf("presign %q: %w", name, err)
	}

	return writeJSON(w, http.StatusOK, payload)
}

type uploadResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (a *App) handleUpload(w http.ResponseWriter, r *http.Request, m *hoist.Match) error {
	name := m.Param("backend")
	if !a.uploadAllowed(name) {
		a.log.Warn("upload rejected, backend not upload-allowed", "backend", name)
		return hoist.ErrNotFound
	}

	backend, err := a.cfg.Registry.Backend(name)
	if err != nil {
		return err
	}

	if a.cfg.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("parse upload: %w", hoist.ErrTooLarge)
		}
		return fmt.Errorf("parse upload: %v: %w", err, hoist.ErrInvalidFile)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return fmt.Errorf("read upload field: %v: %w", err, hoist.ErrInvalidFile)
	}
	defer func() { _ = file.Close() }()

	id, err := backend.Upload(r.Context(), file)
	if err != nil {
		return fmt.Errorf("upload to %q: %w", name, err)
	}

	resource := "/" + name + "/" + id + "/" + url.PathEscape(uploadFilename(header.Filename))
	u := resource
	if a.cfg.Signer != nil {
		u = a.cfg.Signer.SignedPath(resource)
	}

	return writeJSON(w, http.StatusOK, uploadResponse{ID: id, URL: u})
}

func (a *App) handleOptions(w http.ResponseWriter, _ *http.Request, _ *hoist.Match) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

// uploadFilename reduces a client-supplied filename to a safe basename.
func uploadFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}

// headWriter discards the body so HEAD responses keep the status and
// headers of the matching GET but send nothing.
type headWriter struct {
	http.ResponseWriter
}

func (h headWriter) Write(b []byte) (int, error) {
	return len(b), nil
}

// statusWriter tracks whether a terminal response was produced, so the
// error funnel never writes a second one after a handler already has.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusWriter) WriteHeader(code int) {
	if s.wrote {
		return
	}
	s.wrote = true
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if !s.wrote {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}
