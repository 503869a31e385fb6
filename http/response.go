package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/hoistd/hoist"
)

// uploadFailureBody is the generic body for upload errors. The real cause
// is logged but never returned to the client.
const uploadFailureBody = "<html><body>Upload failure error</body></html>"

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

func writeHTML(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return err
	}
	return nil
}

// handleError is the single unwind point for handler failures. It maps the
// error taxonomy to statuses, in precedence order, and logs every error
// before responding. Internal detail never reaches the client.
func (a *App) handleError(w *statusWriter, r *http.Request, err error) {
	if w.wrote {
		a.log.Error("handler failed after response was written",
			"method", r.Method, "path", r.URL.Path, "error", err)
		return
	}

	switch {
	case errors.Is(err, hoist.ErrInvalidFile):
		a.log.Error("invalid file", "path", r.URL.Path, "error", err)
		writeHTML(w, http.StatusBadRequest, uploadFailureBody)

	case errors.Is(err, hoist.ErrTooLarge):
		a.log.Error("file too large", "path", r.URL.Path, "error", err)
		writeHTML(w, http.StatusRequestEntityTooLarge, uploadFailureBody)

	case errors.Is(err, hoist.ErrForbidden):
		a.log.Warn("forbidden", "path", r.URL.Path, "error", err)
		writeText(w, http.StatusForbidden, "forbidden")

	case errors.Is(err, hoist.ErrNotFound):
		a.log.Info("not found", "path", r.URL.Path, "error", err)
		writeText(w, http.StatusNotFound, "not found")

	default:
		a.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeText(w, http.StatusBadRequest, "error")
	}
}

// logPanic records a recovered panic with its backtrace, one log line per
// frame line, for operator diagnosis.
func (a *App) logPanic(r *http.Request, rec any) {
	a.log.Error("panic while handling request",
		"method", r.Method, "path", r.URL.Path, "panic", rec)
	for _, line := range strings.Split(string(debug.Stack()), "\n") {
		if line == "" {
			continue
		}
		a.log.Error(line)
	}
}
