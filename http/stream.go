package http

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hoistd/hoist"
)

// stream writes f as a cache-controlled, content-typed response body.
// Path-backed handles are served straight from disk; everything else is
// spooled into a uniquely named temporary file first so the response can
// carry an accurate Content-Length. The spool file is removed on every exit
// path once the body is drained.
func (a *App) stream(w http.ResponseWriter, f io.ReadCloser, id, filename string) error {
	src, size, cleanup, err := a.openSource(f, id)
	if err != nil {
		return err
	}
	defer cleanup()

	h := w.Header()
	h.Set("Cache-Control", fmt.Sprintf("public max-age=%d", a.cfg.CacheMaxAge))
	h.Set("Expires", time.Now().Add(time.Duration(a.cfg.CacheMaxAge)*time.Second).UTC().Format(http.TimeFormat))
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	h.Set("Content-Type", contentTypeFor(filename))
	h.Set("Content-Length", strconv.FormatInt(size, 10))

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, src); err != nil {
		// status already committed; the transport closing mid-body is
		// the client's signal, not ours
		a.log.Warn("streaming aborted", "id", id, "error", err)
	}
	return nil
}

// openSource resolves a file handle into a seekable reader of known size.
// The returned cleanup closes everything and deletes any spool file.
func (a *App) openSource(f io.ReadCloser, id string) (io.Reader, int64, func(), error) {
	if lp, ok := f.(hoist.LocalFile); ok {
		src, err := os.Open(lp.LocalPath())
		if err != nil {
			_ = f.Close()
			return nil, 0, nil, fmt.Errorf("open %q: %w", lp.LocalPath(), err)
		}
		info, err := src.Stat()
		if err != nil {
			_ = src.Close()
			_ = f.Close()
			return nil, 0, nil, fmt.Errorf("stat %q: %w", lp.LocalPath(), err)
		}
		cleanup := func() {
			_ = src.Close()
			_ = f.Close()
		}
		return src, info.Size(), cleanup, nil
	}

	tmp, err := os.CreateTemp("", spoolPattern(id))
	if err != nil {
		_ = f.Close()
		return nil, 0, nil, fmt.Errorf("create spool file: %w", err)
	}

	cleanup := func() {
		_ = tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil {
			a.log.Warn("failed to remove spool file", "file", tmp.Name(), "err", rmErr)
		}
	}

	size, err := io.Copy(tmp, f)
	_ = f.Close()
	if err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("spool %q: %w", id, err)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, 0, nil, fmt.Errorf("rewind spool file: %w", err)
	}

	return tmp, size, cleanup, nil
}

// spoolPattern builds an os.CreateTemp pattern keyed by the resource id;
// the "*" keeps names unique under concurrent downloads of the same id.
func spoolPattern(id string) string {
	id = strings.NewReplacer("/", "_", `\`, "_", "*", "_").Replace(id)
	return "hoist-" + id + "-*"
}

func contentTypeFor(filename string) string {
	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
