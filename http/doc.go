// Package http implements the attachment server's request dispatcher and
// response streamer.
//
// The App matches inbound requests against an ordered per-method route
// table compiled from templates like
//
//	/:token/:backend/:processor/*/:id/:filename
//
// binds the captured parameters into a fresh per-request scope, and invokes
// the matching handler. Handlers return errors; a single funnel maps them to
// terminal responses:
//
//   - invalid upload        → 400, generic "Upload failure error" body
//   - upload too large      → 413, generic "Upload failure error" body
//   - token failed          → 403 "forbidden"
//   - unknown route/backend/processor/resource, upload not allowed → 404 "not found"
//   - anything else         → 400 "error", cause and backtrace logged
//
// Download and transform routes are gated by an HMAC token over the resource
// path (see hoist.Signer); upload and presign routes by a backend allow-list.
// HEAD requests reuse GET matching and drop the body. CORS is handled by
// go-chi/cors middleware when an allowed origin is configured.
//
// Streamed responses carry Cache-Control, Expires, Content-Disposition and a
// Content-Type derived from the requested filename. Files without a local
// path are spooled to a uniquely named temporary file that is deleted once
// the body is sent.
//
// # Usage
//
//	app := http.NewApp(http.Config{
//	    Signer:         hoist.NewSigner(secret),
//	    Registry:       registry,
//	    UploadBackends: []string{"cache"},
//	    CacheMaxAge:    31536000,
//	    Logger:         logger,
//	})
//	mux := chi.NewRouter()
//	mux.Mount("/attachments", app.Router())
package http
