package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/hoistd/hoist"
	"github.com/hoistd/hoist/config"
	"github.com/hoistd/hoist/filesystem"
	hoisthttp "github.com/hoistd/hoist/http"
	"github.com/hoistd/hoist/s3"
	"github.com/hoistd/hoist/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Start the hoist attachment server.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 5708, "HTTP server port")
	serveCmd.Flags().String("prefix", "/attachments", "mount prefix for the attachment routes")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	backends, closeBackends, err := buildBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackends()

	logger := slog.Default()

	// Processors are application-specific; embedders register their own
	// through hoist.NewRegistry. The standalone server ships none.
	registry := hoist.NewRegistry(backends, nil, logger)

	var signer *hoist.Signer
	if cfg.Token.Secret != "" {
		signer = hoist.NewSigner(cfg.Token.Secret)
	} else {
		logger.Warn("no token secret configured, download URLs are not verified")
	}

	app := hoisthttp.NewApp(hoisthttp.Config{
		Signer:         signer,
		Registry:       registry,
		AllowedOrigin:  cfg.CORS.AllowedOrigin,
		UploadBackends: cfg.Uploads.Backends,
		MaxUploadSize:  cfg.Uploads.MaxSize,
		CacheMaxAge:    cfg.Cache.MaxAge,
		Logger:         logger,
	})

	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// the App expects its mount prefix stripped; token canonicalization
	// happens against the remaining resource path
	mux.Mount(cfg.Server.Prefix, http.StripPrefix(cfg.Server.Prefix, app.Router()))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "prefix", cfg.Server.Prefix)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// buildBackends wires every backend with a configured name into the
// registry map. The returned closer releases whatever was opened.
func buildBackends(ctx context.Context, cfg *config.Config) (map[string]hoist.Backend, func(), error) {
	backends := make(map[string]hoist.Backend)
	var closers []func()

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if fs := cfg.Backends.Filesystem; fs.Name != "" {
		store, err := filesystem.New(fs.Path)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("filesystem backend: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		backends[fs.Name] = store
		slog.Info("registered backend", "name", fs.Name, "type", "filesystem", "path", fs.Path)
	}

	if sq := cfg.Backends.SQLite; sq.Name != "" && sq.DSN != "" {
		store, err := sqlite.New(ctx, sq.DSN)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("sqlite backend: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		backends[sq.Name] = store
		slog.Info("registered backend", "name", sq.Name, "type", "sqlite", "dsn", sq.DSN)
	}

	if s3cfg := cfg.Backends.S3; s3cfg.Name != "" && s3cfg.Bucket != "" {
		store, err := s3.NewFromConfig(ctx, s3cfg.Region, s3cfg.Bucket, s3cfg.Prefix)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("s3 backend: %w", err)
		}
		backends[s3cfg.Name] = store
		slog.Info("registered backend", "name", s3cfg.Name, "type", "s3", "bucket", s3cfg.Bucket)
	}

	return backends, closeAll, nil
}
