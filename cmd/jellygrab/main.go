package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lunikdev/JellyGrab/internal/cleanup"
	"github.com/lunikdev/JellyGrab/internal/config"
	"github.com/lunikdev/JellyGrab/internal/downloader"
	"github.com/lunikdev/JellyGrab/internal/http/rest"
	"github.com/lunikdev/JellyGrab/internal/jellyfin"
	"github.com/lunikdev/JellyGrab/internal/logctx"
	"github.com/lunikdev/JellyGrab/internal/notifier"
	"github.com/lunikdev/JellyGrab/internal/storage/sqlite"
	"github.com/lunikdev/JellyGrab/internal/telemetry"
	"github.com/lunikdev/JellyGrab/internal/transfer"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]

	// the get command draws progress bars on stderr, so its logs stay quiet
	if len(args) > 0 && args[0] == "get" {
		logger := newLogger(os.Stderr, max(cfg.SlogLevel(), slog.LevelWarn))

		if err := runGet(logctx.WithLogger(ctx, logger), cfg, args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, "jellygrab:", err)
			os.Exit(1)
		}

		return
	}

	logger := newLogger(os.Stdout, cfg.SlogLevel())
	slog.SetDefault(logger)

	logger.Info("jellygrab starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		DiskPath:       cfg.DownloadDir,
	})
	if err != nil {
		return fmt.Errorf("failed to start telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	history := sqlite.NewInstrumentedHistoryRepository(database, tel)

	// =========================================================================
	// Start Jellyfin Client
	client, err := newJellyfinClient(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to build jellyfin client: %w", err)
	}

	userID, err := client.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authentication error: %w", err)
	}

	logger.Info("authenticated with jellyfin", "url", cfg.Jellyfin.URL, "user_id", userID)

	// =========================================================================
	// Start Downloader
	settings, err := config.OpenSettings(cfg.SettingsPath, cfg.DefaultSettings())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	current := settings.Get()

	dl := downloader.New(transfer.NewInstrumentedSource(client, tel), downloader.Options{
		DownloadDir:    cfg.DownloadDir,
		MaxConcurrent:  current.MaxConcurrent,
		ChunkSizeBytes: current.ChunkSizeBytes(),
		History:        history,
		Telemetry:      tel,
	})

	g, gctx := errgroup.WithContext(ctx)

	// =========================================================================
	// Start Notification
	if cfg.DiscordWebhookURL != "" {
		sub := dl.Subscribe()
		notif := &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}

		g.Go(func() error {
			return notifier.Listen(gctx, sub, notif)
		})
	}

	dl.Start(gctx)

	// =========================================================================
	// Start API Service
	handler := rest.NewHandler(dl, client, history, settings, cfg.API.Username, cfg.API.Password, tel)
	server := setupServer(gctx, handler, cfg)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	// =========================================================================
	// Start Cleanup
	g.Go(func() error {
		return cleanup.Run(gctx, history, cfg.HistoryRetention, cfg.CleanupInterval)
	})

	logger.Info("waiting for downloads...",
		"download_dir", cfg.DownloadDir,
		"max_concurrent", current.MaxConcurrent,
		"chunk_size_mb", current.ChunkSizeMB,
		"retention", cfg.HistoryRetention.String(),
	)

	err = g.Wait()

	// running transfers end as cancelled and their history is written before
	// the database closes
	dl.Wait()

	return err
}

func newJellyfinClient(cfg *config.Config, tel *telemetry.Telemetry) (*jellyfin.Client, error) {
	return jellyfin.NewClient(jellyfin.Config{
		URL:      cfg.Jellyfin.URL,
		Username: cfg.Jellyfin.Username,
		Password: cfg.Jellyfin.Password,
		APIKey:   cfg.Jellyfin.APIKey,
		UserID:   cfg.Jellyfin.UserID,
		Timeout:  cfg.Jellyfin.Timeout,
	}, tel)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, handler *rest.Handler, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:              cfg.Web.BindAddress,
		ReadTimeout:       cfg.Web.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Web.WriteTimeout,
		IdleTimeout:       cfg.Web.IdleTimeout,
		Handler:           r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
