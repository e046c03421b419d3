// Package rest exposes the download queue, the Jellyfin catalog and the
// runtime settings over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lunikdev/JellyGrab/internal/config"
	"github.com/lunikdev/JellyGrab/internal/downloader"
	"github.com/lunikdev/JellyGrab/internal/jellyfin"
	"github.com/lunikdev/JellyGrab/internal/logctx"
	"github.com/lunikdev/JellyGrab/internal/storage"
	"github.com/lunikdev/JellyGrab/internal/telemetry"
	"github.com/lunikdev/JellyGrab/internal/transfer"
)

// Queue is the part of the downloader driven by the API.
type Queue interface {
	Enqueue(ctx context.Context, itemID string, showSuccessNotification bool) (downloader.Snapshot, error)
	Cancel(itemID string) error
	Dismiss(itemID string) error
	List() []downloader.Snapshot
	QueueDepth() int
	SetMaxConcurrent(n int)
	SetChunkSizeBytes(n int64)
	Subscribe() *downloader.Subscription
}

// Catalog browses the media server.
type Catalog interface {
	ListViews(ctx context.Context) ([]jellyfin.BaseItem, error)
	ListSeries(ctx context.Context, parentID string) ([]jellyfin.BaseItem, error)
	ListSeasons(ctx context.Context, seriesID string) ([]jellyfin.BaseItem, error)
	ListEpisodes(ctx context.Context, seriesID, seasonID string) ([]jellyfin.BaseItem, error)
}

type SettingsStore interface {
	Get() config.Settings
	Update(fn func(*config.Settings)) (config.Settings, error)
}

type Handler struct {
	queue     Queue
	catalog   Catalog
	history   storage.HistoryReadRepository
	settings  SettingsStore
	username  string
	password  string
	telemetry *telemetry.Telemetry
}

// NewHandler creates the API handler. Basic auth is enforced only when
// username is not empty.
func NewHandler(queue Queue, catalog Catalog, history storage.HistoryReadRepository, settings SettingsStore,
	username, password string, t *telemetry.Telemetry,
) *Handler {
	return &Handler{
		queue:     queue,
		catalog:   catalog,
		history:   history,
		settings:  settings,
		username:  username,
		password:  password,
		telemetry: t,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	if h.telemetry != nil {
		r.Handle("/metrics", h.telemetry.Handler())
	}

	r.Group(func(r chi.Router) {
		if h.username != "" {
			r.Use(h.basicAuthMiddleware)
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/queue", h.HandleListQueue)
			r.Post("/queue", h.HandleEnqueue)
			r.Post("/queue/{id}/cancel", h.HandleCancel)
			r.Delete("/queue/{id}", h.HandleDismiss)

			r.Get("/libraries", h.HandleListLibraries)
			r.Get("/libraries/{id}/series", h.HandleListSeries)
			r.Get("/series/{id}/seasons", h.HandleListSeasons)
			r.Get("/series/{id}/episodes", h.HandleListEpisodes)
			r.Post("/series/{id}/download", h.HandleDownloadSeries)

			r.Get("/settings", h.HandleGetSettings)
			r.Put("/settings", h.HandleUpdateSettings)

			r.Get("/history", h.HandleListHistory)
			r.Get("/events", h.HandleEvents)
		})
	})

	return r
}

func (h *Handler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="jellygrab"`)
			writeError(w, http.StatusUnauthorized, "invalid authorization format")

			return
		}

		if username != h.username || password != h.password {
			writeError(w, http.StatusUnauthorized, "invalid username or password")

			return
		}

		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// respondError logs err and answers with the status it maps to.
func respondError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)

	logger := logctx.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "err", err)
	} else {
		logger.Debug(msg, "err", err)
	}

	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, downloader.ErrInvalidItemID):
		return http.StatusBadRequest
	case errors.Is(err, downloader.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, downloader.ErrItemActive), errors.Is(err, downloader.ErrDestinationBusy):
		return http.StatusConflict
	}

	var te *transfer.TransportError
	if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
		return http.StatusNotFound
	}

	var (
		ae *transfer.AuthenticationError
		re *transfer.ResolutionError
		fe *transfer.FilesystemError
	)

	switch {
	case errors.As(err, &ae):
		return http.StatusBadGateway
	case errors.As(err, &re):
		return http.StatusUnprocessableEntity
	case errors.As(err, &te):
		return http.StatusBadGateway
	case errors.As(err, &fe):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
