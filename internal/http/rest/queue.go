package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lunikdev/JellyGrab/internal/downloader"
	"github.com/lunikdev/JellyGrab/internal/downloader/progress"
	"golang.org/x/sync/errgroup"
)

// seriesFanOut bounds concurrent item resolutions for a series download.
const seriesFanOut = 4

type queueResponse struct {
	Items      []downloader.Snapshot `json:"items"`
	Totals     progress.Totals       `json:"totals"`
	QueueDepth int                   `json:"queue_depth"`
}

type enqueueRequest struct {
	ItemID                  string `json:"item_id"`
	ShowSuccessNotification *bool  `json:"show_success_notification,omitempty"`
}

type enqueueFailure struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name,omitempty"`
	Error  string `json:"error"`
}

type seriesDownloadResponse struct {
	Queued []downloader.Snapshot `json:"queued"`
	Failed []enqueueFailure      `json:"failed"`
}

func (h *Handler) queueState() queueResponse {
	items := h.queue.List()

	return queueResponse{
		Items:      items,
		Totals:     downloader.TotalsOf(items),
		QueueDepth: h.queue.QueueDepth(),
	}
}

func (h *Handler) HandleListQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.queueState())
}

func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	show := true
	if req.ShowSuccessNotification != nil {
		show = *req.ShowSuccessNotification
	}

	snap, err := h.queue.Enqueue(r.Context(), req.ItemID, show)
	if err != nil {
		respondError(w, r, "failed to enqueue item", err)

		return
	}

	writeJSON(w, http.StatusAccepted, snap)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Cancel(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, "failed to cancel item", err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Dismiss(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, "failed to dismiss item", err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDownloadSeries queues every episode of a series, or of one season
// when the season query parameter is set. Episodes that cannot be queued are
// reported individually and do not stop the others.
func (h *Handler) HandleDownloadSeries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	episodes, err := h.catalog.ListEpisodes(ctx, chi.URLParam(r, "id"), r.URL.Query().Get("season"))
	if err != nil {
		respondError(w, r, "failed to list episodes", err)

		return
	}

	if len(episodes) == 0 {
		writeError(w, http.StatusNotFound, "no episodes found")

		return
	}

	type result struct {
		snap downloader.Snapshot
		err  error
	}

	results := make([]result, len(episodes))

	var g errgroup.Group
	g.SetLimit(seriesFanOut)

	for i, ep := range episodes {
		g.Go(func() error {
			snap, err := h.queue.Enqueue(ctx, ep.ID, false)
			results[i] = result{snap: snap, err: err}

			return nil
		})
	}

	_ = g.Wait()

	resp := seriesDownloadResponse{
		Queued: make([]downloader.Snapshot, 0, len(episodes)),
		Failed: make([]enqueueFailure, 0),
	}

	for i, res := range results {
		if res.err != nil {
			resp.Failed = append(resp.Failed, enqueueFailure{ItemID: episodes[i].ID, Name: episodes[i].Name, Error: res.err.Error()})

			continue
		}

		resp.Queued = append(resp.Queued, res.snap)
	}

	writeJSON(w, http.StatusAccepted, resp)
}
