package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/lunikdev/JellyGrab/internal/config"
	"github.com/lunikdev/JellyGrab/internal/logctx"
)

// settingsRequest is a partial update; absent fields keep their value.
type settingsRequest struct {
	MaxConcurrent     *int     `json:"max_concurrent"`
	ChunkSizeMB       *float64 `json:"chunk_size_mb"`
	SelectedLibraryID *string  `json:"selected_library_id"`
}

func (h *Handler) HandleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get())
}

// HandleUpdateSettings persists the new settings and applies them to the
// running downloader.
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	st, err := h.settings.Update(func(s *config.Settings) {
		if req.MaxConcurrent != nil {
			s.MaxConcurrent = *req.MaxConcurrent
		}

		if req.ChunkSizeMB != nil {
			s.ChunkSizeMB = *req.ChunkSizeMB
		}

		if req.SelectedLibraryID != nil {
			s.SelectedLibraryID = *req.SelectedLibraryID
		}
	})
	if err != nil {
		logger.Error("failed to save settings", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")

		return
	}

	h.queue.SetMaxConcurrent(st.MaxConcurrent)
	h.queue.SetChunkSizeBytes(st.ChunkSizeBytes())

	logger.Info("settings updated", "max_concurrent", st.MaxConcurrent, "chunk_size_mb", st.ChunkSizeMB)

	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) HandleListHistory(w http.ResponseWriter, r *http.Request) {
	var limit int

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")

			return
		}

		limit = n
	}

	records, err := h.history.ListHistory(r.Context(), limit)
	if err != nil {
		respondError(w, r, "failed to list history", err)

		return
	}

	writeJSON(w, http.StatusOK, records)
}
