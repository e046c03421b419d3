package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) HandleListLibraries(w http.ResponseWriter, r *http.Request) {
	views, err := h.catalog.ListViews(r.Context())
	if err != nil {
		respondError(w, r, "failed to list libraries", err)

		return
	}

	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) HandleListSeries(w http.ResponseWriter, r *http.Request) {
	series, err := h.catalog.ListSeries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, "failed to list series", err)

		return
	}

	writeJSON(w, http.StatusOK, series)
}

func (h *Handler) HandleListSeasons(w http.ResponseWriter, r *http.Request) {
	seasons, err := h.catalog.ListSeasons(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, "failed to list seasons", err)

		return
	}

	writeJSON(w, http.StatusOK, seasons)
}

func (h *Handler) HandleListEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := h.catalog.ListEpisodes(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("season"))
	if err != nil {
		respondError(w, r, "failed to list episodes", err)

		return
	}

	writeJSON(w, http.StatusOK, episodes)
}
