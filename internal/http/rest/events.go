package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lunikdev/JellyGrab/internal/downloader"
)

const keepAliveInterval = 15 * time.Second

type failurePayload struct {
	downloader.ItemFailed
	Error string `json:"error"`
}

// HandleEvents streams downloader events as Server-Sent Events. The first
// event, "snapshot", carries the whole queue.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")

		return
	}

	sub := h.queue.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", h.queueState()); err != nil {
		return
	}

	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			// the client stopped keeping up; it reconnects and gets a new snapshot
			return
		case ev := <-sub.C():
			if err := writeEvent(w, ev.Kind(), eventPayload(ev)); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}

		flusher.Flush()
	}
}

func eventPayload(ev downloader.Event) any {
	if f, ok := ev.(downloader.ItemFailed); ok {
		return failurePayload{ItemFailed: f, Error: f.Message()}
	}

	return ev
}

func writeEvent(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)

	return err
}
