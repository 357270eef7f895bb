package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Events streams the caller's task events as server-sent events. Only
// events of tasks owned by the caller are written.
func (h *APIHandlers) Events(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFrom(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		renderError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := h.Deps.Events.Subscribe(owner)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(h.Deps.Heartbeat)
	defer heartbeat.Stop()

	log := h.Deps.Logger.With(zap.String("owner_id", owner))
	log.Debug("event stream opened")

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}

			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}

			if ev.OwnerID != owner {
				continue
			}

			payload, err := json.Marshal(ev)
			if err != nil {
				log.Warn("cannot encode task event", zap.Error(err))
				continue
			}

			if _, err := fmt.Fprintf(w, "event: task\nid: %s\ndata: %s\n\n", ev.TaskID, payload); err != nil {
				return
			}

			flusher.Flush()
		}
	}
}
