package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadninja/leadninja-api/internal/authz"
	"github.com/leadninja/leadninja-api/internal/statussync"
)

const sseKeepAliveInterval = 25 * time.Second

type EventsHandler struct {
	hub    *statussync.Hub
	lister statussync.ActiveJobLister
	logger zerolog.Logger
}

func NewEventsHandler(hub *statussync.Hub, lister statussync.ActiveJobLister, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, lister: lister, logger: logger}
}

// Stream pushes job status changes for the authenticated user as
// server-sent events. Clients pass campaign_id to narrow the stream to one
// campaign. With watch=true the stream tracks the active jobs through a
// push+poll watcher and closes itself once every job settles, so callers
// can block on the stream instead of polling for completion.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := authz.UserIDFromRequest(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	campaignID := r.URL.Query().Get("campaign_id")
	watchMode := r.URL.Query().Get("watch") == "true"

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := h.hub.Subscribe(r.Context(), userID, campaignID)

	var watcher *statussync.Watcher
	var watchFeed chan statussync.JobEvent
	if watchMode {
		watcher = statussync.NewWatcher(h.lister, userID, campaignID, 0)
		watchFeed = make(chan statussync.JobEvent, 16)
		go watcher.Run(r.Context(), watchFeed)
	}

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	done := func() <-chan struct{} {
		if watcher != nil {
			return watcher.Done()
		}
		return nil
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			fmt.Fprint(w, "event: done\ndata: {}\n\n")
			flusher.Flush()
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			if watchFeed != nil {
				select {
				case watchFeed <- event:
				default:
				}
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to encode job event")
				continue
			}
			fmt.Fprintf(w, "event: job\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
