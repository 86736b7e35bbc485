package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/progress"
)

// heartbeat keeps idle SSE connections open through proxies.
var heartbeat = 15 * time.Second

// Events streams progress events to one subscriber as server-sent events.
// The subscriber defaults to the caller.
// GET /api/events?subscriber=alice
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		h.writeError(w, "Event stream unavailable", &hotel.ConfigError{Setting: "progress", Reason: "no event hub configured"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, "Streaming unsupported", fmt.Errorf("response writer cannot flush"))
		return
	}
	sub := r.URL.Query().Get("subscriber")
	if sub == "" {
		sub = callerOf(r)
	}

	events, cancel := h.Hub.Subscribe(hotel.Subscriber(sub), 64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, ": subscribed %s\n\n", sub)
	flusher.Flush()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, e); err != nil {
				h.log.WithError(err).WithField("subscriber", sub).Warn("dropping event stream")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e progress.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Name, data)
	return err
}
