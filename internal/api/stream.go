package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jdc-telecom/smsgw/internal/bulk"
)

// StreamJobEvents subscribes the caller to a job's progress events over
// Server-Sent Events. Opening the stream is joining the job, closing the
// connection is leaving it; leaving never affects the job. The first frame is
// the job's current status so a late subscriber can reconcile what it missed,
// after which live events flow until the client disconnects.
func (h *Handler) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	jobID := r.PathValue("id")

	// Subscribe before snapshotting so no event can fall in between.
	events, unsubscribe := h.bus.Subscribe(jobID, 64)
	defer unsubscribe()

	snap, found := h.engine.Status(jobID)
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, bulk.Event{
		JobID:     jobID,
		Type:      bulk.EventStatus,
		Timestamp: time.Now().UTC(),
		Job:       &snap,
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev bulk.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}
