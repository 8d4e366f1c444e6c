package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mohamurshid/AutoRemoveAi/internal/batch"
)

// streamBuffer is how many store events a slow client may lag behind before
// it is sent a full snapshot instead.
const streamBuffer = 64

type streamEvent struct {
	Kind batch.EventKind `json:"kind"`
	Item itemResponse    `json:"item"`
}

// handleItemStream sends the item list once, then every store change as it
// happens. A clear, or a client that fell behind, gets the full list again.
// Idle connections get a comment line at the heartbeat interval. The stream
// ends when the client goes away or the server's base context is done.
func (s *Server) handleItemStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := make(chan batch.Event, streamBuffer)
	var overflowed atomic.Bool
	cancel := s.session.Subscribe(func(ev batch.Event) {
		select {
		case events <- ev:
		default:
			overflowed.Store(true)
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(event string, data any) bool {
		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	snapshot := func() bool {
		return send("items", toItemResponses(s.session.Items()))
	}

	if !snapshot() {
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			return
		case ev := <-events:
			if overflowed.Swap(false) || ev.Kind == batch.EventCleared {
				drain(events)
				if !snapshot() {
					return
				}
				continue
			}
			if !send("item", streamEvent{Kind: ev.Kind, Item: toItemResponse(ev.Item)}) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func drain(events chan batch.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}
