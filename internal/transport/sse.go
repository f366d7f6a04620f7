package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/basket/coc/internal/processstore"
)

type sseStatusPayload struct {
	Status     string  `json:"status"`
	DurationMs float64 `json:"durationMs,omitempty"`
}

type sseChunkPayload struct {
	Content string `json:"content"`
}

// handleProcessStream implements GET /api/processes/:id/stream (spec.md
// §4.4.4), grounded on the teacher's handleTaskStream in
// internal/gateway/stream.go, adapted from bus-wide token/tool-call events
// to C's per-process chunk/complete output stream.
func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		send400(w, "method not allowed")
		return
	}
	p, ok := s.cfg.Store.GetProcess(id)
	if !ok {
		send404(w, "process not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	writeEvent(w, "status", sseStatusPayload{Status: string(p.Status)})
	flusher.Flush()

	if p.Status.Terminal() {
		writeEvent(w, "done", struct{}{})
		flusher.Flush()
		return
	}

	ctx := r.Context()
	done := make(chan struct{})
	unsub := s.cfg.Store.OnProcessOutput(id, func(ev processstore.OutputEvent) {
		switch ev.Type {
		case processstore.OutputChunk:
			writeEvent(w, "chunk", sseChunkPayload{Content: ev.Content})
			flusher.Flush()
		case processstore.OutputComplete:
			writeEvent(w, "status", sseStatusPayload{Status: string(ev.Status), DurationMs: float64(ev.Duration.Milliseconds())})
			flusher.Flush()
			writeEvent(w, "done", struct{}{})
			flusher.Flush()
			close(done)
		}
	})
	defer unsub()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
