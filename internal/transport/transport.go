// Package transport implements component D: the HTTP/WebSocket/SSE surface
// that exposes the queue manager, executor, and process store to REST
// clients, the browser SPA, and the WebSocket/SSE push channels.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/basket/coc/internal/executor"
	"github.com/basket/coc/internal/processstore"
	"github.com/basket/coc/internal/queue"
	"github.com/basket/coc/internal/shared"
)

// Config wires the server to the core components it fronts.
type Config struct {
	Queue     *queue.Manager
	Executor  *executor.Executor
	Store     processstore.Store
	Logger    *slog.Logger
	StartedAt time.Time
}

// Server is the transport layer (component D).
type Server struct {
	cfg Config

	hub *wsHub
}

// New constructs the transport server and wires the queue/store change
// events into WebSocket broadcasts (spec.md §4.4.5).
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	s := &Server{cfg: cfg, hub: newWSHub(cfg.Logger)}

	cfg.Queue.On(func(ev queue.ChangeEvent) { s.broadcastQueueUpdated() })
	cfg.Store.OnProcessChange(func(ev processstore.ChangeEvent) { s.broadcastProcessChange(ev) })

	return s
}

// Shutdown terminates all open WebSocket connections (spec.md §4.4.3's
// "close(1001)" requirement). Callers should invoke this after the HTTP
// server itself has stopped accepting new connections.
func (s *Server) Shutdown() {
	s.hub.closeAll()
}

// Handler builds the routing table (spec.md §4.4.1): a {method, pattern,
// handler} table behind a CORS + OPTIONS-204 wrapper.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("/api/processes", s.handleProcessesCollection)
	mux.HandleFunc("/api/processes/", s.handleProcessesItem)

	mux.HandleFunc("/api/workspaces", s.handleWorkspaces)

	mux.HandleFunc("/api/queue", s.handleQueueCollection)
	mux.HandleFunc("/api/queue/stats", s.handleQueueStats)
	mux.HandleFunc("/api/queue/history", s.handleQueueHistory)
	mux.HandleFunc("/api/queue/pause", s.handleQueuePause)
	mux.HandleFunc("/api/queue/resume", s.handleQueueResume)
	mux.HandleFunc("/api/queue/", s.handleQueueItem)

	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/health", s.handleHealth)

	return s.withTraceID(s.withCORS(mux))
}

// withTraceID attaches a per-request trace ID to the request context so
// handler-panic and downstream logs can be correlated back to one inbound
// request.
func (s *Server) withTraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.WithTraceID(r.Context(), shared.NewTraceID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withCORS attaches the CORS headers spec.md §4.4.1 requires and answers
// OPTIONS * with 204 before delegating to the route table.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				s.cfg.Logger.Error("transport: handler panic", "recovered", rec, "trace_id", shared.TraceID(r.Context()))
				send500(w, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func send400(w http.ResponseWriter, msg string) { sendJSON(w, http.StatusBadRequest, errBody(msg)) }
func send404(w http.ResponseWriter, msg string) { sendJSON(w, http.StatusNotFound, errBody(msg)) }
func send409(w http.ResponseWriter, msg string) { sendJSON(w, http.StatusConflict, errBody(msg)) }
func send500(w http.ResponseWriter, msg string) { sendJSON(w, http.StatusInternalServerError, errBody(msg)) }

func errBody(msg string) map[string]string { return map[string]string{"error": msg} }

// decodeBody parses a JSON request body, rejecting on parse error exactly as
// spec.md's "JSON body parser... rejects on parse error" requires.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
