package transport

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/basket/coc/internal/apperror"
	"github.com/basket/coc/internal/processstore"
	"github.com/basket/coc/internal/queue"
)

// queueAllFilter requests every process record for internal aggregation
// (stats/health), bypassing the REST-facing default page size of 50.
func queueAllFilter() processstore.Filter {
	return processstore.Filter{Limit: math.MaxInt32}
}

func timeSinceStart(started time.Time) time.Duration {
	return time.Since(started)
}

func (s *Server) handleQueueCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sendJSON(w, http.StatusOK, map[string]any{
			"queued":  s.cfg.Queue.GetQueued(),
			"running": s.cfg.Queue.GetRunning(),
			"stats":   s.cfg.Queue.GetStats(),
		})
	case http.MethodPost:
		s.enqueueTask(w, r)
	case http.MethodDelete:
		removed := s.cfg.Queue.Clear()
		sendJSON(w, http.StatusOK, map[string]any{"removed": removed})
	default:
		send400(w, "method not allowed")
	}
}

type enqueueRequest struct {
	Type        string        `json:"type"`
	Priority    string        `json:"priority"`
	DisplayName string        `json:"displayName"`
	Payload     queue.Payload `json:"payload"`
	Config      queue.Config  `json:"config"`
}

func (s *Server) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeBody(r, &req); err != nil {
		send400(w, "invalid JSON body")
		return
	}
	kind := queue.PayloadKind(req.Type)
	if !queue.ValidKind(kind) {
		send400(w, "unknown task type")
		return
	}
	priority := queue.Priority(req.Priority)
	if !priority.Valid() {
		priority = queue.PriorityNormal
	}
	req.Payload.Kind = kind

	id, err := s.cfg.Queue.Enqueue(queue.EnqueueInput{
		Type:        kind,
		Priority:    priority,
		DisplayName: req.DisplayName,
		Payload:     req.Payload,
		Config:      req.Config,
	})
	if err != nil {
		appErr := apperror.Capacity(err.Error())
		if !errors.Is(err, queue.ErrQueueFull) {
			appErr = apperror.Validation(err.Error())
		}
		status, msg := apperror.StatusFor(appErr)
		sendJSON(w, status, errBody(msg))
		return
	}
	sendJSON(w, http.StatusCreated, map[string]any{"task": s.cfg.Queue.GetTask(id)})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		send400(w, "method not allowed")
		return
	}
	sendJSON(w, http.StatusOK, s.cfg.Queue.GetStats())
}

func (s *Server) handleQueueHistory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sendJSON(w, http.StatusOK, map[string]any{"history": s.cfg.Queue.GetHistory()})
	case http.MethodDelete:
		s.cfg.Queue.ClearHistory()
		w.WriteHeader(http.StatusNoContent)
	default:
		send400(w, "method not allowed")
	}
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		send400(w, "method not allowed")
		return
	}
	s.cfg.Queue.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		send400(w, "method not allowed")
		return
	}
	s.cfg.Queue.Resume()
	w.WriteHeader(http.StatusNoContent)
}

var reservedQueueSubroutes = map[string]bool{"stats": true, "history": true, "pause": true, "resume": true}

func (s *Server) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" || reservedQueueSubroutes[id] {
		send404(w, "not found")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "move-to-top":
			s.moveTask(w, id, s.cfg.Queue.MoveToTop)
		case "move-up":
			s.moveTask(w, id, s.cfg.Queue.MoveUp)
		case "move-down":
			s.moveTask(w, id, s.cfg.Queue.MoveDown)
		default:
			send404(w, "unknown sub-route")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		task := s.cfg.Queue.GetTask(id)
		if task == nil {
			send404(w, "task not found")
			return
		}
		sendJSON(w, http.StatusOK, task)
	case http.MethodDelete:
		if !s.cfg.Executor.CancelTask(id) {
			send404(w, "task not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		send400(w, "method not allowed")
	}
}

func (s *Server) moveTask(w http.ResponseWriter, id string, move func(string) bool) {
	if !move(id) {
		send404(w, "task not found or not queued")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		send400(w, "method not allowed")
		return
	}
	procs := s.cfg.Store.GetAllProcesses(queueAllFilter())
	byStatus := map[string]int{}
	byWorkspace := map[string]int{}
	for _, p := range procs {
		byStatus[string(p.Status)]++
		if ws := p.WorkspaceID(); ws != "" {
			byWorkspace[ws]++
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"queue":       s.cfg.Queue.GetStats(),
		"byStatus":    byStatus,
		"byWorkspace": byWorkspace,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		send400(w, "method not allowed")
		return
	}
	uptime := timeSinceStart(s.cfg.StartedAt)
	sendJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"uptime":       uptime.Seconds(),
		"processCount": len(s.cfg.Store.GetAllProcesses(queueAllFilter())),
	})
}
