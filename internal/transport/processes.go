package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/basket/coc/internal/processstore"
)

type createProcessRequest struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	PromptPreview    string         `json:"promptPreview"`
	FullPrompt       string         `json:"fullPrompt"`
	Status           string         `json:"status"`
	StartTime        time.Time      `json:"startTime"`
	WorkingDirectory string         `json:"workingDirectory"`
	WorkspaceID      string         `json:"workspaceId"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) handleProcessesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createProcess(w, r)
	case http.MethodGet:
		s.listProcesses(w, r)
	case http.MethodDelete:
		s.bulkClearProcesses(w, r)
	default:
		send400(w, "method not allowed")
	}
}

func (s *Server) createProcess(w http.ResponseWriter, r *http.Request) {
	var req createProcessRequest
	if err := decodeBody(r, &req); err != nil {
		send400(w, "invalid JSON body")
		return
	}
	if req.ID == "" || req.PromptPreview == "" || req.Status == "" || req.StartTime.IsZero() {
		send400(w, "id, promptPreview, status, startTime are required")
		return
	}

	meta := req.Metadata
	if req.WorkspaceID != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["workspaceId"] = req.WorkspaceID
	}

	p := &processstore.Process{
		ID:               req.ID,
		Type:             req.Type,
		PromptPreview:    req.PromptPreview,
		FullPrompt:       req.FullPrompt,
		Status:           processstore.Status(req.Status),
		StartTime:        req.StartTime,
		WorkingDirectory: req.WorkingDirectory,
		Metadata:         meta,
	}
	s.cfg.Store.AddProcess(p)
	sendJSON(w, http.StatusCreated, p)
}

func (s *Server) listProcesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := processstore.Filter{
		WorkspaceID: q.Get("workspace"),
		Type:        q.Get("type"),
		Limit:       atoiOr(q.Get("limit"), 0),
		Offset:      atoiOr(q.Get("offset"), 0),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	if statusCSV := q.Get("status"); statusCSV != "" {
		for _, s := range strings.Split(statusCSV, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Status = append(filter.Status, processstore.Status(s))
			}
		}
	}

	procs := s.cfg.Store.GetAllProcesses(filter)
	summaries := make([]processstore.Summary, 0, len(procs))
	for _, p := range procs {
		summaries = append(summaries, processstore.ToSummary(p))
	}
	sendJSON(w, http.StatusOK, map[string]any{"processes": summaries})
}

func (s *Server) bulkClearProcesses(w http.ResponseWriter, r *http.Request) {
	statusCSV := r.URL.Query().Get("status")
	if statusCSV == "" {
		send400(w, "status query parameter is required for bulk clear")
		return
	}
	filter := processstore.Filter{}
	for _, st := range strings.Split(statusCSV, ",") {
		if st = strings.TrimSpace(st); st != "" {
			filter.Status = append(filter.Status, processstore.Status(st))
		}
	}
	removed := s.cfg.Store.ClearProcesses(filter)
	sendJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleProcessesItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/processes/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		send400(w, "process id required")
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "cancel":
			s.cancelProcess(w, r, id)
			return
		case "stream":
			s.handleProcessStream(w, r, id)
			return
		default:
			send404(w, "unknown sub-route")
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		s.getProcess(w, id)
	case http.MethodPatch:
		s.patchProcess(w, r, id)
	case http.MethodDelete:
		s.deleteProcess(w, id)
	default:
		send400(w, "method not allowed")
	}
}

func (s *Server) getProcess(w http.ResponseWriter, id string) {
	p, ok := s.cfg.Store.GetProcess(id)
	if !ok {
		send404(w, "process not found")
		return
	}
	sendJSON(w, http.StatusOK, p)
}

type patchProcessRequest struct {
	Status           *string        `json:"status"`
	Result           *string        `json:"result"`
	Error            *string        `json:"error"`
	EndTime          *time.Time     `json:"endTime"`
	StructuredResult *any           `json:"structuredResult"`
	Metadata         map[string]any `json:"metadata"`
}

func (s *Server) patchProcess(w http.ResponseWriter, r *http.Request, id string) {
	var req patchProcessRequest
	if err := decodeBody(r, &req); err != nil {
		send400(w, "invalid JSON body")
		return
	}
	u := processstore.Update{Result: req.Result, Error: req.Error, EndTime: req.EndTime, StructuredResult: req.StructuredResult, Metadata: req.Metadata}
	if req.Status != nil {
		st := processstore.Status(*req.Status)
		u.Status = &st
	}
	if !s.cfg.Store.UpdateProcess(id, u) {
		send404(w, "process not found")
		return
	}
	p, _ := s.cfg.Store.GetProcess(id)
	sendJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProcess(w http.ResponseWriter, id string) {
	if !s.cfg.Store.RemoveProcess(id) {
		send404(w, "process not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) cancelProcess(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := s.cfg.Store.GetProcess(id)
	if !ok {
		send404(w, "process not found")
		return
	}
	if p.Status.Terminal() {
		send409(w, "process is already in a terminal state")
		return
	}
	cancelled := processstore.StatusCancelled
	now := time.Now()
	s.cfg.Store.UpdateProcess(id, processstore.Update{Status: &cancelled, EndTime: &now})
	if s.cfg.Executor != nil {
		if taskID := s.cfg.Queue.TaskIDForProcess(id); taskID != "" {
			s.cfg.Executor.CancelTask(taskID)
		}
	}
	updated, _ := s.cfg.Store.GetProcess(id)
	sendJSON(w, http.StatusOK, updated)
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req processstore.Workspace
		if err := decodeBody(r, &req); err != nil {
			send400(w, "invalid JSON body")
			return
		}
		if req.ID == "" || req.Name == "" || req.RootPath == "" {
			send400(w, "id, name, rootPath are required")
			return
		}
		s.cfg.Store.RegisterWorkspace(req)
		sendJSON(w, http.StatusCreated, req)
	case http.MethodGet:
		sendJSON(w, http.StatusOK, map[string]any{"workspaces": s.cfg.Store.GetWorkspaces()})
	default:
		send400(w, "method not allowed")
	}
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
