package transport

import "github.com/basket/coc/internal/processstore"

// broadcastQueueUpdated implements spec.md §4.4.5: on every A change event,
// broadcast a queue-updated snapshot of {queued, running, history, stats}.
func (s *Server) broadcastQueueUpdated() {
	s.hub.broadcast(map[string]any{
		"type":    "queue-updated",
		"queued":  s.cfg.Queue.GetQueued(),
		"running": s.cfg.Queue.GetRunning(),
		"history": s.cfg.Queue.GetHistory(),
		"stats":   s.cfg.Queue.GetStats(),
	}, "")
}

// broadcastProcessChange bridges C's change events to WebSocket clients,
// filtered by the process's workspaceId (spec.md §4.4.3/§4.4.5).
func (s *Server) broadcastProcessChange(ev processstore.ChangeEvent) {
	workspaceID := ""
	var payload map[string]any

	switch ev.Type {
	case processstore.EventProcessesCleared:
		payload = map[string]any{"type": "processes-cleared"}
	case processstore.EventProcessAdded, processstore.EventProcessUpdated, processstore.EventProcessRemoved:
		if ev.Process != nil {
			workspaceID = ev.Process.WorkspaceID()
			payload = map[string]any{
				"type":    processChangeTypeLabel(ev.Type),
				"process": processstore.ToSummary(ev.Process),
			}
		}
	}
	if payload != nil {
		s.hub.broadcast(payload, workspaceID)
	}
}

func processChangeTypeLabel(t processstore.ChangeEventType) string {
	switch t {
	case processstore.EventProcessAdded:
		return "process-added"
	case processstore.EventProcessUpdated:
		return "process-updated"
	case processstore.EventProcessRemoved:
		return "process-removed"
	default:
		return "process-changed"
	}
}
