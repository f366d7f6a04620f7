// Package processstore implements component C: the AIProcess registry, its
// change-event hook, and per-process output streams.
package processstore

import "time"

// Status mirrors queue.Status; AIProcess has the same five-value lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of completed/failed/cancelled.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Process is an observable record of a unit of AI-driven work.
type Process struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	PromptPreview    string         `json:"promptPreview"`
	FullPrompt       string         `json:"fullPrompt,omitempty"`
	Status           Status         `json:"status"`
	StartTime        time.Time      `json:"startTime"`
	EndTime          *time.Time     `json:"endTime,omitempty"`
	Error            string         `json:"error,omitempty"`
	Result           string         `json:"result,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ParentProcessID  string         `json:"parentProcessId,omitempty"`
	SDKSessionID     string         `json:"sdkSessionId,omitempty"`
	StructuredResult any            `json:"structuredResult,omitempty"`
	RawStdoutFile    string         `json:"rawStdoutFilePath,omitempty"`
	ResultFile       string         `json:"resultFilePath,omitempty"`
}

// WorkspaceID extracts the workspaceId from Metadata, if present.
func (p *Process) WorkspaceID() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata["workspaceId"].(string); ok {
		return v
	}
	return ""
}

// Clone returns a defensive copy.
func (p *Process) Clone() *Process {
	if p == nil {
		return nil
	}
	c := *p
	if p.EndTime != nil {
		t := *p.EndTime
		c.EndTime = &t
	}
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Summary is the slimmed projection used for WebSocket/REST-list broadcast:
// it strips large fields (FullPrompt, Result, StructuredResult).
type Summary struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	PromptPreview    string         `json:"promptPreview"`
	Status           Status         `json:"status"`
	StartTime        string         `json:"startTime"`
	EndTime          string         `json:"endTime,omitempty"`
	Error            string         `json:"error,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ParentProcessID  string         `json:"parentProcessId,omitempty"`
}

// ToSummary projects p into its wire-safe summary, serializing timestamps as
// ISO-8601.
func ToSummary(p *Process) Summary {
	s := Summary{
		ID:               p.ID,
		Type:             p.Type,
		PromptPreview:    p.PromptPreview,
		Status:           p.Status,
		StartTime:        p.StartTime.UTC().Format(time.RFC3339),
		Error:            p.Error,
		WorkingDirectory: p.WorkingDirectory,
		Metadata:         p.Metadata,
		ParentProcessID:  p.ParentProcessID,
	}
	if p.EndTime != nil {
		s.EndTime = p.EndTime.UTC().Format(time.RFC3339)
	}
	return s
}

// ChangeEventType names the four ProcessChangeEvent variants.
type ChangeEventType string

const (
	EventProcessAdded     ChangeEventType = "process-added"
	EventProcessUpdated   ChangeEventType = "process-updated"
	EventProcessRemoved   ChangeEventType = "process-removed"
	EventProcessesCleared ChangeEventType = "processes-cleared"
)

// ChangeEvent is the tagged variant C emits through its single onProcessChange
// hook. Process is nil for ProcessesCleared.
type ChangeEvent struct {
	Type    ChangeEventType
	Process *Process
}

// OutputEventType names the two ProcessOutputEvent variants.
type OutputEventType string

const (
	OutputChunk    OutputEventType = "chunk"
	OutputComplete OutputEventType = "complete"
)

// OutputEvent is a single entry on a process's per-id output stream.
type OutputEvent struct {
	Type     OutputEventType
	Content  string        // set when Type == OutputChunk
	Status   Status        // set when Type == OutputComplete
	Duration time.Duration // set when Type == OutputComplete
}

// Workspace is a client-scoped grouping label. Registration is idempotent.
type Workspace struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RootPath string `json:"rootPath"`
	Color    string `json:"color,omitempty"`
}

// Filter narrows GetAllProcesses results.
type Filter struct {
	WorkspaceID string
	Status      []Status
	Type        string
	Since       time.Time
	Limit       int
	Offset      int
}

func (f Filter) matches(p *Process) bool {
	if f.WorkspaceID != "" && p.WorkspaceID() != f.WorkspaceID {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if p.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && p.StartTime.Before(f.Since) {
		return false
	}
	return true
}
