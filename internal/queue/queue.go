package queue

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when maxQueueSize would be exceeded.
var ErrQueueFull = errors.New("queue: max queue size exceeded")

// ErrInvalidPayload is returned by Enqueue when a KindCustom task's payload
// fails the installed CustomPayloadValidator.
var ErrInvalidPayload = errors.New("queue: custom payload failed schema validation")

// ChangeEvent is the single event type the manager emits. TaskID is empty
// for events that describe the queue as a whole (pause/resume/clear).
type ChangeEvent struct {
	Type   string
	TaskID string
}

// Change event type names.
const (
	EventEnqueued  = "enqueued"
	EventStarted   = "started"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventReordered = "reordered"
	EventPaused    = "paused"
	EventResumed   = "resumed"
	EventCleared   = "cleared"
	EventHistory   = "history-cleared"
)

// Stats summarizes queue occupancy for /api/queue/stats and /api/stats.
type Stats struct {
	Queued     int  `json:"queued"`
	Running    int  `json:"running"`
	History    int  `json:"history"`
	Paused     bool `json:"paused"`
	HighBand   int  `json:"highBand"`
	NormalBand int  `json:"normalBand"`
	LowBand    int  `json:"lowBand"`
}

// EnqueueInput is the caller-supplied shape for a new task.
type EnqueueInput struct {
	Type        PayloadKind
	Priority    Priority
	DisplayName string
	Payload     Payload
	Config      Config
}

// Manager is the Task Queue Manager (component A): canonical queue state,
// priority ordering, reorder/cancel/pause, and bounded history. All state
// lives behind a single mutex; there is no durability across restarts.
type Manager struct {
	mu sync.Mutex

	bands        map[Priority][]*Task
	running      map[string]*Task
	history      []*Task
	maxHistory   int
	maxQueueSize int
	paused       bool
	cancelledIDs map[string]bool
	customSchema *CustomPayloadValidator

	onChange []func(ChangeEvent)

	now func() time.Time
}

// New constructs a Manager. maxQueueSize of 0 means unlimited. maxHistory
// defaults to 100 when 0 is passed, matching spec.md's default.
func New(maxQueueSize, maxHistory int) *Manager {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Manager{
		bands: map[Priority][]*Task{
			PriorityHigh:   {},
			PriorityNormal: {},
			PriorityLow:    {},
		},
		running:      make(map[string]*Task),
		maxHistory:   maxHistory,
		maxQueueSize: maxQueueSize,
		cancelledIDs: make(map[string]bool),
		now:          time.Now,
	}
}

// On registers a change-event observer. Both the executor and the transport
// layer subscribe independently, per spec.md §9 ("B and D subscribe"). Per
// spec.md §9, a handler must never be invoked while the manager's mutex is
// held; emit snapshots the handler list and calls them after unlocking.
func (m *Manager) On(handler func(ChangeEvent)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, handler)
	m.mu.Unlock()
}

func (m *Manager) emit(ev ChangeEvent) {
	m.mu.Lock()
	handlers := make([]func(ChangeEvent), len(m.onChange))
	copy(handlers, m.onChange)
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Enqueue assigns an id, stamps createdAt, derives a display name if
// absent, and inserts the task at the tail of its priority band.
func (m *Manager) Enqueue(input EnqueueInput) (string, error) {
	if !input.Priority.Valid() {
		input.Priority = PriorityNormal
	}

	m.mu.Lock()
	validator := m.customSchema
	m.mu.Unlock()

	if validator != nil && input.Type == KindCustom {
		var data map[string]any
		if input.Payload.Custom != nil {
			data = input.Payload.Custom.Data
		}
		if err := validator.Validate(data); err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidPayload, err.Error())
		}
	}

	m.mu.Lock()
	if m.maxQueueSize > 0 && m.totalQueuedLocked() >= m.maxQueueSize {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: max %d", ErrQueueFull, m.maxQueueSize)
	}

	id := uuid.NewString()
	task := &Task{
		ID:        id,
		Type:      input.Type,
		Priority:  input.Priority,
		Status:    StatusQueued,
		CreatedAt: m.now().UnixMilli(),
		Payload:   input.Payload,
		Config:    input.Config,
	}
	task.DisplayName = deriveDisplayName(input.DisplayName, task, m.now())
	m.bands[task.Priority] = append(m.bands[task.Priority], task)
	m.mu.Unlock()

	m.emit(ChangeEvent{Type: EventEnqueued, TaskID: id})
	return id, nil
}

func (m *Manager) totalQueuedLocked() int {
	return len(m.bands[PriorityHigh]) + len(m.bands[PriorityNormal]) + len(m.bands[PriorityLow])
}

// deriveDisplayName implements spec.md §4.1's deterministic derivation rules
// when the caller did not supply a usable name.
func deriveDisplayName(supplied string, task *Task, now time.Time) string {
	if strings.TrimSpace(supplied) != "" {
		return supplied
	}
	switch task.Type {
	case KindAIClarification:
		if task.Payload.AIClarification != nil {
			return truncate(task.Payload.AIClarification.Prompt, 60)
		}
	case KindFollowPrompt:
		if task.Payload.FollowPrompt != nil {
			return "Follow Prompt: " + filepath.Base(task.Payload.FollowPrompt.PromptFilePath)
		}
	case KindCodeReview:
		if task.Payload.CodeReview != nil {
			name := "Code Review: " + task.Payload.CodeReview.DiffType
			if sha := task.Payload.CodeReview.CommitSha; sha != "" {
				if len(sha) > 7 {
					sha = sha[:7]
				}
				name += " (" + sha + ")"
			}
			return name
		}
	case KindResolveComments:
		if task.Payload.ResolveComments != nil {
			return fmt.Sprintf("Resolve Comments (%d)", task.Payload.ResolveComments.Count)
		}
	case KindCustom:
		if task.Payload.Custom != nil {
			if prompt, ok := task.Payload.Custom.Data["prompt"].(string); ok {
				return truncate(prompt, 60)
			}
		}
	}
	return fmt.Sprintf("Task @ %s", now.Format("15:04"))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// GetQueued returns a snapshot of all queued tasks ordered by priority band
// then createdAt.
func (m *Manager) GetQueued() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queuedLocked()
}

func (m *Manager) queuedLocked() []*Task {
	out := make([]*Task, 0, m.totalQueuedLocked())
	for _, band := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		for _, t := range m.bands[band] {
			out = append(out, t.Clone())
		}
	}
	return out
}

// GetRunning returns a snapshot of in-flight tasks.
func (m *Manager) GetRunning() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.running))
	for _, t := range m.running {
		out = append(out, t.Clone())
	}
	return out
}

// GetHistory returns a snapshot of the bounded terminal-task ring, oldest
// first.
func (m *Manager) GetHistory() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Task, 0, len(m.history))
	for _, t := range m.history {
		out = append(out, t.Clone())
	}
	return out
}

// GetStats summarizes current occupancy.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Queued:     m.totalQueuedLocked(),
		Running:    len(m.running),
		History:    len(m.history),
		Paused:     m.paused,
		HighBand:   len(m.bands[PriorityHigh]),
		NormalBand: len(m.bands[PriorityNormal]),
		LowBand:    len(m.bands[PriorityLow]),
	}
}

// GetTask returns the task with the given id wherever it currently lives,
// or nil if unknown.
func (m *Manager) GetTask(id string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.findQueuedLocked(id); t != nil {
		return t.Clone()
	}
	if t, ok := m.running[id]; ok {
		return t.Clone()
	}
	for _, t := range m.history {
		if t.ID == id {
			return t.Clone()
		}
	}
	return nil
}

func (m *Manager) findQueuedLocked(id string) *Task {
	for _, band := range m.bands {
		for _, t := range band {
			if t.ID == id {
				return t
			}
		}
	}
	return nil
}

func (m *Manager) bandIndexLocked(id string) (Priority, int) {
	for _, band := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		for i, t := range m.bands[band] {
			if t.ID == id {
				return band, i
			}
		}
	}
	return "", -1
}

// GetPosition returns the zero-based index of a queued task within the full
// concatenated queue (high, then normal, then low), or -1 if not queued.
func (m *Manager) GetPosition(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	offset := 0
	for _, band := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		for i, t := range m.bands[band] {
			if t.ID == id {
				return offset + i
			}
		}
		offset += len(m.bands[band])
	}
	return -1
}

// CancelTask cancels a queued or running task. Queued tasks are removed
// immediately and pushed to history; running tasks are tombstoned in
// cancelledIDs for the executor to observe. Returns false if the id is
// unknown or already terminal.
func (m *Manager) CancelTask(id string) bool {
	m.mu.Lock()
	if band, idx := m.bandIndexLocked(id); idx >= 0 {
		t := m.bands[band][idx]
		m.bands[band] = append(m.bands[band][:idx], m.bands[band][idx+1:]...)
		t.Status = StatusCancelled
		ts := m.now().UnixMilli()
		t.CompletedAt = &ts
		m.pushHistoryLocked(t)
		m.mu.Unlock()
		m.emit(ChangeEvent{Type: EventCancelled, TaskID: id})
		return true
	}
	if _, ok := m.running[id]; ok {
		m.cancelledIDs[id] = true
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()
	return false
}

// IsCancelled reports whether id has been tombstoned for cooperative
// cancellation while running.
func (m *Manager) IsCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelledIDs[id]
}

func (m *Manager) pushHistoryLocked(t *Task) {
	m.history = append(m.history, t)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

// MoveToTop moves a queued task to the head of its own priority band.
func (m *Manager) MoveToTop(id string) bool {
	return m.reorder(id, func(band []*Task, idx int) ([]*Task, bool) {
		if idx == 0 {
			return band, false
		}
		t := band[idx]
		band = append(band[:idx], band[idx+1:]...)
		band = append([]*Task{t}, band...)
		return band, true
	})
}

// MoveUp swaps a queued task with its predecessor in the same band.
func (m *Manager) MoveUp(id string) bool {
	return m.reorder(id, func(band []*Task, idx int) ([]*Task, bool) {
		if idx == 0 {
			return band, false
		}
		band[idx-1], band[idx] = band[idx], band[idx-1]
		return band, true
	})
}

// MoveDown swaps a queued task with its successor in the same band.
func (m *Manager) MoveDown(id string) bool {
	return m.reorder(id, func(band []*Task, idx int) ([]*Task, bool) {
		if idx >= len(band)-1 {
			return band, false
		}
		band[idx+1], band[idx] = band[idx], band[idx+1]
		return band, true
	})
}

func (m *Manager) reorder(id string, mutate func(band []*Task, idx int) ([]*Task, bool)) bool {
	m.mu.Lock()
	band, idx := m.bandIndexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	newBand, changed := mutate(m.bands[band], idx)
	m.bands[band] = newBand
	m.mu.Unlock()
	if changed {
		m.emit(ChangeEvent{Type: EventReordered, TaskID: id})
	}
	return changed
}

// Pause stops new dispatches without interrupting running tasks.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.emit(ChangeEvent{Type: EventPaused})
}

// Resume re-enables dispatch.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.emit(ChangeEvent{Type: EventResumed})
}

// Paused reports the current pause flag.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Clear removes all queued (not running) tasks, marks them cancelled, and
// pushes them to history. Returns the number removed.
func (m *Manager) Clear() int {
	m.mu.Lock()
	count := 0
	ts := m.now().UnixMilli()
	for _, band := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		for _, t := range m.bands[band] {
			t.Status = StatusCancelled
			t.CompletedAt = &ts
			m.pushHistoryLocked(t)
			count++
		}
		m.bands[band] = nil
	}
	m.mu.Unlock()
	if count > 0 {
		m.emit(ChangeEvent{Type: EventCleared})
	}
	return count
}

// ClearHistory empties the history ring.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
	m.emit(ChangeEvent{Type: EventHistory})
}

// ClaimNext pops the highest-priority, oldest queued task (if any) and
// moves it into running state, stamping startedAt. Called by the executor
// under its own dispatch loop.
func (m *Manager) ClaimNext() *Task {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return nil
	}
	for _, band := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		if len(m.bands[band]) == 0 {
			continue
		}
		t := m.bands[band][0]
		m.bands[band] = m.bands[band][1:]
		t.Status = StatusRunning
		ts := m.now().UnixMilli()
		t.StartedAt = &ts
		m.running[t.ID] = t
		m.mu.Unlock()
		m.emit(ChangeEvent{Type: EventStarted, TaskID: t.ID})
		return t.Clone()
	}
	m.mu.Unlock()
	return nil
}

// SetProcessID records the tracking process id B created for a running
// task, so later reads of the task (e.g. via GetTask) reflect the back-link
// spec.md §3 requires.
func (m *Manager) SetProcessID(id, processID string) {
	m.mu.Lock()
	if t, ok := m.running[id]; ok {
		t.ProcessID = processID
	}
	m.mu.Unlock()
}

// TaskIDForProcess reverse-looks-up the running task that owns processID,
// the inverse of SetProcessID. Returns "" if no running task matches.
func (m *Manager) TaskIDForProcess(processID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.running {
		if t.ProcessID == processID {
			return id
		}
	}
	return ""
}

// MarkCompleted transitions a running task to completed and moves it to
// history.
func (m *Manager) MarkCompleted(id, result string) {
	m.finishRunning(id, StatusCompleted, result, "")
	m.emit(ChangeEvent{Type: EventCompleted, TaskID: id})
}

// MarkFailed transitions a running task to failed and moves it to history.
func (m *Manager) MarkFailed(id, errMsg string) {
	m.finishRunning(id, StatusFailed, "", errMsg)
	m.emit(ChangeEvent{Type: EventFailed, TaskID: id})
}

// MarkCancelled transitions a running task to cancelled and moves it to
// history. Used by the executor when it observes a cooperative-cancel
// tombstone.
func (m *Manager) MarkCancelled(id string) {
	m.finishRunning(id, StatusCancelled, "", "")
	m.emit(ChangeEvent{Type: EventCancelled, TaskID: id})
}

func (m *Manager) finishRunning(id string, status Status, result, errMsg string) {
	m.mu.Lock()
	t, ok := m.running[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.running, id)
	delete(m.cancelledIDs, id)
	t.Status = status
	t.Result = result
	t.Error = errMsg
	ts := m.now().UnixMilli()
	t.CompletedAt = &ts
	m.pushHistoryLocked(t)
	m.mu.Unlock()
}
