package processstore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/basket/coc/internal/bus"
)

// Update is the shallow-merge patch shape accepted by UpdateProcess; a nil
// field leaves the corresponding Process field untouched.
type Update struct {
	Status           *Status
	Result           *string
	Error            *string
	EndTime          *time.Time
	StructuredResult *any
	Metadata         map[string]any
}

// Store is the interface shared by the in-memory and file-backed process
// registries (component C). Implementations must be safe for concurrent
// use and must never let a persistence failure propagate to the caller.
type Store interface {
	AddProcess(p *Process)
	UpdateProcess(id string, u Update) bool
	GetProcess(id string) (*Process, bool)
	GetAllProcesses(filter Filter) []*Process
	RemoveProcess(id string) bool
	ClearProcesses(filter Filter) int

	GetWorkspaces() []Workspace
	RegisterWorkspace(w Workspace)

	OnProcessChange(cb func(ChangeEvent))
	OnProcessOutput(id string, cb func(OutputEvent)) (unsubscribe func())
	EmitProcessOutput(id, content string)
	EmitProcessComplete(id string, status Status, duration time.Duration)
}

// memory is the ephemeral, single-process Store variant. It is the default
// when no data directory is configured.
type memory struct {
	mu         sync.Mutex
	processes  map[string]*Process
	workspaces map[string]Workspace
	onChange   func(ChangeEvent)
	outputBus  *bus.Bus
	logger     *slog.Logger
}

// NewMemory constructs the in-memory stub store.
func NewMemory(logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &memory{
		processes:  make(map[string]*Process),
		workspaces: make(map[string]Workspace),
		outputBus:  bus.NewWithLogger(logger),
		logger:     logger,
	}
}

func (m *memory) AddProcess(p *Process) {
	m.mu.Lock()
	m.processes[p.ID] = p.Clone()
	m.mu.Unlock()
	m.emit(ChangeEvent{Type: EventProcessAdded, Process: p.Clone()})
}

func (m *memory) UpdateProcess(id string, u Update) bool {
	m.mu.Lock()
	p, ok := m.processes[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	applyUpdate(p, u)
	snapshot := p.Clone()
	m.mu.Unlock()
	m.emit(ChangeEvent{Type: EventProcessUpdated, Process: snapshot})
	return true
}

func applyUpdate(p *Process, u Update) {
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.Result != nil {
		p.Result = *u.Result
	}
	if u.Error != nil {
		p.Error = *u.Error
	}
	if u.EndTime != nil {
		t := *u.EndTime
		p.EndTime = &t
	}
	if u.StructuredResult != nil {
		p.StructuredResult = *u.StructuredResult
	}
	if u.Metadata != nil {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			p.Metadata[k] = v
		}
	}
}

func (m *memory) GetProcess(id string) (*Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (m *memory) GetAllProcesses(filter Filter) []*Process {
	m.mu.Lock()
	matched := make([]*Process, 0, len(m.processes))
	for _, p := range m.processes {
		if filter.matches(p) {
			matched = append(matched, p.Clone())
		}
	}
	m.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*Process{}
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end]
}

func (m *memory) RemoveProcess(id string) bool {
	m.mu.Lock()
	p, ok := m.processes[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.processes, id)
	m.mu.Unlock()
	m.emit(ChangeEvent{Type: EventProcessRemoved, Process: p.Clone()})
	return true
}

func (m *memory) ClearProcesses(filter Filter) int {
	m.mu.Lock()
	removed := 0
	for id, p := range m.processes {
		if filter.matches(p) {
			delete(m.processes, id)
			removed++
		}
	}
	m.mu.Unlock()
	if removed > 0 {
		// Per spec.md §9: exactly one processes-cleared event regardless of
		// how many records were removed.
		m.emit(ChangeEvent{Type: EventProcessesCleared})
	}
	return removed
}

func (m *memory) GetWorkspaces() []Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Workspace, 0, len(m.workspaces))
	for _, w := range m.workspaces {
		out = append(out, w)
	}
	return out
}

func (m *memory) RegisterWorkspace(w Workspace) {
	m.mu.Lock()
	m.workspaces[w.ID] = w
	m.mu.Unlock()
}

func (m *memory) OnProcessChange(cb func(ChangeEvent)) {
	m.mu.Lock()
	m.onChange = cb
	m.mu.Unlock()
}

func (m *memory) emit(ev ChangeEvent) {
	m.mu.Lock()
	cb := m.onChange
	m.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// OnProcessOutput subscribes to process id's output stream, lazily backed
// by a bus topic. The returned func unsubscribes.
func (m *memory) OnProcessOutput(id string, cb func(OutputEvent)) func() {
	sub := m.outputBus.Subscribe(bus.ProcessOutputTopic(id))
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				if out, ok := ev.Payload.(OutputEvent); ok {
					cb(out)
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			m.outputBus.Unsubscribe(sub)
		})
	}
}

func (m *memory) EmitProcessOutput(id, content string) {
	m.outputBus.Publish(bus.ProcessOutputTopic(id), OutputEvent{Type: OutputChunk, Content: content})
}

func (m *memory) EmitProcessComplete(id string, status Status, duration time.Duration) {
	m.outputBus.Publish(bus.ProcessOutputTopic(id), OutputEvent{Type: OutputComplete, Status: status, Duration: duration})
}
