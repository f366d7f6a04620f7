package processstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// fileStore is the durable Store variant: it keeps the same in-memory index
// as memory for fast reads, and additionally persists each process as one
// JSON file under <dataDir>/processes/<id>.json plus a single
// <dataDir>/workspaces.json registry. Writes are best-effort: a failure is
// logged and otherwise ignored, per spec.md §4.3/§7.
type fileStore struct {
	*memory
	dataDir string
}

// NewFile constructs the file-backed store, creating dataDir/processes if
// needed and loading any previously persisted records.
func NewFile(dataDir string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	procDir := filepath.Join(dataDir, "processes")
	if err := os.MkdirAll(procDir, 0o755); err != nil {
		return nil, err
	}
	fs := &fileStore{
		memory:  NewMemory(logger).(*memory),
		dataDir: dataDir,
	}
	fs.loadExisting()
	return fs, nil
}

type diskProcess struct {
	Process
	StartTimeISO string `json:"startTimeISO"`
	EndTimeISO   string `json:"endTimeISO,omitempty"`
}

func (fs *fileStore) processPath(id string) string {
	return filepath.Join(fs.dataDir, "processes", id+".json")
}

func (fs *fileStore) workspacesPath() string {
	return filepath.Join(fs.dataDir, "workspaces.json")
}

func (fs *fileStore) loadExisting() {
	procDir := filepath.Join(fs.dataDir, "processes")
	entries, err := os.ReadDir(procDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(procDir, e.Name()))
		if err != nil {
			fs.logger.Warn("processstore: read failed", "file", e.Name(), "error", err)
			continue
		}
		p, err := deserializeProcess(data)
		if err != nil {
			fs.logger.Warn("processstore: deserialize failed", "file", e.Name(), "error", err)
			continue
		}
		fs.memory.processes[p.ID] = p
	}

	if data, err := os.ReadFile(fs.workspacesPath()); err == nil {
		var list []Workspace
		if err := json.Unmarshal(data, &list); err == nil {
			for _, w := range list {
				fs.memory.workspaces[w.ID] = w
			}
		}
	}
}

// deserializeProcess parses the ISO-8601 date fields written by
// persistProcess back into time.Time.
func deserializeProcess(data []byte) (*Process, error) {
	var dp diskProcess
	if err := json.Unmarshal(data, &dp); err != nil {
		return nil, err
	}
	p := dp.Process
	if dp.StartTimeISO != "" {
		if t, err := time.Parse(time.RFC3339, dp.StartTimeISO); err == nil {
			p.StartTime = t
		}
	}
	if dp.EndTimeISO != "" {
		if t, err := time.Parse(time.RFC3339, dp.EndTimeISO); err == nil {
			p.EndTime = &t
		}
	}
	return &p, nil
}

// persistProcess writes p atomically (write-temp, rename) and logs, but
// never returns, on failure.
func (fs *fileStore) persistProcess(p *Process) {
	dp := diskProcess{Process: *p, StartTimeISO: p.StartTime.UTC().Format(time.RFC3339)}
	if p.EndTime != nil {
		dp.EndTimeISO = p.EndTime.UTC().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(dp, "", "  ")
	if err != nil {
		fs.logger.Warn("processstore: marshal failed", "id", p.ID, "error", err)
		return
	}
	path := fs.processPath(p.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		fs.logger.Warn("processstore: write failed", "id", p.ID, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		fs.logger.Warn("processstore: rename failed", "id", p.ID, "error", err)
	}
}

func (fs *fileStore) removePersisted(id string) {
	if err := os.Remove(fs.processPath(id)); err != nil && !os.IsNotExist(err) {
		fs.logger.Warn("processstore: remove failed", "id", id, "error", err)
	}
}

func (fs *fileStore) persistWorkspaces() {
	list := fs.memory.GetWorkspaces()
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		fs.logger.Warn("processstore: marshal workspaces failed", "error", err)
		return
	}
	tmp := fs.workspacesPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		fs.logger.Warn("processstore: write workspaces failed", "error", err)
		return
	}
	if err := os.Rename(tmp, fs.workspacesPath()); err != nil {
		fs.logger.Warn("processstore: rename workspaces failed", "error", err)
	}
}

func (fs *fileStore) AddProcess(p *Process) {
	fs.memory.AddProcess(p)
	fs.persistProcess(p)
}

func (fs *fileStore) UpdateProcess(id string, u Update) bool {
	ok := fs.memory.UpdateProcess(id, u)
	if ok {
		if p, exists := fs.memory.GetProcess(id); exists {
			fs.persistProcess(p)
		}
	}
	return ok
}

func (fs *fileStore) RemoveProcess(id string) bool {
	ok := fs.memory.RemoveProcess(id)
	if ok {
		fs.removePersisted(id)
	}
	return ok
}

func (fs *fileStore) ClearProcesses(filter Filter) int {
	toRemove := fs.memory.GetAllProcesses(filter)
	removed := fs.memory.ClearProcesses(filter)
	for _, p := range toRemove {
		fs.removePersisted(p.ID)
	}
	return removed
}

func (fs *fileStore) RegisterWorkspace(w Workspace) {
	fs.memory.RegisterWorkspace(w)
	fs.persistWorkspaces()
}
