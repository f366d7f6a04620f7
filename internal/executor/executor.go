// Package executor implements component B: the bounded-concurrency worker
// pool that drains the Task Queue Manager, invokes a pluggable TaskExecutor,
// and drives A's lifecycle markers and C's process records.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	cocotel "github.com/basket/coc/internal/otel"
	"github.com/basket/coc/internal/processstore"
	"github.com/basket/coc/internal/queue"
)

// Result is what a TaskExecutor reports back for one invocation.
type Result struct {
	Success    bool
	Result     string
	Error      string
	DurationMs int64
}

// TaskExecutor is the pluggable executor contract. Execute may suspend for
// an arbitrary duration and must honor ctx's cancellation; Cancel is a
// non-blocking best-effort abort hint for an in-flight task.
type TaskExecutor interface {
	Execute(ctx context.Context, task *queue.Task) (Result, error)
	Cancel(taskID string)
}

// LifecycleEvent names the four events B emits; consumers are tests and
// instrumentation, not the core control flow.
type LifecycleEvent string

const (
	EventTaskStarted   LifecycleEvent = "taskStarted"
	EventTaskCompleted LifecycleEvent = "taskCompleted"
	EventTaskFailed    LifecycleEvent = "taskFailed"
	EventTaskCancelled LifecycleEvent = "taskCancelled"
)

// Config controls the executor's concurrency and polling behavior.
type Config struct {
	MaxConcurrency int
	PollInterval   time.Duration

	// Tracer and Metrics are optional; a nil Tracer falls back to a no-op
	// tracer and a nil Metrics disables metric recording.
	Tracer  trace.Tracer
	Metrics *cocotel.Metrics
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Tracer == nil {
		c.Tracer = nooptrace.NewTracerProvider().Tracer(cocotel.TracerName)
	}
	return c
}

// Executor is the Queue Executor (component B). It holds no authoritative
// state beyond its in-flight counter; everything else lives in the queue
// manager and the process store.
type Executor struct {
	cfg     Config
	q       *queue.Manager
	store   processstore.Store
	task    TaskExecutor
	logger  *slog.Logger
	onEvent func(LifecycleEvent, *queue.Task, string)

	inFlight atomic.Int32
	wake     chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	cancelMu sync.Mutex // leaf lock — never hold while acquiring e.q's or doing I/O
	cancels  map[string]context.CancelFunc
}

// New constructs an Executor wired to q and store, using task as the
// pluggable executor implementation.
func New(cfg Config, q *queue.Manager, store processstore.Store, task TaskExecutor, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		cfg:     cfg.withDefaults(),
		q:       q,
		store:   store,
		task:    task,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		cancels: make(map[string]context.CancelFunc),
	}
	q.On(func(ev queue.ChangeEvent) { e.signalWake() })
	return e
}

// OnLifecycleEvent registers a callback invoked for each of the four
// lifecycle transitions. Intended for tests/instrumentation.
func (e *Executor) OnLifecycleEvent(cb func(LifecycleEvent, *queue.Task, string)) {
	e.onEvent = cb
}

func (e *Executor) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) fire(kind LifecycleEvent, t *queue.Task, errMsg string) {
	if e.onEvent != nil {
		e.onEvent(kind, t, errMsg)
	}
}

// InFlight returns the current number of dispatched-but-not-returned tasks.
func (e *Executor) InFlight() int {
	return int(e.inFlight.Load())
}

// Start launches the dispatch loop. It is safe to call once; subsequent
// calls are no-ops.
func (e *Executor) Start(ctx context.Context) {
	e.once.Do(func() {
		e.wg.Add(1)
		go e.dispatchLoop(ctx)
	})
}

// Stop signals the dispatch loop to exit and waits up to timeout for
// in-flight workers to finish. Returns false if the timeout elapsed first;
// any still-running tasks remain in A's `running` set for a future restart
// to recover.
func (e *Executor) Stop(timeout time.Duration) bool {
	close(e.stop)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Executor) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-e.wake:
			e.dispatchRound(ctx)
		case <-ticker.C:
			e.dispatchRound(ctx)
		}
	}
}

func (e *Executor) dispatchRound(ctx context.Context) {
	for int(e.inFlight.Load()) < e.cfg.MaxConcurrency {
		task := e.q.ClaimNext()
		if task == nil {
			return
		}
		processID := fmt.Sprintf("queue-%s", task.ID)
		e.q.SetProcessID(task.ID, processID)
		task.ProcessID = processID
		e.inFlight.Add(1)
		e.wg.Add(1)
		go e.runTask(ctx, task, processID)
	}
}

func (e *Executor) runTask(ctx context.Context, task *queue.Task, processID string) {
	defer e.wg.Done()
	defer e.inFlight.Add(-1)
	defer e.signalWake()

	ctx, span := cocotel.StartSpan(ctx, e.cfg.Tracer, "executor.run_task",
		cocotel.AttrTaskID.String(task.ID),
		cocotel.AttrTaskType.String(string(task.Type)),
		cocotel.AttrProcessID.String(processID),
	)
	defer span.End()
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ActiveTasks.Add(ctx, 1)
		defer e.cfg.Metrics.ActiveTasks.Add(ctx, -1)
	}

	e.store.AddProcess(&processstore.Process{
		ID:            processID,
		Type:          "queue-" + string(task.Type),
		PromptPreview: truncatePreview(task.DisplayName),
		FullPrompt:    task.DisplayName,
		Status:        processstore.StatusRunning,
		StartTime:     time.Now(),
	})
	e.fire(EventTaskStarted, task, "")

	taskCtx, cancel := context.WithCancel(ctx)
	if task.Config.TimeoutMs > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, time.Duration(task.Config.TimeoutMs)*time.Millisecond)
	}
	e.cancelMu.Lock()
	e.cancels[task.ID] = cancel
	e.cancelMu.Unlock()
	defer func() {
		cancel()
		e.cancelMu.Lock()
		delete(e.cancels, task.ID)
		e.cancelMu.Unlock()
	}()

	start := time.Now()
	result, err := e.task.Execute(taskCtx, task)
	duration := time.Since(start)

	// A cancelled running task always reports cancelled, regardless of what
	// the underlying executor returned (spec.md §4.2/§9).
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.TaskDuration.Record(ctx, duration.Seconds())
	}

	if e.q.IsCancelled(task.ID) {
		e.q.MarkCancelled(task.ID)
		e.store.UpdateProcess(processID, processstore.Update{Status: statusPtr(processstore.StatusCancelled)})
		e.store.EmitProcessComplete(processID, processstore.StatusCancelled, duration)
		e.fire(EventTaskCancelled, task, "")
		span.SetStatus(codes.Error, "cancelled")
		return
	}

	if err != nil || !result.Success {
		msg := result.Error
		if err != nil {
			msg = err.Error()
		}
		e.q.MarkFailed(task.ID, msg)
		e.store.UpdateProcess(processID, processstore.Update{Status: statusPtr(processstore.StatusFailed), Error: errPtr(msg)})
		e.store.EmitProcessComplete(processID, processstore.StatusFailed, duration)
		e.fire(EventTaskFailed, task, msg)
		span.SetStatus(codes.Error, msg)
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.TasksFailed.Add(ctx, 1)
		}
		return
	}

	e.q.MarkCompleted(task.ID, result.Result)
	res := result.Result
	e.store.UpdateProcess(processID, processstore.Update{Status: statusPtr(processstore.StatusCompleted), Result: &res})
	e.store.EmitProcessComplete(processID, processstore.StatusCompleted, duration)
	e.fire(EventTaskCompleted, task, "")
	span.SetStatus(codes.Ok, "")
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.TasksCompleted.Add(ctx, 1)
	}
}

// CancelTask implements B's half of cooperative cancellation: delegate to A
// if queued, tombstone + best-effort executor.Cancel if running.
func (e *Executor) CancelTask(id string) bool {
	task := e.q.GetTask(id)
	if task == nil {
		return false
	}
	if task.Status == queue.StatusRunning {
		ok := e.q.CancelTask(id)
		e.cancelMu.Lock()
		cancel, found := e.cancels[id]
		e.cancelMu.Unlock()
		if found {
			cancel()
		}
		e.task.Cancel(id)
		return ok
	}
	return e.q.CancelTask(id)
}

func truncatePreview(s string) string {
	r := []rune(s)
	if len(r) <= 80 {
		return s
	}
	return string(r[:80]) + "..."
}

func statusPtr(s processstore.Status) *processstore.Status { return &s }
func errPtr(s string) *string                              { return &s }
