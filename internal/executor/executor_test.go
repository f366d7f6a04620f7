package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/coc/internal/processstore"
	"github.com/basket/coc/internal/queue"
)

func customInput(priority queue.Priority, name string) queue.EnqueueInput {
	return queue.EnqueueInput{
		Type:        queue.KindCustom,
		Priority:    priority,
		DisplayName: name,
		Payload:     queue.Payload{Kind: queue.KindCustom, Custom: &queue.CustomPayload{Data: map[string]any{}}},
	}
}

// fakeTask is a TaskExecutor whose per-task behavior is driven by the
// outcome registered under the task's display name.
type fakeTask struct {
	mu        sync.Mutex
	outcomes  map[string]func(ctx context.Context) (Result, error)
	cancelled map[string]bool
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
}

func newFakeTask() *fakeTask {
	return &fakeTask{outcomes: map[string]func(ctx context.Context) (Result, error){}, cancelled: map[string]bool{}}
}

func (f *fakeTask) on(name string, fn func(ctx context.Context) (Result, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[name] = fn
}

func (f *fakeTask) Execute(ctx context.Context, task *queue.Task) (Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	fn, ok := f.outcomes[task.DisplayName]
	f.mu.Unlock()
	if !ok {
		return Result{Success: true, Result: "ok"}, nil
	}
	return fn(ctx)
}

func (f *fakeTask) Cancel(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[taskID] = true
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestConcurrencyCapNeverExceeded(t *testing.T) {
	q := queue.New(0, 0)
	store := processstore.NewMemory(nil)
	fake := newFakeTask()

	release := make(chan struct{})
	block := func(ctx context.Context) (Result, error) {
		<-release
		return Result{Success: true, Result: "done"}, nil
	}
	for i := 0; i < 5; i++ {
		name := "task"
		fake.on(name, block)
	}

	e := New(Config{MaxConcurrency: 2, PollInterval: 5 * time.Millisecond}, q, store, fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	for i := 0; i < 5; i++ {
		q.Enqueue(customInput(queue.PriorityNormal, "task"))
	}

	waitFor(t, time.Second, func() bool { return fake.inFlight.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := fake.maxSeen.Load(); got > 2 {
		t.Fatalf("concurrency cap exceeded: saw %d in flight", got)
	}
	close(release)
	waitFor(t, time.Second, func() bool { return len(q.GetHistory()) == 5 })
	e.Stop(time.Second)
}

func TestExactlyOneTerminalTransitionPerTask(t *testing.T) {
	q := queue.New(0, 0)
	store := processstore.NewMemory(nil)
	fake := newFakeTask()
	fake.on("ok", func(ctx context.Context) (Result, error) {
		return Result{Success: true, Result: "done"}, nil
	})

	var events []LifecycleEvent
	var mu sync.Mutex
	e := New(Config{MaxConcurrency: 1, PollInterval: 5 * time.Millisecond}, q, store, fake, nil)
	e.OnLifecycleEvent(func(kind LifecycleEvent, task *queue.Task, errMsg string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, kind)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	id, _ := q.Enqueue(customInput(queue.PriorityNormal, "ok"))

	waitFor(t, time.Second, func() bool {
		task := q.GetTask(id)
		return task != nil && task.Status.Terminal()
	})
	e.Stop(time.Second)

	mu.Lock()
	defer mu.Unlock()
	terminals := 0
	for _, ev := range events {
		if ev == EventTaskCompleted || ev == EventTaskFailed || ev == EventTaskCancelled {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal lifecycle event, got %d (%v)", terminals, events)
	}
}

func TestCancelWhileRunningAlwaysYieldsCancelled(t *testing.T) {
	q := queue.New(0, 0)
	store := processstore.NewMemory(nil)
	fake := newFakeTask()

	started := make(chan struct{})
	fake.on("long", func(ctx context.Context) (Result, error) {
		close(started)
		<-ctx.Done()
		// Underlying executor reports success despite being asked to abort;
		// the cooperative-cancellation tombstone must still win.
		return Result{Success: true, Result: "raced past cancellation"}, nil
	})

	e := New(Config{MaxConcurrency: 1, PollInterval: 5 * time.Millisecond}, q, store, fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	id, _ := q.Enqueue(customInput(queue.PriorityNormal, "long"))
	<-started
	if !e.CancelTask(id) {
		t.Fatal("expected cancel to succeed on a running task")
	}
	cancel() // unblocks the fake task's ctx.Done() wait

	waitFor(t, time.Second, func() bool {
		task := q.GetTask(id)
		return task != nil && task.Status == queue.StatusCancelled
	})
	e.Stop(time.Second)

	proc, ok := store.GetProcess(q.GetTask(id).ProcessID)
	if !ok {
		t.Fatal("expected tracking process to exist")
	}
	if proc.Status != processstore.StatusCancelled {
		t.Fatalf("expected process status cancelled, got %s", proc.Status)
	}
}

// TestCancelTaskInterruptsLongRunningExecutorPromptly proves cancellation is
// a real per-task token: an executor callable sleeping far longer than the
// test's deadline must still unblock on ctx.Done() and land in history well
// before its sleep would naturally finish.
func TestCancelTaskInterruptsLongRunningExecutorPromptly(t *testing.T) {
	q := queue.New(0, 0)
	store := processstore.NewMemory(nil)
	fake := newFakeTask()

	started := make(chan struct{})
	fake.on("slow", func(ctx context.Context) (Result, error) {
		close(started)
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return Result{Success: true, Result: "should never get here"}, nil
		}
	})

	e := New(Config{MaxConcurrency: 1, PollInterval: 5 * time.Millisecond}, q, store, fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	id, _ := q.Enqueue(customInput(queue.PriorityNormal, "slow"))
	<-started

	time.Sleep(50 * time.Millisecond)
	if !e.CancelTask(id) {
		t.Fatal("expected cancel to succeed on a running task")
	}

	waitFor(t, time.Second, func() bool {
		task := q.GetTask(id)
		return task != nil && task.Status == queue.StatusCancelled
	})
	e.Stop(time.Second)
}

func TestPausePreventsNewDispatchNotCompletionHandling(t *testing.T) {
	q := queue.New(0, 0)
	store := processstore.NewMemory(nil)
	fake := newFakeTask()

	release := make(chan struct{})
	fake.on("running", func(ctx context.Context) (Result, error) {
		<-release
		return Result{Success: true, Result: "done"}, nil
	})

	e := New(Config{MaxConcurrency: 1, PollInterval: 5 * time.Millisecond}, q, store, fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	runningID, _ := q.Enqueue(customInput(queue.PriorityNormal, "running"))
	waitFor(t, time.Second, func() bool { return fake.inFlight.Load() == 1 })

	q.Pause()
	waitingID, _ := q.Enqueue(customInput(queue.PriorityNormal, "running"))
	time.Sleep(30 * time.Millisecond)
	if task := q.GetTask(waitingID); task == nil || task.Status != queue.StatusQueued {
		t.Fatal("expected newly enqueued task to remain queued while paused")
	}

	close(release)
	waitFor(t, time.Second, func() bool {
		task := q.GetTask(runningID)
		return task != nil && task.Status == queue.StatusCompleted
	})
	e.Stop(time.Second)
}

func TestFailedResultDoesNotAffectOtherTasks(t *testing.T) {
	q := queue.New(0, 0)
	store := processstore.NewMemory(nil)
	fake := newFakeTask()
	fake.on("bad", func(ctx context.Context) (Result, error) {
		return Result{Success: false, Error: "boom"}, nil
	})
	fake.on("good", func(ctx context.Context) (Result, error) {
		return Result{Success: true, Result: "fine"}, nil
	})

	e := New(Config{MaxConcurrency: 2, PollInterval: 5 * time.Millisecond}, q, store, fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	badID, _ := q.Enqueue(customInput(queue.PriorityNormal, "bad"))
	goodID, _ := q.Enqueue(customInput(queue.PriorityNormal, "good"))

	waitFor(t, time.Second, func() bool {
		bad, good := q.GetTask(badID), q.GetTask(goodID)
		return bad != nil && good != nil && bad.Status.Terminal() && good.Status.Terminal()
	})
	e.Stop(time.Second)

	if q.GetTask(badID).Status != queue.StatusFailed {
		t.Fatalf("expected bad task to fail, got %s", q.GetTask(badID).Status)
	}
	if q.GetTask(goodID).Status != queue.StatusCompleted {
		t.Fatalf("expected good task to complete, got %s", q.GetTask(goodID).Status)
	}
}
