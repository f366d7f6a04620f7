package transport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basket/coc/internal/executor"
	"github.com/basket/coc/internal/processstore"
	"github.com/basket/coc/internal/queue"
	"github.com/basket/coc/internal/transport"
)

// sleepyExecutor is a TaskExecutor whose Execute call blocks on ctx.Done(),
// used to prove a REST cancel request interrupts in-flight work rather than
// waiting for it to finish naturally.
type sleepyExecutor struct {
	started chan struct{}
}

func (s *sleepyExecutor) Execute(ctx context.Context, task *queue.Task) (executor.Result, error) {
	close(s.started)
	select {
	case <-ctx.Done():
		return executor.Result{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return executor.Result{Success: true, Result: "should never get here"}, nil
	}
}

func (s *sleepyExecutor) Cancel(taskID string) {}

func newTestServer(t *testing.T) (*httptest.Server, *queue.Manager, processstore.Store) {
	t.Helper()
	q := queue.New(0, 0)
	store := processstore.NewMemory(nil)
	srv := transport.New(transport.Config{Queue: q, Store: store})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, q, store
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestOptionsReturns204(t *testing.T) {
	ts, _, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/health", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header on OPTIONS response")
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestEnqueueValidationRejectsUnknownType(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue", map[string]any{"type": "not-a-kind"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestEnqueueDefaultsPriorityToNormal(t *testing.T) {
	ts, q, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue", map[string]any{
		"type":    "custom",
		"payload": map[string]any{"custom": map[string]any{"data": map[string]any{}}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	task := body["task"].(map[string]any)
	if task["priority"] != "normal" {
		t.Fatalf("expected default priority normal, got %v", task["priority"])
	}
	if len(q.GetQueued()) != 1 {
		t.Fatal("expected task to be queued")
	}
}

func TestProcessCreateGetDelete(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/processes", map[string]any{
		"id":            "p1",
		"promptPreview": "hi",
		"status":        "running",
		"startTime":     time.Now().Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/processes/p1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/processes/p1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/processes/p1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestCancelTerminalProcessReturns409(t *testing.T) {
	ts, _, store := newTestServer(t)
	store.AddProcess(&processstore.Process{ID: "p1", PromptPreview: "hi", Status: processstore.StatusCompleted, StartTime: time.Now()})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/processes/p1/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestBulkClearRequiresStatusParam(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := doJSON(t, http.MethodDelete, ts.URL+"/api/processes", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without status param, got %d", resp.StatusCode)
	}
}

func TestQueueMoveToTopUnknownIDReturns404(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue/nope/move-to-top", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteQueueItemCancelsRunningTaskWithinOneSecond(t *testing.T) {
	q := queue.New(0, 0)
	store := processstore.NewMemory(nil)
	fake := &sleepyExecutor{started: make(chan struct{})}
	exec := executor.New(executor.Config{MaxConcurrency: 1, PollInterval: 5 * time.Millisecond}, q, store, fake, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec.Start(ctx)

	srv := transport.New(transport.Config{Queue: q, Executor: exec, Store: store})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/queue", map[string]any{
		"type":    "custom",
		"payload": map[string]any{"custom": map[string]any{"data": map[string]any{}}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	id := body["task"].(map[string]any)["id"].(string)

	<-fake.started
	time.Sleep(200 * time.Millisecond)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/queue/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		found := false
		for _, h := range q.GetHistory() {
			if h.ID == id {
				found = true
				if h.Status != queue.StatusCancelled {
					t.Fatalf("expected history status cancelled, got %s", h.Status)
				}
			}
		}
		if found {
			exec.Stop(time.Second)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not reach history as cancelled within 1s")
}

func TestQueueReservedSubrouteNotTreatedAsID(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/queue/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected /api/queue/stats to route to the stats handler, got %d", resp.StatusCode)
	}
}
