package queue

import "testing"

func customInput(priority Priority, displayName string) EnqueueInput {
	return EnqueueInput{
		Type:        KindCustom,
		Priority:    priority,
		DisplayName: displayName,
		Payload:     Payload{Kind: KindCustom, Custom: &CustomPayload{Data: map[string]any{}}},
	}
}

func TestEnqueuePriorityOrdering(t *testing.T) {
	m := New(0, 0)
	lowID, _ := m.Enqueue(customInput(PriorityLow, "L"))
	highID, _ := m.Enqueue(customInput(PriorityHigh, "H"))
	normalID, _ := m.Enqueue(customInput(PriorityNormal, "N"))

	queued := m.GetQueued()
	if len(queued) != 3 {
		t.Fatalf("expected 3 queued tasks, got %d", len(queued))
	}
	if queued[0].ID != highID || queued[1].ID != normalID || queued[2].ID != lowID {
		t.Fatalf("expected order [high, normal, low], got %v", []string{queued[0].ID, queued[1].ID, queued[2].ID})
	}
}

func TestMoveToTopStaysWithinBand(t *testing.T) {
	m := New(0, 0)
	a, _ := m.Enqueue(customInput(PriorityNormal, "A"))
	b, _ := m.Enqueue(customInput(PriorityNormal, "B"))
	c, _ := m.Enqueue(customInput(PriorityNormal, "C"))

	if !m.MoveToTop(c) {
		t.Fatal("expected move-to-top to succeed")
	}
	queued := m.GetQueued()
	if queued[0].ID != c || queued[1].ID != a || queued[2].ID != b {
		t.Fatalf("expected order [C, A, B], got %v", []string{queued[0].ID, queued[1].ID, queued[2].ID})
	}

	d, _ := m.Enqueue(customInput(PriorityHigh, "D"))
	queued = m.GetQueued()
	if queued[0].ID != d {
		t.Fatalf("expected high-priority D to lead, got %s", queued[0].ID)
	}
}

func TestMoveToTopNeverChangesBand(t *testing.T) {
	m := New(0, 0)
	hi, _ := m.Enqueue(customInput(PriorityHigh, "H"))
	m.Enqueue(customInput(PriorityNormal, "N"))

	before := m.GetTask(hi).Priority
	m.MoveToTop(hi)
	after := m.GetTask(hi).Priority
	if before != after {
		t.Fatalf("priority band changed: %s -> %s", before, after)
	}
}

func TestCancelQueuedTask(t *testing.T) {
	m := New(0, 0)
	id, _ := m.Enqueue(customInput(PriorityNormal, "A"))
	if !m.CancelTask(id) {
		t.Fatal("expected cancel to succeed")
	}
	if len(m.GetQueued()) != 0 {
		t.Fatal("expected queued list to be empty after cancel")
	}
	hist := m.GetHistory()
	if len(hist) != 1 || hist[0].Status != StatusCancelled {
		t.Fatalf("expected one cancelled history entry, got %+v", hist)
	}
}

func TestCancelRunningTombstonesID(t *testing.T) {
	m := New(0, 0)
	id, _ := m.Enqueue(customInput(PriorityNormal, "A"))
	m.ClaimNext()
	if !m.CancelTask(id) {
		t.Fatal("expected cancel of running task to succeed")
	}
	if !m.IsCancelled(id) {
		t.Fatal("expected id to be tombstoned in cancelledIDs")
	}
	if len(m.GetRunning()) != 1 {
		t.Fatal("running task must not be removed until the worker reports completion")
	}
}

func TestCancelUnknownReturnsFalse(t *testing.T) {
	m := New(0, 0)
	if m.CancelTask("nope") {
		t.Fatal("expected cancel of unknown id to return false")
	}
}

func TestHistoryBound(t *testing.T) {
	m := New(0, 2)
	for i := 0; i < 5; i++ {
		id, _ := m.Enqueue(customInput(PriorityNormal, "A"))
		m.CancelTask(id)
	}
	hist := m.GetHistory()
	if len(hist) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(hist))
	}
}

func TestEnqueueFullQueueFails(t *testing.T) {
	m := New(1, 0)
	if _, err := m.Enqueue(customInput(PriorityNormal, "A")); err != nil {
		t.Fatalf("unexpected error on first enqueue: %v", err)
	}
	if _, err := m.Enqueue(customInput(PriorityNormal, "B")); err == nil {
		t.Fatal("expected second enqueue to fail on a full queue")
	}
}

func TestPauseDoesNotInterruptRunning(t *testing.T) {
	m := New(0, 0)
	m.Enqueue(customInput(PriorityNormal, "A"))
	m.ClaimNext()
	m.Pause()
	if len(m.GetRunning()) != 1 {
		t.Fatal("pause must not affect already-running tasks")
	}
	if m.ClaimNext() != nil {
		t.Fatal("expected claim to return nil while paused")
	}
}

func TestClearEmitsOnlyQueuedNotRunning(t *testing.T) {
	m := New(0, 0)
	m.Enqueue(customInput(PriorityNormal, "A"))
	m.Enqueue(customInput(PriorityNormal, "B"))
	m.ClaimNext()

	removed := m.Clear()
	if removed != 1 {
		t.Fatalf("expected 1 queued task cleared, got %d", removed)
	}
	if len(m.GetRunning()) != 1 {
		t.Fatal("clear must not affect running tasks")
	}
}

func TestDisplayNameDerivation(t *testing.T) {
	m := New(0, 0)
	id, _ := m.Enqueue(EnqueueInput{
		Type:     KindAIClarification,
		Priority: PriorityNormal,
		Payload: Payload{Kind: KindAIClarification, AIClarification: &AIClarificationPayload{
			Prompt: "hello world",
		}},
	})
	task := m.GetTask(id)
	if task.DisplayName != "hello world" {
		t.Fatalf("expected derived display name, got %q", task.DisplayName)
	}
}

func TestChangeEventNotEmittedUnderLock(t *testing.T) {
	m := New(0, 0)
	done := make(chan struct{}, 1)
	m.On(func(ev ChangeEvent) {
		// Re-entrant call must not deadlock if the handler touches the manager.
		m.GetStats()
		done <- struct{}{}
	})
	m.Enqueue(customInput(PriorityNormal, "A"))
	select {
	case <-done:
	default:
		t.Fatal("expected change handler to be invoked")
	}
}
