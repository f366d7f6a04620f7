package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/basket/coc/internal/queue"
	"github.com/basket/coc/internal/scheduler"
)

func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func customTemplate(name string) queue.EnqueueInput {
	return queue.EnqueueInput{
		Type:        queue.KindCustom,
		Priority:    queue.PriorityNormal,
		DisplayName: name,
		Payload:     queue.Payload{Kind: queue.KindCustom, Custom: &queue.CustomPayload{Data: map[string]any{}}},
	}
}

func TestSchedulerFiresEveryTick(t *testing.T) {
	q := queue.New(0, 0)
	sch, err := scheduler.New(scheduler.Config{
		Queue:    q,
		Interval: 20 * time.Millisecond,
		Schedules: []scheduler.Schedule{
			{Name: "every-minute", CronExpr: "* * * * *", Template: customTemplate("scheduled")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sch.Start(ctx)
	defer sch.Stop()

	waitFor(t, time.Second, func() bool { return len(q.GetQueued()) >= 1 })
}

func TestNextRunTimeAdvancesPastAfter(t *testing.T) {
	after := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	next, err := scheduler.NextRunTime("0 * * * *", after)
	if err != nil {
		t.Fatal(err)
	}
	if !next.After(after) {
		t.Fatalf("expected next run after %v, got %v", after, next)
	}
	if next.Minute() != 0 {
		t.Fatalf("expected next run on the hour, got %v", next)
	}
}

func TestInvalidCronExprRejectedAtConstruction(t *testing.T) {
	q := queue.New(0, 0)
	_, err := scheduler.New(scheduler.Config{
		Queue:     q,
		Schedules: []scheduler.Schedule{{Name: "bad", CronExpr: "not a cron expr", Template: customTemplate("x")}},
	})
	if err == nil {
		t.Fatal("expected construction to fail on invalid cron expression")
	}
}
