package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all coc metrics instruments.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	TaskDuration     metric.Float64Histogram
	AICallDuration   metric.Float64Histogram
	TokensUsed       metric.Int64Counter
	TasksCompleted   metric.Int64Counter
	TasksFailed      metric.Int64Counter
	ActiveTasks      metric.Int64UpDownCounter
	StreamChunks     metric.Int64Counter
	QueueDepth       metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("coc.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("coc.task.duration",
		metric.WithDescription("Task processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AICallDuration, err = meter.Float64Histogram("coc.ai.duration",
		metric.WithDescription("AI service call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensUsed, err = meter.Int64Counter("coc.ai.tokens",
		metric.WithDescription("Total tokens consumed"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("coc.task.completed",
		metric.WithDescription("Total tasks completed successfully"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("coc.task.failed",
		metric.WithDescription("Total tasks that failed"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveTasks, err = meter.Int64UpDownCounter("coc.task.active",
		metric.WithDescription("Number of currently running tasks"),
	)
	if err != nil {
		return nil, err
	}

	m.StreamChunks, err = meter.Int64Counter("coc.stream.chunks",
		metric.WithDescription("Total streamed output chunks delivered"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("coc.queue.depth",
		metric.WithDescription("Number of tasks currently queued"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
