package aiservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/coc/internal/executor"
	cocotel "github.com/basket/coc/internal/otel"
	"github.com/basket/coc/internal/processstore"
	"github.com/basket/coc/internal/queue"
	"github.com/basket/coc/internal/tokenutil"
)

// CLITaskExecutor is the default executor.TaskExecutor (spec.md §4.2): it
// classifies a task by its declared kind, routes ai-clarification/custom/
// follow-prompt tasks (with a readable file) to the external AI service with
// a streaming-chunk callback into the process store's per-process output
// bus, and treats code-review/resolve-comments as a no-op success placeholder
// in this deployment.
type CLITaskExecutor struct {
	svc     Service
	store   processstore.Store
	logger  *slog.Logger
	metrics *cocotel.Metrics
}

// NewCLITaskExecutor constructs the default TaskExecutor. metrics is
// optional; a nil value disables AI-call duration/token recording.
func NewCLITaskExecutor(svc Service, store processstore.Store, logger *slog.Logger, metrics *cocotel.Metrics) *CLITaskExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLITaskExecutor{svc: svc, store: store, logger: logger, metrics: metrics}
}

// Execute implements executor.TaskExecutor. Retry/backoff around the
// external call is a fixed-count linear backoff, simplified from a full
// circuit breaker since this contract is per-task, not per-provider.
func (e *CLITaskExecutor) Execute(ctx context.Context, task *queue.Task) (executor.Result, error) {
	switch task.Payload.Kind {
	case queue.KindCodeReview, queue.KindResolveComments:
		return executor.Result{Success: true, Result: "no-op: placeholder in this deployment"}, nil
	case queue.KindAIClarification, queue.KindCustom, queue.KindFollowPrompt:
		prompt, err := promptFor(task)
		if err != nil {
			return executor.Result{Success: false, Error: err.Error()}, nil
		}
		return e.runWithRetry(ctx, task, prompt)
	default:
		return executor.Result{Success: false, Error: fmt.Sprintf("unrecognized task kind %q", task.Payload.Kind)}, nil
	}
}

// Cancel is a best-effort hint; the genkit-backed Service has no in-flight
// abort handle, so cancellation relies on the queue's cooperative tombstone
// plus ctx cancellation threaded through Execute.
func (e *CLITaskExecutor) Cancel(taskID string) {}

func promptFor(task *queue.Task) (string, error) {
	switch task.Payload.Kind {
	case queue.KindAIClarification:
		return task.Payload.AIClarification.Prompt, nil
	case queue.KindCustom:
		if v, ok := task.Payload.Custom.Data["prompt"].(string); ok {
			return v, nil
		}
		return task.DisplayName, nil
	case queue.KindFollowPrompt:
		fp := task.Payload.FollowPrompt
		data, err := os.ReadFile(fp.PromptFilePath)
		if err != nil {
			return "", fmt.Errorf("follow-prompt: reading %s: %w", filepath.Base(fp.PromptFilePath), err)
		}
		prompt := string(data)
		if fp.AdditionalContext != "" {
			prompt = prompt + "\n\n" + fp.AdditionalContext
		}
		return prompt, nil
	default:
		return "", fmt.Errorf("no prompt derivation for kind %q", task.Payload.Kind)
	}
}

func (e *CLITaskExecutor) runWithRetry(ctx context.Context, task *queue.Task, prompt string) (executor.Result, error) {
	attempts := 1
	if task.Config.RetryOnFailure && task.Config.RetryAttempts > 0 {
		attempts = task.Config.RetryAttempts
	}
	delay := time.Duration(task.Config.RetryDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return executor.Result{Success: false, Error: ctx.Err().Error()}, nil
			case <-time.After(delay * time.Duration(attempt)):
			}
		}

		chunks := 0
		onChunk := func(chunk string) {
			if task.ProcessID == "" || strings.TrimSpace(chunk) == "" {
				return
			}
			chunks++
			e.store.EmitProcessOutput(task.ProcessID, chunk)
		}

		callStart := time.Now()
		result, err := e.svc.Call(ctx, prompt, task.Config.Model, onChunk)
		if err == nil {
			e.recordCallMetrics(ctx, task, prompt, result, time.Since(callStart))
			return executor.Result{Success: true, Result: result}, nil
		}
		lastErr = err
		e.logger.Warn("ai call failed", "taskId", task.ID, "attempt", attempt+1, "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return executor.Result{Success: false, Error: lastErr.Error()}, nil
}

// recordCallMetrics annotates the active span and, when metrics are wired,
// records AI call duration and estimated token counts. The genkit Service
// interface reports no usage data, so token counts are estimated from the
// prompt/response text via tokenutil, the same estimator the teacher uses
// for its own context-budget accounting.
func (e *CLITaskExecutor) recordCallMetrics(ctx context.Context, task *queue.Task, prompt, result string, duration time.Duration) {
	tokensIn := tokenutil.EstimateTokens(prompt)
	tokensOut := tokenutil.EstimateTokens(result)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		cocotel.AttrModel.String(task.Config.Model),
		cocotel.AttrTokensInput.Int(tokensIn),
		cocotel.AttrTokensOutput.Int(tokensOut),
	)

	if e.metrics == nil {
		return
	}
	e.metrics.AICallDuration.Record(ctx, duration.Seconds())
	e.metrics.TokensUsed.Add(ctx, int64(tokensIn+tokensOut))
}
