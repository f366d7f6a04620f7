// Package queue implements the priority-ordered task queue: the canonical
// record of work the system has been asked to do, independent of how (or
// whether) it has started executing.
package queue

import "time"

// Priority is one of the three scheduling bands. Ordering within a band is
// FIFO on CreatedAt; across bands high always drains before normal, normal
// before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Valid reports whether p is one of the three recognized bands.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

// Status is a task's lifecycle state. Transitions are monotone: queued may
// move to running or cancelled; running may move to completed, failed, or
// cancelled; the three latter are terminal.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of completed/failed/cancelled.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusQueued:  {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransition reports whether moving from `from` to `to` is a legal
// monotone step under the status state machine.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// PayloadKind names the task's declared sub-kind, used both as Task.Type and
// as the discriminant of the Payload tagged union below.
type PayloadKind string

const (
	KindAIClarification PayloadKind = "ai-clarification"
	KindFollowPrompt    PayloadKind = "follow-prompt"
	KindCodeReview      PayloadKind = "code-review"
	KindResolveComments PayloadKind = "resolve-comments"
	KindCustom          PayloadKind = "custom"
)

// ValidKind reports whether k is a recognized task type.
func ValidKind(k PayloadKind) bool {
	switch k {
	case KindAIClarification, KindFollowPrompt, KindCodeReview, KindResolveComments, KindCustom:
		return true
	default:
		return false
	}
}

// AIClarificationPayload carries a single free-form prompt.
type AIClarificationPayload struct {
	Prompt           string `json:"prompt"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

// FollowPromptPayload points at a prompt file (and optionally a plan file)
// on disk for the executor to read.
type FollowPromptPayload struct {
	PromptFilePath    string `json:"promptFilePath"`
	PlanFilePath      string `json:"planFilePath,omitempty"`
	AdditionalContext string `json:"additionalContext,omitempty"`
	WorkingDirectory  string `json:"workingDirectory,omitempty"`
}

// CodeReviewPayload is opaque in this deployment; the executor treats it as
// a no-op success.
type CodeReviewPayload struct {
	DiffType  string `json:"diffType,omitempty"`
	CommitSha string `json:"commitSha,omitempty"`
}

// ResolveCommentsPayload is opaque in this deployment; the executor treats
// it as a no-op success.
type ResolveCommentsPayload struct {
	Count int `json:"count"`
}

// CustomPayload carries arbitrary caller-supplied data, optionally including
// a "prompt" string the executor and display-name deriver look for.
type CustomPayload struct {
	Data map[string]any `json:"data"`
}

// Payload is the discriminated union of task payload shapes. Exactly one of
// the pointer fields matching Kind is populated; callers must switch on Kind
// exhaustively rather than probing fields directly.
type Payload struct {
	Kind            PayloadKind             `json:"-"`
	AIClarification *AIClarificationPayload `json:"aiClarification,omitempty"`
	FollowPrompt    *FollowPromptPayload    `json:"followPrompt,omitempty"`
	CodeReview      *CodeReviewPayload      `json:"codeReview,omitempty"`
	ResolveComments *ResolveCommentsPayload `json:"resolveComments,omitempty"`
	Custom          *CustomPayload          `json:"custom,omitempty"`
}

// Config holds per-task execution knobs.
type Config struct {
	Model          string `json:"model,omitempty"`
	TimeoutMs      int    `json:"timeoutMs,omitempty"`
	RetryOnFailure bool   `json:"retryOnFailure"`
	RetryAttempts  int    `json:"retryAttempts,omitempty"`
	RetryDelayMs   int    `json:"retryDelayMs,omitempty"`
}

// Task is a single unit of work under the priority-queue discipline.
type Task struct {
	ID          string      `json:"id"`
	Type        PayloadKind `json:"type"`
	Priority    Priority    `json:"priority"`
	Status      Status      `json:"status"`
	CreatedAt   int64       `json:"createdAt"`
	StartedAt   *int64      `json:"startedAt,omitempty"`
	CompletedAt *int64      `json:"completedAt,omitempty"`
	DisplayName string      `json:"displayName"`
	Payload     Payload     `json:"payload"`
	Config      Config      `json:"config"`
	ProcessID   string      `json:"processId,omitempty"`
	Result      string      `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	RetryCount  int         `json:"retryCount"`
}

// Clone returns a defensive deep-enough copy safe to hand to callers outside
// the manager's lock.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
