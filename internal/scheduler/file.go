package scheduler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/basket/coc/internal/queue"
)

// fileSchedule is the on-disk shape of one schedule.yaml entry; Template
// mirrors queue.EnqueueInput's caller-facing fields rather than embedding
// the queue package's own JSON tags, since schedule.yaml is YAML-authored
// by an operator, not a REST client.
type fileSchedule struct {
	Name        string            `yaml:"name"`
	CronExpr    string            `yaml:"cron"`
	Type        queue.PayloadKind `yaml:"type"`
	Priority    queue.Priority    `yaml:"priority"`
	DisplayName string            `yaml:"displayName"`
	Prompt      string            `yaml:"prompt"`
}

// LoadSchedules reads an optional schedule.yaml of cron-driven task
// templates. A missing file is not an error: it yields an empty schedule
// list, matching this deployment's "scheduling is opt-in" posture.
func LoadSchedules(path string) ([]Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw struct {
		Schedules []fileSchedule `yaml:"schedules"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]Schedule, 0, len(raw.Schedules))
	for _, fs := range raw.Schedules {
		if fs.CronExpr == "" {
			return nil, fmt.Errorf("schedule %q: cron expression required", fs.Name)
		}
		kind := fs.Type
		if kind == "" {
			kind = queue.KindAIClarification
		}
		priority := fs.Priority
		if !priority.Valid() {
			priority = queue.PriorityNormal
		}
		out = append(out, Schedule{
			Name:     fs.Name,
			CronExpr: fs.CronExpr,
			Template: queue.EnqueueInput{
				Type:        kind,
				Priority:    priority,
				DisplayName: fs.DisplayName,
				Payload: queue.Payload{
					Kind:            kind,
					AIClarification: &queue.AIClarificationPayload{Prompt: fs.Prompt},
				},
			},
		})
	}
	return out, nil
}
