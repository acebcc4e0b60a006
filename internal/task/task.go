// Package task models the display-only subtask list a decomposition
// produces. The list rides along with a run for rendering and history;
// the orchestration loop itself never consults it.
package task

import (
	"github.com/google/uuid"

	"github.com/fyrsmithlabs/agentd/internal/stage"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// Status is the lifecycle of one subtask.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Task is one decomposed subtask.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
}

// FromDecomposition builds the task list from the last decomposition
// message in the transcript. ok is false when no decomposition ran.
func FromDecomposition(msgs []transcript.Message) ([]Task, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Type != transcript.TypeTaskDecomposition || m.Role != transcript.RoleAssistant {
			continue
		}
		descs, ok := stage.ParseDecomposition(m.Content)
		if !ok {
			continue
		}
		tasks := make([]Task, 0, len(descs))
		for _, d := range descs {
			tasks = append(tasks, Task{
				ID:          uuid.NewString(),
				Description: d,
				Status:      StatusPending,
			})
		}
		return tasks, true
	}
	return nil, false
}
