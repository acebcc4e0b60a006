package builtin

import (
	"context"

	"github.com/fyrsmithlabs/agentd/internal/capability"
)

type completionResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

func completeTaskDescriptor() capability.Descriptor {
	return capability.Descriptor{
		Name:        "complete_task",
		Description: "Mark the current task as completed. Call this when the user's request has been fully handled and no further tool calls are needed.",
		Parameters:  map[string]capability.Param{},
		Required:    []string{},
	}
}

// CompleteTask signals that the current task is finished. It carries no
// payload; the observation step reads the status to stop the loop.
func CompleteTask(_ context.Context, _ map[string]any) (any, error) {
	return completionResult{Status: "success", Message: "Task completed", Result: nil}, nil
}
