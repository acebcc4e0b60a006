// Package builtin provides the local capabilities every orchestrator
// ships with: expression evaluation, factorial, and the task-completion
// marker tool.
package builtin

import (
	"fmt"

	"github.com/fyrsmithlabs/agentd/internal/capability"
)

// Register adds all builtin capabilities to reg.
func Register(reg *capability.Registry) {
	reg.Register(capability.NewLocal(calculateDescriptor(), Calculate))
	reg.Register(capability.NewLocal(factorialDescriptor(), Factorial))
	reg.Register(capability.NewLocal(completeTaskDescriptor(), CompleteTask))
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	return s, nil
}

func intArg(args map[string]any, key string) (int, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing required parameter: %s", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("parameter %s must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %s must be an integer, got %T", key, v)
	}
}
