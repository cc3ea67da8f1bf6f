// Package engine implements the three research workflows: the
// researcher ReAct loop, the supervisor diffusion loop, and the master
// pipeline that composes them. External collaborators (LLM, search,
// tools, fact store) are consumed through narrow interfaces so every
// step can degrade to a deterministic fallback instead of failing.
package engine

import "context"

// Iteration budgets.
const (
	DefaultResearcherIterations = 5
	DefaultSupervisorIterations = 5
)

// Result wraps a step's output and records whether it came from the
// real collaborator or from a fallback.
type Result[T any] struct {
	Value    T
	Degraded bool
	Reason   string
}

// Ok marks a value as produced by the real collaborator.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Degraded marks a value as a fallback substitution.
func Degraded[T any](v T, reason string) Result[T] {
	return Result[T]{Value: v, Degraded: true, Reason: reason}
}

// ToolInvoker executes a named tool with schema-validated parameters.
// The engine only depends on this surface, not on the registry itself.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, params map[string]any) (any, error)
}

// StatusFunc receives one short progress line per logical step. A nil
// StatusFunc disables streaming.
type StatusFunc func(status string)

func emit(status StatusFunc, line string) {
	if status != nil {
		status(line)
	}
}
