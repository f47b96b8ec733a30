// Package protocol defines the interfaces and contracts between the engine
// and its pluggable collaborators: worker implementations and system-edge
// integration actions.
package protocol

import (
	"context"
	"log/slog"
)

// ActionContext carries the execution context a system action runs under.
type ActionContext struct {
	RunID      string
	FlowID     string
	NodeID     string // The node whose completion fired the edge
	EdgeID     string
	EntityID   string
	NodeOutput map[string]any
	Logger     *slog.Logger
}

// SystemAction is a side-effecting integration fired by a system edge.
// Failures are recorded as data and never escalate past the edge.
type SystemAction interface {
	Execute(ctx context.Context, actx ActionContext) (map[string]any, error)
}

// SystemActionFactory creates action instances from edge configuration.
type SystemActionFactory interface {
	Create(config map[string]any) (SystemAction, error)
	ID() string
	Schema() map[string]any
}

// Worker is an in-process worker implementation. Long-running workers run
// outside the process entirely and report back through the engine's
// completion callback instead of implementing this.
type Worker interface {
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

func (f WorkerFunc) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f(ctx, input)
}

// CompletionStatus is the terminal status a worker reports for a node.
type CompletionStatus string

const (
	CompletionStatusCompleted CompletionStatus = "completed"
	CompletionStatusFailed    CompletionStatus = "failed"
)

// WorkerCompletion is the asynchronous completion contract: a long-running
// node reports this back to the engine, which resumes edge-walking from the
// node. The engine never polls.
type WorkerCompletion struct {
	Status CompletionStatus `json:"status"`
	Output map[string]any   `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
}
