package models

import "time"

// NodeStatus defines the possible states of a node within a run.
type NodeStatus string

const (
	NodeStatusPending        NodeStatus = "pending"
	NodeStatusRunning        NodeStatus = "running"
	NodeStatusWaitingForUser NodeStatus = "waiting_for_user"
	NodeStatusCompleted      NodeStatus = "completed"
	NodeStatusFailed         NodeStatus = "failed"
)

// Terminal reports whether the status is final for the node in its run.
// waiting_for_user is terminal-for-now: it suspends the branch until an
// external completion arrives, but does not finish the run.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed
}

// NodeState is the per-node record the engine mutates as a run progresses.
type NodeState struct {
	Status     NodeStatus     `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// TriggerDescriptor records what started a run.
type TriggerDescriptor struct {
	Source   string         `json:"source"` // "webhook", "schedule", "api", "callback"
	EntityID string         `json:"entity_id,omitempty"`
	NodeID   string         `json:"node_id,omitempty"` // Start node, defaults to entry nodes
	Data     map[string]any `json:"data,omitempty"`
}

// Run is one execution instance of a flow, pinned to a version at start.
// The version id never changes even if the flow is re-versioned later.
type Run struct {
	ID         string                `json:"id"`
	FlowID     string                `json:"flow_id"`
	VersionID  string                `json:"version_id"`
	NodeStates map[string]*NodeState `json:"node_states"`
	Trigger    TriggerDescriptor     `json:"trigger"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// NodeState returns the state record for a node, creating a pending one if
// the node has not been touched yet.
func (r *Run) NodeState(nodeID string) *NodeState {
	if r.NodeStates == nil {
		r.NodeStates = make(map[string]*NodeState)
	}

	state, ok := r.NodeStates[nodeID]
	if !ok {
		state = &NodeState{Status: NodeStatusPending}
		r.NodeStates[nodeID] = state
	}

	return state
}

// Finished reports whether the run has been marked terminal.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}
