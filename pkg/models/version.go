package models

import "time"

// FlowVersion is an immutable snapshot pairing an authored canvas with its
// compiled artifact. Versions are never updated or deleted while a run
// references them; only the flow's current pointer moves.
type FlowVersion struct {
	ID        string             `json:"id"`
	FlowID    string             `json:"flow_id"`
	Graph     *Canvas            `json:"graph"`
	Artifact  *ExecutionArtifact `json:"artifact"`
	Message   string             `json:"message,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
