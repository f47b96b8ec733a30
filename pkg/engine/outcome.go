package engine

import "github.com/canvasflow/canvasflow/pkg/models"

// EdgeOutcome is the settled result of one fired edge. Failures are data:
// a failed system edge never propagates as an engine-level error, and a
// failed journey movement never aborts its siblings.
type EdgeOutcome struct {
	EdgeID   string          `json:"edge_id"`
	TargetID string          `json:"target_id"`
	Kind     models.EdgeKind `json:"kind"`
	Action   string          `json:"action,omitempty"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Result   map[string]any  `json:"result,omitempty"`
}

// Failed filters the outcomes down to failures, for observability.
func Failed(outcomes []EdgeOutcome) []EdgeOutcome {
	var failed []EdgeOutcome

	for _, outcome := range outcomes {
		if !outcome.Success {
			failed = append(failed, outcome)
		}
	}

	return failed
}
