package models

// EdgeKind partitions edges into the two execution behaviors.
type EdgeKind string

const (
	// EdgeKindJourney moves an entity from the source node to the target node.
	EdgeKindJourney EdgeKind = "journey"
	// EdgeKindSystem fires a side-effecting integration but moves nothing.
	EdgeKindSystem EdgeKind = "system"
)

// IsValid reports whether the kind is journey or system.
func (k EdgeKind) IsValid() bool {
	return k == EdgeKindJourney || k == EdgeKindSystem
}

// CanvasEdge is a directed edge as authored on the canvas.
type CanvasEdge struct {
	ID       string   `json:"id"        validate:"required"`
	SourceID string   `json:"source_id" validate:"required"`
	TargetID string   `json:"target_id" validate:"required"`
	Kind     EdgeKind `json:"kind"      validate:"required"`

	// Mapping assigns target input names from source output paths
	// (for example "result.score"). Optional.
	Mapping map[string]string `json:"mapping,omitempty"`

	// Action names the system integration fired by a system edge
	// (for example "crm_sync"). Ignored on journey edges.
	Action string `json:"action,omitempty"`

	// Config carries the action's integration settings (endpoint URLs,
	// credentials references). Ignored on journey edges.
	Config map[string]any `json:"config,omitempty"`
}

// IsJourney reports whether the edge moves an entity.
func (e *CanvasEdge) IsJourney() bool {
	return e.Kind == EdgeKindJourney
}

// IsSystem reports whether the edge fires a side effect.
func (e *CanvasEdge) IsSystem() bool {
	return e.Kind == EdgeKindSystem
}
