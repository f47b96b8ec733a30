// Package models defines canvas node models for graph compilation and execution
package models

// NodeKind is the closed set of node variants a canvas may contain.
type NodeKind string

const (
	NodeKindWorker    NodeKind = "worker"    // Runs a registered worker subtype, possibly asynchronously
	NodeKindUX        NodeKind = "ux"        // Waits for user interaction before completing
	NodeKindSplitter  NodeKind = "splitter"  // Fans an entity out across all outgoing journey edges
	NodeKindCollector NodeKind = "collector" // Joins branches; completes immediately on entry
	NodeKindSection   NodeKind = "section"   // Visual grouping; completes immediately on entry
	NodeKindItem      NodeKind = "item"      // Plain canvas item; completes immediately on entry
)

// ValidNodeKinds lists every accepted node kind.
var ValidNodeKinds = []NodeKind{
	NodeKindWorker,
	NodeKindUX,
	NodeKindSplitter,
	NodeKindCollector,
	NodeKindSection,
	NodeKindItem,
}

// IsValid reports whether the kind is one of the closed variants.
func (k NodeKind) IsValid() bool {
	for _, valid := range ValidNodeKinds {
		if k == valid {
			return true
		}
	}

	return false
}

// InputSpec declares one named input a node consumes.
type InputSpec struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// OutputSpec declares one named output a node produces.
type OutputSpec struct {
	Type string `json:"type"`
}

// CanvasNode is a node instance as authored on the canvas. The ID is stable
// across edits and is preserved verbatim through compilation.
type CanvasNode struct {
	ID         string                `json:"id"          validate:"required"`
	Kind       NodeKind              `json:"kind"        validate:"required"`
	WorkerType string                `json:"worker_type,omitempty"` // Worker nodes only
	Config     map[string]any        `json:"config,omitempty"`
	Inputs     map[string]InputSpec  `json:"inputs,omitempty"`
	Outputs    map[string]OutputSpec `json:"outputs,omitempty"`

	// UI-only fields, stripped by the compiler.
	Label     string `json:"label,omitempty"`
	PositionX int    `json:"position_x,omitempty"`
	PositionY int    `json:"position_y,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Style     string `json:"style,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
}

// CompletesImmediately reports whether a node of this kind finishes as soon
// as it is entered, with no worker dispatch or user interaction.
func (n *CanvasNode) CompletesImmediately() bool {
	switch n.Kind {
	case NodeKindWorker, NodeKindUX:
		return false
	default:
		return true
	}
}
