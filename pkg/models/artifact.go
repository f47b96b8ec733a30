package models

// ExecutionNode is the runtime form of a canvas node with every UI-only
// field stripped. The ID is carried through unchanged: status reporting and
// canvas highlighting key all lookups off it.
type ExecutionNode struct {
	ID         string                `json:"id"`
	Kind       NodeKind              `json:"kind"`
	WorkerType string                `json:"worker_type,omitempty"`
	Config     map[string]any        `json:"config,omitempty"`
	Inputs     map[string]InputSpec  `json:"inputs,omitempty"`
	Outputs    map[string]OutputSpec `json:"outputs,omitempty"`
}

// ExecutionEdge is the runtime form of a canvas edge, indexed by source node
// so the walker can partition outgoing edges without re-scanning the canvas.
type ExecutionEdge struct {
	ID       string         `json:"id"`
	TargetID string         `json:"target_id"`
	Kind     EdgeKind       `json:"kind"`
	Action   string         `json:"action,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// EdgeMapping carries the input assignments of a mapped edge.
type EdgeMapping struct {
	// Assignments maps target input name to source output path.
	Assignments map[string]string `json:"assignments"`
}

// ExecutionArtifact is the compiled, validated, immutable form of a canvas.
//
// Invariants: every id referenced by Adjacency, Edges, or EdgeData exists in
// Nodes, and the Nodes key set is identical to the authored canvas's node-id
// set, value for value.
type ExecutionArtifact struct {
	Nodes map[string]*ExecutionNode `json:"nodes"`

	// Adjacency maps a source node id to its target node ids, one entry per
	// edge. Parallel edges appear as duplicate targets.
	Adjacency map[string][]string `json:"adjacency"`

	// Edges maps a source node id to its outgoing edges, carrying the kind
	// and action the walker needs to partition them.
	Edges map[string][]*ExecutionEdge `json:"edges"`

	// EdgeData holds mappings keyed "source->target", only for edges that
	// carry one.
	EdgeData map[string]EdgeMapping `json:"edge_data"`

	EntryNodes    []string `json:"entry_nodes"`
	TerminalNodes []string `json:"terminal_nodes"`
}

// EdgeDataKey builds the EdgeData lookup key for a source/target pair.
func EdgeDataKey(sourceID, targetID string) string {
	return sourceID + "->" + targetID
}
