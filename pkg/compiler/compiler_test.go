package compiler_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/canvasflow/pkg/compiler"
	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/registry"
)

func newTestCompiler() *compiler.Compiler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return compiler.New(registry.NewDefaultRegistry(logger))
}

func node(id string, kind models.NodeKind) *models.CanvasNode {
	return &models.CanvasNode{ID: id, Kind: kind}
}

func journeyEdge(id, source, target string) *models.CanvasEdge {
	return &models.CanvasEdge{ID: id, SourceID: source, TargetID: target, Kind: models.EdgeKindJourney}
}

func TestCompileLinearCanvas(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Linear",
		Nodes: []*models.CanvasNode{
			node("start", models.NodeKindItem),
			node("middle", models.NodeKindSection),
			node("end", models.NodeKindItem),
		},
		Edges: []*models.CanvasEdge{
			journeyEdge("e1", "start", "middle"),
			journeyEdge("e2", "middle", "end"),
		},
	}

	artifact, err := c.Compile(canvas)
	require.NoError(t, err)

	assert.Len(t, artifact.Nodes, 3)
	assert.Equal(t, []string{"start"}, artifact.EntryNodes)
	assert.Equal(t, []string{"end"}, artifact.TerminalNodes)
	assert.Equal(t, []string{"middle"}, artifact.Adjacency["start"])
	assert.Equal(t, []string{"end"}, artifact.Adjacency["middle"])
}

func TestCompileStripsUIFields(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "UI fields",
		Nodes: []*models.CanvasNode{
			{
				ID:        "a",
				Kind:      models.NodeKindItem,
				Label:     "Welcome banner",
				PositionX: 120,
				PositionY: 340,
				Width:     200,
				Height:    80,
				Style:     "rounded",
				Config:    map[string]any{"color": "blue"},
			},
		},
	}

	artifact, err := c.Compile(canvas)
	require.NoError(t, err)

	compiled := artifact.Nodes["a"]
	require.NotNil(t, compiled)
	assert.Equal(t, "a", compiled.ID)
	assert.Equal(t, models.NodeKindItem, compiled.Kind)
	assert.Equal(t, map[string]any{"color": "blue"}, compiled.Config)
}

func TestCompileAdjacencyCoversEveryNode(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Isolated node",
		Nodes: []*models.CanvasNode{
			node("a", models.NodeKindItem),
			node("b", models.NodeKindItem),
			node("island", models.NodeKindItem),
		},
		Edges: []*models.CanvasEdge{journeyEdge("e1", "a", "b")},
	}

	artifact, err := c.Compile(canvas)
	require.NoError(t, err)

	// The adjacency key set mirrors the node-id set; terminal and isolated
	// nodes keep an empty entry.
	assert.Len(t, artifact.Adjacency, 3)
	assert.Empty(t, artifact.Adjacency["b"])
	assert.Empty(t, artifact.Adjacency["island"])
	assert.ElementsMatch(t, []string{"a", "island"}, artifact.EntryNodes)
	assert.ElementsMatch(t, []string{"b", "island"}, artifact.TerminalNodes)
}

func TestCompileRejectsCycle(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Cycle",
		Nodes: []*models.CanvasNode{
			node("a", models.NodeKindItem),
			node("b", models.NodeKindItem),
			node("c", models.NodeKindItem),
		},
		Edges: []*models.CanvasEdge{
			journeyEdge("e1", "a", "b"),
			journeyEdge("e2", "b", "c"),
			journeyEdge("e3", "c", "a"),
		},
	}

	artifact, err := c.Compile(canvas)
	require.Error(t, err)
	assert.Nil(t, artifact)

	verrs, ok := compiler.AsValidationErrors(err)
	require.True(t, ok)
	require.Len(t, verrs.ByKind(compiler.ErrorKindCycle), 1)
	assert.Contains(t, verrs[0].Message, "cycle")
}

func TestCompileMissingRequiredInput(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Missing input",
		Nodes: []*models.CanvasNode{
			{
				ID:         "scorer",
				Kind:       models.NodeKindWorker,
				WorkerType: "noop",
				Inputs: map[string]models.InputSpec{
					"contact": {Type: "object", Required: true},
				},
			},
		},
	}

	_, err := c.Compile(canvas)
	require.Error(t, err)

	verrs, ok := compiler.AsValidationErrors(err)
	require.True(t, ok)

	missing := verrs.ByKind(compiler.ErrorKindMissingInput)
	require.Len(t, missing, 1)
	assert.Equal(t, "scorer", missing[0].NodeID)
	assert.Equal(t, "contact", missing[0].Field)
}

func TestCompileRequiredInputSatisfiedByDefault(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Defaulted input",
		Nodes: []*models.CanvasNode{
			{
				ID:         "scorer",
				Kind:       models.NodeKindWorker,
				WorkerType: "noop",
				Inputs: map[string]models.InputSpec{
					"threshold": {Type: "number", Required: true, Default: 0.5},
				},
			},
		},
	}

	_, err := c.Compile(canvas)
	assert.NoError(t, err)
}

func TestCompileRequiredInputSatisfiedByMapping(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Mapped input",
		Nodes: []*models.CanvasNode{
			{
				ID:      "upstream",
				Kind:    models.NodeKindItem,
				Outputs: map[string]models.OutputSpec{"contact": {Type: "object"}},
			},
			{
				ID:         "scorer",
				Kind:       models.NodeKindWorker,
				WorkerType: "noop",
				Inputs: map[string]models.InputSpec{
					"contact": {Type: "object", Required: true},
				},
			},
		},
		Edges: []*models.CanvasEdge{
			{
				ID:       "e1",
				SourceID: "upstream",
				TargetID: "scorer",
				Kind:     models.EdgeKindJourney,
				Mapping:  map[string]string{"contact": "contact"},
			},
		},
	}

	artifact, err := c.Compile(canvas)
	require.NoError(t, err)

	mapping, ok := artifact.EdgeData[models.EdgeDataKey("upstream", "scorer")]
	require.True(t, ok)
	assert.Equal(t, map[string]string{"contact": "contact"}, mapping.Assignments)
}

func TestCompileUnknownWorkerType(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Unknown worker",
		Nodes: []*models.CanvasNode{
			{ID: "w", Kind: models.NodeKindWorker, WorkerType: "teleport"},
		},
	}

	_, err := c.Compile(canvas)
	require.Error(t, err)

	verrs, ok := compiler.AsValidationErrors(err)
	require.True(t, ok)

	invalid := verrs.ByKind(compiler.ErrorKindInvalidWorker)
	require.Len(t, invalid, 1)
	assert.Contains(t, invalid[0].Message, "teleport")
}

func TestCompileWorkerConfigSchemaViolation(t *testing.T) {
	c := newTestCompiler()

	// send_email requires "template" in its config.
	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Bad config",
		Nodes: []*models.CanvasNode{
			{
				ID:         "mailer",
				Kind:       models.NodeKindWorker,
				WorkerType: "send_email",
				Config:     map[string]any{"subject": "hello"},
			},
		},
	}

	_, err := c.Compile(canvas)
	require.Error(t, err)

	verrs, ok := compiler.AsValidationErrors(err)
	require.True(t, ok)
	assert.Len(t, verrs.ByKind(compiler.ErrorKindInvalidWorker), 1)
}

func TestCompileInvalidMappingTargetInput(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Bad mapping",
		Nodes: []*models.CanvasNode{
			{
				ID:      "a",
				Kind:    models.NodeKindItem,
				Outputs: map[string]models.OutputSpec{"result": {Type: "object"}},
			},
			node("b", models.NodeKindItem),
		},
		Edges: []*models.CanvasEdge{
			{
				ID:       "e1",
				SourceID: "a",
				TargetID: "b",
				Kind:     models.EdgeKindJourney,
				Mapping:  map[string]string{"nonexistent": "result"},
			},
		},
	}

	_, err := c.Compile(canvas)
	require.Error(t, err)

	verrs, ok := compiler.AsValidationErrors(err)
	require.True(t, ok)

	invalid := verrs.ByKind(compiler.ErrorKindInvalidMapping)
	require.Len(t, invalid, 1)
	assert.Equal(t, "e1", invalid[0].EdgeID)
}

func TestCompileMappingTypeMismatch(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Type mismatch",
		Nodes: []*models.CanvasNode{
			{
				ID:      "a",
				Kind:    models.NodeKindItem,
				Outputs: map[string]models.OutputSpec{"score": {Type: "number"}},
			},
			{
				ID:     "b",
				Kind:   models.NodeKindItem,
				Inputs: map[string]models.InputSpec{"name": {Type: "string"}},
			},
		},
		Edges: []*models.CanvasEdge{
			{
				ID:       "e1",
				SourceID: "a",
				TargetID: "b",
				Kind:     models.EdgeKindJourney,
				Mapping:  map[string]string{"name": "score"},
			},
		},
	}

	_, err := c.Compile(canvas)
	require.Error(t, err)

	verrs, ok := compiler.AsValidationErrors(err)
	require.True(t, ok)
	assert.Len(t, verrs.ByKind(compiler.ErrorKindInvalidMapping), 1)
}

func TestCompileSubPathMappingSkipsTypeCheck(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Sub-path mapping",
		Nodes: []*models.CanvasNode{
			{
				ID:      "a",
				Kind:    models.NodeKindItem,
				Outputs: map[string]models.OutputSpec{"result": {Type: "object"}},
			},
			{
				ID:     "b",
				Kind:   models.NodeKindItem,
				Inputs: map[string]models.InputSpec{"score": {Type: "number"}},
			},
		},
		Edges: []*models.CanvasEdge{
			{
				ID:       "e1",
				SourceID: "a",
				TargetID: "b",
				Kind:     models.EdgeKindJourney,
				Mapping:  map[string]string{"score": "result.score"},
			},
		},
	}

	_, err := c.Compile(canvas)
	assert.NoError(t, err)
}

func TestCompileCollectsAllErrors(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Everything wrong",
		Nodes: []*models.CanvasNode{
			{ID: "w", Kind: models.NodeKindWorker, WorkerType: "teleport"},
			{
				ID:     "needy",
				Kind:   models.NodeKindItem,
				Inputs: map[string]models.InputSpec{"contact": {Required: true}},
			},
		},
	}

	_, err := c.Compile(canvas)
	require.Error(t, err)

	verrs, ok := compiler.AsValidationErrors(err)
	require.True(t, ok)
	assert.Len(t, verrs, 2)
	assert.Len(t, verrs.ByKind(compiler.ErrorKindInvalidWorker), 1)
	assert.Len(t, verrs.ByKind(compiler.ErrorKindMissingInput), 1)
}

func TestCompileParallelEdgesDuplicateAdjacency(t *testing.T) {
	c := newTestCompiler()

	canvas := &models.Canvas{
		ID:   "canvas-1",
		Name: "Parallel edges",
		Nodes: []*models.CanvasNode{
			node("a", models.NodeKindItem),
			node("b", models.NodeKindItem),
		},
		Edges: []*models.CanvasEdge{
			journeyEdge("e1", "a", "b"),
			{ID: "e2", SourceID: "a", TargetID: "b", Kind: models.EdgeKindSystem, Action: "crm_sync"},
		},
	}

	artifact, err := c.Compile(canvas)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "b"}, artifact.Adjacency["a"])
	require.Len(t, artifact.Edges["a"], 2)
	assert.Equal(t, models.EdgeKindJourney, artifact.Edges["a"][0].Kind)
	assert.Equal(t, models.EdgeKindSystem, artifact.Edges["a"][1].Kind)
}

func TestCompileRejectsEdgeToMissingNode(t *testing.T) {
	c := newTestCompiler()

	// No mapping on the edge: endpoint existence must still be checked, or
	// the adjacency index would point at a node absent from the artifact.
	canvas := &models.Canvas{
		ID:    "canvas-1",
		Name:  "Dangling edge",
		Nodes: []*models.CanvasNode{node("a", models.NodeKindItem)},
		Edges: []*models.CanvasEdge{journeyEdge("e1", "a", "ghost")},
	}

	artifact, err := c.Compile(canvas)
	require.Error(t, err)
	assert.Nil(t, artifact)

	verrs, ok := compiler.AsValidationErrors(err)
	require.True(t, ok)

	invalid := verrs.ByKind(compiler.ErrorKindInvalidEdge)
	require.Len(t, invalid, 1)
	assert.Equal(t, "e1", invalid[0].EdgeID)
	assert.Equal(t, "ghost", invalid[0].NodeID)
}
