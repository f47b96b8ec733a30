// Package compiler turns an authored canvas into a validated, optimized,
// immutable execution artifact. Compilation never partially succeeds: either
// every check passes and one consistent artifact is returned, or the full
// set of validation errors is returned and no artifact is produced.
package compiler

import (
	"fmt"
	"strings"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/registry"
)

type Compiler struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Compiler {
	return &Compiler{registry: reg}
}

// Compile validates the canvas and, only if every check passes, builds the
// execution artifact. On failure the returned error is a ValidationErrors
// carrying every collected failure.
func (c *Compiler) Compile(canvas *models.Canvas) (*models.ExecutionArtifact, error) {
	var errs ValidationErrors

	errs = append(errs, c.detectCycles(canvas)...)
	errs = append(errs, c.checkEdgeEndpoints(canvas)...)
	errs = append(errs, c.checkRequiredInputs(canvas)...)
	errs = append(errs, c.checkWorkerTypes(canvas)...)
	errs = append(errs, c.checkEdgeMappings(canvas)...)

	if len(errs) > 0 {
		return nil, errs
	}

	return c.optimize(canvas), nil
}

// dfsColor is the visit state of the white/gray/black cycle scan.
type dfsColor int

const (
	white dfsColor = iota // Unvisited
	gray                  // On the current DFS stack
	black                 // Fully explored
)

// detectCycles runs a depth-first coloring scan over every node in O(V+E).
// Any cycle is reported as a single global failure.
func (c *Compiler) detectCycles(canvas *models.Canvas) ValidationErrors {
	adjacency := make(map[string][]string, len(canvas.Nodes))
	for _, edge := range canvas.Edges {
		adjacency[edge.SourceID] = append(adjacency[edge.SourceID], edge.TargetID)
	}

	colors := make(map[string]dfsColor, len(canvas.Nodes))

	var cyclePath []string

	var visit func(id string, path []string) bool
	visit = func(id string, path []string) bool {
		colors[id] = gray
		path = append(path, id)

		for _, next := range adjacency[id] {
			switch colors[next] {
			case gray:
				cyclePath = append(path, next)

				return true
			case white:
				if visit(next, path) {
					return true
				}
			case black:
			}
		}

		colors[id] = black

		return false
	}

	for _, node := range canvas.Nodes {
		if colors[node.ID] == white && visit(node.ID, nil) {
			return ValidationErrors{{
				Kind:    ErrorKindCycle,
				Message: fmt.Sprintf("canvas contains a cycle: %s", strings.Join(cyclePath, " -> ")),
			}}
		}
	}

	return nil
}

// checkRequiredInputs verifies that every input declared required is covered
// by at least one incoming edge mapping targeting it, or has a non-nil
// default.
func (c *Compiler) checkRequiredInputs(canvas *models.Canvas) ValidationErrors {
	mappedInputs := make(map[string]map[string]bool) // target node id -> input name -> covered
	for _, edge := range canvas.Edges {
		for inputName := range edge.Mapping {
			if mappedInputs[edge.TargetID] == nil {
				mappedInputs[edge.TargetID] = make(map[string]bool)
			}

			mappedInputs[edge.TargetID][inputName] = true
		}
	}

	var errs ValidationErrors

	for _, node := range canvas.Nodes {
		for name, spec := range node.Inputs {
			if !spec.Required {
				continue
			}

			if spec.Default != nil {
				continue
			}

			if mappedInputs[node.ID][name] {
				continue
			}

			errs = append(errs, ValidationError{
				Kind:    ErrorKindMissingInput,
				NodeID:  node.ID,
				Field:   name,
				Message: fmt.Sprintf("required input %q has no incoming mapping and no default", name),
			})
		}
	}

	return errs
}

// checkWorkerTypes verifies every worker node references a registered
// subtype, and that its config satisfies the subtype's declared schema.
func (c *Compiler) checkWorkerTypes(canvas *models.Canvas) ValidationErrors {
	var errs ValidationErrors

	for _, node := range canvas.Nodes {
		if node.Kind != models.NodeKindWorker {
			continue
		}

		if _, ok := c.registry.Worker(node.WorkerType); !ok {
			errs = append(errs, ValidationError{
				Kind:    ErrorKindInvalidWorker,
				NodeID:  node.ID,
				Message: fmt.Sprintf("worker type %q is not registered", node.WorkerType),
			})

			continue
		}

		if err := c.registry.ValidateWorkerConfig(node.WorkerType, node.Config); err != nil {
			errs = append(errs, ValidationError{
				Kind:    ErrorKindInvalidWorker,
				NodeID:  node.ID,
				Message: err.Error(),
			})
		}
	}

	return errs
}

// checkEdgeEndpoints verifies every edge, mapped or not, connects two nodes
// present on the canvas. An edge into a ghost id would put an unreachable
// entry into the adjacency index and leave runs waiting on a node that can
// never settle.
func (c *Compiler) checkEdgeEndpoints(canvas *models.Canvas) ValidationErrors {
	var errs ValidationErrors

	for _, edge := range canvas.Edges {
		for _, endpoint := range []string{edge.SourceID, edge.TargetID} {
			if canvas.NodeByID(endpoint) != nil {
				continue
			}

			errs = append(errs, ValidationError{
				Kind:    ErrorKindInvalidEdge,
				EdgeID:  edge.ID,
				NodeID:  endpoint,
				Message: fmt.Sprintf("edge references node %q which does not exist", endpoint),
			})
		}
	}

	return errs
}

// checkEdgeMappings verifies each mapped target input exists on the target
// node and, where the referenced source output declares a type, that it is
// compatible with the target input's declared type.
func (c *Compiler) checkEdgeMappings(canvas *models.Canvas) ValidationErrors {
	var errs ValidationErrors

	for _, edge := range canvas.Edges {
		if len(edge.Mapping) == 0 {
			continue
		}

		source := canvas.NodeByID(edge.SourceID)
		target := canvas.NodeByID(edge.TargetID)

		if source == nil || target == nil {
			// checkEdgeEndpoints already reported the dangling endpoint.
			continue
		}

		for inputName, outputPath := range edge.Mapping {
			inputSpec, ok := target.Inputs[inputName]
			if !ok {
				errs = append(errs, ValidationError{
					Kind:    ErrorKindInvalidMapping,
					EdgeID:  edge.ID,
					NodeID:  target.ID,
					Field:   inputName,
					Message: fmt.Sprintf("target node has no input %q", inputName),
				})

				continue
			}

			outputName := rootSegment(outputPath)

			outputSpec, ok := source.Outputs[outputName]
			if !ok {
				errs = append(errs, ValidationError{
					Kind:    ErrorKindInvalidMapping,
					EdgeID:  edge.ID,
					NodeID:  source.ID,
					Field:   inputName,
					Message: fmt.Sprintf("source node declares no output %q", outputName),
				})

				continue
			}

			// Types are only comparable when the mapping addresses the
			// output itself rather than a sub-path into it.
			if outputName == outputPath && !typesCompatible(outputSpec.Type, inputSpec.Type) {
				errs = append(errs, ValidationError{
					Kind:   ErrorKindInvalidMapping,
					EdgeID: edge.ID,
					NodeID: target.ID,
					Field:  inputName,
					Message: fmt.Sprintf("output %q of type %q is not compatible with input %q of type %q",
						outputName, outputSpec.Type, inputName, inputSpec.Type),
				})
			}
		}
	}

	return errs
}

// rootSegment returns the leading identifier of a dot-path such as
// "result.score".
func rootSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}

	return path
}

func typesCompatible(sourceType, targetType string) bool {
	if sourceType == "" || targetType == "" || targetType == "any" {
		return true
	}

	return sourceType == targetType
}

// optimize builds the indexed artifact. Only called after validation passes.
func (c *Compiler) optimize(canvas *models.Canvas) *models.ExecutionArtifact {
	artifact := &models.ExecutionArtifact{
		Nodes:     make(map[string]*models.ExecutionNode, len(canvas.Nodes)),
		Adjacency: make(map[string][]string),
		Edges:     make(map[string][]*models.ExecutionEdge),
		EdgeData:  make(map[string]models.EdgeMapping),
	}

	// Strip every UI-only field; the node id is carried through verbatim.
	// Every node gets an adjacency entry so the key set mirrors the node-id
	// set; terminal nodes keep an empty list.
	for _, node := range canvas.Nodes {
		artifact.Adjacency[node.ID] = []string{}
		artifact.Nodes[node.ID] = &models.ExecutionNode{
			ID:         node.ID,
			Kind:       node.Kind,
			WorkerType: node.WorkerType,
			Config:     node.Config,
			Inputs:     node.Inputs,
			Outputs:    node.Outputs,
		}
	}

	hasIncoming := make(map[string]bool)
	hasOutgoing := make(map[string]bool)

	for _, edge := range canvas.Edges {
		artifact.Adjacency[edge.SourceID] = append(artifact.Adjacency[edge.SourceID], edge.TargetID)
		artifact.Edges[edge.SourceID] = append(artifact.Edges[edge.SourceID], &models.ExecutionEdge{
			ID:       edge.ID,
			TargetID: edge.TargetID,
			Kind:     edge.Kind,
			Action:   edge.Action,
			Config:   edge.Config,
		})

		if len(edge.Mapping) > 0 {
			assignments := make(map[string]string, len(edge.Mapping))
			for input, path := range edge.Mapping {
				assignments[input] = path
			}

			artifact.EdgeData[models.EdgeDataKey(edge.SourceID, edge.TargetID)] = models.EdgeMapping{
				Assignments: assignments,
			}
		}

		hasIncoming[edge.TargetID] = true
		hasOutgoing[edge.SourceID] = true
	}

	for _, node := range canvas.Nodes {
		if !hasIncoming[node.ID] {
			artifact.EntryNodes = append(artifact.EntryNodes, node.ID)
		}

		if !hasOutgoing[node.ID] {
			artifact.TerminalNodes = append(artifact.TerminalNodes, node.ID)
		}
	}

	return artifact
}
