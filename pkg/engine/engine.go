// Package engine walks compiled execution artifacts at runtime: it advances
// entity state along journey edges and fires system-edge side effects with
// failure isolation.
//
// The engine is a reactive handler, not a scheduler: it runs when a trigger
// arrives (run start, webhook event, worker callback) and returns when every
// branch it touched has completed, failed, or suspended.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/canvasflow/canvasflow/pkg/eventbus"
	"github.com/canvasflow/canvasflow/pkg/events"
	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
	"github.com/canvasflow/canvasflow/pkg/protocol"
	"github.com/canvasflow/canvasflow/pkg/registry"
	"github.com/canvasflow/canvasflow/pkg/tracing"
	"github.com/canvasflow/canvasflow/pkg/versions"
)

// Config holds the engine's pacing constants.
type Config struct {
	// TravelDuration is the fixed wall-clock time an entity spends on a
	// journey edge.
	TravelDuration time.Duration

	// TravelTick is the interval between persisted progress updates while
	// an entity travels, so concurrent observers see intermediate values.
	TravelTick time.Duration
}

const (
	defaultTravelDuration = 2 * time.Second
	defaultTravelTick     = 200 * time.Millisecond
)

func (c *Config) applyDefaults() {
	if c.TravelDuration <= 0 {
		c.TravelDuration = defaultTravelDuration
	}

	if c.TravelTick <= 0 || c.TravelTick > c.TravelDuration {
		c.TravelTick = defaultTravelTick
	}
}

type Engine struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	versions    *versions.Store
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	clock       clockwork.Clock
	tracer      trace.Tracer
	config      Config
}

func New(
	logger *slog.Logger,
	p persistence.Persistence,
	versionStore *versions.Store,
	reg *registry.Registry,
	bus eventbus.EventBus,
	clock clockwork.Clock,
	config Config,
) *Engine {
	config.applyDefaults()

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Engine{
		logger:      logger.With("module", "engine"),
		persistence: p,
		versions:    versionStore,
		registry:    reg,
		eventBus:    bus,
		clock:       clock,
		tracer:      otel.Tracer("canvasflow/engine"),
		config:      config,
	}
}

// StartRun pins a version for the flow, creates a run with every node
// pending, and drives execution from the trigger's start node (or the
// artifact's entry nodes). It returns once every touched branch has
// settled or suspended.
func (e *Engine) StartRun(ctx context.Context, flowID string, canvas *models.Canvas, trigger models.TriggerDescriptor) (*models.Run, error) {
	ctx, span := tracing.StartSpan(ctx, e.tracer, "engine.start_run",
		attribute.String(tracing.FlowIDKey, flowID),
		attribute.String(tracing.SourceKey, trigger.Source))
	defer span.End()

	var (
		version *models.FlowVersion
		err     error
	)

	if canvas != nil {
		version, err = e.versions.EnsureForRun(ctx, flowID, canvas)
	} else {
		version, err = e.versions.Current(ctx, flowID)
	}

	if err != nil {
		err = fmt.Errorf("failed to resolve version for flow %s: %w", flowID, err)
		tracing.SetError(span, err)

		return nil, err
	}

	run := &models.Run{
		ID:         "run-" + uuid.NewString()[:8],
		FlowID:     flowID,
		VersionID:  version.ID,
		NodeStates: make(map[string]*models.NodeState, len(version.Artifact.Nodes)),
		Trigger:    trigger,
		StartedAt:  time.Now().UTC(),
	}

	for nodeID := range version.Artifact.Nodes {
		run.NodeStates[nodeID] = &models.NodeState{Status: models.NodeStatusPending}
	}

	if err := e.persistence.RunRepository().Save(ctx, run); err != nil {
		err = fmt.Errorf("failed to persist run: %w", err)
		tracing.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(
		attribute.String(tracing.RunIDKey, run.ID),
		attribute.String(tracing.VersionIDKey, version.ID),
	)

	logger := e.logger.With("flow_id", flowID, "run_id", run.ID, "version_id", version.ID)
	logger.InfoContext(ctx, "Starting run")

	startedEvent := events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, flowID),
		VersionID: version.ID,
		EntityID:  trigger.EntityID,
		StartNode: trigger.NodeID,
	}
	startedEvent.RunID = run.ID
	e.publish(ctx, run.FlowID, startedEvent)

	startNodes := version.Artifact.EntryNodes
	if trigger.NodeID != "" {
		startNodes = []string{trigger.NodeID}
	}

	var wg sync.WaitGroup

	for _, nodeID := range startNodes {
		wg.Add(1)

		go func(id string) {
			defer wg.Done()
			e.enterNode(ctx, run.ID, version.Artifact, id)
		}(nodeID)
	}

	wg.Wait()

	e.maybeFinishRun(ctx, run.ID, version.Artifact)

	return e.persistence.RunRepository().GetByID(ctx, run.ID)
}

// CompleteNode is the worker completion callback: a long-running node
// reports its terminal status here and the engine resumes edge-walking from
// that node. The same entry point resumes nodes suspended in
// waiting_for_user.
func (e *Engine) CompleteNode(ctx context.Context, runID, nodeID string, completion protocol.WorkerCompletion) ([]EdgeOutcome, error) {
	run, err := e.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	version, err := e.versions.Get(ctx, run.VersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version %s for run %s: %w", run.VersionID, runID, err)
	}

	if _, ok := version.Artifact.Nodes[nodeID]; !ok {
		return nil, fmt.Errorf("node %s not present in version %s", nodeID, run.VersionID)
	}

	state := run.NodeState(nodeID)
	if state.Status.Terminal() {
		return nil, fmt.Errorf("node %s already settled as %s", nodeID, state.Status)
	}

	if completion.Status == protocol.CompletionStatusFailed {
		e.failNode(ctx, run.ID, run.FlowID, nodeID, completion.Error)
		e.maybeFinishRun(ctx, run.ID, version.Artifact)

		return nil, nil
	}

	outcomes := e.completeNode(ctx, run.ID, version.Artifact, nodeID, completion.Output)

	e.maybeFinishRun(ctx, run.ID, version.Artifact)

	return outcomes, nil
}

// enterNode transitions a node to running and performs whatever work its
// kind requires. Nodes with no required work complete immediately on entry.
func (e *Engine) enterNode(ctx context.Context, runID string, artifact *models.ExecutionArtifact, nodeID string) []EdgeOutcome {
	run, err := e.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load run on node entry", "run_id", runID, "error", err)

		return nil
	}

	node, ok := artifact.Nodes[nodeID]
	if !ok {
		e.logger.ErrorContext(ctx, "Node missing from artifact", "run_id", runID, "node_id", nodeID)

		return nil
	}

	now := time.Now().UTC()
	running := &models.NodeState{Status: models.NodeStatusRunning, StartedAt: &now}

	// Claim the node pending -> running. Branches converging on a join race
	// here and only the winner executes it; losers yield.
	err = e.persistence.RunRepository().TransitionNodeState(ctx, runID, nodeID, models.NodeStatusPending, running)
	if persistence.IsNodeStateConflict(err) {
		return nil
	}

	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark node running", "run_id", runID, "node_id", nodeID, "error", err)

		return nil
	}

	switch node.Kind {
	case models.NodeKindUX:
		waiting := &models.NodeState{Status: models.NodeStatusWaitingForUser, StartedAt: &now}
		if err := e.persistence.RunRepository().UpdateNodeState(ctx, runID, nodeID, waiting); err != nil {
			e.logger.ErrorContext(ctx, "Failed to suspend node", "run_id", runID, "node_id", nodeID, "error", err)

			return nil
		}

		waitingEvent := events.NodeWaiting{
			BaseEvent: events.NewBaseEvent(events.NodeWaitingEvent, run.FlowID),
			NodeID:    nodeID,
		}
		waitingEvent.RunID = runID
		e.publish(ctx, run.FlowID, waitingEvent)

		// Suspension point: an external completion resumes this branch.
		return nil

	case models.NodeKindWorker:
		return e.runWorker(ctx, run, artifact, node)

	default:
		// splitter, collector, section, item: no work of their own.
		return e.completeNode(ctx, runID, artifact, nodeID, nil)
	}
}

// runWorker executes an in-process worker handler, or leaves the node
// running for an external dispatch that reports back via CompleteNode.
func (e *Engine) runWorker(ctx context.Context, run *models.Run, artifact *models.ExecutionArtifact, node *models.ExecutionNode) []EdgeOutcome {
	def, ok := e.registry.Worker(node.WorkerType)
	if !ok {
		// The compiler rejects unknown subtypes, so this indicates a
		// registry drift between compile time and run time.
		e.failNode(ctx, run.ID, run.FlowID, node.ID, fmt.Sprintf("worker type %q not registered", node.WorkerType))

		return nil
	}

	if def.Handler == nil {
		e.logger.InfoContext(ctx, "Node dispatched externally, awaiting completion callback",
			"run_id", run.ID, "node_id", node.ID, "worker_type", node.WorkerType)

		return nil
	}

	input, err := e.resolveInputs(ctx, run.ID, artifact, node)
	if err != nil {
		e.failNode(ctx, run.ID, run.FlowID, node.ID, err.Error())

		return nil
	}

	output, err := def.Handler.Execute(ctx, input)
	if err != nil {
		e.failNode(ctx, run.ID, run.FlowID, node.ID, err.Error())

		return nil
	}

	return e.completeNode(ctx, run.ID, artifact, node.ID, output)
}

// completeNode records the node as completed and walks its outgoing edges.
func (e *Engine) completeNode(ctx context.Context, runID string, artifact *models.ExecutionArtifact, nodeID string, output map[string]any) []EdgeOutcome {
	run, err := e.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to load run on node completion", "run_id", runID, "error", err)

		return nil
	}

	now := time.Now().UTC()
	state := &models.NodeState{
		Status:     models.NodeStatusCompleted,
		Output:     output,
		StartedAt:  run.NodeState(nodeID).StartedAt,
		FinishedAt: &now,
	}

	if err := e.persistence.RunRepository().UpdateNodeState(ctx, runID, nodeID, state); err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark node completed", "run_id", runID, "node_id", nodeID, "error", err)

		return nil
	}

	completedEvent := events.NodeCompleted{
		BaseEvent: events.NewBaseEvent(events.NodeCompletedEvent, run.FlowID),
		NodeID:    nodeID,
		Output:    output,
	}
	completedEvent.RunID = runID
	e.publish(ctx, run.FlowID, completedEvent)

	return e.walkFrom(ctx, run, artifact, nodeID, output)
}

// failNode records the node as failed. Downstream propagation stops here:
// the node's outgoing edges are not walked and there is no auto-retry.
func (e *Engine) failNode(ctx context.Context, runID, flowID, nodeID, message string) {
	now := time.Now().UTC()
	state := &models.NodeState{
		Status:     models.NodeStatusFailed,
		Error:      message,
		FinishedAt: &now,
	}

	if err := e.persistence.RunRepository().UpdateNodeState(ctx, runID, nodeID, state); err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark node failed", "run_id", runID, "node_id", nodeID, "error", err)

		return
	}

	e.logger.WarnContext(ctx, "Node failed", "run_id", runID, "node_id", nodeID, "error", message)

	failedEvent := events.NodeFailed{
		BaseEvent: events.NewBaseEvent(events.NodeFailedEvent, flowID),
		NodeID:    nodeID,
		Error:     message,
	}
	failedEvent.RunID = runID
	e.publish(ctx, flowID, failedEvent)
}

// walkFrom fires the completed node's outgoing edges: journey and system
// partitions run concurrently and independently, and within the system
// partition each edge runs concurrently with its siblings. All outcomes are
// collected allSettled-style; a failure on one edge never aborts or delays
// another.
func (e *Engine) walkFrom(ctx context.Context, run *models.Run, artifact *models.ExecutionArtifact, nodeID string, output map[string]any) []EdgeOutcome {
	edges := artifact.Edges[nodeID]
	if len(edges) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes []EdgeOutcome
	)

	record := func(outcome EdgeOutcome) {
		mu.Lock()
		defer mu.Unlock()

		outcomes = append(outcomes, outcome)
	}

	for _, edge := range edges {
		wg.Add(1)

		switch edge.Kind {
		case models.EdgeKindSystem:
			go func(edge *models.ExecutionEdge) {
				defer wg.Done()
				record(e.fireSystemEdge(ctx, run, nodeID, edge, output))
			}(edge)
		default:
			go func(edge *models.ExecutionEdge) {
				defer wg.Done()
				record(e.fireJourneyEdge(ctx, run, artifact, nodeID, edge))
			}(edge)
		}
	}

	wg.Wait()

	return outcomes
}

// fireSystemEdge invokes the side-effect action named on the edge. The
// outcome is recorded as data; it never marks the triggering node failed
// and never blocks entity movement already in flight.
func (e *Engine) fireSystemEdge(ctx context.Context, run *models.Run, nodeID string, edge *models.ExecutionEdge, output map[string]any) EdgeOutcome {
	outcome := EdgeOutcome{
		EdgeID:   edge.ID,
		TargetID: edge.TargetID,
		Kind:     models.EdgeKindSystem,
		Action:   edge.Action,
	}

	action, err := e.registry.CreateAction(edge.Action, edge.Config)
	if err != nil {
		outcome.Error = err.Error()
		e.recordSystemFailure(ctx, run, nodeID, edge, err)

		return outcome
	}

	result, err := action.Execute(ctx, protocol.ActionContext{
		RunID:      run.ID,
		FlowID:     run.FlowID,
		NodeID:     nodeID,
		EdgeID:     edge.ID,
		EntityID:   run.Trigger.EntityID,
		NodeOutput: output,
		Logger:     e.logger,
	})
	if err != nil {
		outcome.Error = err.Error()
		e.recordSystemFailure(ctx, run, nodeID, edge, err)

		return outcome
	}

	outcome.Success = true
	outcome.Result = result

	firedEvent := events.SystemEdgeFired{
		BaseEvent: events.NewBaseEvent(events.SystemEdgeFiredEvent, run.FlowID),
		NodeID:    nodeID,
		EdgeID:    edge.ID,
		Action:    edge.Action,
		Result:    result,
	}
	firedEvent.RunID = run.ID
	e.publish(ctx, run.FlowID, firedEvent)

	return outcome
}

func (e *Engine) recordSystemFailure(ctx context.Context, run *models.Run, nodeID string, edge *models.ExecutionEdge, err error) {
	e.logger.WarnContext(ctx, "System edge failed",
		"run_id", run.ID, "node_id", nodeID, "edge_id", edge.ID, "action", edge.Action, "error", err)

	failedEvent := events.SystemEdgeFailed{
		BaseEvent: events.NewBaseEvent(events.SystemEdgeFailedEvent, run.FlowID),
		NodeID:    nodeID,
		EdgeID:    edge.ID,
		Action:    edge.Action,
		Error:     err.Error(),
	}
	failedEvent.RunID = run.ID
	e.publish(ctx, run.FlowID, failedEvent)
}

// fireJourneyEdge moves the run's entity along the edge, then enters the
// destination node. Runs without an associated entity advance immediately.
func (e *Engine) fireJourneyEdge(ctx context.Context, run *models.Run, artifact *models.ExecutionArtifact, nodeID string, edge *models.ExecutionEdge) EdgeOutcome {
	outcome := EdgeOutcome{
		EdgeID:   edge.ID,
		TargetID: edge.TargetID,
		Kind:     models.EdgeKindJourney,
	}

	if run.Trigger.EntityID != "" {
		if err := e.travelEntity(ctx, run, nodeID, edge); err != nil {
			outcome.Error = err.Error()

			return outcome
		}
	}

	e.enterNode(ctx, run.ID, artifact, edge.TargetID)

	outcome.Success = true

	return outcome
}

// resolveInputs assembles a worker node's input map: declared defaults
// first, then incoming edge mappings resolved against the source nodes'
// recorded outputs.
func (e *Engine) resolveInputs(ctx context.Context, runID string, artifact *models.ExecutionArtifact, node *models.ExecutionNode) (map[string]any, error) {
	run, err := e.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	input := make(map[string]any)

	for name, spec := range node.Inputs {
		if spec.Default != nil {
			input[name] = spec.Default
		}
	}

	for sourceID, edges := range artifact.Edges {
		for _, edge := range edges {
			if edge.TargetID != node.ID {
				continue
			}

			mapping, ok := artifact.EdgeData[models.EdgeDataKey(sourceID, node.ID)]
			if !ok {
				continue
			}

			sourceState := run.NodeState(sourceID)
			if sourceState.Status != models.NodeStatusCompleted {
				continue
			}

			for inputName, outputPath := range mapping.Assignments {
				value, err := lookupOutputPath(sourceState.Output, outputPath)
				if err != nil {
					return nil, fmt.Errorf("failed to resolve %q from node %s: %w", outputPath, sourceID, err)
				}

				input[inputName] = value
			}
		}
	}

	return input, nil
}

// maybeFinishRun marks the run terminal when every node reachable from its
// start nodes has settled. Traversal does not continue past failed nodes
// (their downstream stays pending), and a branch suspended in
// waiting_for_user keeps the run open.
func (e *Engine) maybeFinishRun(ctx context.Context, runID string, artifact *models.ExecutionArtifact) {
	run, err := e.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil || run.Finished() {
		return
	}

	startNodes := artifact.EntryNodes
	if run.Trigger.NodeID != "" {
		startNodes = []string{run.Trigger.NodeID}
	}

	visited := make(map[string]bool)
	queue := append([]string{}, startNodes...)

	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]

		if visited[nodeID] {
			continue
		}

		visited[nodeID] = true

		state := run.NodeState(nodeID)
		if !state.Status.Terminal() {
			// Still pending, running, or suspended: the run stays open.
			return
		}

		// Failed nodes halt propagation; only completed nodes extend reach.
		if state.Status != models.NodeStatusCompleted {
			continue
		}

		for _, edge := range artifact.Edges[nodeID] {
			if edge.Kind == models.EdgeKindJourney {
				queue = append(queue, edge.TargetID)
			}
		}
	}

	if err := e.persistence.RunRepository().MarkFinished(ctx, runID); err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark run finished", "run_id", runID, "error", err)

		return
	}

	e.logger.InfoContext(ctx, "Run finished", "run_id", runID)

	finishedEvent := events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, run.FlowID),
		Duration:  time.Since(run.StartedAt),
	}
	finishedEvent.RunID = runID
	e.publish(ctx, run.FlowID, finishedEvent)
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
