package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/canvasflow/canvasflow/pkg/events"
	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

// travelEntity moves the run's entity along a journey edge: a compare-and-set
// flips the entity from at-node to traveling, progress advances in persisted
// ticks against the engine clock, and a final compare-and-set lands it at the
// destination. Either CAS losing means another writer moved the entity first,
// and this traversal yields to it.
func (e *Engine) travelEntity(ctx context.Context, run *models.Run, sourceNodeID string, edge *models.ExecutionEdge) error {
	entityID := run.Trigger.EntityID

	entity, err := e.persistence.EntityRepository().GetByID(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s: %w", entityID, err)
	}

	atSource := models.AtNode(sourceNodeID)
	if !entity.Position.Equal(atSource) {
		return fmt.Errorf("entity %s is not at node %s: %w", entityID, sourceNodeID, persistence.ErrPositionConflict)
	}

	traveling := models.Traveling(edge.ID, 0, edge.TargetID)

	if err := e.persistence.EntityRepository().CompareAndSetPosition(ctx, entityID, atSource, traveling); err != nil {
		return fmt.Errorf("failed to start travel on edge %s: %w", edge.ID, err)
	}

	e.logger.InfoContext(ctx, "Entity started edge",
		"run_id", run.ID, "entity_id", entityID, "edge_id", edge.ID, "destination", edge.TargetID)

	startedEvent := events.EntityStartedEdge{
		BaseEvent:     events.NewBaseEvent(events.EntityStartedEdgeEvent, run.FlowID),
		EntityID:      entityID,
		EdgeID:        edge.ID,
		DestinationID: edge.TargetID,
	}
	startedEvent.RunID = run.ID
	e.publish(ctx, run.FlowID, startedEvent)

	e.appendJourneyEvent(ctx, &models.JourneyEvent{
		ID:       uuid.NewString(),
		EntityID: entityID,
		Type:     models.JourneyEventStartedEdge,
		EdgeID:   edge.ID,
		RunID:    run.ID,
		At:       time.Now().UTC(),
	})

	if err := e.tickProgress(ctx, entityID, edge, traveling); err != nil {
		return err
	}

	final := models.Traveling(edge.ID, 1, edge.TargetID)
	atDestination := models.AtNode(edge.TargetID)

	if err := e.persistence.EntityRepository().CompareAndSetPosition(ctx, entityID, final, atDestination); err != nil {
		return fmt.Errorf("failed to arrive at node %s: %w", edge.TargetID, err)
	}

	e.logger.InfoContext(ctx, "Entity entered node",
		"run_id", run.ID, "entity_id", entityID, "node_id", edge.TargetID)

	enteredEvent := events.EntityEnteredNode{
		BaseEvent: events.NewBaseEvent(events.EntityEnteredNodeEvent, run.FlowID),
		EntityID:  entityID,
		NodeID:    edge.TargetID,
	}
	enteredEvent.RunID = run.ID
	e.publish(ctx, run.FlowID, enteredEvent)

	e.appendJourneyEvent(ctx, &models.JourneyEvent{
		ID:       uuid.NewString(),
		EntityID: entityID,
		Type:     models.JourneyEventEnteredNode,
		NodeID:   edge.TargetID,
		RunID:    run.ID,
		At:       time.Now().UTC(),
	})

	return nil
}

// tickProgress persists monotonically increasing progress values over the
// configured travel duration, ending at 1. Intermediate ticks are
// best-effort observability; arrival is gated only on the final CAS in the
// caller.
func (e *Engine) tickProgress(ctx context.Context, entityID string, edge *models.ExecutionEdge, from models.Position) error {
	steps := int(e.config.TravelDuration / e.config.TravelTick)
	if steps < 1 {
		steps = 1
	}

	previous := from

	for step := 1; step <= steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.clock.After(e.config.TravelTick):
		}

		progress := float64(step) / float64(steps)
		next := models.Traveling(edge.ID, progress, edge.TargetID)

		if err := e.persistence.EntityRepository().CompareAndSetPosition(ctx, entityID, previous, next); err != nil {
			return fmt.Errorf("failed to advance travel on edge %s: %w", edge.ID, err)
		}

		previous = next
	}

	return nil
}

func (e *Engine) appendJourneyEvent(ctx context.Context, event *models.JourneyEvent) {
	if err := e.persistence.JourneyEventRepository().Append(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to append journey event",
			"entity_id", event.EntityID, "event_type", event.Type, "error", err)
	}
}
