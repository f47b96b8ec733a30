// Package persistence provides the data storage abstraction layer for
// flows, versions, runs, entities, and the journey-event log.
package persistence

import (
	"context"

	"github.com/canvasflow/canvasflow/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	VersionRepository() VersionRepository
	RunRepository() RunRepository
	EntityRepository() EntityRepository
	JourneyEventRepository() JourneyEventRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type FlowRepository interface {
	Save(ctx context.Context, flow *models.Flow) error
	GetByID(ctx context.Context, id string) (*models.Flow, error)
	List(ctx context.Context) ([]*models.Flow, error)

	// SetCurrentVersion atomically repoints the flow's current version.
	// This is the serialization point for concurrent version creation.
	SetCurrentVersion(ctx context.Context, flowID, versionID string) error
}

type VersionRepository interface {
	// Save persists an immutable version. Saving an existing version id is
	// a constraint violation: versions are never updated in place.
	Save(ctx context.Context, version *models.FlowVersion) error
	GetByID(ctx context.Context, id string) (*models.FlowVersion, error)

	// ListByFlow returns the flow's versions ordered by creation time,
	// newest first.
	ListByFlow(ctx context.Context, flowID string) ([]*models.FlowVersion, error)
}

type RunRepository interface {
	Save(ctx context.Context, run *models.Run) error
	GetByID(ctx context.Context, id string) (*models.Run, error)
	ListByFlow(ctx context.Context, flowID string) ([]*models.Run, error)

	// UpdateNodeState atomically replaces one node's state within a run.
	UpdateNodeState(ctx context.Context, runID, nodeID string, state *models.NodeState) error

	// TransitionNodeState replaces one node's state only if its current
	// status equals expected; an absent state counts as pending. A
	// mismatch is reported as ErrNodeStateConflict, so concurrent
	// branches converging on one node elect a single owner.
	TransitionNodeState(ctx context.Context, runID, nodeID string, expected models.NodeStatus, state *models.NodeState) error

	// MarkFinished stamps the run terminal.
	MarkFinished(ctx context.Context, runID string) error
}

type EntityRepository interface {
	Save(ctx context.Context, entity *models.Entity) error
	GetByID(ctx context.Context, id string) (*models.Entity, error)

	// FindByEmail looks an entity up by its natural key within a canvas.
	// Absence is reported as ErrEntityNotFound, a normal result for the
	// webhook find-or-create path.
	FindByEmail(ctx context.Context, canvasID, email string) (*models.Entity, error)

	// CompareAndSetPosition replaces the entity's position only if its
	// current position equals expected, so the travel-completion writer
	// never races a concurrent re-read into an observable half-state.
	// A mismatch is reported as ErrPositionConflict.
	CompareAndSetPosition(ctx context.Context, entityID string, expected, next models.Position) error
}

type JourneyEventRepository interface {
	// Append adds one event to the append-only log. Events are never
	// mutated or deleted.
	Append(ctx context.Context, event *models.JourneyEvent) error
	ListByEntity(ctx context.Context, entityID string) ([]*models.JourneyEvent, error)
}
