package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
	"github.com/canvasflow/canvasflow/pkg/persistence/file"
)

func setupPersistence(t *testing.T) *file.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

func TestFlowRepositorySaveAndRetrieve(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	flow := &models.Flow{
		ID:        "flow-1",
		Name:      "Onboarding",
		Owner:     "team-growth",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	loaded, err := p.FlowRepository().GetByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "Onboarding", loaded.Name)
	assert.Equal(t, "team-growth", loaded.Owner)

	listed, err := p.FlowRepository().List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestFlowRepositoryNotFound(t *testing.T) {
	p := setupPersistence(t)

	_, err := p.FlowRepository().GetByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestFlowRepositorySetCurrentVersion(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.FlowRepository().Save(ctx, &models.Flow{ID: "flow-1", Name: "Onboarding"}))
	require.NoError(t, p.FlowRepository().SetCurrentVersion(ctx, "flow-1", "v-abc"))

	flow, err := p.FlowRepository().GetByID(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "v-abc", flow.CurrentVersionID)

	err = p.FlowRepository().SetCurrentVersion(ctx, "missing", "v-abc")
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestVersionRepositoryImmutable(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	version := &models.FlowVersion{
		ID:        "v-1",
		FlowID:    "flow-1",
		Graph:     &models.Canvas{ID: "canvas-1", Name: "Onboarding"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, p.VersionRepository().Save(ctx, version))

	err := p.VersionRepository().Save(ctx, version)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrVersionExists)
}

func TestVersionRepositoryListByFlowNewestFirst(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	older := &models.FlowVersion{ID: "v-1", FlowID: "flow-1", CreatedAt: time.Now().UTC().Add(-time.Hour)}
	newer := &models.FlowVersion{ID: "v-2", FlowID: "flow-1", CreatedAt: time.Now().UTC()}
	other := &models.FlowVersion{ID: "v-3", FlowID: "flow-2", CreatedAt: time.Now().UTC()}

	require.NoError(t, p.VersionRepository().Save(ctx, older))
	require.NoError(t, p.VersionRepository().Save(ctx, newer))
	require.NoError(t, p.VersionRepository().Save(ctx, other))

	listed, err := p.VersionRepository().ListByFlow(ctx, "flow-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "v-2", listed[0].ID)
	assert.Equal(t, "v-1", listed[1].ID)
}

func TestRunRepositoryUpdateNodeState(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	run := &models.Run{
		ID:     "run-1",
		FlowID: "flow-1",
		NodeStates: map[string]*models.NodeState{
			"a": {Status: models.NodeStatusPending},
		},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, p.RunRepository().Save(ctx, run))

	require.NoError(t, p.RunRepository().UpdateNodeState(ctx, "run-1", "a", &models.NodeState{
		Status: models.NodeStatusCompleted,
		Output: map[string]any{"score": 0.9},
	}))

	loaded, err := p.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, loaded.NodeStates["a"].Status)

	err = p.RunRepository().UpdateNodeState(ctx, "missing", "a", &models.NodeState{Status: models.NodeStatusCompleted})
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepositoryTransitionNodeState(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	run := &models.Run{
		ID:     "run-1",
		FlowID: "flow-1",
		NodeStates: map[string]*models.NodeState{
			"a": {Status: models.NodeStatusPending},
		},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, p.RunRepository().Save(ctx, run))

	running := &models.NodeState{Status: models.NodeStatusRunning}

	// First claim wins, second loses.
	require.NoError(t, p.RunRepository().TransitionNodeState(ctx, "run-1", "a", models.NodeStatusPending, running))

	err := p.RunRepository().TransitionNodeState(ctx, "run-1", "a", models.NodeStatusPending, running)
	assert.True(t, persistence.IsNodeStateConflict(err))

	// A node with no stored state counts as pending.
	require.NoError(t, p.RunRepository().TransitionNodeState(ctx, "run-1", "b", models.NodeStatusPending, running))

	loaded, err := p.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusRunning, loaded.NodeStates["a"].Status)
	assert.Equal(t, models.NodeStatusRunning, loaded.NodeStates["b"].Status)

	err = p.RunRepository().TransitionNodeState(ctx, "missing", "a", models.NodeStatusPending, running)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepositoryMarkFinishedIdempotent(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.RunRepository().Save(ctx, &models.Run{ID: "run-1", FlowID: "flow-1"}))

	require.NoError(t, p.RunRepository().MarkFinished(ctx, "run-1"))

	first, err := p.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, first.FinishedAt)

	// Re-marking keeps the original timestamp.
	require.NoError(t, p.RunRepository().MarkFinished(ctx, "run-1"))

	second, err := p.RunRepository().GetByID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, first.FinishedAt, second.FinishedAt)
}

func TestEntityRepositoryRejectsInvalidPosition(t *testing.T) {
	p := setupPersistence(t)

	err := p.EntityRepository().Save(context.Background(), &models.Entity{
		ID:       "ent-1",
		CanvasID: "canvas-1",
		Email:    "ada@example.com",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidPosition)
}

func TestEntityRepositoryCompareAndSetPosition(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	entity := &models.Entity{
		ID:             "ent-1",
		CanvasID:       "canvas-1",
		Email:          "ada@example.com",
		Classification: models.ClassificationLead,
		Position:       models.AtNode("start"),
	}
	require.NoError(t, p.EntityRepository().Save(ctx, entity))

	next := models.Traveling("e1", 0, "end")
	require.NoError(t, p.EntityRepository().CompareAndSetPosition(ctx, "ent-1", models.AtNode("start"), next))

	loaded, err := p.EntityRepository().GetByID(ctx, "ent-1")
	require.NoError(t, err)

	travel, ok := loaded.Position.Traveling()
	require.True(t, ok)
	assert.Equal(t, "e1", travel.EdgeID)

	// A stale expected position loses the swap.
	err = p.EntityRepository().CompareAndSetPosition(ctx, "ent-1", models.AtNode("start"), models.AtNode("end"))
	require.Error(t, err)
	assert.True(t, persistence.IsPositionConflict(err))
}

func TestEntityRepositoryFindByEmailScopedToCanvas(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.EntityRepository().Save(ctx, &models.Entity{
		ID:       "ent-1",
		CanvasID: "canvas-1",
		Email:    "ada@example.com",
		Position: models.AtNode("start"),
	}))

	found, err := p.EntityRepository().FindByEmail(ctx, "canvas-1", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ent-1", found.ID)

	_, err = p.EntityRepository().FindByEmail(ctx, "canvas-2", "ada@example.com")
	assert.True(t, persistence.IsEntityNotFound(err))
}

func TestJourneyEventRepositoryAppendAndList(t *testing.T) {
	p := setupPersistence(t)
	ctx := context.Background()

	base := time.Now().UTC()
	events := []*models.JourneyEvent{
		{ID: "ev-2", EntityID: "ent-1", Type: models.JourneyEventEnteredNode, NodeID: "end", At: base.Add(time.Second)},
		{ID: "ev-1", EntityID: "ent-1", Type: models.JourneyEventStartedEdge, EdgeID: "e1", At: base},
		{ID: "ev-3", EntityID: "ent-2", Type: models.JourneyEventEnteredNode, NodeID: "start", At: base},
	}
	for _, event := range events {
		require.NoError(t, p.JourneyEventRepository().Append(ctx, event))
	}

	listed, err := p.JourneyEventRepository().ListByEntity(ctx, "ent-1")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "ev-1", listed[0].ID)
	assert.Equal(t, "ev-2", listed[1].ID)
}
