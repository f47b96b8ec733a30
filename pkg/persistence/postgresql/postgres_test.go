package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
	"github.com/canvasflow/canvasflow/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"journey_events", "entities", "runs", "flow_versions", "flows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("canvasflow_test"),
			postgres.WithUsername("canvasflow"),
			postgres.WithPassword("canvasflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	for _, table := range []string{"flows", "flow_versions", "runs", "entities", "journey_events"} {
		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestFlowRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := &models.Flow{
		ID:    uuid.NewString(),
		Name:  "Onboarding",
		Owner: "test-user",
	}

	err := p.FlowRepository().Save(ctx, flow)
	require.NoError(t, err)
	assert.False(t, flow.CreatedAt.IsZero())
	assert.False(t, flow.UpdatedAt.IsZero())

	retrieved, err := p.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, flow.Name, retrieved.Name)
	assert.Equal(t, flow.Owner, retrieved.Owner)
	assert.Empty(t, retrieved.CurrentVersionID)

	_, err = p.FlowRepository().GetByID(ctx, uuid.NewString())
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestFlowRepository_SetCurrentVersion(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := &models.Flow{ID: uuid.NewString(), Name: "Onboarding"}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	version := testVersion(flow.ID)
	require.NoError(t, p.VersionRepository().Save(ctx, version))

	err := p.FlowRepository().SetCurrentVersion(ctx, flow.ID, version.ID)
	require.NoError(t, err)

	retrieved, err := p.FlowRepository().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, version.ID, retrieved.CurrentVersionID)

	err = p.FlowRepository().SetCurrentVersion(ctx, uuid.NewString(), version.ID)
	assert.True(t, persistence.IsFlowNotFound(err))
}

func TestVersionRepository_Immutable(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := &models.Flow{ID: uuid.NewString(), Name: "Onboarding"}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	version := testVersion(flow.ID)
	require.NoError(t, p.VersionRepository().Save(ctx, version))

	// Saving the same id again violates immutability.
	err := p.VersionRepository().Save(ctx, version)
	require.ErrorIs(t, err, persistence.ErrVersionExists)

	retrieved, err := p.VersionRepository().GetByID(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, version.FlowID, retrieved.FlowID)
	require.NotNil(t, retrieved.Graph)
	assert.Len(t, retrieved.Graph.Nodes, 1)
	require.NotNil(t, retrieved.Artifact)
	assert.Equal(t, []string{"a"}, retrieved.Artifact.EntryNodes)
}

func TestVersionRepository_ListByFlowNewestFirst(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := &models.Flow{ID: uuid.NewString(), Name: "Onboarding"}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	older := testVersion(flow.ID)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, p.VersionRepository().Save(ctx, older))

	newer := testVersion(flow.ID)
	require.NoError(t, p.VersionRepository().Save(ctx, newer))

	versions, err := p.VersionRepository().ListByFlow(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, newer.ID, versions[0].ID)
	assert.Equal(t, older.ID, versions[1].ID)
}

func TestRunRepository_UpdateNodeState(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := &models.Flow{ID: uuid.NewString(), Name: "Onboarding"}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	version := testVersion(flow.ID)
	require.NoError(t, p.VersionRepository().Save(ctx, version))

	run := &models.Run{
		ID:        uuid.NewString(),
		FlowID:    flow.ID,
		VersionID: version.ID,
		NodeStates: map[string]*models.NodeState{
			"a": {Status: models.NodeStatusPending},
		},
		Trigger:   models.TriggerDescriptor{Source: "api"},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, p.RunRepository().Save(ctx, run))

	now := time.Now().UTC()
	err := p.RunRepository().UpdateNodeState(ctx, run.ID, "a", &models.NodeState{
		Status:     models.NodeStatusCompleted,
		Output:     map[string]any{"score": 0.9},
		FinishedAt: &now,
	})
	require.NoError(t, err)

	retrieved, err := p.RunRepository().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, retrieved.NodeState("a").Status)
	assert.Equal(t, 0.9, retrieved.NodeState("a").Output["score"])
	assert.Equal(t, "api", retrieved.Trigger.Source)

	err = p.RunRepository().UpdateNodeState(ctx, uuid.NewString(), "a", &models.NodeState{Status: models.NodeStatusRunning})
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_TransitionNodeState(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := &models.Flow{ID: uuid.NewString(), Name: "Onboarding"}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	version := testVersion(flow.ID)
	require.NoError(t, p.VersionRepository().Save(ctx, version))

	run := &models.Run{
		ID:        uuid.NewString(),
		FlowID:    flow.ID,
		VersionID: version.ID,
		NodeStates: map[string]*models.NodeState{
			"a": {Status: models.NodeStatusPending},
		},
		Trigger:   models.TriggerDescriptor{Source: "api"},
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, p.RunRepository().Save(ctx, run))

	running := &models.NodeState{Status: models.NodeStatusRunning}

	err := p.RunRepository().TransitionNodeState(ctx, run.ID, "a", models.NodeStatusPending, running)
	require.NoError(t, err)

	err = p.RunRepository().TransitionNodeState(ctx, run.ID, "a", models.NodeStatusPending, running)
	assert.True(t, persistence.IsNodeStateConflict(err))

	// Absent state counts as pending.
	err = p.RunRepository().TransitionNodeState(ctx, run.ID, "b", models.NodeStatusPending, running)
	require.NoError(t, err)

	retrieved, err := p.RunRepository().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusRunning, retrieved.NodeState("a").Status)
	assert.Equal(t, models.NodeStatusRunning, retrieved.NodeState("b").Status)

	err = p.RunRepository().TransitionNodeState(ctx, uuid.NewString(), "a", models.NodeStatusPending, running)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_MarkFinished(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := &models.Flow{ID: uuid.NewString(), Name: "Onboarding"}
	require.NoError(t, p.FlowRepository().Save(ctx, flow))

	version := testVersion(flow.ID)
	require.NoError(t, p.VersionRepository().Save(ctx, version))

	run := &models.Run{
		ID:        uuid.NewString(),
		FlowID:    flow.ID,
		VersionID: version.ID,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, p.RunRepository().Save(ctx, run))

	require.NoError(t, p.RunRepository().MarkFinished(ctx, run.ID))

	first, err := p.RunRepository().GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.True(t, first.Finished())

	// A second mark keeps the original timestamp.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.RunRepository().MarkFinished(ctx, run.ID))

	second, err := p.RunRepository().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, first.FinishedAt.UnixNano(), second.FinishedAt.UnixNano())
}

func TestEntityRepository_CompareAndSetPosition(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	entity := &models.Entity{
		ID:             uuid.NewString(),
		CanvasID:       "canvas-1",
		Email:          "ada@example.com",
		Classification: models.ClassificationLead,
		Position:       models.AtNode("a"),
	}
	require.NoError(t, p.EntityRepository().Save(ctx, entity))

	// Winning CAS.
	err := p.EntityRepository().CompareAndSetPosition(ctx, entity.ID,
		models.AtNode("a"), models.Traveling("e1", 0, "b"))
	require.NoError(t, err)

	// Losing CAS: the stored position is no longer at node a.
	err = p.EntityRepository().CompareAndSetPosition(ctx, entity.ID,
		models.AtNode("a"), models.AtNode("b"))
	require.True(t, persistence.IsPositionConflict(err))

	// Missing entity surfaces as not-found, not conflict.
	err = p.EntityRepository().CompareAndSetPosition(ctx, uuid.NewString(),
		models.AtNode("a"), models.AtNode("b"))
	require.True(t, persistence.IsEntityNotFound(err))

	retrieved, err := p.EntityRepository().GetByID(ctx, entity.ID)
	require.NoError(t, err)

	travel, traveling := retrieved.Position.Traveling()
	require.True(t, traveling)
	assert.Equal(t, "e1", travel.EdgeID)
	assert.Equal(t, "b", travel.DestinationID)
}

func TestEntityRepository_FindByEmail(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	entity := &models.Entity{
		ID:       uuid.NewString(),
		CanvasID: "canvas-1",
		Email:    "ada@example.com",
		Position: models.AtNode("a"),
	}
	require.NoError(t, p.EntityRepository().Save(ctx, entity))

	found, err := p.EntityRepository().FindByEmail(ctx, "canvas-1", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, found.ID)

	_, err = p.EntityRepository().FindByEmail(ctx, "canvas-1", "nobody@example.com")
	assert.True(t, persistence.IsEntityNotFound(err))

	// Same email on another canvas is a different entity.
	_, err = p.EntityRepository().FindByEmail(ctx, "canvas-2", "ada@example.com")
	assert.True(t, persistence.IsEntityNotFound(err))
}

func TestJourneyEventRepository_AppendAndList(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	entity := &models.Entity{
		ID:       uuid.NewString(),
		CanvasID: "canvas-1",
		Email:    "ada@example.com",
		Position: models.AtNode("a"),
	}
	require.NoError(t, p.EntityRepository().Save(ctx, entity))

	base := time.Now().UTC().Truncate(time.Millisecond)

	events := []*models.JourneyEvent{
		{ID: uuid.NewString(), EntityID: entity.ID, Type: models.JourneyEventStartedEdge, EdgeID: "e1", At: base},
		{ID: uuid.NewString(), EntityID: entity.ID, Type: models.JourneyEventEnteredNode, NodeID: "b", At: base.Add(time.Second)},
	}

	for _, event := range events {
		require.NoError(t, p.JourneyEventRepository().Append(ctx, event))
	}

	listed, err := p.JourneyEventRepository().ListByEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, models.JourneyEventStartedEdge, listed[0].Type)
	assert.Equal(t, "e1", listed[0].EdgeID)
	assert.Equal(t, models.JourneyEventEnteredNode, listed[1].Type)
	assert.Equal(t, "b", listed[1].NodeID)
}

func testVersion(flowID string) *models.FlowVersion {
	return &models.FlowVersion{
		ID:     "v-" + uuid.NewString(),
		FlowID: flowID,
		Graph: &models.Canvas{
			ID:    "canvas-1",
			Nodes: []*models.CanvasNode{{ID: "a", Kind: models.NodeKindItem}},
		},
		Artifact: &models.ExecutionArtifact{
			Nodes:         map[string]*models.ExecutionNode{"a": {ID: "a", Kind: models.NodeKindItem}},
			Adjacency:     map[string][]string{"a": {}},
			EntryNodes:    []string{"a"},
			TerminalNodes: []string{"a"},
		},
		Message:   "test version",
		CreatedAt: time.Now().UTC(),
	}
}
