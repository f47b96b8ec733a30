package webhook

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence/file"
)

type fakeRunner struct {
	triggers []models.TriggerDescriptor
	flowIDs  []string
}

func (f *fakeRunner) StartRun(_ context.Context, flowID string, _ *models.Canvas, trigger models.TriggerDescriptor) (*models.Run, error) {
	f.flowIDs = append(f.flowIDs, flowID)
	f.triggers = append(f.triggers, trigger)

	return &models.Run{ID: "run-1", FlowID: flowID}, nil
}

func setupWebhook(t *testing.T) (*Server, *MemorySourceStore, *file.Persistence, *fakeRunner) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	p := file.NewPersistence(t.TempDir())
	sources := NewMemorySourceStore()
	runner := &fakeRunner{}

	server := NewServer(0, logger, sources, p.EntityRepository(), p.JourneyEventRepository(), runner)

	return server, sources, p, runner
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))

	return len(p), nil
}

func TestHandleWebhookCreatesEntityAndStartsRun(t *testing.T) {
	server, sources, p, runner := setupWebhook(t)

	sources.Register(&Source{
		ID:       "hook-1",
		FlowID:   "flow-1",
		CanvasID: "canvas-1",
		NodeID:   "signup",
		Active:   true,
	})

	req := httptest.NewRequest("POST", "/webhook/hook-1", strings.NewReader(`{"email":"ada@example.com","plan":"pro"}`))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	require.Equal(t, 202, rec.Code, rec.Body.String())

	entity, err := p.EntityRepository().FindByEmail(context.Background(), "canvas-1", "ada@example.com")
	require.NoError(t, err)

	nodeID, atNode := entity.Position.AtNode()
	require.True(t, atNode)
	assert.Equal(t, "signup", nodeID)
	assert.Equal(t, models.ClassificationLead, entity.Classification)

	require.Len(t, runner.triggers, 1)
	assert.Equal(t, "flow-1", runner.flowIDs[0])
	assert.Equal(t, "webhook", runner.triggers[0].Source)
	assert.Equal(t, entity.ID, runner.triggers[0].EntityID)
	assert.Equal(t, "signup", runner.triggers[0].NodeID)
	assert.Equal(t, "pro", runner.triggers[0].Data["plan"])

	events, err := p.JourneyEventRepository().ListByEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.JourneyEventEnteredNode, events[0].Type)
	assert.Equal(t, "signup", events[0].NodeID)
}

func TestHandleWebhookReusesEntityByEmail(t *testing.T) {
	server, sources, p, runner := setupWebhook(t)

	sources.Register(&Source{
		ID:       "hook-1",
		FlowID:   "flow-1",
		CanvasID: "canvas-1",
		NodeID:   "signup",
		Active:   true,
	})

	for range 2 {
		req := httptest.NewRequest("POST", "/webhook/hook-1", strings.NewReader(`{"email":"ada@example.com"}`))
		rec := httptest.NewRecorder()
		server.handleWebhook(rec, req)
		require.Equal(t, 202, rec.Code)
	}

	// Same email, same entity: both runs carry the same entity id.
	require.Len(t, runner.triggers, 2)
	assert.Equal(t, runner.triggers[0].EntityID, runner.triggers[1].EntityID)

	entity, err := p.EntityRepository().FindByEmail(context.Background(), "canvas-1", "ada@example.com")
	require.NoError(t, err)

	events, err := p.JourneyEventRepository().ListByEntity(context.Background(), entity.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "placement is recorded only on creation")
}

func TestHandleWebhookUnknownSource(t *testing.T) {
	server, _, _, runner := setupWebhook(t)

	req := httptest.NewRequest("POST", "/webhook/nope", strings.NewReader(`{"email":"ada@example.com"}`))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	assert.Equal(t, 404, rec.Code)
	assert.Empty(t, runner.triggers)
}

func TestHandleWebhookInactiveSource(t *testing.T) {
	server, sources, _, runner := setupWebhook(t)

	sources.Register(&Source{ID: "hook-1", FlowID: "flow-1", CanvasID: "canvas-1", NodeID: "signup"})

	req := httptest.NewRequest("POST", "/webhook/hook-1", strings.NewReader(`{"email":"ada@example.com"}`))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	assert.Equal(t, 404, rec.Code)
	assert.Empty(t, runner.triggers)
}

func TestHandleWebhookMissingEmail(t *testing.T) {
	server, sources, _, runner := setupWebhook(t)

	sources.Register(&Source{
		ID:       "hook-1",
		FlowID:   "flow-1",
		CanvasID: "canvas-1",
		NodeID:   "signup",
		Active:   true,
	})

	req := httptest.NewRequest("POST", "/webhook/hook-1", strings.NewReader(`{"name":"Ada"}`))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	assert.Equal(t, 400, rec.Code)
	assert.Empty(t, runner.triggers)
}

func TestHandleWebhookSchemaValidation(t *testing.T) {
	server, sources, _, runner := setupWebhook(t)

	sources.Register(&Source{
		ID:       "hook-1",
		FlowID:   "flow-1",
		CanvasID: "canvas-1",
		NodeID:   "signup",
		Active:   true,
		JSONSchema: map[string]any{
			"type":     "object",
			"required": []any{"email", "plan"},
		},
	})

	req := httptest.NewRequest("POST", "/webhook/hook-1", strings.NewReader(`{"email":"ada@example.com"}`))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "Schema validation failed")
	assert.Empty(t, runner.triggers)
}

func TestHandleWebhookMethodNotAllowed(t *testing.T) {
	server, sources, _, _ := setupWebhook(t)

	sources.Register(&Source{ID: "hook-1", FlowID: "flow-1", CanvasID: "canvas-1", NodeID: "signup", Active: true})

	req := httptest.NewRequest("GET", "/webhook/hook-1", nil)
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	assert.Equal(t, 405, rec.Code)
}

func TestHandleWebhookCustomEmailField(t *testing.T) {
	server, sources, p, _ := setupWebhook(t)

	sources.Register(&Source{
		ID:         "hook-1",
		FlowID:     "flow-1",
		CanvasID:   "canvas-1",
		NodeID:     "signup",
		EmailField: "contact_email",
		Active:     true,
	})

	req := httptest.NewRequest("POST", "/webhook/hook-1", strings.NewReader(`{"contact_email":"ada@example.com"}`))
	rec := httptest.NewRecorder()

	server.handleWebhook(rec, req)

	require.Equal(t, 202, rec.Code)

	_, err := p.EntityRepository().FindByEmail(context.Background(), "canvas-1", "ada@example.com")
	assert.NoError(t, err)
}
