// Package web provides HTTP handlers and REST API endpoints for flow,
// version, run, and entity management.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/canvasflow/canvasflow/pkg/engine"
	"github.com/canvasflow/canvasflow/pkg/layout"
	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
	"github.com/canvasflow/canvasflow/pkg/protocol"
	"github.com/canvasflow/canvasflow/pkg/versions"
)

// Engine is the run-execution surface the handlers drive. The engine
// package satisfies this.
type Engine interface {
	StartRun(ctx context.Context, flowID string, canvas *models.Canvas, trigger models.TriggerDescriptor) (*models.Run, error)
	CompleteNode(ctx context.Context, runID, nodeID string, completion protocol.WorkerCompletion) ([]engine.EdgeOutcome, error)
}

type APIHandlers struct {
	persistence persistence.Persistence
	versions    *versions.Store
	engine      Engine
	validator   *validator.Validate
}

func NewAPIHandlers(
	p persistence.Persistence,
	versionStore *versions.Store,
	engine Engine,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		versions:    versionStore,
		engine:      engine,
		validator:   validate,
	}
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	flow := &models.Flow{
		ID:    "flow-" + uuid.NewString(),
		Name:  req.Name,
		Owner: req.Owner,
	}

	if err := h.persistence.FlowRepository().Save(c.Context(), flow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(flow)
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	flows, err := h.persistence.FlowRepository().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"flows": flows})
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Flow ID is required")
	}

	flow, err := h.persistence.FlowRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(flow)
}

// CreateVersion compiles the submitted canvas and, on success, snapshots it
// and makes it current. Compilation failures return the complete structured
// error set.
func (h *APIHandlers) CreateVersion(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req CreateVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	version, err := h.versions.Create(c.Context(), flowID, req.Graph, req.Message)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) GetVersions(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	list, err := h.versions.List(c.Context(), flowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{"versions": list})
}

func (h *APIHandlers) GetCurrentVersion(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	version, err := h.versions.Current(c.Context(), flowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	id := c.Params("versionId")
	if id == "" {
		return badRequest(c, "Version ID is required")
	}

	version, err := h.versions.Get(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	var req StartRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	run, err := h.engine.StartRun(c.Context(), flowID, req.Graph, models.TriggerDescriptor{
		Source:   "api",
		EntityID: req.EntityID,
		NodeID:   req.NodeID,
		Data:     req.Data,
	})
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.persistence.RunRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	flowID := c.Params("id")
	if flowID == "" {
		return badRequest(c, "Flow ID is required")
	}

	runs, err := h.persistence.RunRepository().ListByFlow(c.Context(), flowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

// CompleteNode is the worker completion callback endpoint: long-running
// nodes and suspended user steps report their terminal status here.
func (h *APIHandlers) CompleteNode(c fiber.Ctx) error {
	runID := c.Params("id")
	nodeID := c.Params("nodeId")

	if runID == "" || nodeID == "" {
		return badRequest(c, "Run ID and node ID are required")
	}

	var req CompleteNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	outcomes, err := h.engine.CompleteNode(c.Context(), runID, nodeID, protocol.WorkerCompletion{
		Status: req.Status,
		Output: req.Output,
		Error:  req.Error,
	})
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"edges": outcomes})
}

func (h *APIHandlers) CreateEntity(c fiber.Ctx) error {
	var req CreateEntityRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	classification := req.Classification
	if classification == "" {
		classification = models.ClassificationLead
	}

	entity := &models.Entity{
		ID:             "ent-" + uuid.NewString(),
		CanvasID:       req.CanvasID,
		Email:          req.Email,
		Classification: classification,
		Position:       models.AtNode(req.NodeID),
	}

	if err := h.persistence.EntityRepository().Save(c.Context(), entity); err != nil {
		return handleStoreError(c, err)
	}

	if err := h.persistence.JourneyEventRepository().Append(c.Context(), &models.JourneyEvent{
		ID:       uuid.NewString(),
		EntityID: entity.ID,
		Type:     models.JourneyEventEnteredNode,
		NodeID:   req.NodeID,
		At:       time.Now().UTC(),
	}); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(entity)
}

func (h *APIHandlers) GetEntity(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Entity ID is required")
	}

	entity, err := h.persistence.EntityRepository().GetByID(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(entity)
}

func (h *APIHandlers) GetEntityJourney(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Entity ID is required")
	}

	if _, err := h.persistence.EntityRepository().GetByID(c.Context(), id); err != nil {
		return handleStoreError(c, err)
	}

	events, err := h.persistence.JourneyEventRepository().ListByEntity(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"events": events})
}

// ComputeLayout positions an unpositioned graph for initial display.
func (h *APIHandlers) ComputeLayout(c fiber.Ctx) error {
	var req LayoutRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	positions, err := layout.Layout(req.Nodes, req.Edges, layout.Config{
		LevelSpacing: req.LevelSpacing,
		NodeSpacing:  req.NodeSpacing,
	})
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(fiber.Map{"positions": positions})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "CanvasFlow API is healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "CanvasFlow API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
