package web

import (
	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/protocol"
)

// CreateFlowRequest creates an empty flow; the canvas arrives with the
// first version.
type CreateFlowRequest struct {
	Name  string `json:"name"  validate:"required,min=1,max=255"`
	Owner string `json:"owner" validate:"omitempty,max=255"`
}

// CreateVersionRequest compiles a canvas and, on success, makes the new
// version current.
type CreateVersionRequest struct {
	Graph   *models.Canvas `json:"graph"   validate:"required"`
	Message string         `json:"message" validate:"omitempty,max=1024"`
}

// StartRunRequest starts a run. When Graph is present it is compiled (or an
// identical current version reused) before the run starts; otherwise the
// flow's current version is used.
type StartRunRequest struct {
	Graph    *models.Canvas `json:"graph,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
	NodeID   string         `json:"node_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// CompleteNodeRequest is the worker completion callback body.
type CompleteNodeRequest struct {
	Status protocol.CompletionStatus `json:"status" validate:"required,oneof=completed failed"`
	Output map[string]any            `json:"output,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

// CreateEntityRequest places a new entity at a node on a canvas.
type CreateEntityRequest struct {
	CanvasID       string                `json:"canvas_id"      validate:"required"`
	Email          string                `json:"email"          validate:"required,email"`
	Classification models.Classification `json:"classification" validate:"omitempty,oneof=lead customer churned"`
	NodeID         string                `json:"node_id"        validate:"required"`
}

// LayoutRequest computes positions for an unpositioned graph.
type LayoutRequest struct {
	Nodes []*models.CanvasNode `json:"nodes" validate:"required,min=1"`
	Edges []*models.CanvasEdge `json:"edges"`

	LevelSpacing int `json:"level_spacing,omitempty" validate:"omitempty,gt=0"`
	NodeSpacing  int `json:"node_spacing,omitempty"  validate:"omitempty,gt=0"`
}
