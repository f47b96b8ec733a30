// Package models defines the core domain models for canvas-based journey automation
package models

import "time"

// Canvas is the author-time form of a flow: a directed graph of work nodes
// and edges, carrying UI metadata that is irrelevant to execution.
type Canvas struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"        validate:"required,min=3"`
	Nodes     []*CanvasNode  `json:"nodes"`
	Edges     []*CanvasEdge  `json:"edges"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Owner     string         `json:"owner"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NodeByID returns the node with the given id, or nil.
func (c *Canvas) NodeByID(id string) *CanvasNode {
	for _, node := range c.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// Flow is the long-lived container a canvas is saved into. Its current
// version pointer may be reassigned; the versions themselves never change.
type Flow struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"               validate:"required,min=3"`
	CurrentVersionID string    `json:"current_version_id"`
	Owner            string    `json:"owner"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
