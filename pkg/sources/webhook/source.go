// Package webhook ingests external events: each configured source maps a
// public webhook URL to a flow and a canvas node, finds or creates the
// entity named in the payload, places it on the canvas, and starts a run.
package webhook

import (
	"sync"
)

// Source maps one webhook endpoint to a flow and a placement node.
type Source struct {
	// ID is the path segment of the public URL, /webhook/{id}.
	ID string `json:"id"`

	FlowID   string `json:"flow_id"`
	CanvasID string `json:"canvas_id"`

	// NodeID is where a newly created entity is placed, and the node a run
	// starts from.
	NodeID string `json:"node_id"`

	// EmailField is the payload field holding the entity's email. Defaults
	// to "email".
	EmailField string `json:"email_field,omitempty"`

	Active bool `json:"active"`

	// JSONSchema optionally validates the payload before ingestion.
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

func (s *Source) emailField() string {
	if s.EmailField == "" {
		return "email"
	}

	return s.EmailField
}

// HasJSONSchema reports whether payload validation is configured.
func (s *Source) HasJSONSchema() bool {
	return len(s.JSONSchema) > 0
}

// SourceStore resolves webhook sources by their public id.
type SourceStore interface {
	SourceByID(id string) (*Source, error)
	Sources() ([]*Source, error)
}

// MemorySourceStore is an in-process SourceStore.
type MemorySourceStore struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

func NewMemorySourceStore() *MemorySourceStore {
	return &MemorySourceStore{sources: make(map[string]*Source)}
}

func (s *MemorySourceStore) Register(source *Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[source.ID] = source
}

func (s *MemorySourceStore) SourceByID(id string) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sources[id], nil
}

func (s *MemorySourceStore) Sources() ([]*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make([]*Source, 0, len(s.sources))
	for _, source := range s.sources {
		sources = append(sources, source)
	}

	return sources, nil
}
