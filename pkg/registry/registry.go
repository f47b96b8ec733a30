// Package registry holds the fixed lookup tables for worker subtypes and
// system-edge integration actions. Registration is plain table insertion,
// not dynamic plugin loading.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/canvasflow/canvasflow/pkg/protocol"
)

// WorkerDefinition describes one registered worker subtype.
type WorkerDefinition struct {
	Type         string
	Name         string
	Description  string
	ConfigSchema map[string]any // JSON schema for node Config, nil to skip validation

	// Handler is the optional in-process implementation. Workers without one
	// are dispatched externally and complete via the engine callback.
	Handler protocol.Worker
}

type Registry struct {
	logger          *slog.Logger
	workers         map[string]*WorkerDefinition
	actionFactories map[string]protocol.SystemActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log,
		workers:         make(map[string]*WorkerDefinition),
		actionFactories: make(map[string]protocol.SystemActionFactory),
	}
}

func (r *Registry) RegisterWorker(def *WorkerDefinition) {
	r.workers[def.Type] = def
}

func (r *Registry) RegisterAction(factory protocol.SystemActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// Worker looks up a registered worker subtype.
func (r *Registry) Worker(workerType string) (*WorkerDefinition, bool) {
	def, ok := r.workers[workerType]

	return def, ok
}

// WorkerTypes returns every registered subtype, for error messages.
func (r *Registry) WorkerTypes() []string {
	types := make([]string, 0, len(r.workers))
	for workerType := range r.workers {
		types = append(types, workerType)
	}

	return types
}

// ValidateWorkerConfig checks a node's Config against the subtype's declared
// JSON schema.
func (r *Registry) ValidateWorkerConfig(workerType string, config map[string]any) error {
	def, ok := r.workers[workerType]
	if !ok {
		return fmt.Errorf("worker type '%s' not registered", workerType)
	}

	if def.ConfigSchema == nil {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(def.ConfigSchema)

	if config == nil {
		config = map[string]any{}
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal worker config: %w", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(configJSON))
	if err != nil {
		return fmt.Errorf("failed to validate worker config: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("worker config invalid for '%s': %s", workerType, strings.Join(details, "; "))
	}

	return nil
}

// CreateAction instantiates a system action by its edge tag.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.SystemAction, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	return factory.Create(config)
}

// ActionRegistered reports whether a system action tag is known.
func (r *Registry) ActionRegistered(actionType string) bool {
	_, ok := r.actionFactories[actionType]

	return ok
}
