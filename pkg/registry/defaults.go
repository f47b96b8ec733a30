package registry

import (
	"context"
	"log/slog"

	"github.com/canvasflow/canvasflow/pkg/actions/analytics"
	"github.com/canvasflow/canvasflow/pkg/actions/crm"
	"github.com/canvasflow/canvasflow/pkg/actions/slack"
	"github.com/canvasflow/canvasflow/pkg/actions/stripe"
	"github.com/canvasflow/canvasflow/pkg/protocol"
)

// NewDefaultRegistry builds a registry with every built-in worker subtype
// and system action registered.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.RegisterDefaultWorkers()
	r.RegisterDefaultActions()

	return r
}

// RegisterDefaultWorkers registers the built-in worker subtypes. The
// handlers here are the in-process implementations; production deployments
// typically dispatch these externally and complete through the callback.
func (r *Registry) RegisterDefaultWorkers() {
	r.RegisterWorker(&WorkerDefinition{
		Type:        "noop",
		Name:        "No-op",
		Description: "Passes its input through unchanged",
		Handler: protocol.WorkerFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
			return input, nil
		}),
	})

	r.RegisterWorker(&WorkerDefinition{
		Type:        "llm_generate",
		Name:        "LLM Generate",
		Description: "Generates text with an LLM; completes asynchronously via callback",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{"type": "string"},
				"model":  map[string]any{"type": "string"},
			},
			"required": []any{"prompt"},
		},
	})

	r.RegisterWorker(&WorkerDefinition{
		Type:        "enrich_contact",
		Name:        "Enrich Contact",
		Description: "Looks up third-party enrichment data; completes asynchronously via callback",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"provider": map[string]any{"type": "string"},
			},
		},
	})

	r.RegisterWorker(&WorkerDefinition{
		Type:        "send_email",
		Name:        "Send Email",
		Description: "Sends a templated email; completes asynchronously via callback",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"template": map[string]any{"type": "string"},
				"subject":  map[string]any{"type": "string"},
			},
			"required": []any{"template"},
		},
	})
}

// RegisterDefaultActions registers the built-in system-edge integrations.
func (r *Registry) RegisterDefaultActions() {
	r.RegisterAction(crm.NewFactory())
	r.RegisterAction(analytics.NewFactory())
	r.RegisterAction(slack.NewFactory())
	r.RegisterAction(stripe.NewFactory())
}
