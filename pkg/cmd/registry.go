package cmd

import (
	"log/slog"

	"github.com/canvasflow/canvasflow/pkg/registry"
)

// NewRegistry creates a registry with the built-in worker definitions and
// system actions registered.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	return registry.NewDefaultRegistry(logger)
}
