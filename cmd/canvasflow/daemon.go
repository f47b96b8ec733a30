package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/canvasflow/canvasflow/pkg/compiler"
	"github.com/canvasflow/canvasflow/pkg/engine"
	"github.com/canvasflow/canvasflow/pkg/eventbus"
	"github.com/canvasflow/canvasflow/pkg/persistence"
	"github.com/canvasflow/canvasflow/pkg/registry"
	"github.com/canvasflow/canvasflow/pkg/sources/schedule"
	"github.com/canvasflow/canvasflow/pkg/sources/webhook"
	"github.com/canvasflow/canvasflow/pkg/versions"
)

// sourcesConfig is the on-disk declaration of entry points into flows.
type sourcesConfig struct {
	Webhooks  []*webhook.Source   `json:"webhooks"`
	Schedules []schedule.Schedule `json:"schedules"`
}

type Daemon struct {
	id        string
	logger    *slog.Logger
	engine    *engine.Engine
	webhook   *webhook.Server
	scheduler *schedule.Scheduler
	schedules []schedule.Schedule
}

func NewDaemon(
	id string,
	logger *slog.Logger,
	p persistence.Persistence,
	reg *registry.Registry,
	eventBus eventbus.EventBus,
	webhookPort int,
	sourcesFile string,
) (*Daemon, error) {
	versionStore := versions.NewStore(logger, compiler.New(reg), p)
	eng := engine.New(logger, p, versionStore, reg, eventBus, nil, engine.Config{})

	cfg, err := loadSourcesConfig(sourcesFile)
	if err != nil {
		return nil, err
	}

	sources := webhook.NewMemorySourceStore()
	for _, source := range cfg.Webhooks {
		sources.Register(source)
	}

	server := webhook.NewServer(webhookPort, logger, sources, p.EntityRepository(), p.JourneyEventRepository(), eng)
	scheduler := schedule.NewScheduler(logger, eng)

	return &Daemon{
		id:        id,
		logger:    logger.With("module", "daemon"),
		engine:    eng,
		webhook:   server,
		scheduler: scheduler,
		schedules: cfg.Schedules,
	}, nil
}

// Start runs the webhook server and the scheduler until the process
// receives SIGINT or SIGTERM.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, sched := range d.schedules {
		if err := d.scheduler.Add(ctx, sched); err != nil {
			return fmt.Errorf("failed to register schedule for flow %s: %w", sched.FlowID, err)
		}
	}

	d.scheduler.Start(ctx)

	errChan := make(chan error, 1)

	go func() {
		if err := d.webhook.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	d.logger.InfoContext(ctx, "Daemon started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		d.logger.InfoContext(ctx, "Received signal, shutting down", "signal", sig.String())
	case err := <-errChan:
		d.logger.ErrorContext(ctx, "Webhook server failed", "error", err)

		return err
	}

	cancel()

	return d.webhook.Stop(context.Background())
}

func loadSourcesConfig(path string) (*sourcesConfig, error) {
	if path == "" {
		return &sourcesConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var cfg sourcesConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	return &cfg, nil
}
