// Package schedule starts runs on cron expressions: one schedule per flow,
// evaluated by a shared cron runner.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/canvasflow/canvasflow/pkg/models"
)

// RunStarter starts a run for a flow from a trigger. The engine satisfies
// this.
type RunStarter interface {
	StartRun(ctx context.Context, flowID string, canvas *models.Canvas, trigger models.TriggerDescriptor) (*models.Run, error)
}

// Schedule binds a cron expression to a flow.
type Schedule struct {
	FlowID string
	Spec   string // Standard 5-field cron expression

	// NodeID optionally overrides the artifact's entry nodes as the start
	// point.
	NodeID string
}

// Scheduler evaluates registered schedules and starts runs when they fire.
type Scheduler struct {
	cron   *cron.Cron
	runner RunStarter
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(logger *slog.Logger, runner RunStarter) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		logger:  logger.With("module", "schedule"),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a schedule. Re-adding a flow's schedule replaces the old
// one.
func (s *Scheduler) Add(ctx context.Context, schedule Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[schedule.FlowID]; ok {
		s.cron.Remove(existing)
	}

	entryID, err := s.cron.AddFunc(schedule.Spec, func() {
		s.fire(ctx, schedule)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for flow %s: %w", schedule.Spec, schedule.FlowID, err)
	}

	s.entries[schedule.FlowID] = entryID
	s.logger.InfoContext(ctx, "Schedule registered", "flow_id", schedule.FlowID, "spec", schedule.Spec)

	return nil
}

// Remove drops a flow's schedule.
func (s *Scheduler) Remove(flowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[flowID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, flowID)
	}
}

// Start begins evaluating schedules and stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.logger.Info("Scheduler stopped")
	}()
}

func (s *Scheduler) fire(ctx context.Context, schedule Schedule) {
	s.logger.InfoContext(ctx, "Schedule fired", "flow_id", schedule.FlowID)

	run, err := s.runner.StartRun(ctx, schedule.FlowID, nil, models.TriggerDescriptor{
		Source: "schedule",
		NodeID: schedule.NodeID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled run failed to start", "flow_id", schedule.FlowID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Scheduled run started", "flow_id", schedule.FlowID, "run_id", run.ID)
}
