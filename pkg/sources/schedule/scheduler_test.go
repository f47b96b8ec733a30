package schedule

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/canvasflow/pkg/models"
)

type fakeRunner struct {
	mu      sync.Mutex
	flowIDs []string
}

func (f *fakeRunner) StartRun(_ context.Context, flowID string, _ *models.Canvas, _ models.TriggerDescriptor) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.flowIDs = append(f.flowIDs, flowID)

	return &models.Run{ID: "run-1", FlowID: flowID}, nil
}

func newScheduler(t *testing.T) (*Scheduler, *fakeRunner) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	runner := &fakeRunner{}

	return NewScheduler(logger, runner), runner
}

func TestAddRejectsInvalidSpec(t *testing.T) {
	s, _ := newScheduler(t)

	err := s.Add(context.Background(), Schedule{FlowID: "flow-1", Spec: "not a cron"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestAddReplacesExistingSchedule(t *testing.T) {
	s, _ := newScheduler(t)

	require.NoError(t, s.Add(context.Background(), Schedule{FlowID: "flow-1", Spec: "* * * * *"}))
	require.NoError(t, s.Add(context.Background(), Schedule{FlowID: "flow-1", Spec: "0 0 * * *"}))

	assert.Len(t, s.cron.Entries(), 1)
}

func TestRemoveDropsSchedule(t *testing.T) {
	s, _ := newScheduler(t)

	require.NoError(t, s.Add(context.Background(), Schedule{FlowID: "flow-1", Spec: "* * * * *"}))
	s.Remove("flow-1")

	assert.Empty(t, s.cron.Entries())

	// Removing an absent schedule is a no-op.
	s.Remove("flow-2")
}

func TestFireStartsRun(t *testing.T) {
	s, runner := newScheduler(t)

	s.fire(context.Background(), Schedule{FlowID: "flow-1", Spec: "* * * * *", NodeID: "start"})

	require.Len(t, runner.flowIDs, 1)
	assert.Equal(t, "flow-1", runner.flowIDs[0])
}
