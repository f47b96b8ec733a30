package file

import (
	"context"
	"sort"
	"time"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

const runsCollection = "runs"

// RunRepository handles run documents and per-node state updates.
type RunRepository struct {
	store *Persistence
}

func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(runsCollection, run.ID, run)
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *RunRepository) getLocked(id string) (*models.Run, error) {
	var run models.Run

	err := r.store.readDoc(runsCollection, id, &run)
	if isNotExist(err) {
		return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: persistence.ErrRunNotFound}
	}

	if err != nil {
		return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: err}
	}

	return &run, nil
}

func (r *RunRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.Run, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(runsCollection)
	if err != nil {
		return []*models.Run{}, nil
	}

	runs := make([]*models.Run, 0)

	for _, id := range ids {
		run, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if run.FlowID == flowID {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

// UpdateNodeState replaces one node's state within a run as a single
// read-modify-write under the store lock.
func (r *RunRepository) UpdateNodeState(ctx context.Context, runID, nodeID string, state *models.NodeState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	run, err := r.getLocked(runID)
	if err != nil {
		return err
	}

	if run.NodeStates == nil {
		run.NodeStates = make(map[string]*models.NodeState)
	}

	run.NodeStates[nodeID] = state

	if err := r.store.writeDoc(runsCollection, run.ID, run); err != nil {
		return &persistence.RunError{Op: "UpdateNodeState", RunID: runID, NodeID: nodeID, Err: err}
	}

	return nil
}

// TransitionNodeState is the conditional form of UpdateNodeState: the write
// only lands when the node's current status matches expected. Absent state
// counts as pending.
func (r *RunRepository) TransitionNodeState(ctx context.Context, runID, nodeID string, expected models.NodeStatus, state *models.NodeState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	run, err := r.getLocked(runID)
	if err != nil {
		return err
	}

	current := models.NodeStatusPending
	if existing, ok := run.NodeStates[nodeID]; ok {
		current = existing.Status
	}

	if current != expected {
		return &persistence.RunError{Op: "TransitionNodeState", RunID: runID, NodeID: nodeID, Err: persistence.ErrNodeStateConflict}
	}

	if run.NodeStates == nil {
		run.NodeStates = make(map[string]*models.NodeState)
	}

	run.NodeStates[nodeID] = state

	if err := r.store.writeDoc(runsCollection, run.ID, run); err != nil {
		return &persistence.RunError{Op: "TransitionNodeState", RunID: runID, NodeID: nodeID, Err: err}
	}

	return nil
}

func (r *RunRepository) MarkFinished(ctx context.Context, runID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	run, err := r.getLocked(runID)
	if err != nil {
		return err
	}

	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	return r.store.writeDoc(runsCollection, run.ID, run)
}
