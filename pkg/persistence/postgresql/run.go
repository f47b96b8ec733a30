package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

// RunRepository handles run documents and their per-node state map.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *RunRepository) Save(ctx context.Context, run *models.Run) error {
	states, err := json.Marshal(run.NodeStates)
	if err != nil {
		return fmt.Errorf("failed to marshal node states: %w", err)
	}

	trigger, err := json.Marshal(run.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	query := `
		INSERT INTO runs (id, flow_id, version_id, node_states, trigger_info, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			node_states = EXCLUDED.node_states,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.FlowID, run.VersionID, states, trigger, run.StartedAt, nullTime(run.FinishedAt))
	if err != nil {
		return persistence.NewRunError("Save", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.Run, error) {
	query := `
		SELECT id, flow_id, version_id, node_states, trigger_info, started_at, finished_at
		FROM runs
		WHERE id = $1
	`

	return scanRun(r.db.QueryRowContext(ctx, query, id), id)
}

func (r *RunRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.Run, error) {
	query := `
		SELECT id, flow_id, version_id, node_states, trigger_info, started_at, finished_at
		FROM runs
		WHERE flow_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.Run, 0)

	for rows.Next() {
		run, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// UpdateNodeState replaces one node's state within the run's JSONB map in a
// single UPDATE, so concurrent writers to different nodes never clobber each
// other.
func (r *RunRepository) UpdateNodeState(ctx context.Context, runID, nodeID string, state *models.NodeState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal node state: %w", err)
	}

	query := `
		UPDATE runs
		SET node_states = jsonb_set(node_states, ARRAY[$2], $3::jsonb)
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, runID, nodeID, stateJSON)
	if err != nil {
		return persistence.NewRunError("UpdateNodeState", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("UpdateNodeState", runID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("UpdateNodeState", runID, persistence.ErrRunNotFound)
	}

	return nil
}

// TransitionNodeState is the conditional form of UpdateNodeState: the write
// only lands when the node's stored status matches expected. A missing state
// counts as pending, so the first claim on an untouched node succeeds.
func (r *RunRepository) TransitionNodeState(ctx context.Context, runID, nodeID string, expected models.NodeStatus, state *models.NodeState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal node state: %w", err)
	}

	query := `
		UPDATE runs
		SET node_states = jsonb_set(node_states, ARRAY[$2], $3::jsonb)
		WHERE id = $1
		  AND COALESCE(node_states->$2->>'status', 'pending') = $4
	`

	result, err := r.db.ExecContext(ctx, query, runID, nodeID, stateJSON, string(expected))
	if err != nil {
		return persistence.NewRunError("TransitionNodeState", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("TransitionNodeState", runID, err)
	}

	if affected == 0 {
		if _, err := r.GetByID(ctx, runID); err != nil {
			return persistence.NewRunError("TransitionNodeState", runID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("TransitionNodeState", runID, persistence.ErrNodeStateConflict)
	}

	return nil
}

// MarkFinished stamps the run terminal. Already-finished runs keep their
// original timestamp.
func (r *RunRepository) MarkFinished(ctx context.Context, runID string) error {
	query := `UPDATE runs SET finished_at = NOW() WHERE id = $1 AND finished_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, runID)
	if err != nil {
		return persistence.NewRunError("MarkFinished", runID, err)
	}

	if _, err := result.RowsAffected(); err != nil {
		return persistence.NewRunError("MarkFinished", runID, err)
	}

	return nil
}

func scanRun(row rowScanner, id string) (*models.Run, error) {
	var (
		run        models.Run
		states     []byte
		trigger    []byte
		finishedAt sql.NullTime
	)

	err := row.Scan(&run.ID, &run.FlowID, &run.VersionID, &states, &trigger, &run.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if err := json.Unmarshal(states, &run.NodeStates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node states: %w", err)
	}

	if err := json.Unmarshal(trigger, &run.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return &run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}
