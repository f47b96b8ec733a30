package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

const uniqueViolationCode = "23505"

// FlowRepository handles flow documents and the current-version pointer.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	query := `
		INSERT INTO flows (id, name, current_version_id, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		flow.ID, flow.Name, nullString(flow.CurrentVersionID), flow.Owner, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		return persistence.NewFlowError("Save", flow.ID, err)
	}

	return nil
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	query := `
		SELECT id, name, current_version_id, owner, created_at, updated_at
		FROM flows
		WHERE id = $1
	`

	var (
		flow      models.Flow
		versionID sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&flow.ID, &flow.Name, &versionID, &flow.Owner, &flow.CreatedAt, &flow.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	flow.CurrentVersionID = versionID.String

	return &flow, nil
}

func (r *FlowRepository) List(ctx context.Context) ([]*models.Flow, error) {
	query := `
		SELECT id, name, current_version_id, owner, created_at, updated_at
		FROM flows
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		var (
			flow      models.Flow
			versionID sql.NullString
		)

		err := rows.Scan(&flow.ID, &flow.Name, &versionID, &flow.Owner, &flow.CreatedAt, &flow.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flow.CurrentVersionID = versionID.String
		flows = append(flows, &flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

// SetCurrentVersion atomically repoints the flow's current version with a
// single UPDATE.
func (r *FlowRepository) SetCurrentVersion(ctx context.Context, flowID, versionID string) error {
	query := `UPDATE flows SET current_version_id = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, flowID, versionID)
	if err != nil {
		return persistence.NewFlowError("SetCurrentVersion", flowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewFlowError("SetCurrentVersion", flowID, err)
	}

	if affected == 0 {
		return persistence.NewFlowError("SetCurrentVersion", flowID, persistence.ErrFlowNotFound)
	}

	return nil
}

// VersionRepository handles immutable version snapshots.
type VersionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *VersionRepository) Save(ctx context.Context, version *models.FlowVersion) error {
	graph, err := json.Marshal(version.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal version graph: %w", err)
	}

	artifact, err := json.Marshal(version.Artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal version artifact: %w", err)
	}

	query := `
		INSERT INTO flow_versions (id, flow_id, graph, artifact, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		version.ID, version.FlowID, graph, artifact, version.Message, version.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return persistence.ErrVersionExists
		}

		return fmt.Errorf("failed to insert version %s: %w", version.ID, err)
	}

	return nil
}

func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.FlowVersion, error) {
	query := `
		SELECT id, flow_id, graph, artifact, message, created_at
		FROM flow_versions
		WHERE id = $1
	`

	return scanVersion(r.db.QueryRowContext(ctx, query, id))
}

func (r *VersionRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	query := `
		SELECT id, flow_id, graph, artifact, message, created_at
		FROM flow_versions
		WHERE flow_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.FlowVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.FlowVersion, error) {
	var (
		version  models.FlowVersion
		graph    []byte
		artifact []byte
	)

	err := row.Scan(&version.ID, &version.FlowID, &graph, &artifact, &version.Message, &version.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrVersionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	if err := json.Unmarshal(graph, &version.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version graph: %w", err)
	}

	if err := json.Unmarshal(artifact, &version.Artifact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal version artifact: %w", err)
	}

	return &version, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
