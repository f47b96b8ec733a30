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

// EntityRepository handles entities and their canvas positions.
type EntityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	if err := entity.Position.Validate(); err != nil {
		return persistence.NewEntityError("Save", entity.ID, err)
	}

	now := time.Now().UTC()

	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}

	entity.UpdatedAt = now

	position, err := json.Marshal(entity.Position)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	query := `
		INSERT INTO entities (id, canvas_id, email, classification, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			classification = EXCLUDED.classification,
			position = EXCLUDED.position,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		entity.ID, entity.CanvasID, entity.Email, entity.Classification, position,
		entity.CreatedAt, entity.UpdatedAt)
	if err != nil {
		return persistence.NewEntityError("Save", entity.ID, err)
	}

	return nil
}

func (r *EntityRepository) GetByID(ctx context.Context, id string) (*models.Entity, error) {
	query := `
		SELECT id, canvas_id, email, classification, position, created_at, updated_at
		FROM entities
		WHERE id = $1
	`

	return scanEntity(r.db.QueryRowContext(ctx, query, id), id)
}

func (r *EntityRepository) FindByEmail(ctx context.Context, canvasID, email string) (*models.Entity, error) {
	query := `
		SELECT id, canvas_id, email, classification, position, created_at, updated_at
		FROM entities
		WHERE canvas_id = $1 AND email = $2
	`

	return scanEntity(r.db.QueryRowContext(ctx, query, canvasID, email), email)
}

// CompareAndSetPosition replaces the position only when the stored value
// still equals expected. The comparison rides on JSONB equality, so the
// whole check-and-swap is one UPDATE.
func (r *EntityRepository) CompareAndSetPosition(ctx context.Context, entityID string, expected, next models.Position) error {
	if err := next.Validate(); err != nil {
		return persistence.NewEntityError("CompareAndSetPosition", entityID, err)
	}

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		return fmt.Errorf("failed to marshal expected position: %w", err)
	}

	nextJSON, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal next position: %w", err)
	}

	query := `
		UPDATE entities
		SET position = $3::jsonb, updated_at = NOW()
		WHERE id = $1 AND position = $2::jsonb
	`

	result, err := r.db.ExecContext(ctx, query, entityID, expectedJSON, nextJSON)
	if err != nil {
		return persistence.NewEntityError("CompareAndSetPosition", entityID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("CompareAndSetPosition", entityID, err)
	}

	if affected == 0 {
		// Distinguish a missing entity from a lost race.
		if _, getErr := r.GetByID(ctx, entityID); getErr != nil {
			return getErr
		}

		return persistence.NewEntityError("CompareAndSetPosition", entityID, persistence.ErrPositionConflict)
	}

	return nil
}

func scanEntity(row rowScanner, id string) (*models.Entity, error) {
	var (
		entity   models.Entity
		position []byte
	)

	err := row.Scan(&entity.ID, &entity.CanvasID, &entity.Email, &entity.Classification,
		&position, &entity.CreatedAt, &entity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("Get", id, persistence.ErrEntityNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	if err := json.Unmarshal(position, &entity.Position); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position: %w", err)
	}

	return &entity, nil
}

// JourneyEventRepository handles the append-only position transition log.
type JourneyEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *JourneyEventRepository) Append(ctx context.Context, event *models.JourneyEvent) error {
	query := `
		INSERT INTO journey_events (id, entity_id, event_type, node_id, edge_id, run_id, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.EntityID, event.Type,
		nullString(event.NodeID), nullString(event.EdgeID), nullString(event.RunID), event.At)
	if err != nil {
		return fmt.Errorf("failed to append journey event for entity %s: %w", event.EntityID, err)
	}

	return nil
}

func (r *JourneyEventRepository) ListByEntity(ctx context.Context, entityID string) ([]*models.JourneyEvent, error) {
	query := `
		SELECT id, entity_id, event_type, node_id, edge_id, run_id, at
		FROM journey_events
		WHERE entity_id = $1
		ORDER BY at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journey events: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.JourneyEvent, 0)

	for rows.Next() {
		var (
			event  models.JourneyEvent
			nodeID sql.NullString
			edgeID sql.NullString
			runID  sql.NullString
		)

		err := rows.Scan(&event.ID, &event.EntityID, &event.Type, &nodeID, &edgeID, &runID, &event.At)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey event: %w", err)
		}

		event.NodeID = nodeID.String
		event.EdgeID = edgeID.String
		event.RunID = runID.String
		events = append(events, &event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating journey events: %w", err)
	}

	return events, nil
}
