// Package redis provides a read-through cache for entity positions. Travel
// progress changes many times per second while an entity is mid-flight;
// observers polling the position hit the cache instead of the backing store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

const (
	positionKeyPrefix = "canvasflow:entity:position:"
	defaultTTL        = 30 * time.Second
)

// EntityRepository decorates a backing entity repository with a position
// cache. Writes go through to the backing store first; the cache entry is
// refreshed on success and dropped on any doubt.
type EntityRepository struct {
	backing persistence.EntityRepository
	client  *redis.Client
	logger  *slog.Logger
	ttl     time.Duration
}

// NewEntityRepository wraps backing with a position cache on the given
// redis client.
func NewEntityRepository(logger *slog.Logger, client *redis.Client, backing persistence.EntityRepository) *EntityRepository {
	return &EntityRepository{
		backing: backing,
		client:  client,
		logger:  logger.With("module", "redis_entity_cache"),
		ttl:     defaultTTL,
	}
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	if err := r.backing.Save(ctx, entity); err != nil {
		return err
	}

	r.cachePosition(ctx, entity.ID, entity.Position)

	return nil
}

func (r *EntityRepository) GetByID(ctx context.Context, id string) (*models.Entity, error) {
	entity, err := r.backing.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if position, ok := r.cachedPosition(ctx, id); ok {
		entity.Position = position
	}

	return entity, nil
}

func (r *EntityRepository) FindByEmail(ctx context.Context, canvasID, email string) (*models.Entity, error) {
	return r.backing.FindByEmail(ctx, canvasID, email)
}

func (r *EntityRepository) CompareAndSetPosition(ctx context.Context, entityID string, expected, next models.Position) error {
	if err := r.backing.CompareAndSetPosition(ctx, entityID, expected, next); err != nil {
		// The CAS may have lost to another writer whose value we have not
		// seen; drop the entry rather than serve a stale position.
		r.dropPosition(ctx, entityID)

		return err
	}

	r.cachePosition(ctx, entityID, next)

	return nil
}

// Position returns the entity's current position from cache when present,
// falling back to the backing store.
func (r *EntityRepository) Position(ctx context.Context, entityID string) (models.Position, error) {
	if position, ok := r.cachedPosition(ctx, entityID); ok {
		return position, nil
	}

	entity, err := r.backing.GetByID(ctx, entityID)
	if err != nil {
		return models.Position{}, err
	}

	r.cachePosition(ctx, entityID, entity.Position)

	return entity.Position, nil
}

func (r *EntityRepository) cachePosition(ctx context.Context, entityID string, position models.Position) {
	data, err := json.Marshal(position)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to marshal position for cache", "entity_id", entityID, "error", err)

		return
	}

	err = r.client.Set(ctx, positionKeyPrefix+entityID, data, r.ttl).Err()
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to cache position", "entity_id", entityID, "error", err)
	}
}

func (r *EntityRepository) cachedPosition(ctx context.Context, entityID string) (models.Position, bool) {
	data, err := r.client.Get(ctx, positionKeyPrefix+entityID).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Position{}, false
	}

	if err != nil {
		r.logger.WarnContext(ctx, "Failed to read cached position", "entity_id", entityID, "error", err)

		return models.Position{}, false
	}

	var position models.Position
	if err := json.Unmarshal(data, &position); err != nil {
		r.dropPosition(ctx, entityID)

		return models.Position{}, false
	}

	if position.Validate() != nil {
		return models.Position{}, false
	}

	return position, true
}

func (r *EntityRepository) dropPosition(ctx context.Context, entityID string) {
	if err := r.client.Del(ctx, positionKeyPrefix+entityID).Err(); err != nil {
		r.logger.WarnContext(ctx, "Failed to drop cached position", "entity_id", entityID, "error", err)
	}
}

// NewClient builds a redis client from a URL such as redis://localhost:6379/0.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return redis.NewClient(opts), nil
}
