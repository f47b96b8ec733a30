package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/canvasflow/canvasflow/pkg/persistence"
)

// Persistence decorates a backing store with the cached entity repository.
// Every other repository passes straight through.
type Persistence struct {
	backing  persistence.Persistence
	client   *redis.Client
	entities *EntityRepository
}

// WrapPersistence layers the entity position cache over backing.
func WrapPersistence(logger *slog.Logger, client *redis.Client, backing persistence.Persistence) *Persistence {
	return &Persistence{
		backing:  backing,
		client:   client,
		entities: NewEntityRepository(logger, client, backing.EntityRepository()),
	}
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.backing.FlowRepository()
}

func (p *Persistence) VersionRepository() persistence.VersionRepository {
	return p.backing.VersionRepository()
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.backing.RunRepository()
}

func (p *Persistence) EntityRepository() persistence.EntityRepository {
	return p.entities
}

func (p *Persistence) JourneyEventRepository() persistence.JourneyEventRepository {
	return p.backing.JourneyEventRepository()
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return err
	}

	return p.backing.HealthCheck(ctx)
}

func (p *Persistence) Close(ctx context.Context) error {
	if err := p.client.Close(); err != nil {
		return err
	}

	return p.backing.Close(ctx)
}
