package file

import (
	"context"
	"sort"
	"time"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

const (
	entitiesCollection = "entities"
	journeyCollection  = "journey_events"
)

// EntityRepository handles entity documents and the atomic position update.
type EntityRepository struct {
	store *Persistence
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	if err := entity.Position.Validate(); err != nil {
		return &persistence.EntityError{Op: "Save", EntityID: entity.ID, Err: err}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(entitiesCollection, entity.ID, entity)
}

func (r *EntityRepository) GetByID(ctx context.Context, id string) (*models.Entity, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *EntityRepository) getLocked(id string) (*models.Entity, error) {
	var entity models.Entity

	err := r.store.readDoc(entitiesCollection, id, &entity)
	if isNotExist(err) {
		return nil, &persistence.EntityError{Op: "GetByID", EntityID: id, Err: persistence.ErrEntityNotFound}
	}

	if err != nil {
		return nil, &persistence.EntityError{Op: "GetByID", EntityID: id, Err: err}
	}

	return &entity, nil
}

func (r *EntityRepository) FindByEmail(ctx context.Context, canvasID, email string) (*models.Entity, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(entitiesCollection)
	if err != nil {
		return nil, persistence.ErrEntityNotFound
	}

	for _, id := range ids {
		entity, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		if entity.CanvasID == canvasID && entity.Email == email {
			return entity, nil
		}
	}

	return nil, persistence.ErrEntityNotFound
}

// CompareAndSetPosition swaps the position only when the stored value still
// matches expected. The store lock makes the compare and the write a single
// atomic step, so no observer ever sees a node and an edge set together.
func (r *EntityRepository) CompareAndSetPosition(ctx context.Context, entityID string, expected, next models.Position) error {
	if err := next.Validate(); err != nil {
		return &persistence.EntityError{Op: "CompareAndSetPosition", EntityID: entityID, Err: err}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	entity, err := r.getLocked(entityID)
	if err != nil {
		return err
	}

	if !entity.Position.Equal(expected) {
		return &persistence.EntityError{
			Op:       "CompareAndSetPosition",
			EntityID: entityID,
			Err:      persistence.ErrPositionConflict,
		}
	}

	entity.Position = next
	entity.UpdatedAt = time.Now().UTC()

	return r.store.writeDoc(entitiesCollection, entity.ID, entity)
}

// JourneyEventRepository is the append-only position transition log.
type JourneyEventRepository struct {
	store *Persistence
}

func (r *JourneyEventRepository) Append(ctx context.Context, event *models.JourneyEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(journeyCollection, event.ID, event)
}

func (r *JourneyEventRepository) ListByEntity(ctx context.Context, entityID string) ([]*models.JourneyEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(journeyCollection)
	if err != nil {
		return []*models.JourneyEvent{}, nil
	}

	events := make([]*models.JourneyEvent, 0)

	for _, id := range ids {
		var event models.JourneyEvent
		if err := r.store.readDoc(journeyCollection, id, &event); err != nil {
			return nil, err
		}

		if event.EntityID == entityID {
			events = append(events, &event)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].At.Before(events[j].At)
	})

	return events, nil
}
