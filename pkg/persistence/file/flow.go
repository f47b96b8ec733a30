package file

import (
	"context"
	"sort"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

const (
	flowsCollection    = "flows"
	versionsCollection = "versions"
)

// FlowRepository handles flow documents and the current-version pointer.
type FlowRepository struct {
	store *Persistence
}

func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.writeDoc(flowsCollection, flow.ID, flow)
}

func (r *FlowRepository) GetByID(ctx context.Context, id string) (*models.Flow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.getLocked(id)
}

func (r *FlowRepository) getLocked(id string) (*models.Flow, error) {
	var flow models.Flow

	err := r.store.readDoc(flowsCollection, id, &flow)
	if isNotExist(err) {
		return nil, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("GetByID", id, err)
	}

	return &flow, nil
}

func (r *FlowRepository) List(ctx context.Context) ([]*models.Flow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(flowsCollection)
	if err != nil {
		return []*models.Flow{}, nil
	}

	flows := make([]*models.Flow, 0, len(ids))

	for _, id := range ids {
		flow, err := r.getLocked(id)
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})

	return flows, nil
}

// SetCurrentVersion atomically repoints the flow's current version. The
// store lock makes the read-modify-write a single step.
func (r *FlowRepository) SetCurrentVersion(ctx context.Context, flowID, versionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	flow, err := r.getLocked(flowID)
	if err != nil {
		return err
	}

	flow.CurrentVersionID = versionID

	return r.store.writeDoc(flowsCollection, flow.ID, flow)
}

// VersionRepository handles immutable version snapshots.
type VersionRepository struct {
	store *Persistence
}

func (r *VersionRepository) Save(ctx context.Context, version *models.FlowVersion) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var existing models.FlowVersion
	if err := r.store.readDoc(versionsCollection, version.ID, &existing); err == nil {
		return persistence.ErrVersionExists
	}

	return r.store.writeDoc(versionsCollection, version.ID, version)
}

func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.FlowVersion, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var version models.FlowVersion

	err := r.store.readDoc(versionsCollection, id, &version)
	if isNotExist(err) {
		return nil, persistence.ErrVersionNotFound
	}

	if err != nil {
		return nil, err
	}

	return &version, nil
}

func (r *VersionRepository) ListByFlow(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	ids, err := r.store.listIDs(versionsCollection)
	if err != nil {
		return []*models.FlowVersion{}, nil
	}

	versions := make([]*models.FlowVersion, 0)

	for _, id := range ids {
		var version models.FlowVersion
		if err := r.store.readDoc(versionsCollection, id, &version); err != nil {
			return nil, err
		}

		if version.FlowID == flowID {
			versions = append(versions, &version)
		}
	}

	// Newest first.
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})

	return versions, nil
}
