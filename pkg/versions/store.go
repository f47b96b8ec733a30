// Package versions wraps the graph compiler with immutable snapshotting and
// the per-flow current version pointer.
package versions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/canvasflow/canvasflow/pkg/compiler"
	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
	"github.com/canvasflow/canvasflow/pkg/tracing"
)

// Store creates and resolves immutable flow versions. Creation for a given
// flow is serialized: the current-pointer repoint is the serialization
// point, and a per-flow lock keeps two concurrent auto-version calls from
// racing each other into divergent currents.
type Store struct {
	logger      *slog.Logger
	compiler    *compiler.Compiler
	persistence persistence.Persistence
	tracer      trace.Tracer

	mu        sync.Mutex
	flowLocks map[string]*sync.Mutex
}

func NewStore(logger *slog.Logger, comp *compiler.Compiler, p persistence.Persistence) *Store {
	return &Store{
		logger:      logger.With("module", "version_store"),
		compiler:    comp,
		persistence: p,
		tracer:      otel.Tracer("canvasflow/versions"),
		flowLocks:   make(map[string]*sync.Mutex),
	}
}

func (s *Store) flowLock(flowID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.flowLocks[flowID]
	if !ok {
		lock = &sync.Mutex{}
		s.flowLocks[flowID] = lock
	}

	return lock
}

// Create compiles the canvas and, only on success, persists the immutable
// (graph, artifact) pair and repoints the flow's current version. On
// validation failure nothing is persisted: no orphan version, no pointer
// change.
func (s *Store) Create(ctx context.Context, flowID string, canvas *models.Canvas, message string) (*models.FlowVersion, error) {
	ctx, span := tracing.StartSpan(ctx, s.tracer, "versions.create",
		attribute.String(tracing.FlowIDKey, flowID))
	defer span.End()

	lock := s.flowLock(flowID)
	lock.Lock()
	defer lock.Unlock()

	version, err := s.createLocked(ctx, flowID, canvas, message)
	if err != nil {
		tracing.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(tracing.VersionIDKey, version.ID))

	return version, nil
}

func (s *Store) createLocked(ctx context.Context, flowID string, canvas *models.Canvas, message string) (*models.FlowVersion, error) {
	artifact, err := s.compiler.Compile(canvas)
	if err != nil {
		return nil, err
	}

	version := &models.FlowVersion{
		ID:        "v-" + uuid.NewString(),
		FlowID:    flowID,
		Graph:     canvas,
		Artifact:  artifact,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.persistence.VersionRepository().Save(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to persist version for flow %s: %w", flowID, err)
	}

	if err := s.persistence.FlowRepository().SetCurrentVersion(ctx, flowID, version.ID); err != nil {
		return nil, fmt.Errorf("failed to repoint current version for flow %s: %w", flowID, err)
	}

	s.logger.InfoContext(ctx, "Created flow version",
		"flow_id", flowID,
		"version_id", version.ID,
		"nodes", len(canvas.Nodes),
		"edges", len(canvas.Edges))

	return version, nil
}

// Get resolves a version by id.
func (s *Store) Get(ctx context.Context, id string) (*models.FlowVersion, error) {
	return s.persistence.VersionRepository().GetByID(ctx, id)
}

// List returns a flow's versions, newest first.
func (s *Store) List(ctx context.Context, flowID string) ([]*models.FlowVersion, error) {
	return s.persistence.VersionRepository().ListByFlow(ctx, flowID)
}

// Current resolves the flow's current version, or ErrNoCurrentVersion.
func (s *Store) Current(ctx context.Context, flowID string) (*models.FlowVersion, error) {
	flow, err := s.persistence.FlowRepository().GetByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.CurrentVersionID == "" {
		return nil, persistence.ErrNoCurrentVersion
	}

	return s.persistence.VersionRepository().GetByID(ctx, flow.CurrentVersionID)
}

// EnsureForRun pins a version for a starting run. A flow with no current
// version gets its first one; an unchanged canvas reuses the current version
// id with no churn; any node or edge difference creates a new version and
// repoints. Every run is therefore tied to a snapshot captured at or before
// run start, and later edits never retroactively change what a historical
// run displays.
func (s *Store) EnsureForRun(ctx context.Context, flowID string, canvas *models.Canvas) (*models.FlowVersion, error) {
	lock := s.flowLock(flowID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.Current(ctx, flowID)
	if err != nil {
		if persistence.IsNoCurrentVersion(err) {
			return s.createLocked(ctx, flowID, canvas, "auto-version on first run")
		}

		return nil, err
	}

	if GraphsEqual(current.Graph, canvas) {
		return current, nil
	}

	return s.createLocked(ctx, flowID, canvas, "auto-version on run")
}

// GraphsEqual structurally compares two canvases by their nodes and edges.
// Any difference in any node or edge counts, including UI position changes.
func GraphsEqual(a, b *models.Canvas) bool {
	if a == nil || b == nil {
		return a == b
	}

	return string(canonicalGraph(a)) == string(canonicalGraph(b))
}

// canonicalGraph serializes nodes and edges sorted by id so the comparison
// is independent of authoring order.
func canonicalGraph(c *models.Canvas) []byte {
	nodes := make([]*models.CanvasNode, len(c.Nodes))
	copy(nodes, c.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]*models.CanvasEdge, len(c.Edges))
	copy(edges, c.Edges)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	data, err := json.Marshal(struct {
		Nodes []*models.CanvasNode `json:"nodes"`
		Edges []*models.CanvasEdge `json:"edges"`
	}{nodes, edges})
	if err != nil {
		// Canvas models are plain JSON-serializable values.
		panic(fmt.Sprintf("failed to canonicalize canvas: %v", err))
	}

	return data
}
