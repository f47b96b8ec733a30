// Package file provides a file-based persistence implementation. Every
// record is one JSON document under the root directory; a coarse lock keeps
// the compare-and-set operations atomic within the process.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/canvasflow/canvasflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the
// file system.
type Persistence struct {
	root string
	mu   sync.RWMutex

	flowRepo    *FlowRepository
	versionRepo *VersionRepository
	runRepo     *RunRepository
	entityRepo  *EntityRepository
	journeyRepo *JourneyEventRepository
}

// NewPersistence creates a new instance rooted at the given directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.flowRepo = &FlowRepository{store: p}
	p.versionRepo = &VersionRepository{store: p}
	p.runRepo = &RunRepository{store: p}
	p.entityRepo = &EntityRepository{store: p}
	p.journeyRepo = &JourneyEventRepository{store: p}

	return p
}

// Close performs any necessary cleanup. Nothing to clean up for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) FlowRepository() persistence.FlowRepository {
	return p.flowRepo
}

func (p *Persistence) VersionRepository() persistence.VersionRepository {
	return p.versionRepo
}

func (p *Persistence) RunRepository() persistence.RunRepository {
	return p.runRepo
}

func (p *Persistence) EntityRepository() persistence.EntityRepository {
	return p.entityRepo
}

func (p *Persistence) JourneyEventRepository() persistence.JourneyEventRepository {
	return p.journeyRepo
}

func (p *Persistence) path(collection, id string) string {
	return filepath.Join(p.root, collection, id+".json")
}

// writeDoc marshals v into <root>/<collection>/<id>.json. Caller holds the lock.
func (p *Persistence) writeDoc(collection, id string, v any) error {
	dir := filepath.Join(p.root, collection)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	if err := os.WriteFile(p.path(collection, id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	return nil
}

// readDoc unmarshals <root>/<collection>/<id>.json into v. Returns
// fs.ErrNotExist (wrapped) when absent. Caller holds the lock.
func (p *Persistence) readDoc(collection, id string, v any) error {
	data, err := os.ReadFile(p.path(collection, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", collection, id, err)
	}

	return nil
}

// listIDs returns every document id in a collection. Caller holds the lock.
func (p *Persistence) listIDs(collection string) ([]string, error) {
	root := os.DirFS(filepath.Join(p.root, collection))

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", collection, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, strings.TrimSuffix(file, ".json"))
	}

	return ids, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
