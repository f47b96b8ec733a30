// Package layout computes non-overlapping author-time positions for canvas
// nodes using longest-path layering. Pure functions, no state.
package layout

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/canvasflow/canvasflow/pkg/models"
)

// ErrNotAcyclic is returned when the input graph contains a cycle, which
// makes longest-path leveling impossible.
var ErrNotAcyclic = errors.New("graph contains a cycle")

// Position is an author-time coordinate assignment for one node.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Config controls layer spacing. The zero value is usable via defaults.
type Config struct {
	LevelSpacing int // Main-axis distance between levels
	NodeSpacing  int // Cross-axis distance between nodes in a level
}

const (
	defaultLevelSpacing = 240
	defaultNodeSpacing  = 120
)

// Layout assigns each node a level equal to one more than the maximum level
// of its parents, then spreads nodes within a level along the cross axis so
// none collide.
//
// A node is never assigned a level until all of its parents have one: the
// scan seeds a queue with zero-incoming-edge nodes at level 0 and requeues
// any node whose parents are not all leveled yet, rather than assigning a
// possibly wrong level. Edges from ids outside the node set are ignored.
// Terminates for any input: a full queue pass that levels nothing means the
// remaining nodes sit on a cycle, and ErrNotAcyclic is returned.
func Layout(nodes []*models.CanvasNode, edges []*models.CanvasEdge, cfg Config) (map[string]Position, error) {
	if cfg.LevelSpacing == 0 {
		cfg.LevelSpacing = defaultLevelSpacing
	}

	if cfg.NodeSpacing == 0 {
		cfg.NodeSpacing = defaultNodeSpacing
	}

	known := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		known[node.ID] = true
	}

	parents := make(map[string][]string, len(nodes))

	for _, edge := range edges {
		// A dangling source can never be leveled; it must not hold its
		// target hostage.
		if !known[edge.SourceID] {
			continue
		}

		parents[edge.TargetID] = append(parents[edge.TargetID], edge.SourceID)
	}

	levels := make(map[string]int, len(nodes))

	var queue []string

	for _, node := range nodes {
		if len(parents[node.ID]) == 0 {
			levels[node.ID] = 0
		} else {
			queue = append(queue, node.ID)
		}
	}

	stalled := 0

	for len(queue) > 0 {
		if stalled == len(queue) {
			return nil, fmt.Errorf("%w: %s", ErrNotAcyclic, strings.Join(queue, ", "))
		}

		id := queue[0]
		queue = queue[1:]

		maxParent := -1
		ready := true

		for _, parent := range parents[id] {
			level, ok := levels[parent]
			if !ok {
				ready = false

				break
			}

			if level > maxParent {
				maxParent = level
			}
		}

		// Deferred re-visit: some parent is still unleveled, so push this
		// node to the back of the queue and try again later.
		if !ready {
			queue = append(queue, id)
			stalled++

			continue
		}

		levels[id] = maxParent + 1
		stalled = 0
	}

	return positionsFromLevels(nodes, levels, cfg), nil
}

func positionsFromLevels(nodes []*models.CanvasNode, levels map[string]int, cfg Config) map[string]Position {
	byLevel := make(map[int][]string)
	for _, node := range nodes {
		level := levels[node.ID]
		byLevel[level] = append(byLevel[level], node.ID)
	}

	positions := make(map[string]Position, len(nodes))

	for level, ids := range byLevel {
		// Stable cross-axis ordering, independent of input order.
		sort.Strings(ids)

		for offset, id := range ids {
			positions[id] = Position{
				X: level * cfg.LevelSpacing,
				Y: offset * cfg.NodeSpacing,
			}
		}
	}

	return positions
}
