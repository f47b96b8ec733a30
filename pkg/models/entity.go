package models

import (
	"errors"
	"time"
)

// Classification buckets an entity by lifecycle stage.
type Classification string

const (
	ClassificationLead     Classification = "lead"
	ClassificationCustomer Classification = "customer"
	ClassificationChurned  Classification = "churned"
)

// TravelState describes an entity mid-flight along a journey edge.
type TravelState struct {
	EdgeID        string  `json:"edge_id"`
	Progress      float64 `json:"progress"` // Monotonic, 0 to 1
	DestinationID string  `json:"destination_id"`
}

// Position is exactly one of AtNode or Traveling. The zero value is invalid
// for an active entity: never both set, never neither.
type Position struct {
	NodeID *string      `json:"node_id,omitempty"`
	Travel *TravelState `json:"travel,omitempty"`
}

// ErrInvalidPosition is returned when a position violates the
// one-of-exactly-two invariant.
var ErrInvalidPosition = errors.New("entity position must be exactly one of at-node or traveling")

// AtNode builds a resting position.
func AtNode(nodeID string) Position {
	return Position{NodeID: &nodeID}
}

// Traveling builds an in-flight position.
func Traveling(edgeID string, progress float64, destinationID string) Position {
	return Position{Travel: &TravelState{
		EdgeID:        edgeID,
		Progress:      progress,
		DestinationID: destinationID,
	}}
}

// Validate enforces the mutual-exclusion invariant.
func (p Position) Validate() error {
	if (p.NodeID == nil) == (p.Travel == nil) {
		return ErrInvalidPosition
	}

	return nil
}

// AtNode reports whether the position is resting, and at which node.
func (p Position) AtNode() (string, bool) {
	if p.NodeID == nil {
		return "", false
	}

	return *p.NodeID, true
}

// Traveling reports whether the position is in flight.
func (p Position) Traveling() (*TravelState, bool) {
	if p.Travel == nil {
		return nil, false
	}

	return p.Travel, true
}

// Equal compares two positions value for value. Used by the store's
// compare-and-set position update.
func (p Position) Equal(other Position) bool {
	switch {
	case p.NodeID != nil && other.NodeID != nil:
		return *p.NodeID == *other.NodeID
	case p.Travel != nil && other.Travel != nil:
		return *p.Travel == *other.Travel
	default:
		return p.NodeID == nil && other.NodeID == nil &&
			p.Travel == nil && other.Travel == nil
	}
}

// Entity is a business record whose position on a canvas is tracked over
// time. Entities are created once and only ever transitioned, never deleted.
type Entity struct {
	ID             string         `json:"id"`
	CanvasID       string         `json:"canvas_id"`
	Email          string         `json:"email"` // Natural key for webhook find-or-create
	Classification Classification `json:"classification"`
	Position       Position       `json:"position"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// JourneyEventType enumerates the append-only position transition log.
type JourneyEventType string

const (
	JourneyEventEnteredNode JourneyEventType = "entered_node"
	JourneyEventStartedEdge JourneyEventType = "started_edge"
	JourneyEventConverted   JourneyEventType = "converted"
	JourneyEventChurned     JourneyEventType = "churned"
)

// JourneyEvent records one position transition for audit and replay.
// Events are never mutated or deleted.
type JourneyEvent struct {
	ID       string           `json:"id"`
	EntityID string           `json:"entity_id"`
	Type     JourneyEventType `json:"type"`
	NodeID   string           `json:"node_id,omitempty"`
	EdgeID   string           `json:"edge_id,omitempty"`
	RunID    string           `json:"run_id,omitempty"`
	At       time.Time        `json:"at"`
}
