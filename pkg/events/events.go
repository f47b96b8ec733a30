// Package events defines event types and structures for run and entity
// lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every engine event.
const Topic = "canvasflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunStartedEvent  EventType = "run.started"
	RunFinishedEvent EventType = "run.finished"

	// Node-in-run events.
	NodeCompletedEvent EventType = "node.completed"
	NodeFailedEvent    EventType = "node.failed"
	NodeWaitingEvent   EventType = "node.waiting"

	// Entity movement events.
	EntityStartedEdgeEvent EventType = "entity.started_edge"
	EntityEnteredNodeEvent EventType = "entity.entered_node"

	// System-edge outcome events.
	SystemEdgeFiredEvent  EventType = "system_edge.fired"
	SystemEdgeFailedEvent EventType = "system_edge.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id"`
	RunID     string         `json:"run_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, flowID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
	}
}

type RunStarted struct {
	BaseEvent

	VersionID string `json:"version_id"`
	EntityID  string `json:"entity_id,omitempty"`
	StartNode string `json:"start_node,omitempty"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunFinished struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

type NodeCompleted struct {
	BaseEvent

	NodeID string         `json:"node_id"`
	Output map[string]any `json:"output,omitempty"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type NodeFailed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (e NodeFailed) GetType() EventType {
	return NodeFailedEvent
}

type NodeWaiting struct {
	BaseEvent

	NodeID string `json:"node_id"`
}

func (e NodeWaiting) GetType() EventType {
	return NodeWaitingEvent
}

type EntityStartedEdge struct {
	BaseEvent

	EntityID      string `json:"entity_id"`
	EdgeID        string `json:"edge_id"`
	DestinationID string `json:"destination_id"`
}

func (e EntityStartedEdge) GetType() EventType {
	return EntityStartedEdgeEvent
}

type EntityEnteredNode struct {
	BaseEvent

	EntityID string `json:"entity_id"`
	NodeID   string `json:"node_id"`
}

func (e EntityEnteredNode) GetType() EventType {
	return EntityEnteredNodeEvent
}

type SystemEdgeFired struct {
	BaseEvent

	NodeID string         `json:"node_id"`
	EdgeID string         `json:"edge_id"`
	Action string         `json:"action"`
	Result map[string]any `json:"result,omitempty"`
}

func (e SystemEdgeFired) GetType() EventType {
	return SystemEdgeFiredEvent
}

type SystemEdgeFailed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	EdgeID string `json:"edge_id"`
	Action string `json:"action"`
	Error  string `json:"error"`
}

func (e SystemEdgeFailed) GetType() EventType {
	return SystemEdgeFailedEvent
}
