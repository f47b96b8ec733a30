package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasflow/canvasflow/pkg/models"
)

func TestPositionExactlyOneOf(t *testing.T) {
	assert.NoError(t, models.AtNode("start").Validate())
	assert.NoError(t, models.Traveling("e1", 0.5, "end").Validate())

	var zero models.Position
	assert.ErrorIs(t, zero.Validate(), models.ErrInvalidPosition)

	node := "start"
	both := models.Position{
		NodeID: &node,
		Travel: &models.TravelState{EdgeID: "e1", DestinationID: "end"},
	}
	assert.ErrorIs(t, both.Validate(), models.ErrInvalidPosition)
}

func TestPositionAccessors(t *testing.T) {
	at := models.AtNode("start")

	nodeID, ok := at.AtNode()
	require.True(t, ok)
	assert.Equal(t, "start", nodeID)

	_, ok = at.Traveling()
	assert.False(t, ok)

	moving := models.Traveling("e1", 0.25, "end")

	travel, ok := moving.Traveling()
	require.True(t, ok)
	assert.Equal(t, "e1", travel.EdgeID)
	assert.InDelta(t, 0.25, travel.Progress, 0.0001)
	assert.Equal(t, "end", travel.DestinationID)

	_, ok = moving.AtNode()
	assert.False(t, ok)
}

func TestPositionEqual(t *testing.T) {
	assert.True(t, models.AtNode("a").Equal(models.AtNode("a")))
	assert.False(t, models.AtNode("a").Equal(models.AtNode("b")))

	assert.True(t, models.Traveling("e1", 0.5, "b").Equal(models.Traveling("e1", 0.5, "b")))
	assert.False(t, models.Traveling("e1", 0.5, "b").Equal(models.Traveling("e1", 0.6, "b")))
	assert.False(t, models.AtNode("a").Equal(models.Traveling("e1", 0, "a")))
}

func TestPositionJSONRoundTrip(t *testing.T) {
	// A resting position serializes without a travel key at all, so readers
	// can't see a half-state.
	data, err := json.Marshal(models.AtNode("start"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"node_id":"start"}`, string(data))

	var decoded models.Position
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Equal(models.AtNode("start")))
}

func TestNodeKindValidity(t *testing.T) {
	for _, kind := range models.ValidNodeKinds {
		assert.True(t, kind.IsValid())
	}

	assert.False(t, models.NodeKind("portal").IsValid())
}

func TestCompletesImmediately(t *testing.T) {
	immediate := []models.NodeKind{
		models.NodeKindSplitter,
		models.NodeKindCollector,
		models.NodeKindSection,
		models.NodeKindItem,
	}
	for _, kind := range immediate {
		node := &models.CanvasNode{ID: "n", Kind: kind}
		assert.True(t, node.CompletesImmediately(), "kind %q", kind)
	}

	for _, kind := range []models.NodeKind{models.NodeKindWorker, models.NodeKindUX} {
		node := &models.CanvasNode{ID: "n", Kind: kind}
		assert.False(t, node.CompletesImmediately(), "kind %q", kind)
	}
}

func TestNodeStatusTerminal(t *testing.T) {
	assert.True(t, models.NodeStatusCompleted.Terminal())
	assert.True(t, models.NodeStatusFailed.Terminal())
	assert.False(t, models.NodeStatusPending.Terminal())
	assert.False(t, models.NodeStatusRunning.Terminal())
	assert.False(t, models.NodeStatusWaitingForUser.Terminal())
}

func TestRunNodeStateLazyCreate(t *testing.T) {
	run := &models.Run{ID: "run-1"}

	state := run.NodeState("a")
	assert.Equal(t, models.NodeStatusPending, state.Status)

	state.Status = models.NodeStatusRunning
	assert.Equal(t, models.NodeStatusRunning, run.NodeState("a").Status)
}
