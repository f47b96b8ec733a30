// Package analytics implements the analytics_update system action: it emits
// a tracking event for the triggering node to an analytics collector.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/canvasflow/canvasflow/pkg/protocol"
)

const defaultTimeout = 15 * time.Second

type Action struct {
	URL       string
	EventName string
	Timeout   time.Duration
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "analytics_update"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":   map[string]any{"type": "string", "format": "uri"},
			"event": map[string]any{"type": "string"},
		},
		"required": []any{"url"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.SystemAction, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("analytics_update requires a 'url' config value")
	}

	eventName, _ := config["event"].(string)
	if eventName == "" {
		eventName = "node_completed"
	}

	return &Action{
		URL:       url,
		EventName: eventName,
		Timeout:   defaultTimeout,
	}, nil
}

func (a *Action) Execute(ctx context.Context, actx protocol.ActionContext) (map[string]any, error) {
	logger := actx.Logger.With("module", "analytics_action", "run_id", actx.RunID, "node_id", actx.NodeID)

	event := map[string]any{
		"event":      a.EventName,
		"entity_id":  actx.EntityID,
		"flow_id":    actx.FlowID,
		"node_id":    actx.NodeID,
		"properties": actx.NodeOutput,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analytics event: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create analytics request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analytics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("analytics collector returned status %d", resp.StatusCode)
	}

	logger.DebugContext(ctx, "Analytics event recorded", "event", a.EventName)

	return map[string]any{"event": a.EventName, "status_code": resp.StatusCode}, nil
}
