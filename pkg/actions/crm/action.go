// Package crm implements the crm_sync system action: it pushes the
// triggering node's output to a CRM endpoint as a contact upsert.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/canvasflow/canvasflow/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

type Action struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "crm_sync"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":     map[string]any{"type": "string", "format": "uri"},
			"api_key": map[string]any{"type": "string"},
		},
		"required": []any{"url"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.SystemAction, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("crm_sync requires a 'url' config value")
	}

	apiKey, _ := config["api_key"].(string)

	return &Action{
		URL:     url,
		APIKey:  apiKey,
		Timeout: defaultTimeout,
	}, nil
}

func (a *Action) Execute(ctx context.Context, actx protocol.ActionContext) (map[string]any, error) {
	logger := actx.Logger.With("module", "crm_sync_action", "run_id", actx.RunID, "node_id", actx.NodeID)
	logger.InfoContext(ctx, "Syncing node output to CRM")

	payload := map[string]any{
		"entity_id": actx.EntityID,
		"flow_id":   actx.FlowID,
		"node_id":   actx.NodeID,
		"fields":    actx.NodeOutput,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal crm payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create crm request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("crm returned status %d", resp.StatusCode)
	}

	logger.InfoContext(ctx, "CRM sync completed", "status", resp.StatusCode)

	return map[string]any{"status_code": resp.StatusCode}, nil
}
