// Package slack implements the slack_notify system action: it posts a
// message to a Slack incoming webhook when the triggering node completes.
package slack

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
	WebhookURL string
	Channel    string
	Template   string
	Timeout    time.Duration
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "slack_notify"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"webhook_url": map[string]any{"type": "string", "format": "uri"},
			"channel":     map[string]any{"type": "string"},
			"message":     map[string]any{"type": "string"},
		},
		"required": []any{"webhook_url"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.SystemAction, error) {
	webhookURL, _ := config["webhook_url"].(string)
	if webhookURL == "" {
		return nil, fmt.Errorf("slack_notify requires a 'webhook_url' config value")
	}

	channel, _ := config["channel"].(string)
	message, _ := config["message"].(string)

	return &Action{
		WebhookURL: webhookURL,
		Channel:    channel,
		Template:   message,
		Timeout:    defaultTimeout,
	}, nil
}

func (a *Action) Execute(ctx context.Context, actx protocol.ActionContext) (map[string]any, error) {
	logger := actx.Logger.With("module", "slack_action", "run_id", actx.RunID, "node_id", actx.NodeID)

	text := a.Template
	if text == "" {
		text = fmt.Sprintf("Node %s completed for entity %s", actx.NodeID, actx.EntityID)
	}

	payload := map[string]any{"text": text}
	if a.Channel != "" {
		payload["channel"] = a.Channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create slack request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	logger.InfoContext(ctx, "Slack notification sent")

	return map[string]any{"status_code": resp.StatusCode}, nil
}
