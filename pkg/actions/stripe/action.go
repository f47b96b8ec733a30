// Package stripe implements the stripe_sync system action: it mirrors the
// entity into a billing customer record via the Stripe API.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/canvasflow/canvasflow/pkg/protocol"
)

const (
	defaultBaseURL = "https://api.stripe.com/v1"
	defaultTimeout = 30 * time.Second
)

type Action struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "stripe_sync"
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"secret_key": map[string]any{"type": "string"},
			"base_url":   map[string]any{"type": "string", "format": "uri"},
		},
		"required": []any{"secret_key"},
	}
}

func (f *Factory) Create(config map[string]any) (protocol.SystemAction, error) {
	secretKey, _ := config["secret_key"].(string)
	if secretKey == "" {
		return nil, fmt.Errorf("stripe_sync requires a 'secret_key' config value")
	}

	baseURL, _ := config["base_url"].(string)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Action{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		Timeout:   defaultTimeout,
	}, nil
}

func (a *Action) Execute(ctx context.Context, actx protocol.ActionContext) (map[string]any, error) {
	logger := actx.Logger.With("module", "stripe_action", "run_id", actx.RunID, "node_id", actx.NodeID)
	logger.InfoContext(ctx, "Syncing entity to Stripe customer")

	form := url.Values{}
	form.Set("metadata[entity_id]", actx.EntityID)
	form.Set("metadata[flow_id]", actx.FlowID)

	if email, ok := actx.NodeOutput["email"].(string); ok {
		form.Set("email", email)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.BaseURL+"/customers", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.SecretKey, "")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("stripe returned status %d", resp.StatusCode)
	}

	return map[string]any{"status_code": resp.StatusCode}, nil
}
