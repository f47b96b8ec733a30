package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/canvasflow/canvasflow/pkg/models"
	"github.com/canvasflow/canvasflow/pkg/persistence"
)

const (
	webhookReadTimeout     = 30 * time.Second
	webhookWriteTimeout    = 30 * time.Second
	webhookIdleTimeout     = 60 * time.Second
	webhookShutdownTimeout = 5 * time.Second
	maxRequestBodySize     = 1024 * 1024 // 1MB max request body
)

// RunStarter starts a run for a flow from a trigger. The engine satisfies
// this.
type RunStarter interface {
	StartRun(ctx context.Context, flowID string, canvas *models.Canvas, trigger models.TriggerDescriptor) (*models.Run, error)
}

// Server handles incoming webhook requests: it resolves the source, finds
// or creates the entity by email, and starts a run from the mapped node.
type Server struct {
	server   *http.Server
	port     int
	sources  SourceStore
	entities persistence.EntityRepository
	journeys persistence.JourneyEventRepository
	runner   RunStarter
	logger   *slog.Logger
	mu       sync.Mutex
	started  bool
}

func NewServer(
	port int,
	logger *slog.Logger,
	sources SourceStore,
	entities persistence.EntityRepository,
	journeys persistence.JourneyEventRepository,
	runner RunStarter,
) *Server {
	return &Server{
		port:     port,
		sources:  sources,
		entities: entities,
		journeys: journeys,
		runner:   runner,
		logger:   logger.With("module", "webhook_server", "port", port),
	}
}

// Start starts the HTTP server and begins handling webhook requests.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/", s.handleWebhook)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  webhookReadTimeout,
		WriteTimeout: webhookWriteTimeout,
		IdleTimeout:  webhookIdleTimeout,
	}

	s.started = true
	s.logger.Info("Starting webhook server", "addr", s.server.Addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Webhook server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), webhookShutdownTimeout)
		defer cancel()

		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("Error during webhook server shutdown", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the webhook server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping webhook server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down webhook server: %w", err)
	}

	s.started = false

	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	sourceID := strings.TrimPrefix(r.URL.Path, "/webhook/")
	if sourceID == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "Missing webhook id in path")

		return
	}

	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, http.StatusMethodNotAllowed, "Only POST method allowed")

		return
	}

	source, err := s.sources.SourceByID(sourceID)
	if err != nil {
		s.logger.Error("Error resolving webhook source", "source_id", sourceID, "error", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, "Error processing webhook")

		return
	}

	if source == nil || !source.Active {
		s.logger.Warn("Webhook request for unknown or inactive source", "source_id", sourceID, "remote_addr", r.RemoteAddr)
		s.writeErrorResponse(w, http.StatusNotFound, "Webhook not found")

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Error reading request body")

		return
	}

	payload := make(map[string]any)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON in request body")

			return
		}
	}

	if source.HasJSONSchema() {
		if err := validatePayload(payload, source.JSONSchema); err != nil {
			s.logger.Warn("Payload schema validation failed", "source_id", sourceID, "error", err)
			s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Schema validation failed: %v", err))

			return
		}
	}

	email, _ := payload[source.emailField()].(string)
	if email == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Missing %q field in payload", source.emailField()))

		return
	}

	ctx := r.Context()

	entity, created, err := s.findOrCreateEntity(ctx, source, email)
	if err != nil {
		s.logger.Error("Error resolving entity", "source_id", sourceID, "email", email, "error", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, "Error processing webhook")

		return
	}

	run, err := s.runner.StartRun(ctx, source.FlowID, nil, models.TriggerDescriptor{
		Source:   "webhook",
		EntityID: entity.ID,
		NodeID:   source.NodeID,
		Data:     payload,
	})
	if err != nil {
		s.logger.Error("Error starting run from webhook", "source_id", sourceID, "flow_id", source.FlowID, "error", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, "Error processing webhook")

		return
	}

	s.logger.Info("Webhook processed successfully",
		"source_id", sourceID,
		"entity_id", entity.ID,
		"entity_created", created,
		"run_id", run.ID,
		"remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":    "accepted",
		"entity_id": entity.ID,
		"run_id":    run.ID,
	}); err != nil {
		s.logger.Error("Error encoding success response", "error", err)
	}
}

// findOrCreateEntity looks the entity up by its natural key and creates it
// at the source's placement node when absent. The email is the idempotency
// key: repeated webhooks for the same address reuse the entity.
func (s *Server) findOrCreateEntity(ctx context.Context, source *Source, email string) (*models.Entity, bool, error) {
	entity, err := s.entities.FindByEmail(ctx, source.CanvasID, email)
	if err == nil {
		return entity, false, nil
	}

	if !persistence.IsEntityNotFound(err) {
		return nil, false, err
	}

	entity = &models.Entity{
		ID:             "ent-" + uuid.NewString(),
		CanvasID:       source.CanvasID,
		Email:          email,
		Classification: models.ClassificationLead,
		Position:       models.AtNode(source.NodeID),
	}

	if err := s.entities.Save(ctx, entity); err != nil {
		return nil, false, err
	}

	if err := s.journeys.Append(ctx, &models.JourneyEvent{
		ID:       uuid.NewString(),
		EntityID: entity.ID,
		Type:     models.JourneyEventEnteredNode,
		NodeID:   source.NodeID,
		At:       time.Now().UTC(),
	}); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record entity placement", "entity_id", entity.ID, "error", err)
	}

	return entity, true, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var sourceCount int

	if sources, err := s.sources.Sources(); err == nil {
		sourceCount = len(sources)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":             "healthy",
		"registered_sources": sourceCount,
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		s.logger.Error("Error encoding health response", "error", err)
	}
}

func validatePayload(payload map[string]any, schema map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(details, "; "))
	}

	return nil
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":  "error",
		"message": message,
		"code":    statusCode,
	}); err != nil {
		s.logger.Error("Error encoding error response", "error", err)
	}
}
