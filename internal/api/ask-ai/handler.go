// internal/api/ask-ai/handler.go
package askai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "copilot-proxy/internal/common/errors"
	"copilot-proxy/internal/common/logger"
	"copilot-proxy/internal/common/observability"
	"copilot-proxy/internal/common/validation"
	"copilot-proxy/internal/session/copilot"
)

const (
	Route           = "/api/ai"
	RequestIDHeader = "X-Request-ID"

	defaultMaxBodyBytes = 1 << 20
)

// Chatter runs one exchange with the conversational backend.
type Chatter interface {
	Chat(ctx context.Context, message, model string) (*copilot.ChatResult, error)
}

type Handler struct {
	config  *Config
	session Chatter
	schema  *validation.Schema
	errors  *apperrors.ErrorWriter
	obs     *observability.Observability
	logger  logger.Logger
}

func NewHandler(cfg *Config, session Chatter, obs *observability.Observability, log logger.Logger) (*Handler, error) {
	schema, err := validation.Compile(requestSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("request schema: %w", err)
	}
	if obs == nil {
		obs = observability.NewNoop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	log = log.WithFields(map[string]interface{}{"route": Route})

	return &Handler{
		config:  cfg,
		session: session,
		schema:  schema,
		errors:  apperrors.NewErrorWriter(log),
		obs:     obs,
		logger:  log,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)

	ctx, span := h.obs.Tracer().Start(r.Context(), "askai.request")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID))

	resp, err := h.handle(ctx, w, r, requestID, start)
	if err != nil {
		stdErr := apperrors.Normalize(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, stdErr.Message)
		h.record(ctx, start, string(stdErr.Code))
		h.errors.WriteHTTPError(w, requestID, stdErr)
		return
	}

	h.record(ctx, start, "success")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to write response", map[string]interface{}{
			"requestId": requestID,
			"error":     err.Error(),
		})
	}
}

func (h *Handler) handle(ctx context.Context, w http.ResponseWriter, r *http.Request, requestID string, start time.Time) (*Response, error) {
	req, err := h.parseRequest(w, r)
	if err != nil {
		return nil, err
	}

	query := req.Query
	persona := strings.TrimSpace(req.CustomModel)
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = h.config.DefaultLanguage
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = h.config.DefaultModel
	}

	prompt := BuildPrompt(query, persona, language)

	h.logger.Info("Processing request", map[string]interface{}{
		"requestId":   requestID,
		"model":       model,
		"persona":     persona,
		"language":    language,
		"queryLength": len(query),
	})

	result, err := h.session.Chat(ctx, prompt, model)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(result.Text)
	citations := result.Citations
	if citations == nil {
		citations = []copilot.Citation{}
	}

	elapsed := time.Since(start)
	h.logger.Info("Request completed", map[string]interface{}{
		"requestId":      requestID,
		"responseLength": len(text),
		"citationCount":  len(citations),
		"duration_ms":    elapsed.Milliseconds(),
	})

	return &Response{
		Success:   true,
		Response:  text,
		Citations: citations,
		Metadata: Metadata{
			RequestID:        requestID,
			Model:            model,
			Persona:          persona,
			Language:         language,
			QueryLength:      len(query),
			PromptLength:     len(prompt),
			ResponseLength:   len(text),
			CitationCount:    len(citations),
			ProcessingTimeMs: elapsed.Milliseconds(),
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (h *Handler) parseRequest(w http.ResponseWriter, r *http.Request) (*Request, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes))
	if err != nil {
		return nil, apperrors.NewInvalidRequestError("request body is too large or unreadable")
	}

	if reason, ok := validateBody(h.schema, body); !ok {
		return nil, apperrors.NewInvalidRequestError(reason)
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.NewInvalidRequestError("request body is not valid JSON")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperrors.NewInvalidRequestError("query must be a non-empty string")
	}
	return &req, nil
}

func (h *Handler) record(ctx context.Context, start time.Time, status string) {
	h.obs.RecordRequest(ctx, status)
	h.obs.RecordRequestDuration(ctx, time.Since(start), status)
}
