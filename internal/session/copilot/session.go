// Package copilot drives the conversational backend: it creates the conversation
// identity over HTTP and turns one chat call into a multi-frame WebSocket exchange.
package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	apperrors "copilot-proxy/internal/common/errors"
	commonhttp "copilot-proxy/internal/common/http"
	"copilot-proxy/internal/common/logger"
	"copilot-proxy/internal/common/metrics"
)

const (
	Component = "copilot-session"

	genericBackendError = "Backend reported an error"
	closeWriteWait      = time.Second
	maxFrameBytes       = 1 << 20
)

// Session owns at most one conversation identity and runs exchanges against it.
type Session struct {
	config *Config
	client *commonhttp.Client
	dialer *websocket.Dialer
	store  IdentityStore
	group  singleflight.Group
	logger logger.Logger
	tracer trace.Tracer
}

type Option func(*Session)

// WithTracer sets the tracer used for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) { s.tracer = t }
}

// WithDialer replaces the websocket dialer, e.g. to change the handshake timeout.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

func NewSession(cfg *Config, store IdentityStore, log logger.Logger, opts ...Option) *Session {
	if store == nil {
		store = NewMemoryIdentityStore()
	}
	s := &Session{
		config: cfg,
		client: commonhttp.NewClient(cfg.CreateTimeout, map[string]string{
			"Origin":     cfg.Origin,
			"User-Agent": cfg.UserAgent,
		}),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": Component}),
		tracer: noop.NewTracerProvider().Tracer(Component),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureConversation returns the cached identity, creating one on first use.
// Concurrent callers share a single creation call.
func (s *Session) EnsureConversation(ctx context.Context) (string, error) {
	ctx, span := s.tracer.Start(ctx, "copilot.ensure_conversation")
	defer span.End()

	if id, ok := s.cachedIdentity(ctx); ok {
		span.SetAttributes(attribute.Bool("cached", true))
		return id, nil
	}

	v, err, shared := s.group.Do("conversation", func() (interface{}, error) {
		if id, ok := s.cachedIdentity(ctx); ok {
			return id, nil
		}

		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CreateTimeout)
		defer cancel()

		id, err := s.createConversation(createCtx)
		if err != nil {
			metrics.ConversationsCreated.WithLabelValues("failure").Inc()
			return "", err
		}
		metrics.ConversationsCreated.WithLabelValues("success").Inc()

		if err := s.store.Set(createCtx, id); err != nil {
			s.logger.Warn("Failed to cache conversation identity", map[string]interface{}{
				"error": err.Error(),
			})
		}
		s.logger.Info("Conversation created", map[string]interface{}{
			"conversationId": id,
		})
		return id, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Bool("cached", false), attribute.Bool("shared", shared))
	return v.(string), nil
}

func (s *Session) cachedIdentity(ctx context.Context) (string, bool) {
	id, ok, err := s.store.Get(ctx)
	if err != nil {
		s.logger.Warn("Identity store lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return "", false
	}
	return id, ok
}

func (s *Session) createConversation(ctx context.Context) (string, error) {
	req, err := http.NewRequest(http.MethodPost, s.config.ConversationURL, strings.NewReader("{}"))
	if err != nil {
		return "", apperrors.NewBackendUnavailableError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.DoWithContext(ctx, req)
	if err != nil {
		return "", apperrors.NewBackendUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperrors.NewBackendUnavailableError(
			fmt.Errorf("conversation endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperrors.NewBackendUnavailableError(fmt.Errorf("decode conversation response: %w", err))
	}
	if body.ID == "" {
		return "", apperrors.NewBackendUnavailableError(errors.New("conversation response has no id"))
	}
	return body.ID, nil
}

// Chat sends message to the backend and blocks until a terminal event, the exchange
// deadline, or ctx cancellation. model may be empty to use the configured default.
func (s *Session) Chat(ctx context.Context, message, model string) (*ChatResult, error) {
	if model == "" {
		model = s.config.DefaultModel
	}

	ctx, span := s.tracer.Start(ctx, "copilot.chat", trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	mode, err := ResolveMode(model, s.config.DefaultModel)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	conversationID, err := s.EnsureConversation(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	metrics.ExchangesActive.Inc()
	defer metrics.ExchangesActive.Dec()

	result, err := s.exchange(ctx, conversationID, mode, message)
	metrics.ExchangeDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if err != nil {
		stdErr := apperrors.Normalize(err)
		metrics.ExchangesTotal.WithLabelValues(string(stdErr.Code)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("Exchange failed", map[string]interface{}{
			"conversationId": conversationID,
			"mode":           mode,
			"errorCode":      string(stdErr.Code),
			"details":        stdErr.Details,
		})
		return nil, err
	}

	metrics.ExchangesTotal.WithLabelValues("done").Inc()
	span.SetAttributes(
		attribute.Int("response.length", len(result.Text)),
		attribute.Int("citations", len(result.Citations)),
	)
	s.logger.Info("Exchange completed", map[string]interface{}{
		"conversationId": conversationID,
		"mode":           mode,
		"responseLength": len(result.Text),
		"citationCount":  len(result.Citations),
		"duration_ms":    time.Since(start).Milliseconds(),
	})
	return result, nil
}

func (s *Session) exchange(ctx context.Context, conversationID, mode, message string) (*ChatResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ChatTimeout)
	defer cancel()

	conn, resp, err := s.dialer.DialContext(ctx, s.config.ChatURL, s.client.Headers())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, s.transportError(ctx, fmt.Errorf("dial %s: %w", s.config.ChatURL, err))
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	// Unblocks ReadMessage when the deadline passes or the caller goes away.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(newSetOptionsFrame()); err != nil {
		return nil, s.transportError(ctx, fmt.Errorf("send options: %w", err))
	}
	if err := conn.WriteJSON(newSendFrame(conversationID, mode, message)); err != nil {
		return nil, s.transportError(ctx, fmt.Errorf("send message: %w", err))
	}

	var text strings.Builder
	citations := []Citation{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, s.transportError(ctx, fmt.Errorf("connection closed before completion: %w", err))
		}

		ev, err := DecodeEvent(data)
		if err != nil {
			closeNormally(conn)
			return nil, apperrors.NewBackendProtocolError(fmt.Sprintf("malformed frame: %v", err), err)
		}
		metrics.FramesReceived.WithLabelValues(ev.Kind()).Inc()
		if IsTerminal(ev) {
			closeNormally(conn)
		}

		switch e := ev.(type) {
		case AppendTextEvent:
			text.WriteString(e.Text)
		case CitationEvent:
			citations = append(citations, e.Citation)
		case DoneEvent:
			return &ChatResult{Text: text.String(), Citations: citations}, nil
		case ErrorEvent:
			msg := e.Message
			if msg == "" {
				msg = genericBackendError
			}
			return nil, apperrors.NewBackendProtocolError(msg, nil)
		case UnknownEvent:
			s.logger.Debug("Ignoring backend event", map[string]interface{}{
				"event": e.Name,
			})
		}
	}
}

// transportError classifies a connection failure, preferring the context's reason.
func (s *Session) transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperrors.NewBackendTimeoutError(s.config.ChatTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return apperrors.NewTransportError(fmt.Errorf("exchange cancelled: %w", context.Canceled))
	default:
		return apperrors.NewTransportError(err)
	}
}

func closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
}
