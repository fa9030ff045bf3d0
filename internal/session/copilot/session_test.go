package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "copilot-proxy/internal/common/errors"
	"copilot-proxy/internal/common/logger"
)

// ==========================
// Fake backend
// ==========================

type fakeBackend struct {
	t      *testing.T
	server *httptest.Server

	creates  atomic.Int32
	dials    atomic.Int32
	createFn func(w http.ResponseWriter, r *http.Request)
	script   func(conn *websocket.Conn)
	mu       sync.Mutex
	received [][]byte
}

func newFakeBackend(t *testing.T, script func(conn *websocket.Conn)) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{t: t, script: script}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/c/api/conversations", func(w http.ResponseWriter, r *http.Request) {
		fb.creates.Add(1)
		fb.mu.Lock()
		createFn := fb.createFn
		fb.mu.Unlock()
		if createFn != nil {
			createFn(w, r)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"conv-123"}`))
	})
	mux.HandleFunc("/c/api/chat", func(w http.ResponseWriter, r *http.Request) {
		fb.dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fb.mu.Lock()
			fb.received = append(fb.received, data)
			fb.mu.Unlock()
		}
		if fb.script != nil {
			fb.script(conn)
		}
	})

	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) onCreate(fn func(w http.ResponseWriter, r *http.Request)) {
	fb.mu.Lock()
	fb.createFn = fn
	fb.mu.Unlock()
}

func (fb *fakeBackend) config() *Config {
	return &Config{
		ConversationURL: fb.server.URL + "/c/api/conversations",
		ChatURL:         "ws" + strings.TrimPrefix(fb.server.URL, "http") + "/c/api/chat",
		Origin:          "https://copilot.example",
		UserAgent:       "proxy-test",
		DefaultModel:    "copilot",
		CreateTimeout:   2 * time.Second,
		ChatTimeout:     2 * time.Second,
	}
}

func (fb *fakeBackend) frames() []map[string]interface{} {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(fb.received))
	for _, raw := range fb.received {
		var m map[string]interface{}
		require.NoError(fb.t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

// sendFrames writes each frame then waits for the client's close frame, if any.
func sendFrames(frames ...string) func(conn *websocket.Conn) {
	return func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	}
}

func newTestSession(t *testing.T, fb *fakeBackend) *Session {
	return NewSession(fb.config(), NewMemoryIdentityStore(), logger.NewTestLogger(t))
}

// ==========================
// Chat
// ==========================

func TestSession_Chat_AssemblesFragmentsInOrder(t *testing.T) {
	fb := newFakeBackend(t, sendFrames(
		`{"event":"received"}`,
		`{"event":"appendText","text":"Hi"}`,
		`{"event":"citation","title":"Docs","icon":"https://a/icon.png","url":"https://a/docs"}`,
		`{"event":"appendText","text":" there"}`,
		`{"event":"appendText"}`,
		`{"event":"citation","title":"Blog","icon":"","url":"https://b/blog"}`,
		`{"event":"partCompleted"}`,
		`{"event":"done"}`,
	))
	s := newTestSession(t, fb)

	result, err := s.Chat(context.Background(), "Halo", "")
	require.NoError(t, err)

	assert.Equal(t, "Hi there", result.Text)
	require.Len(t, result.Citations, 2)
	assert.Equal(t, Citation{Title: "Docs", Icon: "https://a/icon.png", URL: "https://a/docs"}, result.Citations[0])
	assert.Equal(t, "https://b/blog", result.Citations[1].URL)
}

func TestSession_Chat_SendsOptionsThenMessage(t *testing.T) {
	fb := newFakeBackend(t, sendFrames(`{"event":"done"}`))
	s := newTestSession(t, fb)

	_, err := s.Chat(context.Background(), "What is Go?", "think-deeper")
	require.NoError(t, err)

	frames := fb.frames()
	require.Len(t, frames, 2)

	assert.Equal(t, "setOptions", frames[0]["event"])
	assert.NotEmpty(t, frames[0]["supportedCards"])

	assert.Equal(t, "send", frames[1]["event"])
	assert.Equal(t, "conv-123", frames[1]["conversationId"])
	assert.Equal(t, "reasoning", frames[1]["mode"])
	content := frames[1]["content"].([]interface{})
	require.Len(t, content, 1)
	assert.Equal(t, map[string]interface{}{"type": "text", "text": "What is Go?"}, content[0])
}

func TestSession_Chat_DoneWithoutTextIsEmptyNotNil(t *testing.T) {
	fb := newFakeBackend(t, sendFrames(`{"event":"done"}`))
	s := newTestSession(t, fb)

	result, err := s.Chat(context.Background(), "ping", "")
	require.NoError(t, err)

	assert.Equal(t, "", result.Text)
	assert.NotNil(t, result.Citations)
	assert.Empty(t, result.Citations)
}

func TestSession_Chat_ErrorEvent(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		expected string
	}{
		{"backend message kept verbatim", `{"event":"error","message":"Rate limit: try again later"}`, "Rate limit: try again later"},
		{"generic message when absent", `{"event":"error"}`, genericBackendError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend(t, sendFrames(`{"event":"appendText","text":"partial"}`, tt.frame))
			s := newTestSession(t, fb)

			result, err := s.Chat(context.Background(), "Halo", "")
			assert.Nil(t, result)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrBackendProtocolError))

			var stdErr *apperrors.StandardError
			require.True(t, errors.As(err, &stdErr))
			assert.Equal(t, tt.expected, stdErr.Details)
		})
	}
}

func TestSession_Chat_IgnoresUnknownEventsWithTypedFields(t *testing.T) {
	fb := newFakeBackend(t, sendFrames(
		`{"event":"appendText","text":"Hi"}`,
		`{"event":"imageGenerated","url":{"full":"https://img.example/a.png"},"title":7}`,
		`{"event":"suggestedFollowups","text":["a","b"]}`,
		`{"event":"appendText","text":" there"}`,
		`{"event":"done"}`,
	))
	s := newTestSession(t, fb)

	result, err := s.Chat(context.Background(), "Halo", "")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", result.Text)
	assert.Empty(t, result.Citations)
}

func TestSession_Chat_ErrorEventWithNonStringMessage(t *testing.T) {
	fb := newFakeBackend(t, sendFrames(`{"event":"error","message":{"code":"RateLimited"}}`))
	s := newTestSession(t, fb)

	_, err := s.Chat(context.Background(), "Halo", "")
	require.Error(t, err)

	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Equal(t, apperrors.ErrCodeBackendProtocolError, stdErr.Code)
	assert.Equal(t, genericBackendError, stdErr.Details)
}

func TestSession_Chat_OversizedFrame(t *testing.T) {
	big := `{"event":"appendText","text":"` + strings.Repeat("a", maxFrameBytes) + `"}`
	fb := newFakeBackend(t, sendFrames(big, `{"event":"done"}`))
	s := newTestSession(t, fb)

	_, err := s.Chat(context.Background(), "Halo", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransportError))
}

func TestSession_Chat_MalformedFrame(t *testing.T) {
	fb := newFakeBackend(t, sendFrames(`{"event":"appendText","text":"Hi"}`, `not-json{`))
	s := newTestSession(t, fb)

	_, err := s.Chat(context.Background(), "Halo", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBackendProtocolError))
}

func TestSession_Chat_ClosedBeforeTerminalEvent(t *testing.T) {
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"appendText","text":"Hi"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	})
	s := newTestSession(t, fb)

	_, err := s.Chat(context.Background(), "Halo", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransportError))
}

func TestSession_Chat_DialFailure(t *testing.T) {
	fb := newFakeBackend(t, nil)
	cfg := fb.config()
	cfg.ChatURL = "ws" + strings.TrimPrefix(fb.server.URL, "http") + "/not-a-socket"
	s := NewSession(cfg, nil, logger.NewNoOpLogger(),
		WithDialer(&websocket.Dialer{HandshakeTimeout: 500 * time.Millisecond}))

	_, err := s.Chat(context.Background(), "Halo", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransportError))
}

func TestSession_Chat_Timeout(t *testing.T) {
	release := make(chan struct{})
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"appendText","text":"slow"}`))
		<-release
	})
	t.Cleanup(func() { close(release) })

	cfg := fb.config()
	cfg.ChatTimeout = 150 * time.Millisecond
	s := NewSession(cfg, nil, logger.NewTestLogger(t))

	start := time.Now()
	_, err := s.Chat(context.Background(), "Halo", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBackendTimeout))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSession_Chat_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	fb := newFakeBackend(t, func(conn *websocket.Conn) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	s := newTestSession(t, fb)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := s.Chat(ctx, "Halo", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrTransportError))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSession_Chat_InvalidModelOpensNoConnection(t *testing.T) {
	fb := newFakeBackend(t, sendFrames(`{"event":"done"}`))
	s := newTestSession(t, fb)

	_, err := s.Chat(context.Background(), "Halo", "gpt-9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidModel))
	assert.Contains(t, err.Error(), "copilot, gpt-5, think-deeper")
	assert.Equal(t, int32(0), fb.dials.Load())
	assert.Equal(t, int32(0), fb.creates.Load())
}

// ==========================
// EnsureConversation
// ==========================

func TestSession_EnsureConversation_ReusesIdentity(t *testing.T) {
	fb := newFakeBackend(t, sendFrames(`{"event":"done"}`))
	s := newTestSession(t, fb)

	for i := 0; i < 3; i++ {
		_, err := s.Chat(context.Background(), "Halo", "")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), fb.creates.Load())
	assert.Equal(t, int32(3), fb.dials.Load())
	for _, f := range fb.frames() {
		if f["event"] == "send" {
			assert.Equal(t, "conv-123", f["conversationId"])
		}
	}
}

func TestSession_EnsureConversation_ConcurrentCallersShareCreation(t *testing.T) {
	fb := newFakeBackend(t, nil)
	gate := make(chan struct{})
	fb.onCreate(func(w http.ResponseWriter, r *http.Request) {
		<-gate
		_, _ = w.Write([]byte(`{"id":"conv-shared"}`))
	})
	s := newTestSession(t, fb)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.EnsureConversation(context.Background())
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), fb.creates.Load())
	for _, id := range ids {
		assert.Equal(t, "conv-shared", id)
	}
}

func TestSession_EnsureConversation_Failures(t *testing.T) {
	tests := []struct {
		name     string
		createFn func(w http.ResponseWriter, r *http.Request)
	}{
		{
			name: "non-success status",
			createFn: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "forbidden", http.StatusForbidden)
			},
		},
		{
			name: "undecodable body",
			createFn: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
		},
		{
			name: "missing id",
			createFn: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"id":""}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend(t, sendFrames(`{"event":"done"}`))
			fb.onCreate(tt.createFn)
			store := NewMemoryIdentityStore()
			s := NewSession(fb.config(), store, logger.NewTestLogger(t))

			_, err := s.Chat(context.Background(), "Halo", "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrBackendUnavailable))
			assert.Equal(t, int32(0), fb.dials.Load())

			_, ok, _ := store.Get(context.Background())
			assert.False(t, ok, "failed creation must not cache an identity")
		})
	}
}

func TestSession_EnsureConversation_Unreachable(t *testing.T) {
	fb := newFakeBackend(t, nil)
	cfg := fb.config()
	fb.server.Close()

	s := NewSession(cfg, nil, logger.NewNoOpLogger())
	_, err := s.EnsureConversation(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBackendUnavailable))
}

func TestSession_EnsureConversation_SendsBrowserHeaders(t *testing.T) {
	fb := newFakeBackend(t, nil)
	fb.onCreate(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://copilot.example", r.Header.Get("Origin"))
		assert.Equal(t, "proxy-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id":"conv-h"}`))
	})
	s := newTestSession(t, fb)

	id, err := s.EnsureConversation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "conv-h", id)
}
