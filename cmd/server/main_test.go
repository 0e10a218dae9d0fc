package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aggiesandbox/orchestrator/internal/batch"
	"github.com/aggiesandbox/orchestrator/internal/config"
	"github.com/aggiesandbox/orchestrator/internal/interactive"
	"github.com/aggiesandbox/orchestrator/internal/orchestrator"
	"github.com/aggiesandbox/orchestrator/internal/queue"
	"github.com/aggiesandbox/orchestrator/internal/registry"
	"github.com/aggiesandbox/orchestrator/internal/sandboxengine"
	"github.com/aggiesandbox/orchestrator/internal/stream"
)

func newTestServer(t *testing.T, fake *sandboxengine.FakeEngine) *server {
	t.Helper()
	reg := registry.Default()
	driver := sandboxengine.New(fake, nil)
	q := queue.New(5, nil)
	cfg := config.Default()
	cfg.WorkRoot = t.TempDir()
	cfg.InteractiveTimeout = 2 * time.Second

	return &server{
		cfg:         cfg,
		reg:         reg,
		driver:      driver,
		batchExec:   batch.New(reg, driver, q, cfg, nil),
		interactive: interactive.New(reg, driver, q, cfg, nil),
		log:         zap.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, sandboxengine.NewFakeEngine())

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "UP", resp.Status)
	assert.True(t, resp.SandboxUp)
}

func TestHandleHealthReportsSandboxDown(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.PingErr = assert.AnError
	s := newTestServer(t, fake)

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.SandboxUp)
}

func TestHandleLanguages(t *testing.T) {
	s := newTestServer(t, sandboxengine.NewFakeEngine())

	w := httptest.NewRecorder()
	s.handleLanguages(w, httptest.NewRequest(http.MethodGet, "/api/languages", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var tags []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tags))
	assert.ElementsMatch(t, []string{"python", "javascript", "cpp", "java", "go", "ruby", "dart"}, tags)
}

func postExecute(t *testing.T, s *server, req executeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.handleExecute(w, httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(body)))
	return w
}

func TestHandleExecuteValidRequest(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.DefaultScript = stream.Encode(stream.TagStdout, []byte("Hello\n"))
	fake.DefaultExitCode = 0
	s := newTestServer(t, fake)

	w := postExecute(t, s, executeRequest{Language: "python", Code: "print('Hello')"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp executeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "Hello\n", resp.Output)
	assert.NotEmpty(t, resp.ExecutionID)
}

func TestHandleExecuteMissingFieldsRejected(t *testing.T) {
	s := newTestServer(t, sandboxengine.NewFakeEngine())

	w := postExecute(t, s, executeRequest{Language: "python"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleExecuteUnknownLanguageRejected(t *testing.T) {
	s := newTestServer(t, sandboxengine.NewFakeEngine())

	w := postExecute(t, s, executeRequest{Language: "cobol", Code: "DISPLAY 1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestHandleExecuteOversizedSourceRejectedWith413(t *testing.T) {
	s := newTestServer(t, sandboxengine.NewFakeEngine())

	big := strings.Repeat("a", orchestrator.MaxSourceCodePoints+1)
	w := postExecute(t, s, executeRequest{Language: "python", Code: big})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestInteractiveWebsocketSessionDistinguishesStderr(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.ScriptByImage["aggiesandbox/python-executor"] = append(
		stream.Encode(stream.TagStdout, []byte("hi\n")),
		stream.Encode(stream.TagStderr, []byte("warn\n"))...,
	)
	fake.ExitCodeByImage["aggiesandbox/python-executor"] = 0

	s := newTestServer(t, fake)
	srv := httptest.NewServer(http.HandlerFunc(s.handleInteractiveSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsInbound{Type: "execute-interactive", Language: "python", Code: "print('hi')"}))

	var start wsStartEvent
	require.NoError(t, conn.ReadJSON(&start))
	assert.Equal(t, "execution-start", start.Type)
	assert.NotEmpty(t, start.ExecutionID)

	var sawStderr, sawComplete bool
readLoop:
	for {
		var raw map[string]any
		require.NoError(t, conn.ReadJSON(&raw))
		switch raw["type"] {
		case "stderr":
			sawStderr = true
			assert.Equal(t, "warn\n", raw["data"])
		case "execution-complete":
			sawComplete = true
			assert.Equal(t, "success", raw["status"])
			break readLoop
		}
	}

	assert.True(t, sawStderr, "expected a stderr-tagged output event")
	assert.True(t, sawComplete)
}

func TestInteractiveWebsocketRejectsSecondConcurrentSession(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.HangWait = true
	s := newTestServer(t, fake)

	srv := httptest.NewServer(http.HandlerFunc(s.handleInteractiveSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsInbound{Type: "execute-interactive", Language: "python", Code: "while True: pass"}))

	var start wsStartEvent
	require.NoError(t, conn.ReadJSON(&start))
	assert.Equal(t, "execution-start", start.Type)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: "execute-interactive", Language: "python", Code: "while True: pass"}))

	var errEvt wsErrorEvent
	require.NoError(t, conn.ReadJSON(&errEvt))
	assert.Equal(t, "error", errEvt.Type)
	assert.Contains(t, errEvt.Message, "already running")
}
