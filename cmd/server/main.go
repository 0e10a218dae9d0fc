// Command server is the HTTP/WebSocket adapter in front of the execution
// orchestrator: it decodes requests, drives the Batch and Interactive
// executors, and encodes their results back onto the wire (spec §6).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aggiesandbox/orchestrator/internal/batch"
	"github.com/aggiesandbox/orchestrator/internal/config"
	"github.com/aggiesandbox/orchestrator/internal/interactive"
	"github.com/aggiesandbox/orchestrator/internal/orchestrator"
	"github.com/aggiesandbox/orchestrator/internal/queue"
	"github.com/aggiesandbox/orchestrator/internal/registry"
	"github.com/aggiesandbox/orchestrator/internal/sandboxengine"
)

func newLogger() *zap.Logger {
	if os.Getenv("DEBUG") != "" {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}

type server struct {
	cfg         config.Config
	reg         *registry.Registry
	driver      *sandboxengine.Driver
	batchExec   *batch.Executor
	interactive *interactive.Executor
	log         *zap.Logger
	upgrader    websocket.Upgrader
}

func main() {
	log := newLogger()
	defer log.Sync()

	cfg := config.FromEnv()
	reg := registry.Default()

	engine, err := sandboxengine.NewDockerEngine()
	if err != nil {
		log.Fatal("failed to construct docker engine", zap.Error(err))
	}
	driver := sandboxengine.New(engine, log)
	defer driver.Close()

	q := queue.New(cfg.MaxConcurrent, log)

	srv := &server{
		cfg:         cfg,
		reg:         reg,
		driver:      driver,
		batchExec:   batch.New(reg, driver, q, cfg, log),
		interactive: interactive.New(reg, driver, q, cfg, log),
		log:         log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", srv.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/languages", srv.handleLanguages).Methods(http.MethodGet)
	r.HandleFunc("/api/execute", srv.handleExecute).Methods(http.MethodPost)
	r.HandleFunc("/ws", srv.handleInteractiveSocket)

	addr := ":" + cfg.Port
	log.Info("starting orchestrator adapter", zap.String("addr", addr))
	log.Fatal("server exited", zap.Error(http.ListenAndServe(addr, withCORS(cfg.CORSOrigin, r))))
}

func withCORS(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	SandboxUp bool   `json:"sandboxUp"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "UP", SandboxUp: s.driver.Ready(r.Context())}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input"`
}

type executeResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	Output      string `json:"output"`
	ExitCode    int    `json:"exitCode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Language == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "language and code are required"})
		return
	}

	res, err := s.batchExec.Submit(r.Context(), batch.Request{
		Language: req.Language,
		Source:   req.Code,
		Stdin:    req.Input,
	})
	if err != nil {
		switch {
		case isValidationOrSize(err):
			status := http.StatusBadRequest
			if orchestratorIsSizeError(err) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSON(w, status, errorResponse{Error: err.Error()})
		default:
			s.log.Error("batch execution failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		ExecutionID: res.ExecutionID,
		Status:      res.Status,
		Output:      res.Output,
		ExitCode:    res.ExitCode,
	})
}

func isValidationOrSize(err error) bool {
	return errors.Is(err, orchestrator.ErrValidation) ||
		errors.Is(err, orchestrator.ErrSourceTooLarge) ||
		errors.Is(err, orchestrator.ErrStdinTooLarge)
}

func orchestratorIsSizeError(err error) bool {
	return errors.Is(err, orchestrator.ErrSourceTooLarge) || errors.Is(err, orchestrator.ErrStdinTooLarge)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// --- interactive websocket adapter (spec §6) ---

type wsInbound struct {
	Type        string `json:"type"`
	Language    string `json:"language,omitempty"`
	Code        string `json:"code,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	Data        string `json:"data,omitempty"`
}

type wsStartEvent struct {
	Type        string `json:"type"`
	ExecutionID string `json:"executionId"`
}

type wsOutputEvent struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type wsCompleteEvent struct {
	Type        string `json:"type"`
	Status      string `json:"status"`
	ExitCode    int    `json:"exitCode"`
	ExecutionID string `json:"executionId"`
}

type wsErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// socketEmitter adapts interactive.Emitter onto a single websocket
// connection, serializing writes since the executor's goroutines call it
// concurrently.
type socketEmitter struct {
	conn  *websocket.Conn
	write chan any
	done  chan struct{}
}

func newSocketEmitter(conn *websocket.Conn) *socketEmitter {
	e := &socketEmitter{conn: conn, write: make(chan any, 64), done: make(chan struct{})}
	go e.pump()
	return e
}

func (e *socketEmitter) pump() {
	for {
		select {
		case msg := <-e.write:
			if err := e.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-e.done:
			return
		}
	}
}

func (e *socketEmitter) Start(executionID string) {
	e.write <- wsStartEvent{Type: "execution-start", ExecutionID: executionID}
}

// Output marks stderr frames by setting Type to "stderr" instead of
// "output" — the literal discriminator spec §6 documents for output
// events, so a client can distinguish the sink without parsing a second
// nested field.
func (e *socketEmitter) Output(data string, stderr bool) {
	t := "output"
	if stderr {
		t = "stderr"
	}
	e.write <- wsOutputEvent{Type: t, Data: data}
}

func (e *socketEmitter) Complete(status string, exitCode int, executionID string) {
	e.write <- wsCompleteEvent{Type: "execution-complete", Status: status, ExitCode: exitCode, ExecutionID: executionID}
}

func (e *socketEmitter) Error(message string) {
	e.write <- wsErrorEvent{Type: "error", Message: message}
}

func (e *socketEmitter) Close() { close(e.done) }

// handleInteractiveSocket implements the bidirectional channel from spec
// §6: at most one concurrent execution per connection, input messages
// filtered by execution id inside the Interactive Executor itself.
func (s *server) handleInteractiveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	emitter := newSocketEmitter(conn)
	defer emitter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inputs := make(chan interactive.InputMessage, 16)
	defer close(inputs)

	var sessionRunning atomic.Bool
	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			cancel()
			return
		}

		switch msg.Type {
		case "execute-interactive":
			if !sessionRunning.CompareAndSwap(false, true) {
				emitter.Error("a session is already running on this connection")
				continue
			}
			go func() {
				defer sessionRunning.Store(false)
				_ = s.interactive.Run(ctx, interactive.Request{Language: msg.Language, Source: msg.Code}, emitter, inputs)
			}()
		case "input":
			select {
			case inputs <- interactive.InputMessage{ExecutionID: msg.ExecutionID, Data: msg.Data}:
			case <-time.After(time.Second):
				s.log.Warn("dropped input message: executor not draining input channel")
			}
		default:
			emitter.Error("unknown message type: " + msg.Type)
		}
	}
}
