// Package interactive implements the long-lived session path: streaming
// output callbacks and stdin injection bound to a specific execution id
// (spec §4.7).
package interactive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aggiesandbox/orchestrator/internal/config"
	"github.com/aggiesandbox/orchestrator/internal/orchestrator"
	"github.com/aggiesandbox/orchestrator/internal/queue"
	"github.com/aggiesandbox/orchestrator/internal/registry"
	"github.com/aggiesandbox/orchestrator/internal/sandboxengine"
	"github.com/aggiesandbox/orchestrator/internal/stream"
)

// Request starts an interactive session (spec §6 "execute-interactive").
type Request struct {
	Language string
	Source   string
}

// InputMessage is one "input" message from the caller's channel. The
// executor filters by ExecutionID itself — a message addressed to any
// other execution is silently dropped, never queued or rejected (spec §5).
type InputMessage struct {
	ExecutionID string
	Data        string
}

// Emitter delivers the four message kinds an interactive session produces
// (spec §6). Exactly one Start and exactly one Complete are emitted per
// execution; Start precedes every Output, which precedes Complete.
type Emitter interface {
	Start(executionID string)
	Output(data string, stderr bool)
	Complete(status string, exitCode int, executionID string)
	Error(message string)
}

// Executor drives the Interactive path end to end.
type Executor struct {
	registry *registry.Registry
	driver   *sandboxengine.Driver
	queue    *queue.Queue
	cfg      config.Config
	log      *zap.Logger
}

// New builds an interactive Executor wired to the shared registry, driver,
// and admission queue.
func New(reg *registry.Registry, driver *sandboxengine.Driver, q *queue.Queue, cfg config.Config, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{registry: reg, driver: driver, queue: q, cfg: cfg, log: log}
}

// Run validates and admits req, then drives the session to completion,
// delivering events to emitter and reading caller input from inputs. It
// blocks until the session's execution-complete has been emitted or ctx is
// cancelled, whichever happens first. Once dispatched, a cancelled ctx is
// also seen by run, which treats it as caller disconnect and still emits
// execution-complete (see run's Cancelled handling).
func (ex *Executor) Run(ctx context.Context, req Request, emitter Emitter, inputs <-chan InputMessage) error {
	spec, err := ex.registry.Lookup(req.Language)
	if err != nil {
		emitter.Error(fmt.Sprintf("unsupported language: %s", req.Language))
		emitter.Complete("error", -1, "")
		return fmt.Errorf("%w: %w", orchestrator.ErrValidation, err)
	}
	if err := orchestrator.ValidateSizes(req.Source, ""); err != nil {
		emitter.Error(err.Error())
		emitter.Complete("error", -1, "")
		return fmt.Errorf("%w: %w", orchestrator.ErrValidation, err)
	}

	done := make(chan error, 1)
	ex.queue.Enqueue(ctx, func(taskCtx context.Context) {
		done <- ex.run(taskCtx, spec, req.Source, emitter, inputs)
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ex *Executor) run(ctx context.Context, spec registry.LanguageSpec, source string, emitter Emitter, inputs <-chan InputMessage) error {
	exec := orchestrator.New(orchestrator.ModeInteractive, ex.log)
	log := exec.Logger()
	defer exec.Cleanup()

	emitter.Start(exec.ID)

	exec.Transition(orchestrator.StatePreparing)
	if err := exec.AllocateWorkDir(ex.cfg.WorkRoot); err != nil {
		emitter.Error("failed to prepare sandbox")
		emitter.Complete("error", -1, exec.ID)
		return fmt.Errorf("%w: %v", orchestrator.ErrSandboxStart, err)
	}

	sourcePath := filepath.Join(exec.WorkDir, spec.SourceFilename)
	if err := os.WriteFile(sourcePath, []byte(source), 0o644); err != nil {
		emitter.Error("failed to write source file")
		emitter.Complete("error", -1, exec.ID)
		return fmt.Errorf("%w: writing source: %v", orchestrator.ErrSandboxStart, err)
	}

	runCmd := []string{"/bin/sh", "-c", runCommand(spec)}
	runCtx, cancel := exec.DeadlineContext(ctx, ex.cfg.InteractiveTimeout)
	defer cancel()

	exec.Transition(orchestrator.StateStarting)
	createOpts := sandboxengine.CreateOpts{
		Image:      spec.Image,
		Cmd:        runCmd,
		WorkingDir: "/code",
		BindSource: exec.WorkDir,
		BindTarget: "/code",
		OpenStdin:  true,
		Security: sandboxengine.SecurityProfile{
			MemoryBytes: spec.MemoryClass.Bytes(),
			NanoCPUs:    1_000_000_000,
			PidsLimit:   50,
		},
	}

	containerID, conn, err := ex.driver.CreateAndAttach(runCtx, createOpts)
	if containerID != "" {
		exec.Defer(func() { ex.driver.Remove(context.Background(), containerID) })
	}
	if conn != nil {
		exec.Defer(func() { conn.Close() })
	}
	if err != nil {
		emitter.Error("failed to start sandbox")
		emitter.Complete("error", -1, exec.ID)
		return fmt.Errorf("%w: %w", orchestrator.ErrSandboxStart, err)
	}

	exec.Transition(orchestrator.StateRunning)

	demuxDone := make(chan error, 1)
	go func() {
		err := stream.Demux(conn,
			func(p []byte) error { emitter.Output(toText(p), false); return nil },
			func(p []byte) error { emitter.Output(toText(p), true); return nil },
		)
		// The container closed its output side: half-close stdin so a
		// runtime still holding stdin open can exit.
		conn.CloseWrite()
		demuxDone <- err
	}()

	inputDone := make(chan struct{})
	var stopInput sync.Once
	go forwardInput(exec.ID, conn, inputs, inputDone)
	defer stopInput.Do(func() { close(inputDone) })

	exit, waitErr := ex.driver.Wait(runCtx, containerID)

	cancelled := ctx.Err() != nil && runCtx.Err() != nil
	deadlineHit := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	if waitErr != nil || deadlineHit {
		exec.Transition(orchestrator.StateStopping)
		if deadlineHit {
			emitter.Output("\nexecution timed out\n", true)
			log.Info("interactive execution hit its deadline")
		} else {
			log.Info("interactive execution cancelled by caller disconnect")
		}
		ex.driver.Stop(context.Background(), containerID, 10)
		exit, _ = ex.driver.Wait(context.Background(), containerID)
	}

	exec.Transition(orchestrator.StateDraining)
	conn.CloseWrite()
	stopInput.Do(func() { close(inputDone) })
	<-demuxDone

	status := "success"
	if exit.ExitCode != 0 || deadlineHit || cancelled {
		status = "error"
	}
	emitter.Complete(status, int(exit.ExitCode), exec.ID)

	if cancelled {
		return orchestrator.ErrCancelled
	}
	if deadlineHit {
		return orchestrator.ErrDeadlineExceeded
	}
	return nil
}

// forwardInput reads from inputs until done is closed, delivering only
// messages addressed to executionID (with a trailing newline appended) to
// conn's write half. Messages for any other id are dropped silently.
func forwardInput(executionID string, conn sandboxengine.Conn, inputs <-chan InputMessage, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-inputs:
			if !ok {
				return
			}
			if msg.ExecutionID != executionID {
				continue
			}
			data := msg.Data + "\n"
			if _, err := conn.Write([]byte(data)); err != nil {
				return
			}
		}
	}
}

func toText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func runCommand(spec registry.LanguageSpec) string {
	if spec.NeedsCompile() {
		return spec.CompileRunCommand
	}
	return strings.Join(spec.RunCommand, " ")
}
