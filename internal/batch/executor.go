// Package batch implements one-shot execution: materialize sources into a
// dedicated ephemeral image, run to completion, collect combined output,
// return a single result (spec §4.6).
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/aggiesandbox/orchestrator/internal/config"
	"github.com/aggiesandbox/orchestrator/internal/orchestrator"
	"github.com/aggiesandbox/orchestrator/internal/queue"
	"github.com/aggiesandbox/orchestrator/internal/registry"
	"github.com/aggiesandbox/orchestrator/internal/sandboxengine"
	"github.com/aggiesandbox/orchestrator/internal/stream"
)

// Request is a validated batch execution request (spec §6 input).
type Request struct {
	Language string
	Source   string
	Stdin    string
}

// Result is the batch response body (spec §6 output).
type Result struct {
	ExecutionID string
	Status      string // "success" | "error"
	Output      string
	ExitCode    int
}

// Executor drives the Batch path end to end.
type Executor struct {
	registry *registry.Registry
	driver   *sandboxengine.Driver
	queue    *queue.Queue
	cfg      config.Config
	log      *zap.Logger
}

// New builds a batch Executor wired to the shared registry, driver, and
// admission queue.
func New(reg *registry.Registry, driver *sandboxengine.Driver, q *queue.Queue, cfg config.Config, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{registry: reg, driver: driver, queue: q, cfg: cfg, log: log}
}

// Submit validates and admits req, blocking until the execution completes
// or ctx is cancelled, whichever happens first. A run that was already
// dispatched keeps going through its own cleanup after Submit returns.
func (ex *Executor) Submit(ctx context.Context, req Request) (Result, error) {
	spec, err := ex.registry.Lookup(req.Language)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", orchestrator.ErrValidation, err)
	}
	if err := orchestrator.ValidateSizes(req.Source, req.Stdin); err != nil {
		return Result{}, fmt.Errorf("%w: %w", orchestrator.ErrValidation, err)
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)

	ex.queue.Enqueue(ctx, func(taskCtx context.Context) {
		res, err := ex.run(taskCtx, spec, req)
		done <- outcome{res, err}
	})

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (ex *Executor) run(ctx context.Context, spec registry.LanguageSpec, req Request) (res Result, err error) {
	exec := orchestrator.New(orchestrator.ModeBatch, ex.log)
	log := exec.Logger()
	defer exec.Cleanup()

	exec.Transition(orchestrator.StatePreparing)
	if err := exec.AllocateWorkDir(ex.cfg.WorkRoot); err != nil {
		return Result{}, fmt.Errorf("%w: %v", orchestrator.ErrSandboxStart, err)
	}

	sourcePath := filepath.Join(exec.WorkDir, spec.SourceFilename)
	if err := os.WriteFile(sourcePath, []byte(req.Source), 0o644); err != nil {
		return Result{}, fmt.Errorf("%w: writing source: %v", orchestrator.ErrSandboxStart, err)
	}

	stdinDetected := spec.DetectsStdin(req.Source)
	hasStdin := req.Stdin != "" && stdinDetected

	files := map[string][]byte{spec.SourceFilename: []byte(req.Source)}
	var cmd []string
	if hasStdin {
		if _, err := exec.WriteStdinFile(req.Stdin); err != nil {
			return Result{}, fmt.Errorf("%w: %v", orchestrator.ErrSandboxStart, err)
		}
		files["input.txt"] = []byte(normalizeStdin(req.Stdin))
		cmd = []string{"/bin/sh", "-c", "cat input.txt | " + shellCommand(spec)}
	} else {
		cmd = shellRunCommand(spec)
	}

	exec.Transition(orchestrator.StateBuilding)
	imageTag := ex.cfg.ImagePrefix + "batch-" + exec.ID
	if err := ex.driver.BuildEphemeralImage(ctx, sandboxengine.BuildOptions{
		BaseImage: spec.Image,
		Files:     files,
		Tag:       imageTag,
	}); err != nil {
		return Result{}, fmt.Errorf("%w: %w", orchestrator.ErrBuildFailed, err)
	}
	exec.Defer(func() { ex.driver.RemoveImage(context.Background(), imageTag) })

	timeout := ex.cfg.BatchTimeout
	if stdinDetected {
		timeout = ex.cfg.BatchTimeoutWithStdin
	}
	runCtx, cancel := exec.DeadlineContext(ctx, timeout)
	defer cancel()

	exec.Transition(orchestrator.StateStarting)
	createOpts := sandboxengine.CreateOpts{
		Image:      imageTag,
		Cmd:        cmd,
		WorkingDir: "/code",
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
		return Result{}, fmt.Errorf("%w: %w", orchestrator.ErrSandboxStart, err)
	}

	exec.Transition(orchestrator.StateRunning)
	exit, waitErr := ex.driver.Wait(runCtx, containerID)

	deadlineHit := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	if waitErr != nil || deadlineHit {
		exec.Transition(orchestrator.StateStopping)
		if deadlineHit {
			log.Info("batch execution hit its deadline")
		}
		ex.driver.Stop(context.Background(), containerID, 10)
		exit, waitErr = ex.driver.Wait(context.Background(), containerID)
	}

	exec.Transition(orchestrator.StateDraining)
	output, demuxErr := ex.collectOutput(context.Background(), containerID)

	if deadlineHit {
		return Result{ExecutionID: exec.ID, Status: "error", Output: output, ExitCode: -1}, nil
	}
	if waitErr != nil {
		return Result{}, fmt.Errorf("%w: %v", orchestrator.ErrSandboxStart, waitErr)
	}

	status := "error"
	if exit.ExitCode == 0 {
		status = "success"
	}
	if exit.OOMKilled {
		log.Warn("batch execution was OOM-killed", zap.Int64("exit_code", exit.ExitCode))
	}
	if demuxErr != nil {
		log.Warn("demultiplexing batch output hit a truncated frame", zap.Error(demuxErr))
	}

	return Result{
		ExecutionID: exec.ID,
		Status:      status,
		Output:      output,
		ExitCode:    int(exit.ExitCode),
	}, nil
}

// collectOutput reads the container's bulk log stream after exit and
// demultiplexes it into one combined, order-preserving string suitable for
// the JSON response (spec §4.3's "collect" mode).
func (ex *Executor) collectOutput(ctx context.Context, containerID string) (string, error) {
	rc, err := ex.driver.Logs(ctx, containerID)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	_, _, combined, demuxErr := stream.Collect(rc)

	out := strings.ToValidUTF8(string(combined), "�")
	if demuxErr != nil {
		return out, fmt.Errorf("%w: %v", orchestrator.ErrTruncatedFrame, demuxErr)
	}
	return out, nil
}

func normalizeStdin(stdin string) string {
	if stdin == "" || stdin[len(stdin)-1] == '\n' {
		return stdin
	}
	return stdin + "\n"
}

// shellCommand renders the language's run/compile command as a single
// shell-invocable string, for the piped-stdin path.
func shellCommand(spec registry.LanguageSpec) string {
	if spec.NeedsCompile() {
		return spec.CompileRunCommand
	}
	return strings.Join(spec.RunCommand, " ")
}

// shellRunCommand is the argument vector for the non-piped path.
func shellRunCommand(spec registry.LanguageSpec) []string {
	if spec.NeedsCompile() {
		return []string{"/bin/sh", "-c", spec.CompileRunCommand}
	}
	return spec.RunCommand
}
