package sandboxengine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ErrBuildFailed classifies an ephemeral-image build failure (batch only).
var ErrBuildFailed = errors.New("sandboxengine: image build failed")

// ErrSandboxStartFailed classifies a create/attach/start failure.
var ErrSandboxStartFailed = errors.New("sandboxengine: sandbox start failed")

// Driver is the orchestrator-facing wrapper over an Engine: it adds error
// classification (so callers can match spec §7's error kinds with
// errors.Is) and structured logging, without exposing any engine-specific
// type to the rest of the orchestrator.
type Driver struct {
	engine Engine
	log    *zap.Logger
}

// New wraps engine with logging and error classification.
func New(engine Engine, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{engine: engine, log: log}
}

// Ready reports whether the underlying engine is reachable, for the health
// probe in spec §6.
func (d *Driver) Ready(ctx context.Context) bool {
	return d.engine.Ping(ctx) == nil
}

// BuildEphemeralImage builds a per-request image layering opts.Files onto
// opts.BaseImage. Build errors are wrapped in ErrBuildFailed.
func (d *Driver) BuildEphemeralImage(ctx context.Context, opts BuildOptions) error {
	if err := d.engine.BuildImage(ctx, opts); err != nil {
		d.log.Error("ephemeral image build failed", zap.String("tag", opts.Tag), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrBuildFailed, err)
	}
	d.log.Info("ephemeral image built", zap.String("tag", opts.Tag))
	return nil
}

// RemoveImage best-effort removes a previously built image. Failures are
// logged, never returned — cleanup errors never mask the execution result
// (spec §4.2).
func (d *Driver) RemoveImage(ctx context.Context, name string) {
	if err := d.engine.RemoveImage(ctx, name); err != nil {
		d.log.Warn("ephemeral image removal failed", zap.String("tag", name), zap.Error(err))
	}
}

// CreateAndAttach creates the container and attaches its stream before
// starting it — attach-before-start is a hard contract (spec design notes):
// any ordering that starts first can lose output from a fast-exiting
// program.
func (d *Driver) CreateAndAttach(ctx context.Context, opts CreateOpts) (id string, conn Conn, err error) {
	id, err = d.engine.ContainerCreate(ctx, opts)
	if err != nil {
		d.log.Error("sandbox create failed", zap.String("image", opts.Image), zap.Error(err))
		return "", nil, fmt.Errorf("%w: create: %v", ErrSandboxStartFailed, err)
	}

	conn, err = d.engine.ContainerAttach(ctx, id, opts)
	if err != nil {
		d.log.Error("sandbox attach failed", zap.String("container", id), zap.Error(err))
		return id, nil, fmt.Errorf("%w: attach: %v", ErrSandboxStartFailed, err)
	}

	if err := d.engine.ContainerStart(ctx, id); err != nil {
		d.log.Error("sandbox start failed", zap.String("container", id), zap.Error(err))
		return id, conn, fmt.Errorf("%w: start: %v", ErrSandboxStartFailed, err)
	}

	d.log.Info("sandbox started", zap.String("container", id), zap.String("image", opts.Image))
	return id, conn, nil
}

// Wait blocks until the container stops running.
func (d *Driver) Wait(ctx context.Context, id string) (ExitResult, error) {
	return d.engine.ContainerWait(ctx, id)
}

// Stop gracefully stops the container, falling back to the engine's own
// force-kill once the grace period elapses, matching the teacher's
// cleanupContainer behavior.
func (d *Driver) Stop(ctx context.Context, id string, graceSeconds int) {
	if err := d.engine.ContainerStop(ctx, id, graceSeconds); err != nil {
		d.log.Warn("graceful stop failed", zap.String("container", id), zap.Error(err))
	}
}

// Remove best-effort removes the container. Errors are logged, never
// surfaced (spec §7 CleanupError policy).
func (d *Driver) Remove(ctx context.Context, id string) {
	if err := d.engine.ContainerRemove(ctx, id); err != nil {
		d.log.Warn("container removal failed", zap.String("container", id), zap.Error(err))
	}
}

// Logs returns the bulk, post-exit log stream used by the batch executor's
// "collect" demux mode.
func (d *Driver) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.engine.ContainerLogs(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sandboxengine: fetching logs: %w", err)
	}
	return rc, nil
}

// Close releases the underlying engine's resources (e.g. the Docker
// client's connection pool) at process shutdown.
func (d *Driver) Close() error {
	return d.engine.Close()
}
