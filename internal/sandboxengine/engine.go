// Package sandboxengine is the thin, typed wrapper over the container
// engine the orchestrator drives: build ephemeral image, create container
// with the mandatory security profile, attach the multiplexed stream,
// start, wait, stop, remove.
//
// Everything engine-specific is isolated behind the Engine interface so the
// rest of the orchestrator — and its tests — never import the Docker SDK
// directly.
package sandboxengine

import (
	"context"
	"io"
)

// Conn is the bidirectional hijacked stream returned by Attach. Reads yield
// the raw multiplexed frame bytes (see package stream for the framing);
// CloseWrite half-closes stdin so a container blocked reading stdin can
// observe end-of-file without tearing down the read side.
type Conn interface {
	io.Reader
	io.Writer
	CloseWrite() error
	Close() error
}

// SecurityProfile is the mandatory, non-negotiable set of container
// restrictions every sandbox is created with (spec §4.2, §3 invariant 5).
type SecurityProfile struct {
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
}

// CreateOpts parameterizes ContainerCreate for one execution.
type CreateOpts struct {
	Image      string
	Cmd        []string
	WorkingDir string
	// BindSource/BindTarget mount a host directory read-write into the
	// sandbox; both empty means no bind mount (ephemeral batch images bake
	// the source in instead).
	BindSource string
	BindTarget string
	OpenStdin  bool
	Security   SecurityProfile
}

// ExitResult is what Wait returns once the container has stopped running.
type ExitResult struct {
	ExitCode  int64
	OOMKilled bool
}

// BuildOptions parameterizes BuildEphemeralImage.
type BuildOptions struct {
	// BaseImage is the prebuilt language image the ephemeral image layers on.
	BaseImage string
	// Files maps a path inside the build context (e.g. "script.py",
	// "input.txt") to its contents.
	Files map[string][]byte
	// Tag is the name to give the built image.
	Tag string
}

// Engine is the container-engine contract the Driver needs. The Docker SDK
// implementation lives in docker.go; tests substitute FakeEngine (fake.go).
type Engine interface {
	Ping(ctx context.Context) error

	BuildImage(ctx context.Context, opts BuildOptions) error
	RemoveImage(ctx context.Context, name string) error

	ContainerCreate(ctx context.Context, opts CreateOpts) (id string, err error)
	ContainerAttach(ctx context.Context, id string, opts CreateOpts) (Conn, error)
	ContainerStart(ctx context.Context, id string) error
	ContainerWait(ctx context.Context, id string) (ExitResult, error)
	ContainerStop(ctx context.Context, id string, grace int) error
	ContainerRemove(ctx context.Context, id string) error
	ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error)

	Close() error
}
