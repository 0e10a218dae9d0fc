package sandboxengine

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
)

// DockerEngine implements Engine over the real Docker daemon via
// github.com/docker/docker/client, generalizing the teacher's
// createAndStartContainer/cleanupContainer into the typed Engine contract.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine dials the Docker daemon from the environment (DOCKER_HOST
// and friends), negotiating the API version the way the teacher's executor
// does.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("sandboxengine: creating docker client: %w", err)
	}
	return &DockerEngine{cli: cli}, nil
}

func (e *DockerEngine) Close() error {
	return e.cli.Close()
}

func (e *DockerEngine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

// BuildImage constructs a per-request ephemeral image from a synthetic
// build context: a Dockerfile that COPYs the given files onto the base
// language image, built unprivileged with /code as the working directory.
func (e *DockerEngine) BuildImage(ctx context.Context, opts BuildOptions) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	dockerfile := fmt.Sprintf("FROM %s\nWORKDIR /code\n", opts.BaseImage)
	for name := range opts.Files {
		dockerfile += fmt.Sprintf("COPY %s %s\n", name, name)
	}
	dockerfile += "USER coderunner\n"

	if err := writeTarEntry(tw, "Dockerfile", []byte(dockerfile)); err != nil {
		return err
	}
	for name, content := range opts.Files {
		if err := writeTarEntry(tw, name, content); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("sandboxengine: closing build context: %w", err)
	}

	resp, err := e.cli.ImageBuild(ctx, &buf, types.ImageBuildOptions{
		Tags:       []string{opts.Tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("sandboxengine: build failed: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("sandboxengine: reading build output: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("sandboxengine: build failed: %s", msg.Error)
		}
	}
	return nil
}

func writeTarEntry(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("sandboxengine: writing tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("sandboxengine: writing %s to build context: %w", name, err)
	}
	return nil
}

func (e *DockerEngine) RemoveImage(ctx context.Context, name string) error {
	_, err := e.cli.ImageRemove(ctx, name, types.ImageRemoveOptions{Force: true})
	return err
}

func (e *DockerEngine) ContainerCreate(ctx context.Context, opts CreateOpts) (string, error) {
	cfg := &container.Config{
		Image:        opts.Image,
		Cmd:          opts.Cmd,
		WorkingDir:   opts.WorkingDir,
		Tty:          false,
		OpenStdin:    opts.OpenStdin,
		StdinOnce:    false,
		AttachStdin:  opts.OpenStdin,
		AttachStdout: true,
		AttachStderr: true,
	}

	var mounts []mount.Mount
	if opts.BindSource != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   opts.BindSource,
			Target:   opts.BindTarget,
			ReadOnly: false,
		})
	}

	pidsLimit := opts.Security.PidsLimit
	hostCfg := &container.HostConfig{
		Mounts:      mounts,
		NetworkMode: container.NetworkMode("none"),
		Privileged:  false,
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Resources: container.Resources{
			Memory:     opts.Security.MemoryBytes,
			MemorySwap: opts.Security.MemoryBytes,
			NanoCPUs:   opts.Security.NanoCPUs,
			PidsLimit:  &pidsLimit,
		},
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ContainerAttach must be called before ContainerStart — the design
// mandates attach-before-start as a hard contract, since a fast-exiting
// program's output would otherwise be lost.
func (e *DockerEngine) ContainerAttach(ctx context.Context, id string, opts CreateOpts) (Conn, error) {
	resp, err := e.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  opts.OpenStdin,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, err
	}
	return hijackedConn{resp}, nil
}

func (e *DockerEngine) ContainerStart(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e *DockerEngine) ContainerWait(ctx context.Context, id string) (ExitResult, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return ExitResult{}, err
	case status := <-statusCh:
		inspect, inspectErr := e.cli.ContainerInspect(context.Background(), id)
		oom := inspectErr == nil && inspect.State != nil && inspect.State.OOMKilled
		return ExitResult{ExitCode: status.StatusCode, OOMKilled: oom}, nil
	case <-ctx.Done():
		return ExitResult{}, ctx.Err()
	}
}

func (e *DockerEngine) ContainerStop(ctx context.Context, id string, grace int) error {
	return e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &grace})
}

func (e *DockerEngine) ContainerRemove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e *DockerEngine) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	return e.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
}

// hijackedConn adapts the Docker SDK's HijackedResponse to the Conn
// interface; CloseWrite lets the orchestrator half-close stdin when the
// container's own output side reaches EOF, matching spec §4.7's
// "container holds stdin open indefinitely" handling.
type hijackedConn struct {
	types.HijackedResponse
}

func (h hijackedConn) Read(p []byte) (int, error)  { return h.Reader.Read(p) }
func (h hijackedConn) Write(p []byte) (int, error) { return h.Conn.Write(p) }
func (h hijackedConn) Close() error                { h.HijackedResponse.Close(); return nil }
func (h hijackedConn) CloseWrite() error {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := h.Conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}
