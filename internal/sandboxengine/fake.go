package sandboxengine

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// FakeEngine is an in-memory Engine used by orchestrator-level tests so
// they don't require a live Docker daemon.
//
// Most tests run a single execution per FakeEngine and only need
// DefaultScript/DefaultExitCode; tests that create more than one container
// against known, distinct CreateOpts.Image values (the interactive path
// always uses the language's prebuilt image, not a generated tag) can
// instead populate ScriptByImage/ExitCodeByImage.
type FakeEngine struct {
	mu sync.Mutex

	DefaultScript   []byte
	DefaultExitCode int64
	ScriptByImage   map[string][]byte
	ExitCodeByImage map[string]int64

	PingErr   error
	BuildErr  error
	CreateErr error
	AttachErr error
	StartErr  error

	// HangWait makes ContainerWait block until ctx is done, simulating a
	// long-running or stuck process for deadline/cancellation tests. A
	// container already passed to ContainerStop does not hang.
	HangWait bool

	nextID            int
	containerScript   map[string][]byte
	containerExit     map[string]int64
	conns             map[string]*fakeConn
	stopped           map[string]bool
	removedImages     []string
	removedContainers []string
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		ScriptByImage:   map[string][]byte{},
		ExitCodeByImage: map[string]int64{},
		containerScript: map[string][]byte{},
		containerExit:   map[string]int64{},
		conns:           map[string]*fakeConn{},
		stopped:         map[string]bool{},
	}
}

func (f *FakeEngine) Ping(context.Context) error { return f.PingErr }

func (f *FakeEngine) BuildImage(context.Context, BuildOptions) error { return f.BuildErr }

func (f *FakeEngine) RemoveImage(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedImages = append(f.removedImages, name)
	return nil
}

func (f *FakeEngine) ContainerCreate(_ context.Context, opts CreateOpts) (string, error) {
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := opts.Image + "-fake-" + itoa(f.nextID)

	script, ok := f.ScriptByImage[opts.Image]
	if !ok {
		script = f.DefaultScript
	}
	exit, ok := f.ExitCodeByImage[opts.Image]
	if !ok {
		exit = f.DefaultExitCode
	}
	f.containerScript[id] = script
	f.containerExit[id] = exit
	return id, nil
}

func (f *FakeEngine) ContainerAttach(_ context.Context, id string, opts CreateOpts) (Conn, error) {
	if f.AttachErr != nil {
		return nil, f.AttachErr
	}
	f.mu.Lock()
	script := f.containerScript[id]
	conn := &fakeConn{r: bytes.NewReader(script)}
	f.conns[id] = conn
	f.mu.Unlock()
	return conn, nil
}

// WrittenTo returns everything written to the conn attached to container
// id, for tests asserting on forwarded stdin.
func (f *FakeEngine) WrittenTo(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, ok := f.conns[id]
	if !ok {
		return nil
	}
	return conn.written()
}

func (f *FakeEngine) ContainerStart(context.Context, string) error { return f.StartErr }

func (f *FakeEngine) ContainerWait(ctx context.Context, id string) (ExitResult, error) {
	f.mu.Lock()
	hanging := f.HangWait && !f.stopped[id]
	f.mu.Unlock()
	if hanging {
		<-ctx.Done()
		return ExitResult{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return ExitResult{ExitCode: f.containerExit[id]}, nil
}

func (f *FakeEngine) ContainerStop(_ context.Context, id string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped[id] = true
	return nil
}

func (f *FakeEngine) ContainerRemove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedContainers = append(f.removedContainers, id)
	return nil
}

func (f *FakeEngine) ContainerLogs(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	script := f.containerScript[id]
	f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(script)), nil
}

func (f *FakeEngine) Close() error { return nil }

// RemovedContainers returns the ids passed to ContainerRemove, for
// assertions that cleanup actually ran.
func (f *FakeEngine) RemovedContainers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removedContainers))
	copy(out, f.removedContainers)
	return out
}

// RemovedImages returns the names passed to RemoveImage.
func (f *FakeEngine) RemovedImages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removedImages))
	copy(out, f.removedImages)
	return out
}

type fakeConn struct {
	r         io.Reader
	mu        sync.Mutex
	buf       bytes.Buffer
	closeOnce sync.Once
}

func (c *fakeConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *fakeConn) written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.Bytes())
	return out
}

func (c *fakeConn) CloseWrite() error { return nil }
func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {})
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
