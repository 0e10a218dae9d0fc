package batch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aggiesandbox/orchestrator/internal/config"
	"github.com/aggiesandbox/orchestrator/internal/orchestrator"
	"github.com/aggiesandbox/orchestrator/internal/queue"
	"github.com/aggiesandbox/orchestrator/internal/registry"
	"github.com/aggiesandbox/orchestrator/internal/sandboxengine"
	"github.com/aggiesandbox/orchestrator/internal/stream"
)

func newTestExecutor(t *testing.T, fake *sandboxengine.FakeEngine) *Executor {
	t.Helper()
	reg := registry.Default()
	driver := sandboxengine.New(fake, nil)
	q := queue.New(5, nil)
	cfg := config.Default()
	cfg.WorkRoot = t.TempDir()
	return New(reg, driver, q, cfg, nil)
}

func scriptFor(stdout, stderr string) []byte {
	var out []byte
	out = append(out, stream.Encode(stream.TagStdout, []byte(stdout))...)
	if stderr != "" {
		out = append(out, stream.Encode(stream.TagStderr, []byte(stderr))...)
	}
	return out
}

func TestSubmitHelloPython(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.DefaultScript = scriptFor("Hello\n", "")
	fake.DefaultExitCode = 0

	ex := newTestExecutor(t, fake)
	res, err := ex.Submit(context.Background(), Request{Language: "python", Source: "print('Hello')"})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "Hello\n", res.Output)
	assert.NotEmpty(t, res.ExecutionID)
}

func TestSubmitWithPipedStdin(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.DefaultScript = scriptFor("abc\n", "")
	fake.DefaultExitCode = 0

	ex := newTestExecutor(t, fake)
	res, err := ex.Submit(context.Background(), Request{
		Language: "python",
		Source:   "print(input())",
		Stdin:    "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "abc\n", res.Output)
}

func TestSubmitUnknownLanguage(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	ex := newTestExecutor(t, fake)

	_, err := ex.Submit(context.Background(), Request{Language: "cobol", Source: "DISPLAY 1"})
	assert.ErrorIs(t, err, orchestrator.ErrValidation)
}

func TestSubmitOversizedSourceRejected(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	ex := newTestExecutor(t, fake)

	big := make([]byte, orchestrator.MaxSourceCodePoints+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := ex.Submit(context.Background(), Request{Language: "python", Source: string(big)})
	assert.ErrorIs(t, err, orchestrator.ErrValidation)
}

func TestSubmitNonZeroExit(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.DefaultScript = scriptFor("", "main.cpp:1:1: error: expected ';'\n")
	fake.DefaultExitCode = 1

	ex := newTestExecutor(t, fake)
	res, err := ex.Submit(context.Background(), Request{Language: "cpp", Source: "int main() { return 0 }"})
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "error: expected")
}

func TestSubmitCleansUpWorkDir(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.DefaultScript = scriptFor("ok\n", "")
	fake.DefaultExitCode = 0

	ex := newTestExecutor(t, fake)
	_, err := ex.Submit(context.Background(), Request{Language: "python", Source: "print('ok')"})
	require.NoError(t, err)

	entries, err := os.ReadDir(ex.cfg.WorkRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmitDeadlineForcesStopBeforeCollectingOutput(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.DefaultScript = scriptFor("tick\n", "")
	fake.HangWait = true

	ex := newTestExecutor(t, fake)
	ex.cfg.BatchTimeout = 10 * time.Millisecond

	res, err := ex.Submit(context.Background(), Request{Language: "python", Source: "while True: pass"})
	require.NoError(t, err)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, -1, res.ExitCode)

	// The forced stop is what unblocks ContainerWait's hang in the fake;
	// without it collectOutput would never be reached.
	assert.Len(t, fake.RemovedContainers(), 1)
}

func TestSubmitRemovesEphemeralImageAndContainer(t *testing.T) {
	fake := sandboxengine.NewFakeEngine()
	fake.DefaultScript = scriptFor("ok\n", "")
	fake.DefaultExitCode = 0

	ex := newTestExecutor(t, fake)
	_, err := ex.Submit(context.Background(), Request{Language: "python", Source: "print('ok')"})
	require.NoError(t, err)

	assert.Len(t, fake.RemovedContainers(), 1)
	assert.Len(t, fake.RemovedImages(), 1)
}
