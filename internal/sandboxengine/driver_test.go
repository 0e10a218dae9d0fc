package sandboxengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndAttachHappyPath(t *testing.T) {
	fake := NewFakeEngine()
	fake.ScriptByImage["lang/python"] = []byte("hello")
	d := New(fake, nil)

	id, conn, err := d.CreateAndAttach(context.Background(), CreateOpts{Image: "lang/python"})
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Contains(t, id, "lang/python-fake-")
}

func TestCreateAndAttachSurfacesCreateFailure(t *testing.T) {
	fake := NewFakeEngine()
	fake.CreateErr = assert.AnError
	d := New(fake, nil)

	_, _, err := d.CreateAndAttach(context.Background(), CreateOpts{Image: "lang/python"})
	assert.ErrorIs(t, err, ErrSandboxStartFailed)
}

func TestCreateAndAttachSurfacesAttachFailure(t *testing.T) {
	fake := NewFakeEngine()
	fake.AttachErr = assert.AnError
	d := New(fake, nil)

	_, _, err := d.CreateAndAttach(context.Background(), CreateOpts{Image: "lang/python"})
	assert.ErrorIs(t, err, ErrSandboxStartFailed)
}

func TestBuildEphemeralImageWrapsFailure(t *testing.T) {
	fake := NewFakeEngine()
	fake.BuildErr = assert.AnError
	d := New(fake, nil)

	err := d.BuildEphemeralImage(context.Background(), BuildOptions{Tag: "ephemeral:1"})
	assert.ErrorIs(t, err, ErrBuildFailed)
}

func TestCleanupNeverReturnsError(t *testing.T) {
	fake := NewFakeEngine()
	d := New(fake, nil)
	ctx := context.Background()

	d.Remove(ctx, "some-id")
	d.RemoveImage(ctx, "some-image")
	d.Stop(ctx, "some-id", 1)

	assert.Equal(t, []string{"some-id"}, fake.RemovedContainers())
	assert.Equal(t, []string{"some-image"}, fake.RemovedImages())
}

func TestReadyReflectsPing(t *testing.T) {
	fake := NewFakeEngine()
	d := New(fake, nil)
	assert.True(t, d.Ready(context.Background()))

	fake.PingErr = assert.AnError
	assert.False(t, d.Ready(context.Background()))
}
