package stream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemuxRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(Encode(TagStdout, []byte("hello ")))
	wire.Write(Encode(TagStderr, []byte("oops\n")))
	wire.Write(Encode(TagStdout, []byte("world\n")))

	stdout, stderr, combined, err := Collect(&wire)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(stdout))
	assert.Equal(t, "oops\n", string(stderr))
	assert.Equal(t, "hello oops\nworld\n", string(combined))
}

func TestDemuxPreservesPerFrameOrdering(t *testing.T) {
	var got []string
	var wire bytes.Buffer
	wire.Write(Encode(TagStdout, []byte("a")))
	wire.Write(Encode(TagStderr, []byte("b")))
	wire.Write(Encode(TagStdout, []byte("c")))

	err := Demux(&wire,
		func(p []byte) error { got = append(got, "out:"+string(p)); return nil },
		func(p []byte) error { got = append(got, "err:"+string(p)); return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"out:a", "err:b", "out:c"}, got)
}

func TestDemuxEmptyStreamIsNotAnError(t *testing.T) {
	stdout, stderr, combined, err := Collect(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)
	assert.Empty(t, combined)
}

func TestDemuxTruncatedHeaderIsError(t *testing.T) {
	_, _, _, err := Collect(bytes.NewReader([]byte{1, 0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestDemuxTruncatedPayloadIsError(t *testing.T) {
	frame := Encode(TagStdout, []byte("hello world"))
	_, _, _, err := Collect(bytes.NewReader(frame[:len(frame)-3]))
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestDemuxUnknownTagSkipsPayloadAndContinues(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(Encode(Tag(9), []byte("ignored")))
	wire.Write(Encode(TagStdout, []byte("kept")))

	stdout, _, _, err := Collect(&wire)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(stdout))
}

func TestDemuxSinkErrorPropagates(t *testing.T) {
	boom := assert.AnError
	wire := bytes.NewReader(Encode(TagStdout, []byte("x")))
	err := Demux(wire, func([]byte) error { return boom }, nil)
	assert.ErrorIs(t, err, boom)
}
