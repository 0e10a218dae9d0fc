// Package stream parses the container engine's framed multiplexed byte
// stream into distinct stdout and stderr byte sequences.
//
// Each frame begins with an 8-byte header: byte 0 tags the stream (1 =
// stdout, 2 = stderr), bytes 4-7 give the payload length as a big-endian
// uint32. The demultiplexer never concatenates across frames and never
// interprets payload bytes as text — text decoding happens at the sink
// boundary, not here.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrTruncatedFrame is returned when the stream ends mid-header or
// mid-payload.
var ErrTruncatedFrame = errors.New("stream: truncated frame")

// Tag identifies which sink a frame's payload belongs to.
type Tag byte

const (
	// TagStdout marks a frame carrying standard-output bytes.
	TagStdout Tag = 1
	// TagStderr marks a frame carrying standard-error bytes.
	TagStderr Tag = 2

	headerSize = 8
)

// Sink receives payload bytes for one frame tag at a time. Demux allocates
// a fresh payload slice for every frame.
type Sink func(payload []byte) error

// Demux reads framed data from r, dispatching each frame's payload to
// onStdout or onStderr by its tag, until r returns io.EOF at a frame
// boundary. A partial header or a payload shorter than declared is
// reported as ErrTruncatedFrame; the underlying read error's text is
// included in the message but is not wrapped.
func Demux(r io.Reader, onStdout, onStderr Sink) error {
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%w: reading frame header: %v", ErrTruncatedFrame, err)
		}

		tag := Tag(header[0])
		length := binary.BigEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return fmt.Errorf("%w: reading frame payload: %v", ErrTruncatedFrame, err)
			}
		}

		var sink Sink
		switch tag {
		case TagStdout:
			sink = onStdout
		case TagStderr:
			sink = onStderr
		default:
			// Unknown tag (e.g. a stdin-echo frame from some engines): skip
			// the payload but keep parsing subsequent frames.
			continue
		}

		if sink != nil {
			if err := sink(payload); err != nil {
				return err
			}
		}
	}
}

// Collect runs Demux over r and returns stdout and stderr as separate
// buffers, plus combined as both interleaved in frame order — the "collect"
// mode callers (like the batch executor) use to bulk-read a finished
// container's full output for a single response payload.
func Collect(r io.Reader) (stdout, stderr, combined []byte, err error) {
	var outBuf, errBuf, allBuf []byte
	err = Demux(r, func(p []byte) error {
		outBuf = append(outBuf, p...)
		allBuf = append(allBuf, p...)
		return nil
	}, func(p []byte) error {
		errBuf = append(errBuf, p...)
		allBuf = append(allBuf, p...)
		return nil
	})
	return outBuf, errBuf, allBuf, err
}

// Encode frames payload under tag, in the same wire format Demux parses.
// Used by tests to build known byte sequences and round-trip them.
func Encode(tag Tag, payload []byte) []byte {
	frame := make([]byte, headerSize+len(payload))
	frame[0] = byte(tag)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame
}
