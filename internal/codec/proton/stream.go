package proton

import (
	"bytes"
	"encoding/binary"
)

// DefaultMaxBuffered bounds the bytes a Splitter keeps while waiting for a frame tail.
const DefaultMaxBuffered = 64 * 1024

// Splitter cuts a byte stream into frames using the declared length field.
// It is not safe for concurrent use; one reader goroutine owns it.
type Splitter struct {
	buf         []byte
	maxBuffered int
	// Dropped counts bytes discarded while resynchronising on the frame prefix.
	Dropped int
}

// NewSplitter returns a splitter bounded by DefaultMaxBuffered.
func NewSplitter() *Splitter {
	return &Splitter{maxBuffered: DefaultMaxBuffered}
}

// Push appends data and returns every complete frame now available, in stream order.
// A partial trailing frame stays buffered for the next call.
func (s *Splitter) Push(data []byte) [][]byte {
	s.buf = append(s.buf, data...)

	var frames [][]byte

	for {
		s.resync()

		if len(s.buf) < prefixLen {
			break
		}

		size := int(binary.BigEndian.Uint16(s.buf[lengthOffset:]))
		if size < minFrameLen {
			// Not a real frame start: skip the magic byte and search again.
			s.drop(1)

			continue
		}

		if len(s.buf) < size {
			break
		}

		frame := make([]byte, size)
		copy(frame, s.buf[:size])
		frames = append(frames, frame)
		s.buf = s.buf[size:]
	}

	if len(s.buf) > s.maxBuffered {
		s.drop(len(s.buf))
	}

	if len(s.buf) == 0 {
		s.buf = nil
	}

	return frames
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Reset drops buffered bytes, used when the connection is re-established.
func (s *Splitter) Reset() {
	s.buf = nil
}

// resync discards bytes until the buffer starts with the frame prefix or a prefix of it.
func (s *Splitter) resync() {
	magic := prefix[:lengthOffset]

	for len(s.buf) > 0 {
		n := min(len(s.buf), len(magic))
		if bytes.Equal(s.buf[:n], magic[:n]) {
			return
		}

		idx := bytes.IndexByte(s.buf[1:], magic[0])
		if idx < 0 {
			s.drop(len(s.buf))

			return
		}

		s.drop(idx + 1)
	}
}

func (s *Splitter) drop(n int) {
	s.Dropped += n
	s.buf = s.buf[n:]
}
