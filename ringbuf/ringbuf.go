// Package ringbuf implements a fixed-capacity byte FIFO with wraparound
// handling and a sticky overflow latch, grounded on the two-memcpy
// wraparound pattern in the original network ring buffer and generalized
// from the teacher's ChunkedIngress/MicrotaskRing ring-buffer idioms in
// eventloop.
package ringbuf

import "github.com/redlinetelematics/ecucore/ecoerr"

// Buffer is a fixed-capacity, single-producer/single-consumer-per-direction
// byte ring buffer. It is not safe for concurrent use by multiple producers
// or multiple consumers, and it holds no lock of its own; a caller that
// shares one across goroutines must serialize access itself.
type Buffer struct {
	data       []byte
	readIndex  int
	writeIndex int
	count      int
	overflow   bool
}

// New creates a Buffer with the given fixed capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of bytes currently buffered.
func (b *Buffer) Len() int { return b.count }

// Free returns the number of bytes that can still be written.
func (b *Buffer) Free() int { return len(b.data) - b.count }

// Overflowed reports whether a write has ever been rejected since the last
// Reset.
func (b *Buffer) Overflowed() bool { return b.overflow }

// Write copies p into the buffer, wrapping at the end of the backing array.
// It is all-or-nothing: if p does not fit, the overflow latch is set and no
// bytes are copied.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > b.Free() {
		b.overflow = true
		return 0, ecoerr.New(ecoerr.KindTransient, "ringbuf_overflow", nil)
	}
	firstChunk := len(b.data) - b.writeIndex
	if len(p) <= firstChunk {
		copy(b.data[b.writeIndex:], p)
		b.writeIndex += len(p)
		if b.writeIndex >= len(b.data) {
			b.writeIndex = 0
		}
	} else {
		copy(b.data[b.writeIndex:], p[:firstChunk])
		copy(b.data, p[firstChunk:])
		b.writeIndex = len(p) - firstChunk
	}
	b.count += len(p)
	return len(p), nil
}

// Read copies len(p) bytes out of the buffer into p, advancing the read
// cursor. It fails without partial effect if fewer than len(p) bytes are
// available.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > b.count {
		return 0, ecoerr.New(ecoerr.KindTransient, "ringbuf_underflow", nil)
	}
	firstChunk := len(b.data) - b.readIndex
	if len(p) <= firstChunk {
		copy(p, b.data[b.readIndex:b.readIndex+len(p)])
		b.readIndex += len(p)
		if b.readIndex >= len(b.data) {
			b.readIndex = 0
		}
	} else {
		copy(p, b.data[b.readIndex:])
		copy(p[firstChunk:], b.data[:len(p)-firstChunk])
		b.readIndex = len(p) - firstChunk
	}
	b.count -= len(p)
	return len(p), nil
}

// Peek copies len(p) bytes out of the buffer without advancing the read
// cursor.
func (b *Buffer) Peek(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > b.count {
		return 0, ecoerr.New(ecoerr.KindTransient, "ringbuf_underflow", nil)
	}
	readIndex := b.readIndex
	firstChunk := len(b.data) - readIndex
	if len(p) <= firstChunk {
		copy(p, b.data[readIndex:readIndex+len(p)])
	} else {
		copy(p, b.data[readIndex:])
		copy(p[firstChunk:], b.data[:len(p)-firstChunk])
	}
	return len(p), nil
}

// Reset zeroes the indices, count, overflow latch, and the backing bytes.
func (b *Buffer) Reset() {
	b.readIndex = 0
	b.writeIndex = 0
	b.count = 0
	b.overflow = false
	for i := range b.data {
		b.data[i] = 0
	}
}

// ClearOverflow clears the sticky overflow latch without touching buffered
// data. Reset also clears the latch, together with the buffered data.
func (b *Buffer) ClearOverflow() { b.overflow = false }
