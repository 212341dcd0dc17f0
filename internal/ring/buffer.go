// Package ring provides the bounded sample buffer between the decode loop and
// the real-time audio callback.
package ring

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("ring buffer closed")
	// ErrTimeout is returned by Write when the consumer stopped draining.
	ErrTimeout = errors.New("ring buffer write timed out")
)

// Buffer is a single-producer, single-consumer circular buffer of interleaved
// float32 samples. Write blocks until every sample fits; Read never blocks.
type Buffer struct {
	buf    []float32
	r      int // read position
	n      int // samples stored
	mu     sync.Mutex
	space  chan struct{}
	closed bool
	done   chan struct{}
}

// New creates a buffer holding up to size samples
func New(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{
		buf:   make([]float32, size),
		space: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Cap returns the capacity in samples
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Len returns the number of samples waiting to be read
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Write copies all of p into the buffer, waiting for the consumer to free
// space. Each wait is bounded by timeout; a zero timeout waits indefinitely.
func (b *Buffer) Write(p []float32, timeout time.Duration) error {
	for len(p) > 0 {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		written := b.push(p)
		b.mu.Unlock()
		p = p[written:]

		if len(p) == 0 {
			return nil
		}
		if written > 0 {
			continue
		}
		if err := b.waitSpace(timeout); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) waitSpace(timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-b.space:
		return nil
	case <-b.done:
		return ErrClosed
	case <-expired:
		return ErrTimeout
	}
}

// push stores as much of p as fits. Caller holds mu.
func (b *Buffer) push(p []float32) int {
	space := len(b.buf) - b.n
	chunk := len(p)
	if chunk > space {
		chunk = space
	}
	if chunk == 0 {
		return 0
	}

	end := (b.r + b.n) % len(b.buf)
	right := len(b.buf) - end
	if right > chunk {
		right = chunk
	}

	copy(b.buf[end:end+right], p[:right])
	if right < chunk {
		copy(b.buf[0:chunk-right], p[right:chunk])
	}

	b.n += chunk
	return chunk
}

// Read moves up to len(out) samples into out and returns the count.
func (b *Buffer) Read(out []float32) int {
	b.mu.Lock()
	chunk := len(out)
	if chunk > b.n {
		chunk = b.n
	}

	right := len(b.buf) - b.r
	if right > chunk {
		right = chunk
	}
	copy(out[:right], b.buf[b.r:b.r+right])
	if right < chunk {
		copy(out[right:chunk], b.buf[:chunk-right])
	}

	b.r = (b.r + chunk) % len(b.buf)
	b.n -= chunk
	b.mu.Unlock()

	if chunk > 0 {
		b.signal()
	}
	return chunk
}

// Reset discards every queued sample
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.r = 0
	b.n = 0
	b.mu.Unlock()
	b.signal()
}

// Close wakes blocked writers; later writes fail with ErrClosed.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

func (b *Buffer) signal() {
	select {
	case b.space <- struct{}{}:
	default:
	}
}
