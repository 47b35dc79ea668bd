// Package history implements the fixed-capacity scrollback buffer each
// session uses to replay output to clients that join mid-stream.
//
// The implementation is a list of chunks rather than one growing byte slice
// (c.f. sshterminal.ScrollbackBuffer, which is adapted here to also support
// the two read modes join-replay needs: full snapshot and last-n-bytes).
// Trimming drops whole chunks from the front first and only slices the
// chunk that straddles the capacity boundary, so trimming never copies
// retained bytes; Append itself still copies each incoming chunk once.
package history

import "sync"

// Buffer is a thread-safe, bounded byte log. The zero value is not usable;
// construct with New.
type Buffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	size     int
	capacity int
}

// New creates a Buffer with the given capacity in bytes. A non-positive
// capacity means the buffer accepts writes but never retains anything,
// matching "history_enabled=false" sessions that still route through the
// same code path.
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Append adds bytes to the buffer, trimming the oldest data if capacity
// would be exceeded. Empty input is a no-op. A single chunk larger than the
// capacity is truncated to its last `capacity` bytes before being stored.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity <= 0 {
		return
	}

	if len(p) > b.capacity {
		p = p[len(p)-b.capacity:]
		b.chunks = nil
		b.size = 0
	}

	cp := make([]byte, len(p))
	copy(cp, p)
	b.chunks = append(b.chunks, cp)
	b.size += len(cp)

	b.trimLocked()
}

// trimLocked drops whole leading chunks, then slices the remaining leading
// chunk if necessary, until size <= capacity. Caller must hold b.mu.
func (b *Buffer) trimLocked() {
	for b.size > b.capacity && len(b.chunks) > 0 {
		head := b.chunks[0]
		over := b.size - b.capacity
		if over >= len(head) {
			b.size -= len(head)
			b.chunks = b.chunks[1:]
			continue
		}
		b.chunks[0] = head[over:]
		b.size -= over
	}
}

// Snapshot returns a copy of the buffer. If limit > 0, only the last limit
// bytes are returned.
func (b *Buffer) Snapshot(limit int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}

	n := b.size
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]byte, n)
	pos := n
	for i := len(b.chunks) - 1; i >= 0 && pos > 0; i-- {
		c := b.chunks[i]
		take := len(c)
		if take > pos {
			take = pos
		}
		pos -= take
		copy(out[pos:], c[len(c)-take:])
	}
	return out
}

// Clear removes all stored bytes without changing capacity.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.size = 0
}

// Size returns the current number of bytes retained.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the configured maximum size in bytes.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Empty reports whether the buffer currently holds no bytes.
func (b *Buffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size == 0
}
