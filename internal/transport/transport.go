// Package transport defines the minimal abstraction the Connection Handler
// and Session Manager are built against, so neither depends on WebSocket
// specifics. A Conn is an inbound stream of frames plus a synchronous send
// sink and a close. Three
// concrete implementations exist: internal/transport/ws (coder/websocket,
// the primary one), internal/transport/yamux (a multiplexed stream over a
// single TCP connection, for embedded/co-located agents), and
// internal/transport/sshd (a gliderlabs/ssh session).
package transport

import "context"

// MessageKind distinguishes text (JSON control) frames from binary frames.
// Every concrete transport maps its native frame-type concept onto this.
type MessageKind int

const (
	KindText MessageKind = iota
	KindBinary
)

// Conn is the transport-agnostic surface the Connection Handler drives.
type Conn interface {
	// Read blocks until a frame arrives, ctx is cancelled, or the
	// connection fails.
	Read(ctx context.Context) (MessageKind, []byte, error)

	// Write sends one frame. Implementations must be safe to call
	// concurrently with Read, but need not be safe for concurrent Writes
	// (the Connection Handler serializes its own writes).
	Write(ctx context.Context, kind MessageKind, data []byte) error

	// Close closes the connection with a human-readable reason. Calling
	// Close more than once is a no-op.
	Close(reason string) error

	// RemoteAddr identifies the peer for logging; format is
	// implementation-specific.
	RemoteAddr() string
}
