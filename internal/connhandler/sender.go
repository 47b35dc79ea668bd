package connhandler

import (
	"context"
	"fmt"
	"sync"

	"github.com/lsadehaan/x-shell/internal/transport"
)

// outboundQueueSize bounds how far a slow client can fall behind before it
// is treated as failed: once a per-client outbound write queue fills, the
// client is considered gone.
const outboundQueueSize = 256

// connSender adapts a transport.Conn into the queued, non-blocking
// session.Sender the Session Manager drives, and into the Connection
// Handler's own reply path. A single background goroutine owns all
// writes to the underlying transport so session fan-out and direct
// replies never race on the wire.
type connSender struct {
	conn transport.Conn
	out  chan []byte

	mu     sync.Mutex
	failed bool
	onFail func()

	closeOnce sync.Once
	done      chan struct{}
}

func newConnSender(conn transport.Conn, onFail func()) *connSender {
	s := &connSender{
		conn:   conn,
		out:    make(chan []byte, outboundQueueSize),
		onFail: onFail,
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *connSender) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if err := s.conn.Write(ctx, transport.KindText, frame); err != nil {
				s.fail()
				return
			}
		}
	}
}

// Send enqueues frame for delivery. It never blocks: a full queue marks
// the sender failed, exactly the "transport write fails" case in
// the error taxonomy.
func (s *connSender) Send(frame []byte) error {
	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return fmt.Errorf("connhandler: sender failed")
	}
	s.mu.Unlock()

	select {
	case s.out <- frame:
		return nil
	default:
		s.fail()
		return fmt.Errorf("connhandler: outbound queue full")
	}
}

func (s *connSender) fail() {
	s.mu.Lock()
	already := s.failed
	s.failed = true
	s.mu.Unlock()
	if already {
		return
	}
	s.closeOnce.Do(func() { close(s.done) })
	if s.onFail != nil {
		s.onFail()
	}
}

// Close closes the underlying transport and stops the write loop.
func (s *connSender) Close(reason string) error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close(reason)
}
