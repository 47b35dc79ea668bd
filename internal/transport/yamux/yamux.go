// Package yamux exposes the session multiplexer's wire protocol over a
// single hashicorp/yamux session instead of one WebSocket per client. This
// is for co-located agents that would rather hold one TCP connection open
// and open a new yamux stream per terminal client than pay for N
// independent WebSocket handshakes.
//
// Adapted from agent/src/tunnel/router.go and channels.go: that file reads
// a newline-terminated channel name off a freshly-opened yamux stream and
// dispatches to a registered handler. Listen here reuses the exact same
// channel-header convention ("term\n") before handing the stream to the
// Connection Handler as a transport.Conn.
package yamux

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	hyamux "github.com/hashicorp/yamux"

	"github.com/lsadehaan/x-shell/internal/transport"
)

// ChannelName is the header every terminal stream must start with.
const ChannelName = "term"

const (
	kindText   byte = 0x01
	kindBinary byte = 0x02
)

// Listener accepts yamux streams over conn (one yamux.Session) and yields
// them as transport.Conn values once their channel header has been read
// and matched against ChannelName.
type Listener struct {
	session *hyamux.Session
}

// Server wraps conn (a single already-accepted net.Conn, e.g. from a TCP
// listener) as a yamux server session.
func Server(conn net.Conn) (*Listener, error) {
	session, err := hyamux.Server(conn, hyamux.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("yamux: server session: %w", err)
	}
	return &Listener{session: session}, nil
}

// Accept blocks for the next yamux stream whose channel header matches
// ChannelName, skipping (and closing) streams for other channels.
func (l *Listener) Accept() (*Conn, error) {
	for {
		stream, err := l.session.Accept()
		if err != nil {
			return nil, err
		}
		name, r, err := readChannelHeader(stream)
		if err != nil {
			stream.Close()
			continue
		}
		if name != ChannelName {
			stream.Close()
			continue
		}
		return &Conn{stream: stream, r: r}, nil
	}
}

// Close tears down the underlying yamux session.
func (l *Listener) Close() error {
	return l.session.Close()
}

func readChannelHeader(r io.Reader) (string, *bufio.Reader, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil {
		return "", nil, err
	}
	if len(line) > 0 {
		line = line[:len(line)-1]
	}
	return line, br, nil
}

// Conn adapts one yamux stream, framed as [1 byte kind][4 byte big-endian
// length][payload], to transport.Conn.
type Conn struct {
	stream net.Conn
	r      *bufio.Reader
}

func (c *Conn) Read(ctx context.Context) (transport.MessageKind, []byte, error) {
	type result struct {
		kind transport.MessageKind
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		header := make([]byte, 5)
		if _, err := io.ReadFull(c.r, header); err != nil {
			done <- result{err: err}
			return
		}
		kindByte := header[0]
		length := binary.BigEndian.Uint32(header[1:])
		if length > 16*1024*1024 {
			done <- result{err: errors.New("yamux: frame too large")}
			return
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(c.r, payload); err != nil {
			done <- result{err: err}
			return
		}
		kind := transport.KindText
		if kindByte == kindBinary {
			kind = transport.KindBinary
		}
		done <- result{kind: kind, data: payload}
	}()

	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case r := <-done:
		return r.kind, r.data, r.err
	}
}

func (c *Conn) Write(ctx context.Context, kind transport.MessageKind, data []byte) error {
	kindByte := kindText
	if kind == transport.KindBinary {
		kindByte = kindBinary
	}
	header := make([]byte, 5)
	header[0] = kindByte
	binary.BigEndian.PutUint32(header[1:], uint32(len(data)))
	if _, err := c.stream.Write(header); err != nil {
		return err
	}
	_, err := c.stream.Write(data)
	return err
}

func (c *Conn) Close(reason string) error {
	return c.stream.Close()
}

func (c *Conn) RemoteAddr() string {
	return c.stream.RemoteAddr().String()
}

var _ transport.Conn = (*Conn)(nil)
