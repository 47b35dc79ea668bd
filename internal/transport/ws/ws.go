// Package ws adapts github.com/coder/websocket to the transport.Conn
// interface. Adapted from control-plane/internal/handlers/terminal.go and
// sshproxy.go, both of which use Accept/Read/Write/SetReadLimit/Close from
// the same library for exactly this shape of bidirectional JSON/binary
// connection.
package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/lsadehaan/x-shell/internal/transport"
)

// DefaultReadLimit mirrors handlers/terminal.go's clientConn.SetReadLimit(1024 * 1024).
const DefaultReadLimit = 1024 * 1024

// Conn wraps a *websocket.Conn as a transport.Conn.
type Conn struct {
	c          *websocket.Conn
	remoteAddr string
}

// Accept upgrades an incoming HTTP request to a WebSocket connection.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*Conn, error) {
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(DefaultReadLimit)
	return &Conn{c: c, remoteAddr: r.RemoteAddr}, nil
}

func (c *Conn) Read(ctx context.Context) (transport.MessageKind, []byte, error) {
	msgType, data, err := c.c.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if msgType == websocket.MessageBinary {
		return transport.KindBinary, data, nil
	}
	return transport.KindText, data, nil
}

func (c *Conn) Write(ctx context.Context, kind transport.MessageKind, data []byte) error {
	wsKind := websocket.MessageText
	if kind == transport.KindBinary {
		wsKind = websocket.MessageBinary
	}
	return c.c.Write(ctx, wsKind, data)
}

func (c *Conn) Close(reason string) error {
	return c.c.Close(websocket.StatusNormalClosure, reason)
}

func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

var _ transport.Conn = (*Conn)(nil)
