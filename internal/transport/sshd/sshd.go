// Package sshd exposes the gateway's wire protocol over an SSH session, as
// a third concrete transport.Conn implementation. Enrichment from
// sa6mwa-centaurx, which embeds a github.com/gliderlabs/ssh server as an
// operator-facing control surface; golang.org/x/crypto/ssh supplies the
// host key type so the server has a real, exercised home instead of
// sitting unused in go.mod.
//
// An SSH session here does not hand the client a raw PTY passthrough to
// the remote shell: the wire protocol (internal/wire) is transport-
// agnostic JSON, so an SSH session just carries the same JSON frames the
// WebSocket and yamux transports carry, delimited here by newlines.
// Operators who'd rather run `ssh gateway.host -p 2222` than open a
// browser tab get the identical client<->server protocol.
package sshd

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"

	gssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/lsadehaan/x-shell/internal/transport"
)

// NewHostKey generates a fresh ed25519 host-key signer. Every call
// produces a new key, so the host identity changes on each start.
func NewHostKey() (ssh.Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("sshd: generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("sshd: wrap host key: %w", err)
	}
	return signer, nil
}

// Server wraps a *gssh.Server configured to hand every accepted session to
// handle as a transport.Conn.
type Server struct {
	inner *gssh.Server
}

// New builds a Server listening on addr. handle is invoked once per
// accepted SSH session with a transport.Conn wrapping that session.
func New(addr string, hostKey ssh.Signer, handle func(transport.Conn)) (*Server, error) {
	srv := &gssh.Server{
		Addr: addr,
		Handler: func(s gssh.Session) {
			handle(&Conn{session: s, r: bufio.NewReader(s)})
		},
	}
	srv.AddHostKey(hostKey)
	return &Server{inner: srv}, nil
}

// ListenAndServe blocks, serving SSH connections until it fails.
func (s *Server) ListenAndServe() error {
	return s.inner.ListenAndServe()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.inner.Close()
}

// Conn adapts one gliderlabs/ssh Session to transport.Conn. Frames are
// newline-delimited JSON; MessageKind is always KindText since an SSH
// channel has no out-of-band binary/text distinction the way WebSocket
// does (binary PTY chunks travel as JSON-escaped strings inside a "data"
// frame, same as any other transport).
type Conn struct {
	session gssh.Session
	r       *bufio.Reader
}

func (c *Conn) Read(ctx context.Context) (transport.MessageKind, []byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := c.r.ReadBytes('\n')
		done <- result{data: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return 0, nil, r.err
		}
		var raw json.RawMessage
		if err := json.Unmarshal(r.data, &raw); err != nil {
			return 0, nil, fmt.Errorf("sshd: malformed frame: %w", err)
		}
		return transport.KindText, []byte(raw), nil
	}
}

func (c *Conn) Write(ctx context.Context, kind transport.MessageKind, data []byte) error {
	_, err := c.session.Write(append(append([]byte{}, data...), '\n'))
	return err
}

func (c *Conn) Close(reason string) error {
	return c.session.Close()
}

func (c *Conn) RemoteAddr() string {
	if addr := c.session.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

var _ transport.Conn = (*Conn)(nil)
