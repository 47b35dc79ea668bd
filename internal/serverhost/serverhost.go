// Package serverhost implements the Server Host (C6): it owns the HTTP
// listener, upgrades WebSocket requests into transport.Conn values, wires
// the Permission Gate and Session Manager, hands each accepted connection
// to a fresh connhandler.Handler, and drives graceful shutdown. Adapted
// from control-plane/main.go's chi router + http.Server + signal-driven
// shutdown sequence, generalized from control-plane's single
// instance-scoped terminal proxy to a standalone multi-session gateway
// with optional yamux and SSH listeners alongside the WebSocket one.
package serverhost

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lsadehaan/x-shell/internal/connhandler"
	"github.com/lsadehaan/x-shell/internal/permission"
	"github.com/lsadehaan/x-shell/internal/session"
	"github.com/lsadehaan/x-shell/internal/transport"
	"github.com/lsadehaan/x-shell/internal/transport/sshd"
	"github.com/lsadehaan/x-shell/internal/transport/ws"
	"github.com/lsadehaan/x-shell/internal/transport/yamux"
)

// Config bundles everything the Server Host needs to construct its
// dependencies and start listening.
type Config struct {
	ListenAddr string
	YamuxAddr  string
	SSHAddr    string

	Handler connhandler.Config
	Session session.Config
}

// Server owns the Session Manager, the Permission Gate, and every
// transport listener built from Config.
type Server struct {
	cfg     Config
	gate    permission.Gate
	manager *session.Manager

	httpSrv   *http.Server
	yamuxLn   net.Listener
	yamuxSess []*yamux.Listener
	sshSrv    *sshd.Server

	wg sync.WaitGroup
}

// New wires the Session Manager and builds the chi router, but does not
// start listening; call Serve to accept connections.
func New(cfg Config, gate permission.Gate) *Server {
	mgr := session.NewManager(cfg.Session)
	s := &Server{cfg: cfg, gate: gate, manager: mgr}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	s.httpSrv = &http.Server{Addr: cfg.ListenAddr, Handler: r}
	return s
}

// Manager returns the Session Manager this Server was built with.
func (s *Server) Manager() *session.Manager { return s.manager }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("[serverhost] websocket accept failed: %v", err)
		return
	}
	meta := permission.ConnectionMetadata{
		AuthorizationHeader: r.Header.Get("Authorization"),
		QueryToken:          r.URL.Query().Get("token"),
		CookieHeader:        r.Header.Get("Cookie"),
	}
	s.serveConn(r.Context(), conn, meta)
}

func (s *Server) serveConn(ctx context.Context, conn transport.Conn, meta permission.ConnectionMetadata) {
	h := connhandler.New(s.cfg.Handler, s.manager, s.gate, conn, "")
	h.SetConnectionMetadata(meta)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		h.Run(ctx)
	}()
}

// Serve starts every configured listener and blocks until ctx is
// cancelled, then drains in-flight connections before returning.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 3)

	go func() {
		log.Printf("[serverhost] http listening on %s", s.cfg.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if s.cfg.YamuxAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.YamuxAddr)
		if err != nil {
			return err
		}
		s.yamuxLn = ln
		go s.acceptYamux(ctx, ln)
	}

	if s.cfg.SSHAddr != "" {
		hostKey, err := sshd.NewHostKey()
		if err != nil {
			return err
		}
		srv, err := sshd.New(s.cfg.SSHAddr, hostKey, func(c transport.Conn) {
			s.serveConn(ctx, c, permission.ConnectionMetadata{})
		})
		if err != nil {
			return err
		}
		s.sshSrv = srv
		go func() {
			log.Printf("[serverhost] ssh listening on %s", s.cfg.SSHAddr)
			if err := srv.ListenAndServe(); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		_ = s.shutdown()
		return err
	}
}

func (s *Server) acceptYamux(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		ymSession, err := yamux.Server(conn)
		if err != nil {
			conn.Close()
			continue
		}
		s.yamuxSess = append(s.yamuxSess, ymSession)
		go s.acceptYamuxStreams(ctx, ymSession)
	}
}

func (s *Server) acceptYamuxStreams(ctx context.Context, ln *yamux.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		s.serveConn(ctx, c, permission.ConnectionMetadata{})
	}
}

func (s *Server) shutdown() error {
	log.Println("[serverhost] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if s.yamuxLn != nil {
		_ = s.yamuxLn.Close()
	}
	for _, ses := range s.yamuxSess {
		_ = ses.Close()
	}
	if s.sshSrv != nil {
		_ = s.sshSrv.Close()
	}
	s.manager.Cleanup()
	s.wg.Wait()
	return firstErr
}
