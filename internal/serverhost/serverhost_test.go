package serverhost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lsadehaan/x-shell/internal/connhandler"
	"github.com/lsadehaan/x-shell/internal/permission"
	"github.com/lsadehaan/x-shell/internal/session"
)

func testServer() *Server {
	return New(Config{
		ListenAddr: "127.0.0.1:0",
		Handler: connhandler.Config{
			RateLimitPerSecond: 1000,
			RateLimitBurst:     1000,
		},
		Session: session.Config{
			MaxSessionsTotal:     10,
			MaxClientsPerSession: 4,
			HistorySize:          4096,
			GlobalHistoryEnabled: true,
			SweepInterval:        time.Hour,
		},
	}, permission.NoOp{})
}

func TestHealthEndpointReportsOK(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected body %q, got %q", "ok", rec.Body.String())
	}
}

func TestManagerIsWiredFromSessionConfig(t *testing.T) {
	s := testServer()
	if s.Manager() == nil {
		t.Fatalf("expected a non-nil session manager")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	s := testServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after context cancellation")
	}
}
