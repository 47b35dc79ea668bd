package connhandler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lsadehaan/x-shell/internal/permission"
	"github.com/lsadehaan/x-shell/internal/session"
	"github.com/lsadehaan/x-shell/internal/transport"
	"github.com/lsadehaan/x-shell/internal/wire"
)

type fakePTY struct {
	mu      sync.Mutex
	written []byte
}

func (f *fakePTY) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}
func (f *fakePTY) Resize(uint16, uint16) error { return nil }
func (f *fakePTY) Kill() error                 { return nil }

type fakeConn struct {
	mu     sync.Mutex
	out    [][]byte
	closed bool
}

func (c *fakeConn) Read(ctx context.Context) (transport.MessageKind, []byte, error) {
	<-ctx.Done()
	return 0, nil, ctx.Err()
}

func (c *fakeConn) Write(_ context.Context, _ transport.MessageKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte{}, data...)
	c.out = append(c.out, cp)
	return nil
}

func (c *fakeConn) Close(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) frames(t *testing.T) []map[string]interface{} {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.out))
	for _, raw := range c.out {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("frame is not valid JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func testHandler(t *testing.T, gate permission.Gate) (*Handler, *session.Manager, *fakeConn) {
	t.Helper()
	mgr := session.NewManager(session.Config{
		MaxSessionsTotal:     10,
		MaxClientsPerSession: 4,
		HistorySize:          4096,
		GlobalHistoryEnabled: true,
		SweepInterval:        time.Hour,
	})
	conn := &fakeConn{}
	h := New(Config{
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}, mgr, gate, conn, "client-1")
	h.sender = newConnSender(conn, func() {})
	return h, mgr, conn
}

func waitForSend(t *testing.T, conn *fakeConn) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn.mu.Lock()
		n := len(conn.out)
		conn.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandleJoinSendsJoinedAndInjectsNewline(t *testing.T) {
	h, mgr, conn := testHandler(t, permission.NoOp{})
	pty := &fakePTY{}
	mgr.Create(session.Spec{ID: "s1", PTY: pty, OwnerClientID: "owner", OwnerSender: discardSender{}})

	raw, _ := json.Marshal(wire.Join{Type: wire.TypeJoin, Options: wire.JoinOptions{SessionID: "s1"}})
	h.handleJoin(raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "joined" {
		t.Fatalf("expected a joined frame, got %+v", frames)
	}

	pty.mu.Lock()
	defer pty.mu.Unlock()
	if string(pty.written) != "\n" {
		t.Fatalf("expected a newline injected into the PTY on join, got %q", pty.written)
	}
}

func TestHandleSpawnDefaultsOmittedGeometry(t *testing.T) {
	h, mgr, conn := testHandler(t, permission.NoOp{})

	raw, _ := json.Marshal(wire.Spawn{Type: wire.TypeSpawn, Options: wire.SpawnOptions{Shell: "/bin/sh"}})
	h.handleSpawn(raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "spawned" {
		t.Fatalf("expected a spawned frame, got %+v", frames)
	}
	if frames[0]["cols"] != float64(defaultCols) || frames[0]["rows"] != float64(defaultRows) {
		t.Fatalf("expected spawned geometry to default to %dx%d, got cols=%v rows=%v", defaultCols, defaultRows, frames[0]["cols"], frames[0]["rows"])
	}

	sessionID, _ := frames[0]["session_id"].(string)
	s, ok := mgr.Get(sessionID)
	if !ok {
		t.Fatalf("expected the spawned session to be registered")
	}
	info := s.Info()
	if info.Cols != defaultCols || info.Rows != defaultRows {
		t.Fatalf("expected stored session geometry to default to %dx%d, got %dx%d", defaultCols, defaultRows, info.Cols, info.Rows)
	}
	_ = mgr.Close(sessionID, "client-1")
}

func TestHandleJoinWithHistoryIncludesScrollback(t *testing.T) {
	h, mgr, conn := testHandler(t, permission.NoOp{})
	pty := &fakePTY{}
	mgr.Create(session.Spec{ID: "s1", PTY: pty, OwnerClientID: "owner", OwnerSender: discardSender{}})
	mgr.DispatchData("s1", []byte("scrollback"))

	raw, _ := json.Marshal(wire.Join{Type: wire.TypeJoin, Options: wire.JoinOptions{SessionID: "s1", RequestHistory: true}})
	h.handleJoin(raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "joined" {
		t.Fatalf("expected a joined frame, got %+v", frames)
	}
	if frames[0]["history"] != "scrollback" {
		t.Fatalf("expected joined.history to carry prior scrollback, got %+v", frames[0]["history"])
	}
}

func TestHandleDataRejectsNonRosterMember(t *testing.T) {
	h, mgr, conn := testHandler(t, permission.NoOp{})
	pty := &fakePTY{}
	mgr.Create(session.Spec{ID: "s1", PTY: pty, OwnerClientID: "owner", OwnerSender: discardSender{}})

	raw, _ := json.Marshal(wire.Data{Type: wire.TypeData, SessionID: "s1", Data: "ls\n"})
	h.handleData(raw) // client-1 never joined s1
	waitForSend(t, conn)

	pty.mu.Lock()
	defer pty.mu.Unlock()
	if len(pty.written) != 0 {
		t.Fatalf("data from a non-roster client must never reach the PTY")
	}
	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "error" {
		t.Fatalf("expected an error frame, got %+v", frames)
	}
}

func TestHandleCloseByOwnerTearsDownSession(t *testing.T) {
	h, mgr, _ := testHandler(t, permission.NoOp{})
	pty := &fakePTY{}
	mgr.Create(session.Spec{ID: "s1", PTY: pty, OwnerClientID: "client-1", OwnerSender: discardSender{}})

	raw, _ := json.Marshal(wire.Close{Type: wire.TypeClose, SessionID: "s1"})
	h.handleClose(raw)

	if _, ok := mgr.Get("s1"); ok {
		t.Fatalf("expected the owner's close to remove the session")
	}
}

func TestHandleListSessionsReturnsKnownSessions(t *testing.T) {
	h, mgr, conn := testHandler(t, permission.NoOp{})
	mgr.Create(session.Spec{ID: "s1", PTY: &fakePTY{}, OwnerClientID: "owner", OwnerSender: discardSender{}})

	raw, _ := json.Marshal(wire.ListSessions{Type: wire.TypeListSessions})
	h.handleListSessions(raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "session_list" {
		t.Fatalf("expected a session_list frame, got %+v", frames)
	}
	sessions, _ := frames[0]["sessions"].([]interface{})
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session listed, got %d", len(sessions))
	}
}

func TestHandleListSessionsVerboseIncludesEvents(t *testing.T) {
	h, mgr, conn := testHandler(t, permission.NoOp{})
	mgr.Create(session.Spec{ID: "s1", PTY: &fakePTY{}, OwnerClientID: "owner", OwnerSender: discardSender{}})
	mgr.AddClient("s1", "joiner", discardSender{})

	raw, _ := json.Marshal(wire.ListSessions{Type: wire.TypeListSessions, Filter: &wire.ListFilter{Verbose: true}})
	h.handleListSessions(raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "session_list" {
		t.Fatalf("expected a session_list frame, got %+v", frames)
	}
	sessions, _ := frames[0]["sessions"].([]interface{})
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session listed, got %d", len(sessions))
	}
	s0, _ := sessions[0].(map[string]interface{})
	events, _ := s0["events"].([]interface{})
	if len(events) < 2 {
		t.Fatalf("expected created and client_joined events in a verbose listing, got %+v", events)
	}
}

func TestHandleListSessionsNonVerboseOmitsEvents(t *testing.T) {
	h, mgr, conn := testHandler(t, permission.NoOp{})
	mgr.Create(session.Spec{ID: "s1", PTY: &fakePTY{}, OwnerClientID: "owner", OwnerSender: discardSender{}})

	raw, _ := json.Marshal(wire.ListSessions{Type: wire.TypeListSessions})
	h.handleListSessions(raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	s0, _ := frames[0]["sessions"].([]interface{})[0].(map[string]interface{})
	if _, ok := s0["events"]; ok {
		t.Fatalf("expected events omitted from a non-verbose listing, got %+v", s0["events"])
	}
}

func TestHandleExportRecordingReturnsEntries(t *testing.T) {
	mgr := session.NewManager(session.Config{
		MaxSessionsTotal:     10,
		MaxClientsPerSession: 4,
		HistorySize:          4096,
		GlobalHistoryEnabled: true,
		RecordingEnabled:     true,
		SweepInterval:        time.Hour,
	})
	conn := &fakeConn{}
	h := New(Config{RateLimitPerSecond: 1000, RateLimitBurst: 1000}, mgr, permission.NoOp{}, conn, "client-1")
	h.sender = newConnSender(conn, func() {})

	pty := &fakePTY{}
	mgr.Create(session.Spec{ID: "s1", PTY: pty, OwnerClientID: "owner", OwnerSender: discardSender{}})
	mgr.DispatchData("s1", []byte("hello"))

	raw, _ := json.Marshal(wire.ExportRecording{Type: wire.TypeExportRecording, SessionID: "s1"})
	h.handleExportRecording(raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "recording_export" {
		t.Fatalf("expected a recording_export frame, got %+v", frames)
	}
}

func TestHandleExportRecordingRejectsWhenDisabled(t *testing.T) {
	h, mgr, conn := testHandler(t, permission.NoOp{})
	mgr.Create(session.Spec{ID: "s1", PTY: &fakePTY{}, OwnerClientID: "owner", OwnerSender: discardSender{}})

	raw, _ := json.Marshal(wire.ExportRecording{Type: wire.TypeExportRecording, SessionID: "s1"})
	h.handleExportRecording(raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "error" {
		t.Fatalf("expected an error frame when recording is disabled, got %+v", frames)
	}
}

type denyGate struct{}

func (denyGate) CheckPermission(context.Context, *permission.User, permission.Operation, permission.Resource) permission.Decision {
	return permission.Deny("nope")
}

func TestDispatchSendsPermissionDenied(t *testing.T) {
	h, mgr, conn := testHandler(t, denyGate{})
	mgr.Create(session.Spec{ID: "s1", PTY: &fakePTY{}, OwnerClientID: "owner", OwnerSender: discardSender{}})
	h.authenticated = true

	raw, _ := json.Marshal(wire.ListSessions{Type: wire.TypeListSessions})
	h.dispatch(context.Background(), raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "permission_denied" {
		t.Fatalf("expected a permission_denied frame, got %+v", frames)
	}
}

func TestDispatchRequiresAuthBeforeOtherOperations(t *testing.T) {
	h, _, conn := testHandler(t, permission.NoOp{})
	h.cfg.RequireAuth = true
	h.authenticated = false

	raw, _ := json.Marshal(wire.ListSessions{Type: wire.TypeListSessions})
	h.dispatch(context.Background(), raw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "error" {
		t.Fatalf("expected an auth-required error frame, got %+v", frames)
	}
}

func TestRateLimitOnlyGatesDataAndResize(t *testing.T) {
	mgr := session.NewManager(session.Config{
		MaxSessionsTotal:     10,
		MaxClientsPerSession: 4,
		HistorySize:          4096,
		GlobalHistoryEnabled: true,
		SweepInterval:        time.Hour,
	})
	conn := &fakeConn{}
	h := New(Config{RateLimitPerSecond: 0, RateLimitBurst: 0}, mgr, permission.NoOp{}, conn, "client-1")
	h.sender = newConnSender(conn, func() {})
	h.authenticated = true

	pty := &fakePTY{}
	mgr.Create(session.Spec{ID: "s1", PTY: pty, OwnerClientID: "client-1", OwnerSender: discardSender{}})
	mgr.AddClient("s1", "client-1", discardSender{})

	raw, _ := json.Marshal(wire.Data{Type: wire.TypeData, SessionID: "s1", Data: "ls\n"})
	h.dispatch(context.Background(), raw)

	pty.mu.Lock()
	written := len(pty.written)
	pty.mu.Unlock()
	if written != 0 {
		t.Fatalf("expected a rate-limited data frame to be dropped, got %d bytes written", written)
	}

	authRaw, _ := json.Marshal(wire.Auth{Type: wire.TypeAuth})
	h.dispatch(context.Background(), authRaw)
	waitForSend(t, conn)

	frames := conn.frames(t)
	if len(frames) == 0 || frames[0]["type"] != "auth_response" {
		t.Fatalf("expected an auth_response frame even with an exhausted rate limiter, got %+v", frames)
	}
}

// discardSender satisfies session.Sender for tests that don't care about
// the session owner's own outbound frames.
type discardSender struct{}

func (discardSender) Send([]byte) error  { return nil }
func (discardSender) Close(string) error { return nil }
