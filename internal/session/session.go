// Package session implements the Session Manager: the core state machine
// that owns PTYs, tracks each session's client roster, maintains its
// history buffer, and runs the orphan-and-reclaim lifecycle. Grounded on
// control-plane's sshterminal.SessionManager/ManagedSession, generalized
// from "one SSH-backed managed session with a single reconnecting
// WebSocket" to "many concurrently-attached clients per session" and from
// a database-oriented instance/user model to process-lifetime-only state.
package session

import (
	"sync"
	"time"

	"github.com/lsadehaan/x-shell/internal/history"
	"github.com/lsadehaan/x-shell/internal/recording"
	"github.com/lsadehaan/x-shell/internal/wire"
)

// Kind is the closed set of session flavors a spawn can request.
type Kind string

const (
	KindLocal            Kind = "local"
	KindContainerExec    Kind = "container-exec"
	KindContainerAttach  Kind = "container-attach"
)

// PTY is the subset of the PTY Adapter's surface the Session Manager
// drives directly. ptyadapter.Adapter satisfies this.
type PTY interface {
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Kill() error
}

// Sender is the transport-agnostic outbound sink a Connection Handler
// registers on behalf of one client: "a synchronous-or-queued send(frame)
// sink, plus a close()". Implementations are expected to be non-blocking
// (e.g. backed by a per-connection buffered channel) so that fan-out never
// stalls on one slow client.
type Sender interface {
	Send(frame []byte) error
	Close(reason string) error
}

// ClientRecord is one roster entry.
type ClientRecord struct {
	ID           string
	Sender       Sender
	JoinedAt     time.Time
	LastActivity time.Time
}

// Spec describes a session to be created. The PTY must already be
// started; the Session Manager only supervises it from here on.
type Spec struct {
	ID             string
	Kind           Kind
	PTY            PTY
	Shell          string
	Cwd            string
	Cols, Rows     uint16
	OwnerClientID  string
	OwnerSender    Sender
	Container      string
	Label          string
	AllowJoin      *bool // nil defaults to true
	EnableHistory  *bool // nil defaults to true
}

// Info is the snapshot of a session's public state, the wire SessionInfo
// shape with the server-side session id attached for convenience.
type Info struct {
	SessionID      string
	Kind           Kind
	Shell          string
	Cwd            string
	Cols, Rows     uint16
	CreatedAt      time.Time
	Container      string
	ClientCount    int
	Accepting      bool
	OwnerID        string
	Label          string
	HistoryEnabled bool
}

// Session is one live PTY plus its roster, history, and lifecycle state.
// All mutation of roster, accepting, orphanedAt, and history goes through
// the session's own mutex; the Manager never reaches into these fields.
type Session struct {
	mu sync.Mutex

	id         string
	kind       Kind
	pty        PTY
	shell, cwd string
	cols, rows uint16
	createdAt  time.Time
	lastActivity time.Time
	ownerClientID string
	container  string
	label      string

	accepting      bool
	historyEnabled bool
	history        *history.Buffer
	recording      *recording.Recording

	roster     map[string]*ClientRecord
	orphanedAt *time.Time
	orphanTimer *time.Timer

	events []Event

	closed bool
}

func newSession(spec Spec, historySize int, globalHistoryEnabled, recordingEnabled bool, recordingMaxEntries int) *Session {
	allowJoin := true
	if spec.AllowJoin != nil {
		allowJoin = *spec.AllowJoin
	}
	enableHistory := true
	if spec.EnableHistory != nil {
		enableHistory = *spec.EnableHistory
	}

	now := time.Now()
	s := &Session{
		id:             spec.ID,
		kind:           spec.Kind,
		pty:            spec.PTY,
		shell:          spec.Shell,
		cwd:            spec.Cwd,
		cols:           spec.Cols,
		rows:           spec.Rows,
		createdAt:      now,
		lastActivity:   now,
		ownerClientID:  spec.OwnerClientID,
		container:      spec.Container,
		label:          spec.Label,
		accepting:      allowJoin,
		historyEnabled: enableHistory && globalHistoryEnabled,
		history:        history.New(historySize),
		roster:         make(map[string]*ClientRecord),
	}
	if recordingEnabled {
		s.recording = recording.New(recordingMaxEntries)
	}
	s.roster[spec.OwnerClientID] = &ClientRecord{
		ID:           spec.OwnerClientID,
		Sender:       spec.OwnerSender,
		JoinedAt:     now,
		LastActivity: now,
	}
	s.appendEventLocked(EventCreated, "owner="+spec.OwnerClientID)
	return s
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// OwnerID returns the client id recorded as owner at creation. Ownership
// never transfers, even if the owner leaves the roster.
func (s *Session) OwnerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerClientID
}

// Info returns a consistent snapshot of the session's public state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:      s.id,
		Kind:           s.kind,
		Shell:          s.shell,
		Cwd:            s.cwd,
		Cols:           s.cols,
		Rows:           s.rows,
		CreatedAt:      s.createdAt,
		Container:      s.container,
		ClientCount:    len(s.roster),
		Accepting:      s.accepting,
		OwnerID:        s.ownerClientID,
		Label:          s.label,
		HistoryEnabled: s.historyEnabled,
	}
}

// matches reports whether the session passes a list filter. Empty filter
// fields are wildcards.
func (s *Session) matches(kind Kind, container string, accepting *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind != "" && s.kind != kind {
		return false
	}
	if container != "" && s.container != container {
		return false
	}
	if accepting != nil && s.accepting != *accepting {
		return false
	}
	return true
}

// addClient attempts to join clientID to the roster. Returns whether it
// succeeded, the set of other roster senders to notify of the join, and
// whether the session was orphaned before this call (the orphan timer, if
// any, has already been cancelled here; the caller updates the
// client_to_sessions index).
func (s *Session) addClient(clientID string, sender Sender, maxClients int) (ok bool, notify []Sender, wasOrphaned bool) {
	ok, notify, wasOrphaned, _ = s.addClientLocked(clientID, sender, maxClients, 0, false)
	return ok, notify, wasOrphaned
}

// addClientWithHistory joins clientID to the roster and, in the same
// critical section, takes the history snapshot the joiner will be handed.
// Taking both under one lock acquisition is what keeps a joiner's history
// prefix and its live stream gapless and non-overlapping: any PTY chunk
// that arrives after this call returns is guaranteed to post-date the
// snapshot (the chunk's append happens under onPTYData's own lock
// acquisition, which can only run before this one, appending a chunk this
// snapshot already includes and the client isn't yet in roster for, or
// after it, in which case it reaches the client only as a live frame).
func (s *Session) addClientWithHistory(clientID string, sender Sender, maxClients, historyLimit int) (ok bool, notify []Sender, wasOrphaned bool, historySnap []byte) {
	return s.addClientLocked(clientID, sender, maxClients, historyLimit, true)
}

func (s *Session) addClientLocked(clientID string, sender Sender, maxClients, historyLimit int, wantHistory bool) (ok bool, notify []Sender, wasOrphaned bool, historySnap []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.accepting {
		return false, nil, false, nil
	}
	if maxClients > 0 && len(s.roster) >= maxClients {
		return false, nil, false, nil
	}

	now := time.Now()
	wasOrphaned = s.orphanedAt != nil
	if wasOrphaned {
		s.orphanedAt = nil
		if s.orphanTimer != nil {
			s.orphanTimer.Stop()
			s.orphanTimer = nil
		}
	}

	s.roster[clientID] = &ClientRecord{ID: clientID, Sender: sender, JoinedAt: now, LastActivity: now}
	s.appendEventLocked(EventClientJoined, clientID)
	if wasOrphaned {
		s.appendEventLocked(EventReclaimed, clientID)
	}

	for id, rec := range s.roster {
		if id != clientID {
			notify = append(notify, rec.Sender)
		}
	}

	if wantHistory && s.historyEnabled {
		historySnap = s.history.Snapshot(historyLimit)
	}

	return true, notify, wasOrphaned, historySnap
}

// removeResult carries what the Manager needs to finish tearing down
// indexes and arming timers after a roster mutation.
type removeResult struct {
	removed       bool
	notify        []Sender
	clientCount   int
	becameOrphan  bool
}

// removeClient removes clientID from the roster if present.
func (s *Session) removeClient(clientID string) removeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roster[clientID]; !ok {
		return removeResult{}
	}
	delete(s.roster, clientID)
	s.appendEventLocked(EventClientLeft, clientID)

	var notify []Sender
	for _, rec := range s.roster {
		notify = append(notify, rec.Sender)
	}

	becameOrphan := false
	if len(s.roster) == 0 && !s.closed {
		now := time.Now()
		s.orphanedAt = &now
		becameOrphan = true
		s.appendEventLocked(EventOrphaned, "")
	}

	return removeResult{removed: true, notify: notify, clientCount: len(s.roster), becameOrphan: becameOrphan}
}

// armOrphanTimer starts the one-shot reclaim timer; onFire is invoked
// exactly once if the timer is not cancelled first.
func (s *Session) armOrphanTimer(d time.Duration, onFire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.orphanedAt == nil {
		return
	}
	s.orphanTimer = time.AfterFunc(d, onFire)
}

// rosterSenders returns every sender currently attached, for full-roster
// broadcasts (session_closed).
func (s *Session) rosterSenders() []Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sender, 0, len(s.roster))
	for _, rec := range s.roster {
		out = append(out, rec.Sender)
	}
	return out
}

// touchClient reports whether clientID is currently attached, and touches
// its last-activity timestamp as a side effect when present.
func (s *Session) touchClient(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.roster[clientID]
	if !ok {
		return false
	}
	now := time.Now()
	rec.LastActivity = now
	s.lastActivity = now
	return true
}

// write forwards bytes to the PTY on behalf of a roster member.
func (s *Session) write(clientID string, p []byte) error {
	if !s.touchClient(clientID) {
		return errNotInRoster
	}
	if s.recording != nil {
		s.recording.RecordInput(p)
	}
	_, err := s.pty.Write(p)
	return err
}

// resize updates stored geometry and forwards to the PTY. Any roster
// member may resize; the last writer wins.
func (s *Session) resize(cols, rows uint16) error {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	return s.pty.Resize(cols, rows)
}

// onPTYData is the PTY Adapter's onData callback. It serializes
// last-activity update, history append, and fan-out so that a client
// joining mid-stream sees a history prefix with no gap or overlap against
// the live suffix it starts receiving immediately after.
func (s *Session) onPTYData(chunk []byte) {
	s.mu.Lock()
	s.lastActivity = time.Now()
	if s.historyEnabled {
		s.history.Append(chunk)
	}
	if s.recording != nil {
		s.recording.RecordOutput(chunk)
	}
	senders := make([]Sender, 0, len(s.roster))
	for _, rec := range s.roster {
		senders = append(senders, rec.Sender)
	}
	s.mu.Unlock()

	frame, err := wire.Marshal(wire.Data{
		Type:      wire.TypeData,
		SessionID: s.id,
		Data:      string(chunk),
	})
	if err != nil {
		return
	}
	for _, snd := range senders {
		_ = snd.Send(frame)
	}
}

// exportRecording serializes the session's recording as JSON, or nil if
// recording was never enabled for this session (global RecordingEnabled
// was false at Manager construction time).
func (s *Session) exportRecording() ([]byte, error) {
	s.mu.Lock()
	rec := s.recording
	s.mu.Unlock()
	if rec == nil {
		return nil, nil
	}
	return rec.ExportJSON()
}

// snapshotHistory returns up to limit bytes of scrollback (0 = everything
// retained).
func (s *Session) snapshotHistory(limit int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.historyEnabled {
		return nil
	}
	return s.history.Snapshot(limit)
}

// markClosed flips the session to closed and kills its PTY and orphan
// timer. Safe to call more than once.
func (s *Session) markClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.orphanTimer != nil {
		s.orphanTimer.Stop()
		s.orphanTimer = nil
	}
	s.appendEventLocked(EventClosed, "")
	s.mu.Unlock()
	_ = s.pty.Kill()
}

// rosterClientIDs returns the current roster member ids, for index
// cleanup when a session is torn down.
func (s *Session) rosterClientIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.roster))
	for id := range s.roster {
		out = append(out, id)
	}
	return out
}

func (s *Session) lastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
