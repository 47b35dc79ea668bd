package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lsadehaan/x-shell/internal/wire"
)

var (
	ErrCapacityExhausted = errors.New("session: capacity_exhausted")
	ErrSessionNotFound   = errors.New("session: not found")
	errNotInRoster       = errors.New("session: client not in roster")
)

// Config carries every Session Manager tunable that
// belongs to this package (shell/container allow-lists live in the
// Connection Handler, which owns admission before a PTY is even started).
type Config struct {
	MaxSessionsTotal     int
	MaxClientsPerSession int
	MaxSessionsPerClient int
	OrphanTimeout        time.Duration
	IdleTimeout          time.Duration
	SweepInterval        time.Duration
	HistorySize          int
	GlobalHistoryEnabled bool
	RecordingEnabled     bool
	RecordingMaxEntries  int
}

// defaultRecordingMaxEntries bounds a session's recording so a long-lived
// session's in-memory log cannot grow without limit. Applied when
// Config.RecordingMaxEntries is left at its zero value.
const defaultRecordingMaxEntries = 50000

// Manager is the process-wide registry of live sessions: the
// session-id -> Session index and the client-id -> set-of-session-ids
// index, both guarded by the single mu lock, which is held only for the
// duration of the index operation.
type Manager struct {
	cfg Config

	mu               sync.RWMutex
	sessions         map[string]*Session
	clientToSessions map[string]map[string]bool
	ownerSessions    map[string]int

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewManager builds a Manager and starts its idle sweeper goroutine.
func NewManager(cfg Config) *Manager {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.RecordingMaxEntries <= 0 {
		cfg.RecordingMaxEntries = defaultRecordingMaxEntries
	}
	m := &Manager{
		cfg:              cfg,
		sessions:         make(map[string]*Session),
		clientToSessions: make(map[string]map[string]bool),
		ownerSessions:    make(map[string]int),
		stopSweep:        make(chan struct{}),
		sweepDone:        make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create admits a new session if under the global cap.
func (m *Manager) Create(spec Spec) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessionsTotal > 0 && len(m.sessions) >= m.cfg.MaxSessionsTotal {
		return nil, ErrCapacityExhausted
	}

	s := newSession(spec, m.cfg.HistorySize, m.cfg.GlobalHistoryEnabled, m.cfg.RecordingEnabled, m.cfg.RecordingMaxEntries)
	m.sessions[s.id] = s
	m.addIndexLocked(spec.OwnerClientID, s.id)
	m.ownerSessions[spec.OwnerClientID]++

	log.Printf("[session-mgr] created session %s (kind=%s owner=%s)", s.id, spec.Kind, spec.OwnerClientID)
	return s, nil
}

// DispatchData is the PTY Adapter's onData callback, wired by the caller
// that started the PTY before the session existed (the create()
// precondition that the PTY handle arrives "already started"). The
// session id is known to that caller because it mints it before spawning.
func (m *Manager) DispatchData(sessionID string, chunk []byte) {
	if s, ok := m.Get(sessionID); ok {
		s.onPTYData(chunk)
	}
}

// DispatchExit is the PTY Adapter's onExit callback, wired the same way
// as DispatchData.
func (m *Manager) DispatchExit(sessionID string, code int) {
	m.onProcessExit(sessionID, code)
}

// SessionsForClient returns the count of sessions currently attributing
// ownership to clientID (the per-owner cap), not the broader set of
// sessions clientID has merely joined. Used by the Connection Handler to
// enforce max_sessions_per_client.
func (m *Manager) SessionsForClient(clientID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ownerSessions[clientID]
}

// Get looks up a session by id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// List returns sessions matching an optional filter. Empty string /
// nil fields are wildcards.
func (m *Manager) List(kind Kind, container string, accepting *bool) []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		if s.matches(kind, container, accepting) {
			out = append(out, s.Info())
		}
	}
	return out
}

// ExportRecording returns the JSON-serialized recording for sessionID, or
// nil if recording is disabled or the session has no recording.
func (m *Manager) ExportRecording(sessionID string) ([]byte, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.exportRecording()
}

// Events returns the recorded lifecycle events for sessionID.
func (m *Manager) Events(sessionID string) ([]Event, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Events(), nil
}

// AddClient joins clientID to a session's roster, broadcasting
// client_joined to the rest of the roster on success.
func (m *Manager) AddClient(sessionID, clientID string, sender Sender) (bool, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return false, ErrSessionNotFound
	}

	ok, notify, wasOrphaned := s.addClient(clientID, sender, m.cfg.MaxClientsPerSession)
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	m.addIndexLocked(clientID, sessionID)
	m.mu.Unlock()

	_ = wasOrphaned // orphan timer already cancelled inside addClient

	frame, _ := wire.Marshal(wire.RosterChange{
		Type:        wire.TypeClientJoined,
		SessionID:   sessionID,
		ClientCount: len(notify) + 1,
	})
	for _, snd := range notify {
		_ = snd.Send(frame)
	}
	return true, nil
}

// AddClientWithHistory joins clientID to a session's roster and returns its
// history snapshot, both captured under the same session-mutex critical
// section, so the snapshot boundary and the start of live delivery to this
// client are one atomic point: no PTY chunk can be delivered both inside
// historySnap and again as a live data frame, and none can be missed
// between the two. Use this instead of AddClient+SnapshotHistory whenever
// a joiner wants history; the two-call sequence has exactly that gap.
func (m *Manager) AddClientWithHistory(sessionID, clientID string, sender Sender, historyLimit int) (ok bool, historySnap []byte, err error) {
	s, ok2 := m.Get(sessionID)
	if !ok2 {
		return false, nil, ErrSessionNotFound
	}

	ok, notify, wasOrphaned, historySnap := s.addClientWithHistory(clientID, sender, m.cfg.MaxClientsPerSession, historyLimit)
	if !ok {
		return false, nil, nil
	}

	m.mu.Lock()
	m.addIndexLocked(clientID, sessionID)
	m.mu.Unlock()

	_ = wasOrphaned // orphan timer already cancelled inside addClientWithHistory

	frame, _ := wire.Marshal(wire.RosterChange{
		Type:        wire.TypeClientJoined,
		SessionID:   sessionID,
		ClientCount: len(notify) + 1,
	})
	for _, snd := range notify {
		_ = snd.Send(frame)
	}
	return true, historySnap, nil
}

// RemoveClient removes clientID from one session's roster. No-op if the
// client was not a member.
func (m *Manager) RemoveClient(sessionID, clientID string) {
	s, ok := m.Get(sessionID)
	if !ok {
		return
	}
	m.removeClientFromSession(s, clientID)
}

// RemoveClientEverywhere removes clientID from every session it is
// attached to, used on disconnect (transport-failure policy).
func (m *Manager) RemoveClientEverywhere(clientID string) {
	m.mu.RLock()
	sessionIDs := make([]string, 0, len(m.clientToSessions[clientID]))
	for id := range m.clientToSessions[clientID] {
		sessionIDs = append(sessionIDs, id)
	}
	m.mu.RUnlock()

	for _, sessionID := range sessionIDs {
		if s, ok := m.Get(sessionID); ok {
			m.removeClientFromSession(s, clientID)
		}
	}
}

func (m *Manager) removeClientFromSession(s *Session, clientID string) {
	res := s.removeClient(clientID)
	if !res.removed {
		return
	}

	m.mu.Lock()
	if set := m.clientToSessions[clientID]; set != nil {
		delete(set, s.id)
		if len(set) == 0 {
			delete(m.clientToSessions, clientID)
		}
	}
	m.mu.Unlock()

	frame, _ := wire.Marshal(wire.RosterChange{
		Type:        wire.TypeClientLeft,
		SessionID:   s.id,
		ClientCount: res.clientCount,
	})
	for _, snd := range res.notify {
		_ = snd.Send(frame)
	}

	if res.becameOrphan {
		m.armOrphan(s)
	}
}

func (m *Manager) armOrphan(s *Session) {
	if m.cfg.OrphanTimeout <= 0 {
		return
	}
	s.armOrphanTimer(m.cfg.OrphanTimeout, func() {
		m.closeWithReason(s.id, wire.ReasonOrphanTimeout)
	})
}

// Write forwards client-originated bytes to a session's PTY. Rejects if
// the client is not a roster member.
func (m *Manager) Write(sessionID, clientID string, data []byte) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.write(clientID, data)
}

// Resize forwards a geometry change to a session's PTY.
func (m *Manager) Resize(sessionID string, cols, rows uint16) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	return s.resize(cols, rows)
}

// Close processes a close request from requesterClientID. Non-owners are
// silently reinterpreted as leave.
func (m *Manager) Close(sessionID, requesterClientID string) error {
	s, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if s.OwnerID() != requesterClientID {
		m.removeClientFromSession(s, requesterClientID)
		return nil
	}
	m.closeWithReason(sessionID, wire.ReasonOwnerClosed)
	return nil
}

// SnapshotHistory returns up to limit bytes of a session's scrollback.
func (m *Manager) SnapshotHistory(sessionID string, limit int) ([]byte, error) {
	s, ok := m.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.snapshotHistory(limit), nil
}

// onProcessExit is the PTY Adapter's onExit callback: fan out exit{code}
// then session_closed{process_exit}.
func (m *Manager) onProcessExit(sessionID string, code int) {
	s, ok := m.Get(sessionID)
	if !ok {
		return
	}
	senders := s.rosterSenders()
	frame, _ := wire.Marshal(wire.Exit{Type: wire.TypeExit, SessionID: sessionID, ExitCode: code})
	for _, snd := range senders {
		_ = snd.Send(frame)
	}
	m.closeWithReason(sessionID, wire.ReasonProcessExit)
}

// closeWithReason broadcasts session_closed to the full roster, then
// tears down the session and its indexes.
func (m *Manager) closeWithReason(sessionID string, reason wire.CloseReason) {
	s, ok := m.Get(sessionID)
	if !ok {
		return
	}

	senders := s.rosterSenders()
	frame, _ := wire.Marshal(wire.SessionClosed{Type: wire.TypeSessionClosed, SessionID: sessionID, Reason: reason})
	for _, snd := range senders {
		_ = snd.Send(frame)
	}

	clientIDs := s.rosterClientIDs()
	owner := s.OwnerID()
	s.markClosed()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	for _, clientID := range clientIDs {
		if set := m.clientToSessions[clientID]; set != nil {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(m.clientToSessions, clientID)
			}
		}
	}
	if m.ownerSessions[owner] > 0 {
		m.ownerSessions[owner]--
		if m.ownerSessions[owner] == 0 {
			delete(m.ownerSessions, owner)
		}
	}
	m.mu.Unlock()

	log.Printf("[session-mgr] closed session %s (reason=%s)", sessionID, reason)
}

// addIndexLocked records that clientID is attached to sessionID. Caller
// must hold m.mu.
func (m *Manager) addIndexLocked(clientID, sessionID string) {
	set := m.clientToSessions[clientID]
	if set == nil {
		set = make(map[string]bool)
		m.clientToSessions[clientID] = set
	}
	set[sessionID] = true
}

// sweepLoop is the independent idle-timeout sweeper, ticking once per
// SweepInterval.
func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	if m.cfg.IdleTimeout <= 0 {
		// Still observe stop so Cleanup never blocks.
		<-m.stopSweep
		return
	}

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.lastActivityAt().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		senders := s.rosterSenders()
		frame, _ := wire.Marshal(wire.Exit{Type: wire.TypeExit, SessionID: s.id, ExitCode: -1})
		for _, snd := range senders {
			_ = snd.Send(frame)
		}
		m.closeWithReason(s.id, wire.ReasonIdleTimeout)
	}
}

// Cleanup kills every live PTY, cancels every orphan timer, and stops the
// idle sweeper. Called once at server shutdown.
func (m *Manager) Cleanup() {
	close(m.stopSweep)
	<-m.sweepDone

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		m.closeWithReason(s.id, wire.ReasonCleanup)
	}
}
