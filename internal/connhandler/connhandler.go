// Package connhandler implements the Connection Handler (C5): one message
// loop per client connection, decoding JSON frames, gating every operation
// through the Permission Gate, and routing to the Session Manager. Adapted
// from control-plane's handlers.TerminalWSProxy/handleManagedTerminal,
// generalized from "one WebSocket tied to one instance's SSH session" to
// "one transport.Conn tied to any number of multiplexed PTY sessions",
// and from a hardcoded rate limiter/shell to the gateway's full admission
// surface.
package connhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/lsadehaan/x-shell/internal/containerrt"
	"github.com/lsadehaan/x-shell/internal/logutil"
	"github.com/lsadehaan/x-shell/internal/permission"
	"github.com/lsadehaan/x-shell/internal/ptyadapter"
	"github.com/lsadehaan/x-shell/internal/session"
	"github.com/lsadehaan/x-shell/internal/transport"
	"github.com/lsadehaan/x-shell/internal/wire"
)

// Geometry defaults applied when a spawn omits cols/rows, matching
// ptyadapter.Start's own winsize fallback so the spawned reply and the
// stored session geometry always agree with the PTY's actual size.
const (
	defaultCols = 80
	defaultRows = 24
)

// Config is the subset of the configuration surface the Connection Handler itself
// consults before a PTY is even started; the rest (capacity, idle/orphan
// timeouts, history) lives in session.Config.
type Config struct {
	AllowedShells            []string
	AllowedPaths             []string
	DefaultShell             string
	DefaultCwd               string
	MaxSessionsPerClient     int
	AllowContainerExec       bool
	AllowedContainerPatterns []string
	DefaultContainerShell    string
	ContainerRuntimePath     string
	RequireAuth              bool
	AllowAnonymous           bool
	RateLimitPerSecond       float64
	RateLimitBurst           int
	MaxInputMessageSize      int
	MaxResizeCols            uint16
	MaxResizeRows            uint16
	DockerEnabled            bool
}

// Handler drives one client connection end to end.
type Handler struct {
	cfg               Config
	manager           *session.Manager
	gate              permission.Gate
	containerPatterns []*regexp.Regexp

	clientID string
	conn     transport.Conn
	sender   *connSender
	limiter  *rateLimiter

	user          *permission.User
	authenticated bool
	connMeta      permission.ConnectionMetadata
}

// SetConnectionMetadata attaches the transport-level headers/query/cookie
// data available before the first frame is read, so a ConnectAuthenticator
// has something to authenticate against. Callers that have no such data
// (e.g. tests) may leave this unset.
func (h *Handler) SetConnectionMetadata(meta permission.ConnectionMetadata) {
	h.connMeta = meta
}

// New builds a Handler for one freshly accepted connection. clientID
// identifies this connection for roster and per-client-cap bookkeeping.
func New(cfg Config, mgr *session.Manager, gate permission.Gate, conn transport.Conn, clientID string) *Handler {
	if clientID == "" {
		clientID = uuid.New().String()
	}
	h := &Handler{
		cfg:               cfg,
		manager:           mgr,
		gate:              gate,
		containerPatterns: containerrt.CompilePatterns(cfg.AllowedContainerPatterns),
		clientID:          clientID,
		conn:              conn,
		limiter:           newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	}
	h.authenticated = !cfg.RequireAuth
	return h
}

// Run blocks processing frames until the connection closes or ctx is
// cancelled. It always performs disconnect cleanup before returning.
func (h *Handler) Run(ctx context.Context) {
	h.sender = newConnSender(h.conn, func() { _ = h.conn.Close("send failure") })
	defer func() {
		h.manager.RemoveClientEverywhere(h.clientID)
		if hook, ok := h.gate.(permission.DisconnectHook); ok {
			hook.OnDisconnect(h.user)
		}
		h.sender.Close("disconnect")
	}()

	if anon, ok := h.gate.(permission.AnonymousDefaulter); ok && h.cfg.AllowAnonymous && h.user == nil {
		h.user = anon.AnonymousUser()
	}

	if connAuth, ok := h.gate.(permission.ConnectAuthenticator); ok {
		if u, err := connAuth.AuthenticateConnection(ctx, h.connMeta); err == nil {
			h.user = u
			h.authenticated = true
		}
	}

	h.sendServerInfo()

	for {
		_, data, err := h.conn.Read(ctx)
		if err != nil {
			return
		}
		h.dispatch(ctx, data)
	}
}

func (h *Handler) sendServerInfo() {
	var authUser *wire.AuthUser
	if h.user != nil {
		authUser = &wire.AuthUser{UserID: h.user.UserID, Username: h.user.Username, Permissions: h.user.Permissions, Metadata: h.user.Metadata}
	}
	frame, _ := wire.Marshal(wire.ServerInfo{
		Type: wire.TypeServerInfo,
		Info: wire.ServerInfoBody{
			DockerEnabled:         h.cfg.DockerEnabled,
			AllowedShells:         h.cfg.AllowedShells,
			DefaultShell:          h.cfg.DefaultShell,
			DefaultContainerShell: h.cfg.DefaultContainerShell,
			AuthEnabled:           h.gate != nil,
			RequireAuth:           h.cfg.RequireAuth,
			User:                  authUser,
		},
	})
	_ = h.sender.Send(frame)
}

func (h *Handler) dispatch(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[connhandler] recovered from panic handling a frame from client %s: %v", logutil.SanitizeForLog(h.clientID), r)
		}
	}()

	var env wire.Envelope
	if err := decode(raw, &env); err != nil || !wire.IsClientType(env.Type) {
		h.sendError("", "malformed or unknown frame type")
		return
	}

	if !h.authenticated && env.Type != wire.TypeAuth {
		h.sendError("", "authentication required")
		return
	}

	if (env.Type == wire.TypeData || env.Type == wire.TypeResize) && !h.limiter.allow() {
		return
	}

	op, resource := operationFor(env)
	if op != "" {
		d := h.gate.CheckPermission(ctx, h.user, op, resource)
		if !d.Allow {
			h.sendPermissionDenied(string(op), d.Reason)
			return
		}
	}

	switch env.Type {
	case wire.TypeAuth:
		h.handleAuth(ctx, raw)
	case wire.TypeSpawn:
		h.handleSpawn(raw)
	case wire.TypeData:
		h.handleData(raw)
	case wire.TypeResize:
		h.handleResize(raw)
	case wire.TypeClose:
		h.handleClose(raw)
	case wire.TypeJoin:
		h.handleJoin(raw)
	case wire.TypeLeave:
		h.handleLeave(raw)
	case wire.TypeListSessions:
		h.handleListSessions(raw)
	case wire.TypeListContainers:
		h.handleListContainers(ctx)
	case wire.TypeExportRecording:
		h.handleExportRecording(raw)
	}
}

// operationFor maps a frame type to the gated Operation and any resource
// context it carries. Auth itself is never gated.
func operationFor(env wire.Envelope) (permission.Operation, permission.Resource) {
	resource := permission.Resource{SessionID: env.SessionID}
	switch env.Type {
	case wire.TypeSpawn:
		return permission.OpSpawnSession, resource
	case wire.TypeData:
		return permission.OpWriteSession, resource
	case wire.TypeResize:
		return permission.OpResizeSession, resource
	case wire.TypeClose:
		return permission.OpCloseSession, resource
	case wire.TypeJoin:
		return permission.OpJoinSession, resource
	case wire.TypeLeave:
		return permission.OpLeaveSession, resource
	case wire.TypeListSessions:
		return permission.OpListSessions, resource
	case wire.TypeListContainers:
		return permission.OpListContainers, resource
	case wire.TypeExportRecording:
		return permission.OpExportRecording, resource
	default:
		return "", resource
	}
}

func (h *Handler) handleAuth(ctx context.Context, raw []byte) {
	var frame wire.Auth
	if err := decode(raw, &frame); err != nil {
		h.sendError("", "malformed auth frame")
		return
	}

	credAuth, ok := h.gate.(permission.CredentialAuthenticator)
	if !ok {
		h.sendAuthResponse(false, "authentication not supported")
		return
	}

	user, err := credAuth.AuthenticateCredentials(ctx, frame.Token, frame.Data)
	if err != nil {
		h.sendAuthResponse(false, err.Error())
		return
	}

	h.user = user
	h.authenticated = true
	h.sendAuthResponse(true, "")
}

func (h *Handler) sendAuthResponse(success bool, errMsg string) {
	resp := wire.AuthResponse{Type: wire.TypeAuthResponse, Success: success, Error: errMsg}
	if success && h.user != nil {
		resp.User = &wire.AuthUser{UserID: h.user.UserID, Username: h.user.Username, Permissions: h.user.Permissions, Metadata: h.user.Metadata}
	}
	frame, _ := wire.Marshal(resp)
	_ = h.sender.Send(frame)
}

func (h *Handler) handleSpawn(raw []byte) {
	var req wire.Spawn
	if err := decode(raw, &req); err != nil {
		h.sendError("", "malformed spawn frame")
		return
	}
	opts := req.Options
	if opts.Cols == 0 {
		opts.Cols = defaultCols
	}
	if opts.Rows == 0 {
		opts.Rows = defaultRows
	}

	if h.cfg.MaxSessionsPerClient > 0 && h.manager.SessionsForClient(h.clientID) >= h.cfg.MaxSessionsPerClient {
		h.sendError("", "per-client session limit reached")
		return
	}

	shell := opts.Shell
	if shell == "" {
		shell = h.cfg.DefaultShell
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = h.cfg.DefaultCwd
	}

	spawn := ptyadapter.Spawn{
		Shell: shell,
		Dir:   cwd,
		Env:   opts.Env,
		Cols:  opts.Cols,
		Rows:  opts.Rows,
	}
	kind := session.KindLocal

	if opts.Container != "" {
		if !h.cfg.AllowContainerExec {
			h.sendError("", "container sessions are disabled")
			return
		}
		if err := validateContainer(opts.Container, h.containerPatterns); err != nil {
			h.sendError("", err.Error())
			return
		}
		containerShell := opts.ContainerShell
		if containerShell == "" {
			containerShell = h.cfg.DefaultContainerShell
		}
		spawn.RuntimePath = h.cfg.ContainerRuntimePath
		spawn.Container = opts.Container
		spawn.ContainerUser = opts.ContainerUser
		spawn.ContainerCwd = opts.ContainerCwd
		spawn.ContainerEnv = opts.Env
		spawn.Shell = containerShell

		if opts.AttachMode {
			spawn.Profile = ptyadapter.ProfileContainerAttach
			kind = session.KindContainerAttach
		} else {
			spawn.Profile = ptyadapter.ProfileContainerExec
			kind = session.KindContainerExec
		}
	} else {
		if err := validateShell(shell, h.cfg.AllowedShells); err != nil {
			h.sendError("", err.Error())
			return
		}
		if err := validateCwd(cwd, h.cfg.AllowedPaths); err != nil {
			h.sendError("", err.Error())
			return
		}
	}

	sessionID := newSessionID()
	adapter, err := ptyadapter.Start(spawn,
		func(chunk []byte) { h.manager.DispatchData(sessionID, chunk) },
		func(code int) { h.manager.DispatchExit(sessionID, code) },
	)
	if err != nil {
		log.Printf("[connhandler] spawn failed for client %s: %v", logutil.SanitizeForLog(h.clientID), err)
		h.sendErrorWithSession("", sessionID, fmt.Sprintf("spawn failed: %v", err))
		return
	}

	s, err := h.manager.Create(session.Spec{
		ID:            sessionID,
		Kind:          kind,
		PTY:           adapter,
		Shell:         shell,
		Cwd:           cwd,
		Cols:          opts.Cols,
		Rows:          opts.Rows,
		OwnerClientID: h.clientID,
		OwnerSender:   h.sender,
		Container:     opts.Container,
		Label:         opts.Label,
		AllowJoin:     opts.AllowJoin,
		EnableHistory: opts.EnableHistory,
	})
	if err != nil {
		_ = adapter.Kill()
		h.sendError("", err.Error())
		return
	}

	info := s.Info()
	frame, _ := wire.Marshal(wire.Spawned{
		Type:      wire.TypeSpawned,
		SessionID: info.SessionID,
		Shell:     info.Shell,
		Cwd:       info.Cwd,
		Cols:      info.Cols,
		Rows:      info.Rows,
		Container: info.Container,
	})
	_ = h.sender.Send(frame)
}

func (h *Handler) handleData(raw []byte) {
	var frame wire.Data
	if err := decode(raw, &frame); err != nil {
		return
	}
	if len(frame.Data) > h.cfg.MaxInputMessageSize && h.cfg.MaxInputMessageSize > 0 {
		return
	}
	if err := h.manager.Write(frame.SessionID, h.clientID, []byte(frame.Data)); err != nil {
		h.sendErrorWithSession("", frame.SessionID, "write rejected: "+err.Error())
	}
}

func (h *Handler) handleResize(raw []byte) {
	var frame wire.Resize
	if err := decode(raw, &frame); err != nil {
		return
	}
	cols, rows := frame.Cols, frame.Rows
	if h.cfg.MaxResizeCols > 0 && cols > h.cfg.MaxResizeCols {
		cols = h.cfg.MaxResizeCols
	}
	if h.cfg.MaxResizeRows > 0 && rows > h.cfg.MaxResizeRows {
		rows = h.cfg.MaxResizeRows
	}
	if cols == 0 || rows == 0 {
		return
	}
	_ = h.manager.Resize(frame.SessionID, cols, rows)
}

func (h *Handler) handleClose(raw []byte) {
	var frame wire.Close
	if err := decode(raw, &frame); err != nil {
		return
	}
	if err := h.manager.Close(frame.SessionID, h.clientID); err != nil {
		h.sendErrorWithSession("", frame.SessionID, err.Error())
	}
}

func (h *Handler) handleJoin(raw []byte) {
	var frame wire.Join
	if err := decode(raw, &frame); err != nil {
		h.sendError("", "malformed join frame")
		return
	}
	opts := frame.Options

	var (
		ok          bool
		historySnap []byte
		err         error
	)
	if opts.RequestHistory {
		ok, historySnap, err = h.manager.AddClientWithHistory(opts.SessionID, h.clientID, h.sender, opts.HistoryLimit)
	} else {
		ok, err = h.manager.AddClient(opts.SessionID, h.clientID, h.sender)
	}
	if err != nil {
		h.sendErrorWithSession("", opts.SessionID, err.Error())
		return
	}
	if !ok {
		h.sendErrorWithSession("", opts.SessionID, "join rejected: session not accepting or roster full")
		return
	}

	s, _ := h.manager.Get(opts.SessionID)
	info := s.Info()

	var historyStr string
	if opts.RequestHistory {
		historyStr = string(historySnap)
	}

	frameOut, _ := wire.Marshal(wire.Joined{
		Type:      wire.TypeJoined,
		SessionID: opts.SessionID,
		Session:   toSessionInfo(info),
		History:   historyStr,
	})
	_ = h.sender.Send(frameOut)

	// A newline provokes a prompt refresh for the newly joined client,
	// per the join operation's permission row.
	_ = h.manager.Write(opts.SessionID, h.clientID, []byte("\n"))
}

func (h *Handler) handleLeave(raw []byte) {
	var frame wire.Leave
	if err := decode(raw, &frame); err != nil {
		return
	}
	h.manager.RemoveClient(frame.SessionID, h.clientID)
	frameOut, _ := wire.Marshal(wire.Left{Type: wire.TypeLeft, SessionID: frame.SessionID})
	_ = h.sender.Send(frameOut)
}

func (h *Handler) handleListSessions(raw []byte) {
	var frame wire.ListSessions
	if err := decode(raw, &frame); err != nil {
		return
	}

	var kind session.Kind
	var container string
	var accepting *bool
	var verbose bool
	if frame.Filter != nil {
		kind = session.Kind(frame.Filter.Kind)
		container = frame.Filter.Container
		verbose = frame.Filter.Verbose
		if frame.Filter.Accepting {
			t := true
			accepting = &t
		}
	}

	infos := h.manager.List(kind, container, accepting)
	list := make([]wire.SessionInfo, 0, len(infos))
	for _, info := range infos {
		si := toSessionInfo(info)
		if verbose {
			if events, err := h.manager.Events(info.SessionID); err == nil {
				si.Events = toEventInfos(events)
			}
		}
		list = append(list, si)
	}

	frameOut, _ := wire.Marshal(wire.SessionList{Type: wire.TypeSessionList, Sessions: list})
	_ = h.sender.Send(frameOut)
}

func (h *Handler) handleListContainers(ctx context.Context) {
	if !h.cfg.AllowContainerExec {
		frameOut, _ := wire.Marshal(wire.ContainerList{Type: wire.TypeContainerList, Containers: []wire.ContainerInfo{}})
		_ = h.sender.Send(frameOut)
		return
	}

	runtimePath := h.cfg.ContainerRuntimePath
	if runtimePath == "" {
		runtimePath = "docker"
	}
	listCtx, cancel := context.WithTimeout(ctx, containerrt.AllowedTimeout)
	defer cancel()

	containers, err := containerrt.List(listCtx, runtimePath, h.containerPatterns)
	if err != nil {
		h.sendError("", "failed to list containers: "+err.Error())
		return
	}

	out := make([]wire.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		out = append(out, wire.ContainerInfo{ID: c.ID, Name: c.Name, Image: c.Image, Status: c.Status, State: string(c.State)})
	}
	frameOut, _ := wire.Marshal(wire.ContainerList{Type: wire.TypeContainerList, Containers: out})
	_ = h.sender.Send(frameOut)
}

func (h *Handler) handleExportRecording(raw []byte) {
	var frame wire.ExportRecording
	if err := decode(raw, &frame); err != nil {
		h.sendError("", "malformed export_recording frame")
		return
	}
	data, err := h.manager.ExportRecording(frame.SessionID)
	if err != nil {
		h.sendErrorWithSession("", frame.SessionID, err.Error())
		return
	}
	if data == nil {
		h.sendErrorWithSession("", frame.SessionID, "recording is not enabled for this session")
		return
	}
	frameOut, _ := wire.Marshal(wire.RecordingExport{Type: wire.TypeRecordingExport, SessionID: frame.SessionID, Entries: data})
	_ = h.sender.Send(frameOut)
}

func (h *Handler) sendError(sessionID, msg string) {
	frame, _ := wire.Marshal(wire.Error{Type: wire.TypeError, SessionID: sessionID, Error: msg})
	_ = h.sender.Send(frame)
}

func (h *Handler) sendErrorWithSession(_ string, sessionID, msg string) {
	h.sendError(sessionID, msg)
}

func (h *Handler) sendPermissionDenied(op, reason string) {
	frame, _ := wire.Marshal(wire.PermissionDenied{Type: wire.TypePermissionDenied, Operation: op, Error: reason})
	_ = h.sender.Send(frame)
}

func toSessionInfo(info session.Info) wire.SessionInfo {
	return wire.SessionInfo{
		SessionID:      info.SessionID,
		Type:           string(info.Kind),
		Shell:          info.Shell,
		Cwd:            info.Cwd,
		Cols:           info.Cols,
		Rows:           info.Rows,
		CreatedAt:      info.CreatedAt.UnixMilli(),
		Container:      info.Container,
		ClientCount:    info.ClientCount,
		Accepting:      info.Accepting,
		OwnerID:        info.OwnerID,
		Label:          info.Label,
		HistoryEnabled: info.HistoryEnabled,
	}
}

func toEventInfos(events []session.Event) []wire.EventInfo {
	out := make([]wire.EventInfo, len(events))
	for i, e := range events {
		out[i] = wire.EventInfo{Type: string(e.Type), Detail: e.Detail, Timestamp: e.Timestamp.UnixMilli()}
	}
	return out
}

// newSessionID mints the canonical term-<unix-millis>-<random> id, per
// the wire protocol.
func newSessionID() string {
	return fmt.Sprintf("term-%d-%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

func decode(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}
