// Package wire defines the JSON frame shapes of the client<->server wire
// protocol and the closed set of message types. Frames are
// plain JSON objects with a mandatory "type" and an optional "session_id";
// the transport carrying them (WebSocket, yamux stream, SSH session — see
// internal/transport) is deliberately not referenced here, matching the
// "connection handler and session manager should not depend on WebSocket
// specifics" design note.
package wire

import "encoding/json"

// Type is the closed set of frame type strings.
type Type string

const (
	// Client -> server
	TypeAuth           Type = "auth"
	TypeSpawn          Type = "spawn"
	TypeData           Type = "data"
	TypeResize         Type = "resize"
	TypeClose          Type = "close"
	TypeListContainers Type = "list_containers"
	TypeListSessions   Type = "list_sessions"
	TypeJoin           Type = "join"
	TypeLeave          Type = "leave"
	TypeExportRecording Type = "export_recording"

	// Server -> client
	TypeServerInfo      Type = "server_info"
	TypeAuthResponse    Type = "auth_response"
	TypePermissionDenied Type = "permission_denied"
	TypeSpawned         Type = "spawned"
	TypeExit            Type = "exit"
	TypeError           Type = "error"
	TypeContainerList   Type = "container_list"
	TypeSessionList     Type = "session_list"
	TypeJoined          Type = "joined"
	TypeLeft            Type = "left"
	TypeClientJoined    Type = "client_joined"
	TypeClientLeft      Type = "client_left"
	TypeSessionClosed   Type = "session_closed"
	TypeRecordingExport Type = "recording_export"
)

// clientTypes is the closed set accepted from a client; anything else is
// rejected by the Connection Handler before routing.
var clientTypes = map[Type]bool{
	TypeAuth: true, TypeSpawn: true, TypeData: true, TypeResize: true,
	TypeClose: true, TypeListContainers: true, TypeListSessions: true,
	TypeJoin: true, TypeLeave: true, TypeExportRecording: true,
}

// IsClientType reports whether t is one of the ten inbound message types.
func IsClientType(t Type) bool { return clientTypes[t] }

// Envelope is the minimal shape every frame satisfies; the Connection
// Handler decodes this much first to dispatch on Type before unmarshaling
// the rest.
type Envelope struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// CloseReason is the closed set of session_closed reasons.
type CloseReason string

const (
	ReasonOrphanTimeout CloseReason = "orphan_timeout"
	ReasonOwnerClosed   CloseReason = "owner_closed"
	ReasonProcessExit   CloseReason = "process_exit"
	ReasonError         CloseReason = "error"
	ReasonIdleTimeout   CloseReason = "idle_timeout"
	ReasonCleanup       CloseReason = "cleanup"
)

// SpawnOptions is the body of a spawn request.
type SpawnOptions struct {
	Shell           string            `json:"shell,omitempty"`
	Cwd             string            `json:"cwd,omitempty"`
	Env             map[string]string `json:"env,omitempty"`
	Cols            uint16            `json:"cols,omitempty"`
	Rows            uint16            `json:"rows,omitempty"`
	Container       string            `json:"container,omitempty"`
	ContainerShell  string            `json:"container_shell,omitempty"`
	ContainerUser   string            `json:"container_user,omitempty"`
	ContainerCwd    string            `json:"container_cwd,omitempty"`
	AttachMode      bool              `json:"attach_mode,omitempty"`
	Label           string            `json:"label,omitempty"`
	AllowJoin       *bool             `json:"allow_join,omitempty"`
	EnableHistory   *bool             `json:"enable_history,omitempty"`
}

// Spawn is the full "spawn" inbound frame.
type Spawn struct {
	Type    Type         `json:"type"`
	Options SpawnOptions `json:"options"`
}

// Spawned is the server's reply to a successful spawn.
type Spawned struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Shell     string `json:"shell"`
	Cwd       string `json:"cwd"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
	Container string `json:"container,omitempty"`
}

// Data carries a chunk of PTY output or client input; the shape is
// identical in both directions.
type Data struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// Resize carries a client-requested geometry change.
type Resize struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

// Close requests that a session be torn down (only effective for the owner;
// see the close() operation).
type Close struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// ExportRecording requests a session's recorded input/output log.
type ExportRecording struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// RecordingExport answers an export_recording request. Entries is raw JSON
// (already encoded by recording.Recording.ExportJSON) rather than a typed
// slice, so this package doesn't need to depend on internal/recording.
type RecordingExport struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"session_id"`
	Entries   json.RawMessage `json:"entries"`
}

// JoinOptions is the body of a join request.
type JoinOptions struct {
	SessionID      string `json:"session_id"`
	RequestHistory bool   `json:"request_history,omitempty"`
	HistoryLimit   int    `json:"history_limit,omitempty"`
}

// Join is the full "join" inbound frame.
type Join struct {
	Type    Type        `json:"type"`
	Options JoinOptions `json:"options"`
}

// SessionInfo is the JSON projection of a session used in joined/session_list.
type SessionInfo struct {
	SessionID      string      `json:"session_id"`
	Type           string      `json:"type"`
	Shell          string      `json:"shell"`
	Cwd            string      `json:"cwd"`
	Cols           uint16      `json:"cols"`
	Rows           uint16      `json:"rows"`
	CreatedAt      int64       `json:"created_at"`
	Container      string      `json:"container,omitempty"`
	ClientCount    int         `json:"client_count"`
	Accepting      bool        `json:"accepting"`
	OwnerID        string      `json:"owner_id,omitempty"`
	Label          string      `json:"label,omitempty"`
	HistoryEnabled bool        `json:"history_enabled"`
	Events         []EventInfo `json:"events,omitempty"`
}

// EventInfo is the JSON projection of a session lifecycle event, included in
// SessionInfo only when a list_sessions request sets ListFilter.Verbose.
type EventInfo struct {
	Type      string `json:"type"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Joined is the server's reply to a successful join.
type Joined struct {
	Type      Type        `json:"type"`
	SessionID string      `json:"session_id"`
	Session   SessionInfo `json:"session"`
	History   string      `json:"history,omitempty"`
}

// Leave requests removal of the sender from a session's roster.
type Leave struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// Left confirms a leave.
type Left struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
}

// RosterChange is the shape of both client_joined and client_left.
type RosterChange struct {
	Type        Type   `json:"type"`
	SessionID   string `json:"session_id"`
	ClientCount int    `json:"client_count"`
}

// SessionClosed announces session teardown to the roster.
type SessionClosed struct {
	Type      Type        `json:"type"`
	SessionID string      `json:"session_id"`
	Reason    CloseReason `json:"reason"`
}

// Exit reports the child process's terminal exit code.
type Exit struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

// Error is a generic error reply, optionally scoped to a session.
type Error struct {
	Type      Type   `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error"`
}

// Auth is the inbound credentials frame.
type Auth struct {
	Type    Type                   `json:"type"`
	Token   string                 `json:"token,omitempty"`
	Headers map[string]string      `json:"headers,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// AuthUser is the authenticated-user projection returned in auth_response
// and server_info.
type AuthUser struct {
	UserID      string                 `json:"user_id"`
	Username    string                 `json:"username,omitempty"`
	Permissions []string               `json:"permissions"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AuthResponse answers an auth frame.
type AuthResponse struct {
	Type    Type      `json:"type"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	User    *AuthUser `json:"user,omitempty"`
}

// PermissionDenied explains why an operation was rejected by the gate.
type PermissionDenied struct {
	Type       Type   `json:"type"`
	Operation  string `json:"operation"`
	Permission string `json:"permission,omitempty"`
	Error      string `json:"error"`
}

// ListFilter narrows a list_sessions request. Verbose additionally attaches
// each matching session's lifecycle event log, for operational visibility.
type ListFilter struct {
	Kind      string `json:"type,omitempty"`
	Container string `json:"container,omitempty"`
	Accepting bool   `json:"accepting,omitempty"`
	Verbose   bool   `json:"verbose,omitempty"`
}

// ListSessions is the full "list_sessions" inbound frame.
type ListSessions struct {
	Type   Type        `json:"type"`
	Filter *ListFilter `json:"filter,omitempty"`
}

// SessionList answers a list_sessions request.
type SessionList struct {
	Type     Type          `json:"type"`
	Sessions []SessionInfo `json:"sessions"`
}

// ContainerInfo is one row of container_list.
type ContainerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
	State  string `json:"state"`
}

// ContainerList answers a list_containers request.
type ContainerList struct {
	Type       Type            `json:"type"`
	Containers []ContainerInfo `json:"containers"`
}

// ServerInfoBody is the payload of the server_info frame's "info" field.
type ServerInfoBody struct {
	DockerEnabled        bool      `json:"docker_enabled"`
	AllowedShells        []string  `json:"allowed_shells"`
	DefaultShell         string    `json:"default_shell"`
	DefaultContainerShell string   `json:"default_container_shell,omitempty"`
	AuthEnabled          bool      `json:"auth_enabled,omitempty"`
	RequireAuth          bool      `json:"require_auth,omitempty"`
	User                 *AuthUser `json:"user,omitempty"`
}

// ServerInfo is the frame sent on connect.
type ServerInfo struct {
	Type Type           `json:"type"`
	Info ServerInfoBody `json:"info"`
}

// Marshal is a thin convenience wrapper kept so call sites read the same
// way regardless of which concrete type they're encoding.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
