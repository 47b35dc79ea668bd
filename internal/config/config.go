// Package config loads gateway settings from the environment, adapted
// from control-plane's config.Settings/Cfg/Load pattern built on
// github.com/kelseyhightower/envconfig. The prefix changes from CLAWORC
// to XSHELL and every field maps to a gateway configuration option instead
// of control-plane's database/k8s/webauthn surface.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings is the full environment-driven configuration surface.
type Settings struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`

	AllowedShells []string `envconfig:"ALLOWED_SHELLS" default:""`
	AllowedPaths  []string `envconfig:"ALLOWED_PATHS" default:""`
	DefaultShell  string   `envconfig:"DEFAULT_SHELL" default:"/bin/bash"`
	DefaultCwd    string   `envconfig:"DEFAULT_CWD" default:""`

	MaxSessionsPerClient int `envconfig:"MAX_SESSIONS_PER_CLIENT" default:"10"`
	MaxClientsPerSession int `envconfig:"MAX_CLIENTS_PER_SESSION" default:"8"`
	MaxSessionsTotal     int `envconfig:"MAX_SESSIONS_TOTAL" default:"256"`

	IdleTimeout   time.Duration `envconfig:"IDLE_TIMEOUT" default:"0"`
	OrphanTimeout time.Duration `envconfig:"ORPHAN_TIMEOUT" default:"5m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`

	HistorySize    int  `envconfig:"HISTORY_SIZE" default:"65536"`
	HistoryEnabled bool `envconfig:"HISTORY_ENABLED" default:"true"`

	AllowContainerExec       bool     `envconfig:"ALLOW_CONTAINER_EXEC" default:"false"`
	AllowedContainerPatterns []string `envconfig:"ALLOWED_CONTAINER_PATTERNS" default:""`
	DefaultContainerShell    string   `envconfig:"DEFAULT_CONTAINER_SHELL" default:"/bin/sh"`
	ContainerRuntimePath     string   `envconfig:"CONTAINER_RUNTIME_PATH" default:"docker"`

	RequireAuth    bool   `envconfig:"REQUIRE_AUTH" default:"false"`
	AllowAnonymous bool   `envconfig:"ALLOW_ANONYMOUS" default:"true"`
	AuthSecret     string `envconfig:"AUTH_SECRET" default:""`
	RoleTablePath  string `envconfig:"ROLE_TABLE_PATH" default:""`
	PolicyDocPath  string `envconfig:"POLICY_DOC_PATH" default:""`

	RateLimitPerSecond  float64 `envconfig:"RATE_LIMIT_PER_SECOND" default:"200"`
	RateLimitBurst      int     `envconfig:"RATE_LIMIT_BURST" default:"200"`
	MaxInputMessageSize int     `envconfig:"MAX_INPUT_MESSAGE_SIZE" default:"65536"`
	MaxResizeCols       uint16  `envconfig:"MAX_RESIZE_COLS" default:"500"`
	MaxResizeRows       uint16  `envconfig:"MAX_RESIZE_ROWS" default:"200"`

	RecordingEnabled bool `envconfig:"RECORDING_ENABLED" default:"false"`

	YamuxAddr string `envconfig:"YAMUX_ADDR" default:""`
	SSHAddr   string `envconfig:"SSH_ADDR" default:""`
}

// Cfg is the process-wide loaded configuration, mirroring control-plane's
// package-level config.Cfg.
var Cfg Settings

// Load populates Cfg from the environment under the XSHELL prefix.
func Load() error {
	if err := envconfig.Process("XSHELL", &Cfg); err != nil {
		return fmt.Errorf("config: load: %w", err)
	}
	return nil
}
