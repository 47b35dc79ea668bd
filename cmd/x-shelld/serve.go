package main

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lsadehaan/x-shell/internal/config"
	"github.com/lsadehaan/x-shell/internal/connhandler"
	"github.com/lsadehaan/x-shell/internal/permission"
	"github.com/lsadehaan/x-shell/internal/serverhost"
	"github.com/lsadehaan/x-shell/internal/session"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway's listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			cfg := config.Cfg

			if cfg.PolicyDocPath != "" {
				doc, err := config.LoadPolicyFile(cfg.PolicyDocPath)
				if err != nil {
					return fmt.Errorf("x-shelld: %w", err)
				}
				doc.ApplyTo(&cfg)
			}

			gate, err := buildGate(cfg)
			if err != nil {
				return err
			}

			srv := serverhost.New(serverhost.Config{
				ListenAddr: cfg.ListenAddr,
				YamuxAddr:  cfg.YamuxAddr,
				SSHAddr:    cfg.SSHAddr,
				Handler: connhandler.Config{
					AllowedShells:            cfg.AllowedShells,
					AllowedPaths:             cfg.AllowedPaths,
					DefaultShell:             cfg.DefaultShell,
					DefaultCwd:               cfg.DefaultCwd,
					MaxSessionsPerClient:     cfg.MaxSessionsPerClient,
					AllowContainerExec:       cfg.AllowContainerExec,
					AllowedContainerPatterns: cfg.AllowedContainerPatterns,
					DefaultContainerShell:    cfg.DefaultContainerShell,
					ContainerRuntimePath:     cfg.ContainerRuntimePath,
					RequireAuth:              cfg.RequireAuth,
					AllowAnonymous:           cfg.AllowAnonymous,
					RateLimitPerSecond:       cfg.RateLimitPerSecond,
					RateLimitBurst:           cfg.RateLimitBurst,
					MaxInputMessageSize:      cfg.MaxInputMessageSize,
					MaxResizeCols:            cfg.MaxResizeCols,
					MaxResizeRows:            cfg.MaxResizeRows,
					DockerEnabled:            cfg.AllowContainerExec,
				},
				Session: session.Config{
					MaxSessionsTotal:     cfg.MaxSessionsTotal,
					MaxClientsPerSession: cfg.MaxClientsPerSession,
					MaxSessionsPerClient: cfg.MaxSessionsPerClient,
					OrphanTimeout:        cfg.OrphanTimeout,
					IdleTimeout:          cfg.IdleTimeout,
					SweepInterval:        cfg.SweepInterval,
					HistorySize:          cfg.HistorySize,
					GlobalHistoryEnabled: cfg.HistoryEnabled,
					RecordingEnabled:     cfg.RecordingEnabled,
				},
			}, gate)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Printf("x-shelld: listening on %s (auth=%v anonymous=%v container_exec=%v)",
				cfg.ListenAddr, cfg.RequireAuth, cfg.AllowAnonymous, cfg.AllowContainerExec)
			return srv.Serve(ctx)
		},
	}
}

// buildGate assembles the Permission Gate from config: a role table if one
// is configured, token validation if a secret is set, and a NoOp fallback
// when auth is not required and no other policy is configured. NoOp is only
// added when no concrete policy is configured at all — Composite allows as soon as
// any one policy allows, so appending NoOp alongside a real role table would
// silently grant everything the table denies, nullifying it.
func buildGate(cfg config.Settings) (permission.Gate, error) {
	var policies []permission.Gate

	var roles *permission.RoleTable
	if cfg.RoleTablePath != "" {
		rt, err := permission.LoadRoleTableFile(cfg.RoleTablePath)
		if err != nil {
			return nil, fmt.Errorf("x-shelld: %w", err)
		}
		roles = rt
		policies = append(policies, rt)
	}

	if cfg.AuthSecret != "" {
		policies = append(policies, permission.NewTokenValidator([]byte(cfg.AuthSecret)))
	}

	if roles != nil {
		policies = append(policies, permission.NewCookieAuthenticator(permission.NewSessionStore(), roles))
	}

	if !cfg.RequireAuth && len(policies) == 0 {
		policies = append(policies, permission.NoOp{})
	}

	if len(policies) == 0 {
		return nil, fmt.Errorf("x-shelld: require_auth is set but no auth_secret or role_table_path is configured")
	}
	return permission.NewComposite(policies...), nil
}
