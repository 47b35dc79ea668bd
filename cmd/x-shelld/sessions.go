package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/lsadehaan/x-shell/internal/wire"
)

func newSessionsCmd() *cobra.Command {
	var addr string
	var token string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage sessions on a running gateway",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "ws://127.0.0.1:8080/ws", "gateway WebSocket address")
	cmd.PersistentFlags().StringVar(&token, "token", "", "bearer token for auth_secret-protected gateways")

	cmd.AddCommand(newSessionsListCmd(&addr, &token))
	cmd.AddCommand(newSessionsCloseCmd(&addr, &token))
	return cmd
}

func newSessionsListCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions known to the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdminConn(cmd.Context(), *addr, *token, func(ctx context.Context, c *websocket.Conn) error {
				if err := sendFrame(ctx, c, wire.ListSessions{Type: wire.TypeListSessions}); err != nil {
					return err
				}
				frame, err := nextFrameOfType(ctx, c, wire.TypeSessionList)
				if err != nil {
					return err
				}
				var list wire.SessionList
				if err := json.Unmarshal(frame, &list); err != nil {
					return err
				}
				for _, s := range list.Sessions {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%dx%d\tclients=%d\towner=%s\n",
						s.SessionID, s.Type, s.Shell, s.Cols, s.Rows, s.ClientCount, s.OwnerID)
				}
				return nil
			})
		},
	}
}

func newSessionsCloseCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Close a session (must be its owner)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			return withAdminConn(cmd.Context(), *addr, *token, func(ctx context.Context, c *websocket.Conn) error {
				if err := sendFrame(ctx, c, wire.Close{Type: wire.TypeClose, SessionID: sessionID}); err != nil {
					return err
				}
				frame, err := nextFrameOfType(ctx, c, wire.TypeSessionClosed, wire.TypeError)
				if err != nil {
					return err
				}
				var env wire.Envelope
				if err := json.Unmarshal(frame, &env); err != nil {
					return err
				}
				if env.Type == wire.TypeError {
					return fmt.Errorf("close rejected: %s", string(frame))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", sessionID)
				return nil
			})
		},
	}
}

// withAdminConn dials addr, performs credential auth when token is set,
// runs fn, and always closes the connection.
func withAdminConn(ctx context.Context, addr, token string, fn func(context.Context, *websocket.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close(websocket.StatusNormalClosure, "admin command done")

	if _, err := nextFrameOfType(ctx, c, wire.TypeServerInfo); err != nil {
		return err
	}

	if token != "" {
		if err := sendFrame(ctx, c, wire.Auth{Type: wire.TypeAuth, Token: token}); err != nil {
			return err
		}
		if _, err := nextFrameOfType(ctx, c, wire.TypeAuthResponse); err != nil {
			return err
		}
	}

	return fn(ctx, c)
}

func sendFrame(ctx context.Context, c *websocket.Conn, v interface{}) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, data)
}

// nextFrameOfType reads frames until one matches a wanted type, returning
// its raw bytes.
func nextFrameOfType(ctx context.Context, c *websocket.Conn, wanted ...wire.Type) ([]byte, error) {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return nil, err
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		for _, t := range wanted {
			if env.Type == t {
				return data, nil
			}
		}
	}
}
