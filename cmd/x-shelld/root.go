package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "x-shelld",
		Short:         "Multiplexed terminal gateway",
		Long:          "x-shelld multiplexes PTY sessions over a JSON wire protocol: many clients can spawn, join, and watch the same shell or container exec session at once.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newSessionsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
