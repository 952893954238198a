package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chronologos/aesdsocket/internal/version"
)

// newRootCmd builds the command tree. Running the root with no subcommand
// serves, so `aesdsocket` alone behaves like the daemon.
func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	cmd := &cobra.Command{
		Use:           "aesdsocket",
		Short:         "Line-oriented log server",
		Long:          "aesdsocket accepts connections on port 9000, appends each newline-terminated\nline to a bounded log, and replies with the log content.",
		Version:       fmt.Sprintf("aesdsocket %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.Flags().AddFlagSet(serve.Flags())

	cmd.AddCommand(
		serve,
		newSendCmd(),
		newWriteCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "aesdsocket %s\n", version.String())
			return nil
		},
	}
}
