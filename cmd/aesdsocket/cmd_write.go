package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chronologos/aesdsocket/internal/config"
)

func newWriteCmd() *cobra.Command {
	var level string

	cmd := &cobra.Command{
		Use:   "write FILE STRING",
		Short: "Write STRING to FILE, creating or truncating it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := config.LogConfig{Level: level, Format: "text"}.NewLogger(cmd.ErrOrStderr())
			path, text := args[0], args[1]

			logger.Debug("writing", "text", text, "path", path)
			if err := os.WriteFile(path, []byte(text), 0644); err != nil {
				logger.Error("write failed", "path", path, "error", err)
				return fmt.Errorf("write %s: %w", path, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&level, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}
