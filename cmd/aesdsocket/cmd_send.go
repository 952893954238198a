package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chronologos/aesdsocket/internal/client"
	"github.com/chronologos/aesdsocket/internal/protocol"
	"github.com/chronologos/aesdsocket/internal/transport"
)

func newSendCmd() *cobra.Command {
	var (
		addr    string
		useQUIC bool
		wait    time.Duration
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send LINE...",
		Short: "Send lines to a server and print each reply",
		Long: "send connects to a running server, sends each LINE (a newline is added),\n" +
			"and prints the reply. A reply is complete once the server stays silent for --wait.\n" +
			"Send a seek with a line of the form " + protocol.SeekPrefix + "CMD,OFFSET.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := transport.ModeTCP
			if useQUIC {
				mode = transport.ModeQUIC
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			c, err := client.Dial(ctx, client.Config{Addr: addr, Mode: mode, Idle: wait})
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			for _, line := range args {
				reply, err := c.Send([]byte(line))
				if err != nil {
					return fmt.Errorf("send %q: %w", line, err)
				}
				out.Write(reply)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", fmt.Sprintf("127.0.0.1:%d", protocol.DefaultPort), "server address")
	cmd.Flags().BoolVar(&useQUIC, "quic", false, "connect over QUIC instead of TCP")
	cmd.Flags().DurationVar(&wait, "wait", client.DefaultIdle, "idle time that ends a reply")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect timeout")
	return cmd
}
