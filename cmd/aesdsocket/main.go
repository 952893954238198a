// Command aesdsocket serves a bounded, line-oriented log over TCP (and
// optionally QUIC). Every completed line is appended to the log and the
// whole log is written back to the client.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aesdsocket: %v\n", err)
		os.Exit(1)
	}
}
