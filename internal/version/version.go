package version

import "fmt"

// VERSION and Commit are set at build time via:
//
//	go build -ldflags "-X ...version.VERSION=0.1.0 -X ...version.Commit=abc123"
var (
	VERSION = "dev"
	Commit  = "dev"
)

// String returns "VERSION (Commit)".
func String() string {
	return fmt.Sprintf("%s (%s)", VERSION, Commit)
}
