package runner

import (
	"time"

	"github.com/deixis/steward/internal/feed"
)

// Result holds the outcome of one command execution.
type Result struct {
	RunID           string        // unique identifier for this run
	Argv            []string      // command as executed
	ExitCode        int           // process exit code, -1 if killed by a signal
	Stdout          string        // captured stdout lines (may be truncated)
	Stderr          string        // captured stderr lines (may be truncated)
	Truncated       bool          // true if either stream exceeded the size cap
	Succeeded       bool          // exit code zero and no failure signature
	Signature       string        // failure signature that matched, if any
	SignatureStream feed.Stream   // stream the signature was found in
	Duration        time.Duration // wall time from launch to exit
}
