// Package report keeps the records of recent operations in memory so the
// captured output of a run can be inspected after its request returned.
// Nothing is persisted: records disappear with the process.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deixis/steward/internal/runner"
)

// ErrNotFound is returned when no record exists for a run ID.
var ErrNotFound = errors.New("run not found")

// Store saves and retrieves operation records.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
	Last() (*RunResult, error)
}

// RunResult is the record of one operation, which may have run several commands.
type RunResult struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Succeeded bool      `json:"succeeded"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Commands  []Command `json:"commands"`
	Error     string    `json:"error,omitempty"` // launch or validation failure, if any
}

// Command is the captured outcome of one external command.
type Command struct {
	RunID     string   `json:"run_id"`
	Argv      []string `json:"argv"`
	ExitCode  int      `json:"exit_code"`
	Succeeded bool     `json:"succeeded"`
	Signature string   `json:"signature,omitempty"`
	Stdout    string   `json:"stdout"`
	Stderr    string   `json:"stderr"`
	Truncated bool     `json:"truncated,omitempty"`
	Duration  string   `json:"duration"`
}

// CommandFrom converts a runner result into a record entry.
func CommandFrom(res *runner.Result) Command {
	return Command{
		RunID:     res.RunID,
		Argv:      res.Argv,
		ExitCode:  res.ExitCode,
		Succeeded: res.Succeeded,
		Signature: res.Signature,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		Truncated: res.Truncated,
		Duration:  res.Duration.Round(time.Millisecond).String(),
	}
}

// Status returns "success" or "error".
func (r *RunResult) Status() string {
	if r.Succeeded {
		return "success"
	}
	return "error"
}

// Format renders the record as plain text: a header, then each command
// with its exit code and captured output.
func Format(r *RunResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", r.ID)
	fmt.Fprintf(&b, "Operation: %s\n", r.Operation)
	fmt.Fprintf(&b, "Status: %s\n", r.Status())
	if !r.Finished.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", r.Finished.Sub(r.Started).Round(time.Millisecond))
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}

	for _, c := range r.Commands {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "$ %s\n", strings.Join(c.Argv, " "))
		fmt.Fprintf(&b, "exit %d", c.ExitCode)
		if c.Signature != "" {
			fmt.Fprintf(&b, ", failure signature %q", c.Signature)
		}
		fmt.Fprintln(&b)
		writeIndented(&b, "stdout", c.Stdout)
		writeIndented(&b, "stderr", c.Stderr)
		if c.Truncated {
			fmt.Fprintln(&b, "(output truncated)")
		}
	}
	return b.String()
}

func writeIndented(b *strings.Builder, name, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	fmt.Fprintf(b, "%s:\n", name)
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(b, "    %s\n", line)
	}
}
