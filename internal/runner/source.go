package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/deixis/steward/internal/feed"
)

// Source is a running process seen as a sequence of output lines.
type Source interface {
	// Lines yields stdout and stderr lines as they are produced. Lines of
	// one stream keep their order. The channel is closed once both streams
	// have reached EOF.
	Lines() <-chan feed.Line
	// Wait blocks until the process exits and returns its exit code. It
	// must only be called after Lines has been drained.
	Wait() (int, error)
}

// Launcher starts processes.
type Launcher interface {
	Launch(ctx context.Context, argv []string) (Source, error)
}

// LaunchError reports a process that could not be started at all (missing
// binary, permission denied). No output exists for such a run.
type LaunchError struct {
	Argv0 string
	Err   error
}

func (e *LaunchError) Error() string {
	if e.Argv0 == "" {
		return fmt.Sprintf("launching: %v", e.Err)
	}
	return fmt.Sprintf("launching %s: %v", e.Argv0, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExecLauncher starts processes on the local host with os/exec.
type ExecLauncher struct {
	Dir string   // working directory; empty means the current one
	Env []string // extra KEY=VALUE pairs appended to the inherited environment
}

var _ Launcher = ExecLauncher{}

// lineBuffer is the capacity of the channel between the stream readers and
// the consumer of Lines.
const lineBuffer = 64

// Launch starts argv[0] with the remaining elements as its arguments. No
// shell is involved.
func (l ExecLauncher) Launch(ctx context.Context, argv []string) (Source, error) {
	if len(argv) == 0 {
		return nil, &LaunchError{Argv0: "", Err: errors.New("empty argv")}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = l.Dir
	killGroup(cmd)
	if len(l.Env) > 0 {
		cmd.Env = append(cmd.Environ(), l.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Argv0: argv[0], Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Argv0: argv[0], Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Argv0: argv[0], Err: err}
	}

	p := &process{
		cmd:   cmd,
		lines: make(chan feed.Line, lineBuffer),
	}
	p.readers.Add(2)
	go p.read(feed.Stdout, stdout)
	go p.read(feed.Stderr, stderr)
	go func() {
		p.readers.Wait()
		close(p.lines)
	}()
	return p, nil
}

type process struct {
	cmd     *exec.Cmd
	lines   chan feed.Line
	readers sync.WaitGroup
}

func (p *process) Lines() <-chan feed.Line { return p.lines }

// read splits one pipe into lines. Each stream has its own goroutine so an
// idle stream never holds back the other.
func (p *process) read(stream feed.Stream, r io.Reader) {
	defer p.readers.Done()

	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			p.lines <- feed.Line{Stream: stream, Text: cleanLine(text)}
		}
		if err != nil {
			// io.EOF, or the pipe was closed underneath us.
			return
		}
	}
}

func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// -1 when the process was terminated by a signal.
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("waiting for %s: %w", p.cmd.Path, err)
}

// cleanLine strips the line terminator and replaces invalid UTF-8.
func cleanLine(s string) string {
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return strings.ToValidUTF8(s, "�")
}
