// Package runner executes privileged external commands, streams their
// output to a feed while they run, and classifies the outcome from the
// exit code and known failure signatures.
package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/deixis/steward/internal/feed"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/deixis/steward/internal/runner")

// Runner executes commands and publishes their output as it is produced.
// A Runner is safe for concurrent use; each Run captures its own output and
// only the Feed is shared.
type Runner struct {
	Launcher  Launcher       // defaults to ExecLauncher{}
	Feed      feed.Publisher // receives every line; defaults to feed.Discard
	Timeout   time.Duration  // zero means commands may run forever
	MaxOutput int            // bytes captured per stream; zero means unlimited
	Logger    *slog.Logger   // defaults to slog.Default()
}

// Run executes argv and blocks until the process exits.
//
// A command that cannot be started yields a *LaunchError and no Result.
// Otherwise the Result reports Succeeded=false for a non-zero exit or for
// a zero exit whose output contains one of sig.
//
// Cancelling ctx does not stop a launched command: only Timeout does.
func (r *Runner) Run(ctx context.Context, argv []string, sig Signatures) (*Result, error) {
	if len(argv) == 0 {
		return nil, &LaunchError{Err: errors.New("empty argv")}
	}

	logger := r.logger()
	pub := r.Feed
	if pub == nil {
		pub = feed.Discard
	}
	launcher := r.Launcher
	if launcher == nil {
		launcher = ExecLauncher{}
	}

	ctx = context.WithoutCancel(ctx)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	runID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "runner.Run", trace.WithAttributes(
		attribute.String("steward.run_id", runID),
		attribute.StringSlice("steward.argv", argv),
	))
	defer span.End()

	start := time.Now()
	src, err := launcher.Launch(ctx, argv)
	if err != nil {
		var launchErr *LaunchError
		if !errors.As(err, &launchErr) {
			err = &LaunchError{Argv0: argv[0], Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "launch failed")
		logger.Error("Command launch failed", "runID", runID, "argv", argv, "error", err)
		return nil, err
	}
	logger.Info("Command started", "runID", runID, "argv", argv)

	var stdout, stderr bytes.Buffer
	outW := &limitWriter{buf: &stdout, limit: r.MaxOutput}
	errW := &limitWriter{buf: &stderr, limit: r.MaxOutput}

	for line := range src.Lines() {
		pub.Publish(line)
		if line.Stream == feed.Stderr {
			errW.writeLine(line.Text)
		} else {
			outW.writeLine(line.Text)
		}
	}

	exitCode, err := src.Wait()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait failed")
		logger.Error("Command wait failed", "runID", runID, "argv", argv, "error", err)
		return nil, err
	}

	res := &Result{
		RunID:     runID,
		Argv:      append([]string(nil), argv...),
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: outW.truncated || errW.truncated,
		Duration:  time.Since(start),
	}
	if m, ok := MatchSignature(res.Stdout, res.Stderr, sig); ok {
		res.Signature = m.Signature
		res.SignatureStream = m.Stream
	}
	res.Succeeded = Classify(res.Stdout, res.Stderr, res.ExitCode, sig)

	span.SetAttributes(
		attribute.Int("steward.exit_code", res.ExitCode),
		attribute.Bool("steward.succeeded", res.Succeeded),
	)
	if !res.Succeeded {
		span.SetStatus(codes.Error, "command failed")
		logger.Warn("Command failed", "runID", runID, "argv", argv, "exitCode", res.ExitCode,
			"signature", res.Signature, "duration", res.Duration)
	} else {
		logger.Info("Command finished", "runID", runID, "argv", argv, "duration", res.Duration)
	}
	return res, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// limitWriter appends lines to buf up to limit bytes, then silently
// discards the rest. A limit of zero or less means no limit.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) writeLine(text string) {
	if w.limit <= 0 {
		w.buf.WriteString(text)
		w.buf.WriteByte('\n')
		return
	}
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return
	}
	if len(text)+1 > remaining {
		w.buf.WriteString(cutRunes(text+"\n", remaining))
		w.truncated = true
		return
	}
	w.buf.WriteString(text)
	w.buf.WriteByte('\n')
}

// cutRunes returns the longest prefix of s no longer than n bytes that does
// not split a rune.
func cutRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
