// Package ops implements steward's administrative operations: system
// update, timeshift snapshots, ufw firewall control and IP rules. Both the
// HTTP server and the MCP server call into the same Engine.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/deixis/steward/internal/config"
	"github.com/deixis/steward/internal/feed"
	"github.com/deixis/steward/internal/report"
	"github.com/deixis/steward/internal/runner"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/deixis/steward/internal/ops")

// Operation names. They key failure signatures in the config and name
// records in the report store.
const (
	OpUpdate         = "update"
	OpSnapshotCreate = "snapshot_create"
	OpSnapshotList   = "snapshot_list"
	OpFirewallStatus = "firewall_status"
	OpFirewallToggle = "firewall_toggle"
	OpFirewallPort   = "firewall_port"
	OpIPManage       = "ip_manage"
)

// ErrInvalidArgument is wrapped by every request validation error. No
// command runs when it is returned.
var ErrInvalidArgument = errors.New("invalid argument")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// CommandRunner executes one command and classifies its outcome.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, sig runner.Signatures) (*runner.Result, error)
}

// Engine holds shared dependencies for all operations.
type Engine struct {
	Config *config.Config
	Runner CommandRunner
	Feed   feed.Publisher   // status lines; usually the same queue the Runner feeds
	Store  report.Store     // optional
	Now    func() time.Time // defaults to time.Now
	Logger *slog.Logger     // defaults to slog.Default()

	// LookPath locates binaries before an operation starts. Defaults to
	// exec.LookPath.
	LookPath func(file string) (string, error)
}

// Outcome is what an operation reports back to its caller.
type Outcome struct {
	ID        string
	Operation string
	Succeeded bool
	Runs      []*runner.Result
}

// Status returns "success" or "error".
func (o *Outcome) Status() string {
	if o.Succeeded {
		return "success"
	}
	return "error"
}

// ErrToolUnavailable is returned when a required binary is missing and
// could not be installed.
type ErrToolUnavailable struct {
	Name string
	Hint string
}

func (e ErrToolUnavailable) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s is required but not installed.", e.Name)
	}
	return fmt.Sprintf("%s is required but not installed. %s", e.Name, e.Hint)
}

// ResolveTool returns the path of a binary, or ErrToolUnavailable with
// hint when it cannot be found.
func (e *Engine) ResolveTool(name, hint string) (string, error) {
	lookPath := e.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(name)
	if err != nil {
		return "", ErrToolUnavailable{Name: name, Hint: hint}
	}
	return path, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) signatures(operation string) runner.Signatures {
	if e.Config == nil {
		s := config.DefaultSignatures[operation]
		return runner.Signatures{Stdout: s.Stdout, Stderr: s.Stderr}
	}
	s := e.Config.SignaturesFor(operation)
	return runner.Signatures{Stdout: s.Stdout, Stderr: s.Stderr}
}

// run tracks a single operation while its commands execute.
type run struct {
	e      *Engine
	ctx    context.Context
	span   trace.Span
	sig    runner.Signatures
	record *report.RunResult
	runs   []*runner.Result
}

func (e *Engine) begin(ctx context.Context, operation string) *run {
	id := uuid.New().String()
	ctx, span := tracer.Start(ctx, "ops."+operation, trace.WithAttributes(
		attribute.String("steward.operation", operation),
		attribute.String("steward.operation_id", id),
	))
	return &run{
		e:    e,
		ctx:  ctx,
		span: span,
		sig:  e.signatures(operation),
		record: &report.RunResult{
			ID:        id,
			Operation: operation,
			Started:   e.now(),
		},
	}
}

func (r *run) status(text string) {
	feed.Statusf(r.e.Feed, text)
}

// exec runs argv with the operation's failure signatures. A launch failure
// is returned as an error; a failed command is not.
func (r *run) exec(argv ...string) (*runner.Result, error) {
	r.status("$ " + strings.Join(argv, " "))
	res, err := r.e.Runner.Run(r.ctx, argv, r.sig)
	if err != nil {
		return nil, err
	}
	r.runs = append(r.runs, res)
	r.record.Commands = append(r.record.Commands, report.CommandFrom(res))
	return res, nil
}

// sequence runs each command in turn and stops at the first failure.
func (r *run) sequence(cmds ...[]string) (bool, error) {
	for _, argv := range cmds {
		res, err := r.exec(argv...)
		if err != nil {
			return false, err
		}
		if !res.Succeeded {
			return false, nil
		}
	}
	return true, nil
}

// finish stores the record and ends the span. err, when non-nil, is
// returned alongside the Outcome so callers still get the run ID.
func (r *run) finish(succeeded bool, err error) (*Outcome, error) {
	defer r.span.End()

	r.record.Succeeded = succeeded && err == nil
	r.record.Finished = r.e.now()
	if err != nil {
		r.record.Error = err.Error()
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, "operation failed")
	} else if !succeeded {
		r.span.SetStatus(codes.Error, "command failed")
	}
	r.span.SetAttributes(attribute.Bool("steward.succeeded", r.record.Succeeded))

	if r.e.Store != nil {
		if serr := r.e.Store.Save(r.record); serr != nil {
			r.e.logger().Warn("Saving operation record failed", "id", r.record.ID, "error", serr)
		}
	}
	r.e.logger().Info("Operation finished",
		"operation", r.record.Operation,
		"id", r.record.ID,
		"succeeded", r.record.Succeeded,
		"commands", len(r.runs),
	)

	return &Outcome{
		ID:        r.record.ID,
		Operation: r.record.Operation,
		Succeeded: r.record.Succeeded,
		Runs:      r.runs,
	}, err
}
