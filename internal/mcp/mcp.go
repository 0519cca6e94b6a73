// Package mcp provides the steward MCP server, exposing every privileged
// operation as a tool and publishing model instructions.
package mcp

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/deixis/steward"
	"github.com/deixis/steward/internal/ops"
	"github.com/deixis/steward/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	engine    *ops.Engine
	store     report.Store
	privilege ops.Privilege
}

// NewServer creates an MCP server with all steward tools registered.
func NewServer(engine *ops.Engine, store report.Store, opts ...ServerOption) *mcp.Server {
	so := serverOptions{privilege: ops.RootPrivilege}
	for _, o := range opts {
		o(&so)
	}
	h := &handler{
		engine:    engine,
		store:     store,
		privilege: so.privilege,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "steward", Version: steward.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "steward_update",
		Description: `Refresh the package lists and upgrade every installed package (apt-get update, apt-get -y upgrade).

Blocks until apt-get exits, which can take several minutes. The upgrade is skipped if the refresh fails.`,
	}, h.updateHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "steward_snapshot_create",
		Description: `Create a timeshift system snapshot.

Installs timeshift when it is missing. Fails when timeshift has not been set up.
An rsync error or an incomplete snapshot is reported as a failure even when timeshift exits 0.`,
	}, h.snapshotCreateHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "steward_snapshot_list",
		Description: "List existing timeshift snapshots. The listing is available via steward_inspect.",
	}, h.snapshotListHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "steward_firewall_status",
		Description: "Report whether the ufw firewall is active, its defaults and its rules.",
	}, h.firewallStatusHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "steward_firewall_toggle",
		Description: "Enable or disable the ufw firewall.",
	}, h.firewallToggleHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "steward_firewall_port",
		Description: "Open (ufw allow) or close (ufw delete allow) a port for tcp or udp.",
	}, h.firewallPortHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "steward_ip_manage",
		Description: `Allow or deny traffic from an IP address or CIDR prefix, or delete both rules for it.

delete removes the allow and the deny rule; ufw reports a rule that does not exist without failing.`,
	}, h.ipManageHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "steward_inspect",
		Description: `Show the captured output of every command of a past operation.

Pass the run_id printed by another steward tool, or omit it for the most recent operation.`,
	}, h.inspectHandler)

	return s
}

// ServerOption configures the steward MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	privilege ops.Privilege
}

// WithPrivilege replaces the default root check.
func WithPrivilege(p ops.Privilege) ServerOption {
	return func(o *serverOptions) {
		o.privilege = p
	}
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}

// outcomeResult renders an operation outcome. Failed commands mark the
// result as an error so clients do not mistake them for success.
func outcomeResult(out *ops.Outcome, err error, extra string) (*mcp.CallToolResult, any, error) {
	var b strings.Builder
	if out == nil {
		return errorResult(fmt.Sprintf("Status: error\nError: %v", err))
	}

	fmt.Fprintf(&b, "Status: %s\n", out.Status())
	fmt.Fprintf(&b, "Run: %s\n", out.ID)
	fmt.Fprintf(&b, "Operation: %s\n", out.Operation)
	if err != nil {
		fmt.Fprintf(&b, "Error: %v\n", err)
	}
	for _, r := range out.Runs {
		fmt.Fprintf(&b, "  $ %s  (exit %d", strings.Join(r.Argv, " "), r.ExitCode)
		if r.Signature != "" {
			fmt.Fprintf(&b, ", failure signature %q", r.Signature)
		}
		fmt.Fprintln(&b, ")")
	}
	if extra != "" {
		fmt.Fprintln(&b)
		fmt.Fprint(&b, extra)
	}
	fmt.Fprintf(&b, "\nInspect with steward_inspect(run_id=%q).\n", out.ID)

	if err != nil || !out.Succeeded {
		return errorResult(b.String())
	}
	return textResult(b.String())
}
