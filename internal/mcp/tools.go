package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/deixis/steward/internal/ops"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type noParams struct{}

type snapshotCreateParams struct {
	Description string `json:"description,omitempty" jsonschema:"snapshot comment; defaults to Auto-snapshot_<YYYYMMDD_HHMMSS>"`
}

type firewallToggleParams struct {
	Action string `json:"action" jsonschema:"enable or disable"`
}

type firewallPortParams struct {
	Action   string `json:"action" jsonschema:"open or close"`
	Port     int    `json:"port" jsonschema:"port number between 1 and 65535"`
	Protocol string `json:"protocol,omitempty" jsonschema:"tcp or udp; defaults to tcp"`
}

type ipManageParams struct {
	Action    string `json:"action" jsonschema:"allow, deny or delete"`
	IPAddress string `json:"ip_address" jsonschema:"IPv4 or IPv6 address, or a CIDR prefix such as 198.51.100.0/24"`
}

// guard returns an error result when the process lacks privileges.
func (h *handler) guard() (*mcp.CallToolResult, bool) {
	if h.privilege.Privileged() {
		return nil, true
	}
	res, _, _ := errorResult(ops.PrivilegeMessage)
	return res, false
}

func (h *handler) updateHandler(ctx context.Context, req *mcp.CallToolRequest, _ noParams) (*mcp.CallToolResult, any, error) {
	if res, ok := h.guard(); !ok {
		return res, nil, nil
	}
	out, err := h.engine.Update(ctx)
	return outcomeResult(out, err, "")
}

func (h *handler) snapshotCreateHandler(ctx context.Context, req *mcp.CallToolRequest, params snapshotCreateParams) (*mcp.CallToolResult, any, error) {
	if res, ok := h.guard(); !ok {
		return res, nil, nil
	}
	out, err := h.engine.SnapshotCreate(ctx, params.Description)
	return outcomeResult(out, err, "")
}

func (h *handler) snapshotListHandler(ctx context.Context, req *mcp.CallToolRequest, _ noParams) (*mcp.CallToolResult, any, error) {
	if res, ok := h.guard(); !ok {
		return res, nil, nil
	}
	out, err := h.engine.SnapshotList(ctx)
	return outcomeResult(out, err, "")
}

func (h *handler) firewallStatusHandler(ctx context.Context, req *mcp.CallToolRequest, _ noParams) (*mcp.CallToolResult, any, error) {
	if res, ok := h.guard(); !ok {
		return res, nil, nil
	}
	out, status, err := h.engine.FirewallStatus(ctx)
	if status == nil {
		return outcomeResult(out, err, "")
	}

	var b strings.Builder
	state := "inactive"
	if status.Active {
		state = "active"
	}
	fmt.Fprintf(&b, "Firewall: %s\n", state)
	if status.Default != "" {
		fmt.Fprintf(&b, "Default: %s\n", status.Default)
	}
	if status.Logging != "" {
		fmt.Fprintf(&b, "Logging: %s\n", status.Logging)
	}
	fmt.Fprintf(&b, "Rules (%d):\n", len(status.Rules))
	for _, r := range status.Rules {
		fmt.Fprintf(&b, "  %s\n", r)
	}
	return outcomeResult(out, err, b.String())
}

func (h *handler) firewallToggleHandler(ctx context.Context, req *mcp.CallToolRequest, params firewallToggleParams) (*mcp.CallToolResult, any, error) {
	if res, ok := h.guard(); !ok {
		return res, nil, nil
	}
	out, err := h.engine.FirewallToggle(ctx, params.Action)
	return outcomeResult(out, err, "")
}

func (h *handler) firewallPortHandler(ctx context.Context, req *mcp.CallToolRequest, params firewallPortParams) (*mcp.CallToolResult, any, error) {
	if res, ok := h.guard(); !ok {
		return res, nil, nil
	}
	out, err := h.engine.FirewallPort(ctx, params.Action, params.Port, params.Protocol)
	return outcomeResult(out, err, "")
}

func (h *handler) ipManageHandler(ctx context.Context, req *mcp.CallToolRequest, params ipManageParams) (*mcp.CallToolResult, any, error) {
	if res, ok := h.guard(); !ok {
		return res, nil, nil
	}
	out, err := h.engine.IPManage(ctx, params.Action, params.IPAddress)
	return outcomeResult(out, err, "")
}
