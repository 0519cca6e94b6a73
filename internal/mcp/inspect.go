package mcp

import (
	"context"
	"fmt"

	"github.com/deixis/steward/internal/report"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type inspectParams struct {
	RunID string `json:"run_id,omitempty" jsonschema:"the run ID printed by another steward tool; omit for the most recent operation"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if res, ok := h.guard(); !ok {
		return res, nil, nil
	}

	var (
		result *report.RunResult
		err    error
	)
	if params.RunID == "" {
		result, err = h.store.Last()
	} else {
		result, err = h.store.Load(params.RunID)
	}
	if err != nil {
		if params.RunID == "" {
			return errorResult(fmt.Sprintf("No operation has run yet: %v", err))
		}
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	return textResult(report.Format(result))
}
