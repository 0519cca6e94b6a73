package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/deixis/steward/internal/feed"
	"github.com/deixis/steward/internal/ops"
)

// console prints feed lines as they arrive. Stderr lines are prefixed with
// "! " and status lines with "> ".
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) Publish(line feed.Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch line.Stream {
	case feed.Stderr:
		fmt.Fprintf(c.w, "! %s\n", line.Text)
	case feed.Status:
		fmt.Fprintf(c.w, "> %s\n", line.Text)
	default:
		fmt.Fprintln(c.w, line.Text)
	}
}

// dispatch runs the operation named by args[0] with the remaining args.
func dispatch(ctx context.Context, e *ops.Engine, args []string) (*ops.Outcome, error) {
	op, rest := args[0], args[1:]
	arg := func(i int) string {
		if i < len(rest) {
			return rest[i]
		}
		return ""
	}

	switch op {
	case ops.OpUpdate:
		return e.Update(ctx)
	case ops.OpSnapshotCreate:
		return e.SnapshotCreate(ctx, strings.Join(rest, " "))
	case ops.OpSnapshotList:
		return e.SnapshotList(ctx)
	case ops.OpFirewallStatus:
		out, status, err := e.FirewallStatus(ctx)
		if status != nil {
			fmt.Printf("\nactive: %t\n", status.Active)
			for _, r := range status.Rules {
				fmt.Printf("  %s\n", r)
			}
		}
		return out, err
	case ops.OpFirewallToggle:
		return e.FirewallToggle(ctx, arg(0))
	case ops.OpFirewallPort:
		port, err := strconv.Atoi(arg(1))
		if err != nil {
			return nil, fmt.Errorf("%w: port %q is not a number", ops.ErrInvalidArgument, arg(1))
		}
		return e.FirewallPort(ctx, arg(0), port, arg(2))
	case ops.OpIPManage:
		return e.IPManage(ctx, arg(0), arg(1))
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ops.ErrInvalidArgument, op)
	}
}
