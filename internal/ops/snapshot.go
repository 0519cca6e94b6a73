package ops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/deixis/steward/internal/feed"
)

// ErrNotConfigured is returned when timeshift is installed but has never
// been set up.
var ErrNotConfigured = errors.New("timeshift is not configured; run 'sudo timeshift --setup' first")

const snapshotTimeLayout = "20060102_150405"

// SnapshotCreate creates a timeshift snapshot. An empty description is
// replaced by "Auto-snapshot_<timestamp>".
//
// timeshift can exit zero after an rsync failure or after discarding an
// incomplete snapshot; the operation's failure signatures catch both.
func (e *Engine) SnapshotCreate(ctx context.Context, description string) (*Outcome, error) {
	description = strings.TrimSpace(description)
	if strings.ContainsAny(description, "\r\n") {
		return nil, invalidf("description must be a single line")
	}

	r := e.begin(ctx, OpSnapshotCreate)
	if err := e.snapshotReady(r); err != nil {
		return r.finish(false, err)
	}

	if description == "" {
		description = "Auto-snapshot_" + e.now().Format(snapshotTimeLayout)
	}

	r.status("Creating system snapshot...")
	res, err := r.exec(e.snapshotBinary(), "--create", "--comments", description, "--verbose")
	if err != nil {
		r.status("Snapshot creation failed: " + err.Error())
		return r.finish(false, err)
	}

	switch {
	case res.Succeeded:
		r.status("Snapshot created and verified successfully")
	case res.Signature != "" && res.SignatureStream == feed.Stderr:
		r.status("Snapshot creation failed - rsync error detected")
		r.status("Please run 'sudo timeshift --setup' to verify backup location")
	case res.Signature != "":
		r.status("Snapshot was incomplete and was cleaned up")
		r.status("Please verify backup location has enough space")
	default:
		r.status(fmt.Sprintf("Snapshot creation failed - exit code %d", res.ExitCode))
	}
	return r.finish(res.Succeeded, nil)
}

// SnapshotList prints the existing timeshift snapshots to the feed.
func (e *Engine) SnapshotList(ctx context.Context) (*Outcome, error) {
	r := e.begin(ctx, OpSnapshotList)
	if err := e.snapshotReady(r); err != nil {
		return r.finish(false, err)
	}

	r.status("Existing snapshots:")
	ok, err := r.sequence([]string{e.snapshotBinary(), "--list", "--verbose"})
	return r.finish(ok, err)
}

func (e *Engine) snapshotBinary() string {
	if e.Config == nil {
		return "timeshift"
	}
	return e.Config.SnapshotBinary()
}

func (e *Engine) snapshotConfigDir() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.SnapshotConfigDir()
}

// snapshotReady installs timeshift when its binary is missing and checks
// that it has been configured.
func (e *Engine) snapshotReady(r *run) error {
	bin := e.snapshotBinary()
	if _, err := os.Stat(bin); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", bin, err)
		}
		r.status("Timeshift is not installed. Installing now...")
		res, err := r.exec("apt-get", "install", "-y", "timeshift")
		if err != nil {
			r.status("Failed to install Timeshift")
			return ErrToolUnavailable{Name: "timeshift", Hint: err.Error()}
		}
		if !res.Succeeded {
			r.status("Failed to install Timeshift")
			return ErrToolUnavailable{Name: "timeshift", Hint: "apt-get install -y timeshift failed."}
		}
	}

	if dir := e.snapshotConfigDir(); dir != "" {
		if _, err := os.Stat(dir); err != nil {
			r.status("Timeshift is not configured. Please run 'sudo timeshift --setup' first.")
			return ErrNotConfigured
		}
	}
	return nil
}
