package ops

import "context"

// Update refreshes the package lists and upgrades every installed package.
// The upgrade is skipped when the refresh fails.
func (e *Engine) Update(ctx context.Context) (*Outcome, error) {
	r := e.begin(ctx, OpUpdate)

	if _, err := e.ResolveTool("apt-get", "steward manages Debian-based systems only."); err != nil {
		r.status(err.Error())
		return r.finish(false, err)
	}

	r.status("Updating system packages...")
	ok, err := r.sequence(
		[]string{"apt-get", "update"},
		[]string{"apt-get", "-y", "upgrade"},
	)
	switch {
	case err != nil:
		r.status("System update failed: " + err.Error())
	case ok:
		r.status("System update completed successfully")
	default:
		r.status("System update failed")
	}
	return r.finish(ok, err)
}
