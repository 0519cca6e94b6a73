package ops

import (
	"context"
	"fmt"
	"strings"
)

const ufwHint = "Install it with: apt-get install -y ufw"

// FirewallStatus is the parsed output of "ufw status verbose".
type FirewallStatus struct {
	Active  bool     `json:"active"`
	Logging string   `json:"logging,omitempty"`
	Default string   `json:"default,omitempty"`
	Rules   []string `json:"rules"`
}

// FirewallStatus reports whether ufw is active and lists its rules.
func (e *Engine) FirewallStatus(ctx context.Context) (*Outcome, *FirewallStatus, error) {
	r := e.begin(ctx, OpFirewallStatus)
	if _, err := e.ResolveTool("ufw", ufwHint); err != nil {
		out, err := r.finish(false, err)
		return out, nil, err
	}

	res, err := r.exec("ufw", "status", "verbose")
	if err != nil {
		out, err := r.finish(false, err)
		return out, nil, err
	}
	status := parseUFWStatus(res.Stdout)
	out, err := r.finish(res.Succeeded, nil)
	return out, &status, err
}

// parseUFWStatus reads the header fields and the rule table that follows
// the "--" separator line.
func parseUFWStatus(out string) FirewallStatus {
	status := FirewallStatus{Rules: []string{}}
	inRules := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, " \r")
		if inRules {
			if strings.TrimSpace(line) != "" {
				status.Rules = append(status.Rules, line)
			}
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		switch {
		case strings.HasPrefix(line, "--"):
			inRules = true
		case ok && key == "Status":
			status.Active = strings.TrimSpace(value) == "active"
		case ok && key == "Logging":
			status.Logging = strings.TrimSpace(value)
		case ok && key == "Default":
			status.Default = strings.TrimSpace(value)
		}
	}
	return status
}

// FirewallToggle enables ("enable") or disables ("disable") ufw.
func (e *Engine) FirewallToggle(ctx context.Context, action string) (*Outcome, error) {
	var argv []string
	switch action {
	case "enable":
		argv = []string{"ufw", "--force", "enable"}
	case "disable":
		argv = []string{"ufw", "disable"}
	default:
		return nil, invalidf("action must be enable or disable, got %q", action)
	}

	r := e.begin(ctx, OpFirewallToggle)
	if _, err := e.ResolveTool("ufw", ufwHint); err != nil {
		return r.finish(false, err)
	}
	ok, err := r.sequence(argv)
	if ok {
		r.status(fmt.Sprintf("Firewall %sd", action))
	}
	return r.finish(ok, err)
}

// FirewallPort opens ("open") or closes ("close") a port. An empty
// protocol means tcp.
func (e *Engine) FirewallPort(ctx context.Context, action string, port int, protocol string) (*Outcome, error) {
	if port < 1 || port > 65535 {
		return nil, invalidf("port must be between 1 and 65535, got %d", port)
	}
	protocol = strings.ToLower(protocol)
	if protocol == "" {
		protocol = "tcp"
	}
	if protocol != "tcp" && protocol != "udp" {
		return nil, invalidf("protocol must be tcp or udp, got %q", protocol)
	}

	rule := fmt.Sprintf("%d/%s", port, protocol)
	var argv []string
	switch action {
	case "open":
		argv = []string{"ufw", "allow", rule}
	case "close":
		argv = []string{"ufw", "delete", "allow", rule}
	default:
		return nil, invalidf("action must be open or close, got %q", action)
	}

	r := e.begin(ctx, OpFirewallPort)
	if _, err := e.ResolveTool("ufw", ufwHint); err != nil {
		return r.finish(false, err)
	}
	ok, err := r.sequence(argv)
	return r.finish(ok, err)
}
