package ops

import (
	"context"
	"net/netip"
	"strings"
)

// IPManage adds or removes a ufw rule for a source address. action is
// "allow", "deny" or "delete"; address is an IP or a CIDR prefix.
//
// delete removes both the allow and the deny rule for the address. Both
// commands run even if the first one fails.
func (e *Engine) IPManage(ctx context.Context, action, address string) (*Outcome, error) {
	from, err := normalizeSource(address)
	if err != nil {
		return nil, err
	}

	var cmds [][]string
	switch action {
	case "allow":
		cmds = [][]string{{"ufw", "allow", "from", from}}
	case "deny":
		cmds = [][]string{{"ufw", "deny", "from", from}}
	case "delete":
		cmds = [][]string{
			{"ufw", "delete", "allow", "from", from},
			{"ufw", "delete", "deny", "from", from},
		}
	default:
		return nil, invalidf("Invalid action %q: must be allow, deny or delete", action)
	}

	r := e.begin(ctx, OpIPManage)
	if _, err := e.ResolveTool("ufw", ufwHint); err != nil {
		return r.finish(false, err)
	}

	ok := true
	for _, argv := range cmds {
		res, err := r.exec(argv...)
		if err != nil {
			return r.finish(false, err)
		}
		ok = ok && res.Succeeded
	}
	return r.finish(ok, nil)
}

// normalizeSource validates an IP address or CIDR prefix and returns its
// canonical form.
func normalizeSource(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", invalidf("ip_address is required")
	}
	if strings.Contains(address, "/") {
		p, err := netip.ParsePrefix(address)
		if err != nil {
			return "", invalidf("%q is not a valid IP address or CIDR prefix", address)
		}
		return p.String(), nil
	}
	a, err := netip.ParseAddr(address)
	if err != nil {
		return "", invalidf("%q is not a valid IP address or CIDR prefix", address)
	}
	if a.Zone() != "" {
		return "", invalidf("%q: zoned addresses are not supported", address)
	}
	return a.String(), nil
}
