package ops

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deixis/steward/internal/config"
	"github.com/deixis/steward/internal/feed"
	"github.com/deixis/steward/internal/report"
	"github.com/deixis/steward/internal/runner"
)

// fakeRunner answers commands from a table keyed by the joined argv.
// Unknown commands succeed with empty output.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]runner.Result
	errs    map[string]error
	calls   [][]string
	sigs    []runner.Signatures
}

func (f *fakeRunner) Run(_ context.Context, argv []string, sig runner.Signatures) (*runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, argv)
	f.sigs = append(f.sigs, sig)

	key := strings.Join(argv, " ")
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	res, ok := f.results[key]
	if !ok {
		res = runner.Result{}
	}
	res.RunID = "run-" + argv[0]
	res.Argv = argv
	if m, hit := runner.MatchSignature(res.Stdout, res.Stderr, sig); hit {
		res.Signature = m.Signature
		res.SignatureStream = m.Stream
	}
	res.Succeeded = runner.Classify(res.Stdout, res.Stderr, res.ExitCode, sig)
	return &res, nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

type harness struct {
	engine *Engine
	runner *fakeRunner
	queue  *feed.Queue
	store  *report.LRUStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "timeshift")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	confDir := filepath.Join(dir, "etc-timeshift")
	if err := os.Mkdir(confDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Snapshot: config.SnapshotConfig{Binary: bin, ConfigDir: confDir}}
	fr := &fakeRunner{results: map[string]runner.Result{}, errs: map[string]error{}}
	q := feed.NewQueue()
	store := report.NewLRUStore(8)
	return &harness{
		engine: &Engine{
			Config:   cfg,
			Runner:   fr,
			Feed:     q,
			Store:    store,
			Now:      func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC) },
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			LookPath: func(file string) (string, error) { return "/usr/sbin/" + file, nil },
		},
		runner: fr,
		queue:  q,
		store:  store,
	}
}

func (h *harness) statusLines() []string {
	var out []string
	for {
		line, ok := h.queue.TryDrain()
		if !ok {
			return out
		}
		if line.Stream == feed.Status {
			out = append(out, line.Text)
		}
	}
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func TestUpdate_RunsRefreshThenUpgrade(t *testing.T) {
	h := newHarness(t)
	out, err := h.engine.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !out.Succeeded || out.Status() != "success" {
		t.Errorf("Outcome = %+v, want success", out)
	}
	got := h.runner.commands()
	want := []string{"apt-get update", "apt-get -y upgrade"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %q, want %q", got, want)
	}

	rec, err := h.store.Load(out.ID)
	if err != nil {
		t.Fatalf("record not saved: %v", err)
	}
	if rec.Operation != OpUpdate || len(rec.Commands) != 2 || !rec.Succeeded {
		t.Errorf("record = %+v", rec)
	}
	if !contains(h.statusLines(), "System update completed successfully") {
		t.Error("missing completion status line")
	}
}

func TestUpdate_StopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	h.runner.results["apt-get update"] = runner.Result{ExitCode: 100, Stderr: "E: Could not get lock\n"}

	out, err := h.engine.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.Succeeded {
		t.Error("Succeeded = true after failed refresh")
	}
	if got := h.runner.commands(); len(got) != 1 {
		t.Errorf("commands = %q, want only the refresh", got)
	}
}

func TestUpdate_LaunchFailure(t *testing.T) {
	h := newHarness(t)
	launchErr := &runner.LaunchError{Argv0: "apt-get", Err: errors.New("permission denied")}
	h.runner.errs["apt-get update"] = launchErr

	out, err := h.engine.Update(context.Background())
	var le *runner.LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LaunchError", err)
	}
	if out == nil || out.Succeeded {
		t.Fatalf("Outcome = %+v, want failed outcome with an ID", out)
	}
	rec, lerr := h.store.Last()
	if lerr != nil || rec.Error == "" {
		t.Errorf("Last() = %+v, %v, want record carrying the launch error", rec, lerr)
	}
}

func TestUpdate_MissingAptGet(t *testing.T) {
	h := newHarness(t)
	h.engine.LookPath = func(string) (string, error) { return "", errors.New("not found") }

	_, err := h.engine.Update(context.Background())
	var unavailable ErrToolUnavailable
	if !errors.As(err, &unavailable) || unavailable.Name != "apt-get" {
		t.Fatalf("err = %v, want ErrToolUnavailable for apt-get", err)
	}
	if got := h.runner.commands(); len(got) != 0 {
		t.Errorf("commands = %q, want none", got)
	}
}

func TestSnapshotCreate_DefaultDescription(t *testing.T) {
	h := newHarness(t)
	out, err := h.engine.SnapshotCreate(context.Background(), "  ")
	if err != nil {
		t.Fatalf("SnapshotCreate: %v", err)
	}
	if !out.Succeeded {
		t.Errorf("Outcome = %+v, want success", out)
	}
	bin := h.engine.Config.SnapshotBinary()
	want := bin + " --create --comments Auto-snapshot_20240305_140709 --verbose"
	if got := h.runner.commands(); len(got) != 1 || got[0] != want {
		t.Errorf("commands = %q, want [%q]", got, want)
	}
}

func TestSnapshotCreate_RsyncErrorWithZeroExit(t *testing.T) {
	h := newHarness(t)
	bin := h.engine.Config.SnapshotBinary()
	h.runner.results[bin+" --create --comments nightly --verbose"] = runner.Result{
		ExitCode: 0,
		Stderr:   "E: rsync returned an error\n",
	}

	out, err := h.engine.SnapshotCreate(context.Background(), "nightly")
	if err != nil {
		t.Fatalf("SnapshotCreate: %v", err)
	}
	if out.Succeeded {
		t.Fatal("Succeeded = true despite rsync failure signature")
	}
	lines := h.statusLines()
	if !contains(lines, "Snapshot creation failed - rsync error detected") {
		t.Errorf("status lines = %q, want rsync hint", lines)
	}
}

func TestSnapshotCreate_IncompleteSnapshot(t *testing.T) {
	h := newHarness(t)
	bin := h.engine.Config.SnapshotBinary()
	h.runner.results[bin+" --create --comments x --verbose"] = runner.Result{
		Stdout: "Removing snapshots (incomplete):\n",
	}

	out, _ := h.engine.SnapshotCreate(context.Background(), "x")
	if out.Succeeded {
		t.Fatal("Succeeded = true for an incomplete snapshot")
	}
	if lines := h.statusLines(); !contains(lines, "Please verify backup location has enough space") {
		t.Errorf("status lines = %q, want space hint", lines)
	}
}

func TestSnapshotCreate_RejectsMultilineDescription(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.SnapshotCreate(context.Background(), "a\nb")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if len(h.runner.commands()) != 0 {
		t.Error("a command ran for an invalid request")
	}
}

func TestSnapshotCreate_NotConfigured(t *testing.T) {
	h := newHarness(t)
	h.engine.Config.Snapshot.ConfigDir = filepath.Join(t.TempDir(), "missing")

	out, err := h.engine.SnapshotCreate(context.Background(), "")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if out == nil || out.ID == "" {
		t.Error("expected an outcome with an ID")
	}
	if len(h.runner.commands()) != 0 {
		t.Error("timeshift ran without configuration")
	}
}

func TestSnapshotCreate_InstallsMissingTimeshift(t *testing.T) {
	h := newHarness(t)
	h.engine.Config.Snapshot.Binary = filepath.Join(t.TempDir(), "absent")

	if _, err := h.engine.SnapshotCreate(context.Background(), "d"); err != nil {
		t.Fatalf("SnapshotCreate: %v", err)
	}
	got := h.runner.commands()
	if len(got) != 2 || got[0] != "apt-get install -y timeshift" {
		t.Errorf("commands = %q, want install first", got)
	}
}

func TestSnapshotCreate_InstallFailure(t *testing.T) {
	h := newHarness(t)
	h.engine.Config.Snapshot.Binary = filepath.Join(t.TempDir(), "absent")
	h.runner.results["apt-get install -y timeshift"] = runner.Result{ExitCode: 100}

	_, err := h.engine.SnapshotCreate(context.Background(), "d")
	var unavailable ErrToolUnavailable
	if !errors.As(err, &unavailable) || unavailable.Name != "timeshift" {
		t.Fatalf("err = %v, want ErrToolUnavailable for timeshift", err)
	}
}

func TestSnapshotList(t *testing.T) {
	h := newHarness(t)
	out, err := h.engine.SnapshotList(context.Background())
	if err != nil || !out.Succeeded {
		t.Fatalf("SnapshotList = %+v, %v", out, err)
	}
	bin := h.engine.Config.SnapshotBinary()
	if got := h.runner.commands(); len(got) != 1 || got[0] != bin+" --list --verbose" {
		t.Errorf("commands = %q", got)
	}
	if len(h.runner.sigs[0].Stdout)+len(h.runner.sigs[0].Stderr) != 0 {
		t.Errorf("snapshot list ran with signatures %+v, want none", h.runner.sigs[0])
	}
}

func TestFirewallStatus_Parses(t *testing.T) {
	h := newHarness(t)
	h.runner.results["ufw status verbose"] = runner.Result{Stdout: `Status: active
Logging: on (low)
Default: deny (incoming), allow (outgoing), disabled (routed)
New profiles: skip

To                         Action      From
--                         ------      ----
22/tcp                     ALLOW IN    Anywhere
Anywhere                   DENY IN     203.0.113.7
`}

	out, status, err := h.engine.FirewallStatus(context.Background())
	if err != nil || !out.Succeeded {
		t.Fatalf("FirewallStatus = %+v, %v", out, err)
	}
	if !status.Active {
		t.Error("Active = false, want true")
	}
	if status.Logging != "on (low)" {
		t.Errorf("Logging = %q", status.Logging)
	}
	if !strings.HasPrefix(status.Default, "deny (incoming)") {
		t.Errorf("Default = %q", status.Default)
	}
	if len(status.Rules) != 2 || !strings.HasPrefix(status.Rules[0], "22/tcp") {
		t.Errorf("Rules = %q", status.Rules)
	}
}

func TestParseUFWStatus_Inactive(t *testing.T) {
	status := parseUFWStatus("Status: inactive\n")
	if status.Active || len(status.Rules) != 0 || status.Rules == nil {
		t.Errorf("parseUFWStatus(inactive) = %+v", status)
	}
}

func TestFirewallToggle(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{"enable", "ufw --force enable"},
		{"disable", "ufw disable"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			h := newHarness(t)
			out, err := h.engine.FirewallToggle(context.Background(), tt.action)
			if err != nil || !out.Succeeded {
				t.Fatalf("FirewallToggle = %+v, %v", out, err)
			}
			if got := h.runner.commands(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("commands = %q, want [%q]", got, tt.want)
			}
		})
	}
}

func TestFirewallToggle_InvalidAction(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.FirewallToggle(context.Background(), "restart"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestFirewallToggle_ErrorSignature(t *testing.T) {
	h := newHarness(t)
	h.runner.results["ufw disable"] = runner.Result{Stderr: "ERROR: problem running ufw-init\n"}
	out, err := h.engine.FirewallToggle(context.Background(), "disable")
	if err != nil {
		t.Fatal(err)
	}
	if out.Succeeded {
		t.Error("Succeeded = true despite ufw ERROR output")
	}
}

func TestFirewallPort(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		port     int
		protocol string
		want     string
		invalid  bool
	}{
		{name: "open default tcp", action: "open", port: 443, want: "ufw allow 443/tcp"},
		{name: "open udp", action: "open", port: 53, protocol: "UDP", want: "ufw allow 53/udp"},
		{name: "close", action: "close", port: 8080, protocol: "tcp", want: "ufw delete allow 8080/tcp"},
		{name: "port zero", action: "open", port: 0, invalid: true},
		{name: "port too large", action: "open", port: 65536, invalid: true},
		{name: "bad protocol", action: "open", port: 22, protocol: "icmp", invalid: true},
		{name: "bad action", action: "toggle", port: 22, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			out, err := h.engine.FirewallPort(context.Background(), tt.action, tt.port, tt.protocol)
			if tt.invalid {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("err = %v, want ErrInvalidArgument", err)
				}
				if len(h.runner.commands()) != 0 {
					t.Error("a command ran for an invalid request")
				}
				return
			}
			if err != nil || !out.Succeeded {
				t.Fatalf("FirewallPort = %+v, %v", out, err)
			}
			if got := h.runner.commands(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("commands = %q, want [%q]", got, tt.want)
			}
		})
	}
}

func TestIPManage(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		address string
		want    []string
	}{
		{"allow", "allow", "192.0.2.10", []string{"ufw allow from 192.0.2.10"}},
		{"deny cidr", "deny", "198.51.100.0/24", []string{"ufw deny from 198.51.100.0/24"}},
		{"ipv6", "allow", " 2001:DB8::1 ", []string{"ufw allow from 2001:db8::1"}},
		{"delete", "delete", "192.0.2.10", []string{
			"ufw delete allow from 192.0.2.10",
			"ufw delete deny from 192.0.2.10",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			out, err := h.engine.IPManage(context.Background(), tt.action, tt.address)
			if err != nil || !out.Succeeded {
				t.Fatalf("IPManage = %+v, %v", out, err)
			}
			if got := h.runner.commands(); strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("commands = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIPManage_DeleteRunsBothRules(t *testing.T) {
	h := newHarness(t)
	h.runner.results["ufw delete allow from 192.0.2.10"] = runner.Result{ExitCode: 1}

	out, err := h.engine.IPManage(context.Background(), "delete", "192.0.2.10")
	if err != nil {
		t.Fatal(err)
	}
	if out.Succeeded {
		t.Error("Succeeded = true although one delete failed")
	}
	if got := h.runner.commands(); len(got) != 2 {
		t.Errorf("commands = %q, want both deletes", got)
	}
}

func TestIPManage_Invalid(t *testing.T) {
	tests := []struct{ action, address string }{
		{"allow", ""},
		{"allow", "not-an-ip"},
		{"allow", "10.0.0.1; rm -rf /"},
		{"deny", "10.0.0.0/33"},
		{"allow", "fe80::1%eth0"},
		{"block", "10.0.0.1"},
	}
	for _, tt := range tests {
		h := newHarness(t)
		if _, err := h.engine.IPManage(context.Background(), tt.action, tt.address); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("IPManage(%q, %q) err = %v, want ErrInvalidArgument", tt.action, tt.address, err)
		}
		if len(h.runner.commands()) != 0 {
			t.Errorf("IPManage(%q, %q) ran a command", tt.action, tt.address)
		}
	}
}

func TestSignaturesFromConfig(t *testing.T) {
	h := newHarness(t)
	h.engine.Config.Signatures = map[string]config.SignatureConfig{
		OpFirewallPort: {Stdout: []string{"Skipping"}},
	}
	h.runner.results["ufw allow 22/tcp"] = runner.Result{Stdout: "Skipping adding existing rule\n"}

	out, err := h.engine.FirewallPort(context.Background(), "open", 22, "")
	if err != nil {
		t.Fatal(err)
	}
	if out.Succeeded {
		t.Error("configured signature did not mark the run failed")
	}
}

func TestRootPrivilege(t *testing.T) {
	if got, want := RootPrivilege.Privileged(), os.Geteuid() == 0; got != want {
		t.Errorf("RootPrivilege.Privileged() = %v, want %v for euid %d", got, want, os.Geteuid())
	}
	if PrivilegeFunc(func() bool { return false }).Privileged() {
		t.Error("PrivilegeFunc ignored its function")
	}
}
