package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ProfileMarker tags profile directories created by this tool. Only processes
// whose launch arguments carry it may ever be terminated.
const ProfileMarker = "browsertap-profile"

// legacyProfilePrefix matches profile directories created by older setups.
const legacyProfilePrefix = "chrome-debug-"

// MatchTier reports how confidently an instance was matched to the project,
// so callers can decide between connecting silently and prompting.
type MatchTier int

const (
	TierNone MatchTier = iota
	TierExactProfile
	TierLegacyName
	TierExternalBind
	TierFirst
)

func (t MatchTier) String() string {
	switch t {
	case TierExactProfile:
		return "exact-profile"
	case TierLegacyName:
		return "legacy-name"
	case TierExternalBind:
		return "external-bind"
	case TierFirst:
		return "first-instance"
	default:
		return "none"
	}
}

// Instance is one discovered browser process with a control port.
type Instance struct {
	PID        int
	Port       int
	BindAddr   string
	ProfileDir string
}

// State holds the resolved bridge configuration for a cross-host session.
type State struct {
	HostGateway string
	Port        int
	ForwardKind ForwardKind
	ProfileDir  string
}

// Resolver makes a host-side browser control port reachable from the guest.
type Resolver struct {
	insp      Inspector
	projectID string
}

// NewResolver creates a bridge resolver for the given project.
func NewResolver(insp Inspector, projectID string) *Resolver {
	return &Resolver{insp: insp, projectID: projectID}
}

// DetectCrossHost reports whether the monitor runs inside a virtualized guest
// whose browser lives on the host. Pure environment inspection, no side
// effects.
func DetectCrossHost() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" || os.Getenv("WSL_INTEROP") != "" {
		return true
	}
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

// ResolveHostGateway returns the host address from the guest's point of view,
// read from the default route. Fails soft to "" when undetectable.
func ResolveHostGateway() string {
	data, err := os.ReadFile("/proc/net/route")
	if err != nil {
		return ""
	}
	return parseDefaultGateway(string(data))
}

// parseDefaultGateway finds the gateway of the 0.0.0.0/0 route in
// /proc/net/route (little-endian hex fields).
func parseDefaultGateway(table string) string {
	for i, line := range strings.Split(table, "\n") {
		if i == 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != "00000000" {
			continue
		}
		gw, err := strconv.ParseUint(fields[2], 16, 32)
		if err != nil {
			continue
		}
		return fmt.Sprintf("%d.%d.%d.%d", byte(gw), byte(gw>>8), byte(gw>>16), byte(gw>>24))
	}
	return ""
}

// DiscoverInstances enumerates host browser processes launched with a control
// port. One browser presents many subprocess entries with identical
// arguments, so results are deduplicated by port.
func (r *Resolver) DiscoverInstances(ctx context.Context) ([]Instance, error) {
	procs, err := r.insp.ListBrowserProcesses(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover instances: %w", err)
	}

	seen := make(map[int]bool)
	var instances []Instance
	for _, p := range procs {
		inst, ok := instanceFromArgs(p)
		if !ok || seen[inst.Port] {
			continue
		}
		seen[inst.Port] = true
		instances = append(instances, inst)
	}
	return instances, nil
}

// instanceFromArgs extracts control-port launch arguments from a command line.
func instanceFromArgs(p Process) (Instance, bool) {
	port := argValueInt(p.CommandLine, "--remote-debugging-port=")
	if port == 0 {
		return Instance{}, false
	}
	return Instance{
		PID:        p.PID,
		Port:       port,
		BindAddr:   argValue(p.CommandLine, "--remote-debugging-address="),
		ProfileDir: argValue(p.CommandLine, "--user-data-dir="),
	}, true
}

func argValue(cmdline, prefix string) string {
	idx := strings.Index(cmdline, prefix)
	if idx < 0 {
		return ""
	}
	rest := cmdline[idx+len(prefix):]
	rest = strings.Trim(rest, `"`)
	if end := strings.IndexAny(rest, " \""); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func argValueInt(cmdline, prefix string) int {
	v, err := strconv.Atoi(argValue(cmdline, prefix))
	if err != nil {
		return 0
	}
	return v
}

// MatchInstance picks the instance belonging to projectID using tiered
// matching: exact profile marker, legacy naming convention, first externally
// bound instance, first instance at all. Deterministic for a given input.
func MatchInstance(instances []Instance, projectID string) (Instance, MatchTier) {
	if len(instances) == 0 {
		return Instance{}, TierNone
	}

	exactMarker := ProfileMarker + "-" + projectID
	for _, inst := range instances {
		if strings.Contains(inst.ProfileDir, exactMarker) {
			return inst, TierExactProfile
		}
	}

	legacy := legacyProfilePrefix + projectID
	for _, inst := range instances {
		if strings.Contains(inst.ProfileDir, legacy) {
			return inst, TierLegacyName
		}
	}

	for _, inst := range instances {
		if inst.BindAddr != "" && inst.BindAddr != "127.0.0.1" && inst.BindAddr != "localhost" && inst.BindAddr != "::1" {
			return inst, TierExternalBind
		}
	}

	return instances[0], TierFirst
}

// FindFreePort scans from startPort skipping ports claimed by discovered
// instances. After 100 attempts it wraps back to startPort as a last resort;
// that return is a possible collision, not a guaranteed-free port.
func FindFreePort(instances []Instance, startPort int) int {
	used := make(map[int]bool, len(instances))
	for _, inst := range instances {
		used[inst.Port] = true
	}
	for p := startPort; p < startPort+100; p++ {
		if !used[p] {
			return p
		}
	}
	return startPort
}

// EnsureForwardingRule installs the forwarding rule matching the family the
// browser actually bound to. The rule always connects to the host's own
// loopback: the browser binds there, and the gateway address the guest dials
// is the listener side of this rule, never its target. Any stale rule for
// the port is removed first; "rule absent" counts as success. Mutating
// host-wide configuration needs elevation, so failure is returned for the
// caller to surface as a manual remediation command rather than treated as
// fatal.
func (r *Resolver) EnsureForwardingRule(ctx context.Context, port int) (ForwardKind, error) {
	if err := r.insp.DeletePortProxy(ctx, port); err != nil {
		slog.Debug("stale rule removal", "port", port, "error", err)
	}

	// The browser binds its loopback socket asynchronously after launch.
	res := PollBindFamily(ctx, r.insp, port, defaultPollAttempts, defaultPollInterval)
	kind := ForwardV4
	connectAddr := "127.0.0.1"
	if res.Detected && res.Family == ForwardV6 {
		kind = ForwardV6
		connectAddr = "::1"
	}
	if !res.Detected {
		slog.Warn("bind address undetermined, defaulting to IPv4 forward", "port", port)
	}

	if err := r.insp.AddPortProxy(ctx, kind, port, connectAddr, port); err != nil {
		return ForwardNone, fmt.Errorf(
			"install forwarding rule (run as admin: netsh interface portproxy add %s listenport=%d listenaddress=0.0.0.0 connectport=%d connectaddress=%s): %w",
			kind, port, port, connectAddr, err)
	}

	slog.Info("forwarding rule installed", "kind", kind.String(), "port", port, "connect_addr", connectAddr)
	return kind, nil
}

// LaunchBrowser starts a browser with an explicit control port and a
// dedicated profile directory. Reusing the operator's default profile would
// trip the single-instance restriction: the second launch hands its arguments
// to the running instance and exits, and the control port never opens.
func (r *Resolver) LaunchBrowser(ctx context.Context, path string, port int, profileDir string) (int, error) {
	if !strings.Contains(profileDir, ProfileMarker) {
		return 0, fmt.Errorf("refusing to launch with unmarked profile dir %q", profileDir)
	}
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", profileDir),
		"--no-first-run",
		"--no-default-browser-check",
	}
	pid, err := r.insp.StartDetached(ctx, path, args)
	if err != nil {
		return 0, fmt.Errorf("launch browser: %w", err)
	}
	slog.Info("browser process launched", "pid", pid, "port", port, "profile_dir", profileDir)
	return pid, nil
}

// ManagedProfileDir returns the dedicated profile directory for the project.
func (r *Resolver) ManagedProfileDir(base string) string {
	return strings.TrimRight(base, "\\/") + "\\" + ProfileMarker + "-" + r.projectID
}

// TerminateManaged kills browser processes whose launch arguments carry this
// tool's profile marker, by process tree. Processes without the marker are
// never touched; a personal browser session must never be closed here.
func (r *Resolver) TerminateManaged(ctx context.Context) (int, error) {
	procs, err := r.insp.ListBrowserProcesses(ctx)
	if err != nil {
		return 0, fmt.Errorf("terminate managed: %w", err)
	}

	killed := 0
	for _, p := range procs {
		if !strings.Contains(p.CommandLine, ProfileMarker) {
			continue
		}
		if err := r.insp.KillProcessTree(ctx, p.PID); err != nil {
			slog.Warn("kill managed instance failed", "pid", p.PID, "error", err)
			continue
		}
		slog.Info("terminated managed instance", "pid", p.PID)
		killed++
	}
	return killed, nil
}
