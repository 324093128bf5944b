package diagnose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/browsertap/browsertap/internal/bridge"
)

// strayScanRange bounds the stray-rule scan around the configured port.
const strayScanRange = 100

// Report is the structured diagnosis of a failed connection attempt.
type Report struct {
	Port int `json:"port"`

	BrowserProcesses int  `json:"browser_processes"`
	PortListening    bool `json:"port_listening"`
	ListenerPID      int  `json:"listener_pid,omitempty"`
	// ActualPort is the control port parsed from launch arguments when it
	// differs from the configured one. Nil when no process declares a port.
	ActualPort *int `json:"actual_port,omitempty"`

	FirewallAllowed bool `json:"firewall_allowed"`
	HasForwardRule  bool `json:"has_forward_rule"`
	// HasPortProxyConflict is set when a forwarding rule exists for the port
	// but no live process is listening behind it.
	HasPortProxyConflict bool  `json:"has_port_proxy_conflict"`
	StrayRulePorts       []int `json:"stray_rule_ports,omitempty"`

	Reachable    bool    `json:"reachable"`
	SuggestedFix *string `json:"suggested_fix,omitempty"`
}

// EndpointProber is the connectivity test issued as the final probe.
type EndpointProber func(ctx context.Context, addr string, port int) error

// Doctor runs the ordered probe sequence after a connection failure.
type Doctor struct {
	insp  bridge.Inspector
	probe EndpointProber
}

// NewDoctor creates a doctor over the given host inspector and endpoint probe.
func NewDoctor(insp bridge.Inspector, probe EndpointProber) *Doctor {
	return &Doctor{insp: insp, probe: probe}
}

// Run executes the probes in order and classifies the failure. Individual
// probe errors degrade that probe's answer rather than aborting the run; a
// partial report still beats no report.
func (d *Doctor) Run(ctx context.Context, addr string, port int) *Report {
	rep := &Report{Port: port}

	procs, err := d.insp.ListBrowserProcesses(ctx)
	if err != nil {
		slog.Warn("process probe failed", "error", err)
	}
	rep.BrowserProcesses = len(procs)

	listeners, err := d.insp.ListeningPorts(ctx)
	if err != nil {
		slog.Warn("socket probe failed", "error", err)
	}
	for _, l := range listeners {
		if l.Port == port {
			rep.PortListening = true
			rep.ListenerPID = l.PID
			break
		}
	}

	d.probeLaunchArgs(procs, port, rep)

	allowed, err := d.insp.FirewallAllows(ctx, port)
	if err != nil {
		slog.Warn("firewall probe failed", "error", err)
	}
	rep.FirewallAllowed = allowed

	rules, err := d.insp.PortProxyRules(ctx)
	if err != nil {
		slog.Warn("forwarding rule probe failed", "error", err)
	}
	for _, r := range rules {
		if r.ListenPort == port {
			rep.HasForwardRule = true
		} else if r.ListenPort >= port-strayScanRange && r.ListenPort <= port+strayScanRange {
			rep.StrayRulePorts = append(rep.StrayRulePorts, r.ListenPort)
		}
	}
	rep.HasPortProxyConflict = rep.HasForwardRule && !rep.PortListening

	if d.probe != nil {
		rep.Reachable = d.probe(ctx, addr, port) == nil
	}

	rep.SuggestedFix = suggestFix(rep)
	return rep
}

// probeLaunchArgs parses the control-port arguments of the discovered
// processes to spot a browser listening on a different port than configured.
func (d *Doctor) probeLaunchArgs(procs []bridge.Process, port int, rep *Report) {
	for _, p := range procs {
		declared := declaredPort(p.CommandLine)
		if declared == 0 {
			continue
		}
		if declared == port {
			return
		}
		if rep.ActualPort == nil {
			v := declared
			rep.ActualPort = &v
		}
	}
}

func declaredPort(cmdline string) int {
	const prefix = "--remote-debugging-port="
	idx := strings.Index(cmdline, prefix)
	if idx < 0 {
		return 0
	}
	rest := cmdline[idx+len(prefix):]
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func suggestFix(rep *Report) *string {
	var fix string
	switch {
	case rep.Reachable:
		return nil
	case rep.HasPortProxyConflict:
		fix = fmt.Sprintf("stale forwarding rule on port %d with no live listener; run the auto-fix to remove it and relaunch", rep.Port)
	case rep.ActualPort != nil:
		fix = fmt.Sprintf("a browser declares control port %d, not the configured %d; update the port setting or relaunch", *rep.ActualPort, rep.Port)
	case rep.BrowserProcesses == 0:
		fix = "no browser process found on the host; launch one with a control port or switch to launch mode"
	case !rep.PortListening:
		fix = fmt.Sprintf("a browser is running but nothing listens on port %d; it was likely started without a control port", rep.Port)
	case !rep.FirewallAllowed:
		fix = fmt.Sprintf("port %d is listening but the firewall has no allow rule for it", rep.Port)
	case !rep.HasForwardRule:
		fix = fmt.Sprintf("port %d is listening but no forwarding rule exposes it to this side of the bridge", rep.Port)
	default:
		fix = "environment looks consistent; the endpoint probe still failed, check host networking"
	}
	return &fix
}

// AutoFix removes the stale forwarding rule and terminates the managed
// browser instance so a clean relaunch can succeed. It only acts on a
// conflict report and only after confirm returns true; it never runs
// unprompted.
func (d *Doctor) AutoFix(ctx context.Context, rep *Report, resolver *bridge.Resolver, confirm func() bool) error {
	if !rep.HasPortProxyConflict {
		return fmt.Errorf("auto-fix only applies to a stale forwarding rule conflict")
	}
	if confirm == nil || !confirm() {
		return fmt.Errorf("auto-fix declined")
	}

	if err := d.insp.DeletePortProxy(ctx, rep.Port); err != nil {
		return fmt.Errorf("remove stale rule on port %d: %w", rep.Port, err)
	}
	slog.Info("stale forwarding rule removed", "port", rep.Port)

	killed, err := resolver.TerminateManaged(ctx)
	if err != nil {
		return fmt.Errorf("terminate managed instance: %w", err)
	}
	slog.Info("auto-fix complete", "port", rep.Port, "terminated", killed)
	return nil
}
