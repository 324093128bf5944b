package diagnose

import (
	"context"
	"errors"
	"testing"

	"github.com/browsertap/browsertap/internal/bridge"
)

type fakeInspector struct {
	procs     []bridge.Process
	listening []bridge.ListeningPort
	rules     []bridge.PortProxyRule
	firewall  bool

	deletedPorts []int
	killedPIDs   []int
}

func (f *fakeInspector) ListBrowserProcesses(context.Context) ([]bridge.Process, error) {
	return f.procs, nil
}
func (f *fakeInspector) ListeningPorts(context.Context) ([]bridge.ListeningPort, error) {
	return f.listening, nil
}
func (f *fakeInspector) PortProxyRules(context.Context) ([]bridge.PortProxyRule, error) {
	return f.rules, nil
}
func (f *fakeInspector) FirewallAllows(context.Context, int) (bool, error) {
	return f.firewall, nil
}
func (f *fakeInspector) AddPortProxy(context.Context, bridge.ForwardKind, int, string, int) error {
	return nil
}
func (f *fakeInspector) DeletePortProxy(_ context.Context, port int) error {
	f.deletedPorts = append(f.deletedPorts, port)
	var kept []bridge.PortProxyRule
	for _, r := range f.rules {
		if r.ListenPort != port {
			kept = append(kept, r)
		}
	}
	f.rules = kept
	return nil
}
func (f *fakeInspector) KillProcessTree(_ context.Context, pid int) error {
	f.killedPIDs = append(f.killedPIDs, pid)
	return nil
}
func (f *fakeInspector) StartDetached(context.Context, string, []string) (int, error) {
	return 0, errors.New("not supported")
}

func unreachable(context.Context, string, int) error { return errors.New("connection refused") }

func TestRunReportsStaleRuleConflict(t *testing.T) {
	// A forwarding rule exists for the port but the process behind it died.
	insp := &fakeInspector{
		procs: []bridge.Process{
			{PID: 4321, Name: "chrome.exe", CommandLine: `chrome.exe --remote-debugging-port=9222 --user-data-dir=C:\tmp\browsertap-profile-shop`},
		},
		rules: []bridge.PortProxyRule{
			{ListenPort: 9222, ConnectAddr: "127.0.0.1", ConnectPort: 9222, Kind: bridge.ForwardV4},
		},
	}
	d := NewDoctor(insp, unreachable)

	rep := d.Run(context.Background(), "172.28.0.1", 9222)
	if !rep.HasPortProxyConflict {
		t.Fatalf("Run() = %+v, want HasPortProxyConflict", rep)
	}
	if rep.Reachable {
		t.Fatal("Run() reports reachable despite failing probe")
	}
	if rep.SuggestedFix == nil {
		t.Fatal("Run() SuggestedFix = nil, want remediation hint")
	}
}

func TestAutoFixRemovesRuleAndTerminatesManaged(t *testing.T) {
	insp := &fakeInspector{
		procs: []bridge.Process{
			{PID: 4321, Name: "chrome.exe", CommandLine: `chrome.exe --remote-debugging-port=9222 --user-data-dir=C:\tmp\browsertap-profile-shop`},
			{PID: 9999, Name: "chrome.exe", CommandLine: `chrome.exe`}, // personal session
		},
		rules: []bridge.PortProxyRule{
			{ListenPort: 9222, ConnectAddr: "127.0.0.1", ConnectPort: 9222, Kind: bridge.ForwardV4},
		},
	}
	d := NewDoctor(insp, unreachable)
	resolver := bridge.NewResolver(insp, "shop")

	rep := d.Run(context.Background(), "172.28.0.1", 9222)
	if err := d.AutoFix(context.Background(), rep, resolver, func() bool { return true }); err != nil {
		t.Fatalf("AutoFix() = %v", err)
	}

	if len(insp.deletedPorts) == 0 || insp.deletedPorts[len(insp.deletedPorts)-1] != 9222 {
		t.Fatalf("deleted ports = %v, want 9222 removed", insp.deletedPorts)
	}
	if len(insp.rules) != 0 {
		t.Fatalf("rules after fix = %v, want none", insp.rules)
	}
	if len(insp.killedPIDs) != 1 || insp.killedPIDs[0] != 4321 {
		t.Fatalf("killed = %v, want only the managed pid 4321", insp.killedPIDs)
	}
}

func TestAutoFixRequiresConfirmation(t *testing.T) {
	insp := &fakeInspector{
		rules: []bridge.PortProxyRule{{ListenPort: 9222, Kind: bridge.ForwardV4}},
	}
	d := NewDoctor(insp, unreachable)
	resolver := bridge.NewResolver(insp, "shop")

	rep := d.Run(context.Background(), "172.28.0.1", 9222)
	if err := d.AutoFix(context.Background(), rep, resolver, func() bool { return false }); err == nil {
		t.Fatal("AutoFix() = nil with declined confirmation, want error")
	}
	if len(insp.deletedPorts) != 0 || len(insp.killedPIDs) != 0 {
		t.Fatalf("declined AutoFix mutated host state: deleted=%v killed=%v", insp.deletedPorts, insp.killedPIDs)
	}
}

func TestAutoFixRefusesNonConflictReport(t *testing.T) {
	insp := &fakeInspector{}
	d := NewDoctor(insp, unreachable)
	rep := &Report{Port: 9222}
	if err := d.AutoFix(context.Background(), rep, bridge.NewResolver(insp, "shop"), func() bool { return true }); err == nil {
		t.Fatal("AutoFix() on a non-conflict report = nil, want error")
	}
}

func TestRunDetectsMismatchedDeclaredPort(t *testing.T) {
	insp := &fakeInspector{
		procs: []bridge.Process{
			{PID: 1, Name: "chrome.exe", CommandLine: "chrome.exe --remote-debugging-port=9333"},
		},
		listening: []bridge.ListeningPort{{Port: 9333, BindAddr: "127.0.0.1", PID: 1}},
	}
	d := NewDoctor(insp, unreachable)

	rep := d.Run(context.Background(), "172.28.0.1", 9222)
	if rep.ActualPort == nil || *rep.ActualPort != 9333 {
		t.Fatalf("Run() ActualPort = %v, want 9333", rep.ActualPort)
	}
	if rep.PortListening {
		t.Fatal("Run() PortListening = true for the configured port, want false")
	}
}

func TestRunReportsStrayRulesNearPort(t *testing.T) {
	insp := &fakeInspector{
		listening: []bridge.ListeningPort{{Port: 9222, BindAddr: "127.0.0.1", PID: 7}},
		firewall:  true,
		rules: []bridge.PortProxyRule{
			{ListenPort: 9222, Kind: bridge.ForwardV4},
			{ListenPort: 9250, Kind: bridge.ForwardV4},
			{ListenPort: 60001, Kind: bridge.ForwardV4}, // outside scan range
		},
	}
	d := NewDoctor(insp, func(context.Context, string, int) error { return nil })

	rep := d.Run(context.Background(), "172.28.0.1", 9222)
	if !rep.Reachable || rep.HasPortProxyConflict {
		t.Fatalf("Run() = %+v, want reachable without conflict", rep)
	}
	if len(rep.StrayRulePorts) != 1 || rep.StrayRulePorts[0] != 9250 {
		t.Fatalf("StrayRulePorts = %v, want [9250]", rep.StrayRulePorts)
	}
	if rep.SuggestedFix != nil {
		t.Fatalf("SuggestedFix = %q for a reachable endpoint, want nil", *rep.SuggestedFix)
	}
}
