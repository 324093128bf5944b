package bridge

import (
	"context"
	"fmt"
)

// fakeInspector is an in-memory Inspector for resolver tests.
type fakeInspector struct {
	procs     []Process
	listening []ListeningPort
	rules     []PortProxyRule
	firewall  map[int]bool

	killed      []int
	added       []PortProxyRule
	deleted     []int
	launchedPID int
	launchArgs  []string

	listCalls int
	// listeningAfterCalls makes ListeningPorts empty until this many calls
	// have happened, to exercise bind polling.
	listeningAfterCalls int

	failAdd bool
}

func (f *fakeInspector) ListBrowserProcesses(context.Context) ([]Process, error) {
	return f.procs, nil
}

func (f *fakeInspector) ListeningPorts(context.Context) ([]ListeningPort, error) {
	f.listCalls++
	if f.listCalls <= f.listeningAfterCalls {
		return nil, nil
	}
	return f.listening, nil
}

func (f *fakeInspector) PortProxyRules(context.Context) ([]PortProxyRule, error) {
	return f.rules, nil
}

func (f *fakeInspector) FirewallAllows(_ context.Context, port int) (bool, error) {
	return f.firewall[port], nil
}

func (f *fakeInspector) AddPortProxy(_ context.Context, kind ForwardKind, listenPort int, connectAddr string, connectPort int) error {
	if f.failAdd {
		return fmt.Errorf("access denied")
	}
	rule := PortProxyRule{ListenPort: listenPort, ConnectAddr: connectAddr, ConnectPort: connectPort, Kind: kind}
	f.added = append(f.added, rule)
	f.rules = append(f.rules, rule)
	return nil
}

func (f *fakeInspector) DeletePortProxy(_ context.Context, listenPort int) error {
	f.deleted = append(f.deleted, listenPort)
	kept := f.rules[:0]
	for _, r := range f.rules {
		if r.ListenPort != listenPort {
			kept = append(kept, r)
		}
	}
	f.rules = kept
	return nil
}

func (f *fakeInspector) KillProcessTree(_ context.Context, pid int) error {
	f.killed = append(f.killed, pid)
	kept := f.procs[:0]
	for _, p := range f.procs {
		if p.PID != pid {
			kept = append(kept, p)
		}
	}
	f.procs = kept
	return nil
}

func (f *fakeInspector) StartDetached(_ context.Context, path string, args []string) (int, error) {
	f.launchArgs = append([]string{path}, args...)
	if f.launchedPID == 0 {
		f.launchedPID = 7777
	}
	return f.launchedPID, nil
}
