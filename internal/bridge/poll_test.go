package bridge

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestPollBindFamilyDetectsV4(t *testing.T) {
	insp := &fakeInspector{listening: []ListeningPort{{Port: 9222, BindAddr: "127.0.0.1", PID: 1}}}
	res := PollBindFamily(context.Background(), insp, 9222, 3, time.Millisecond)
	if !res.Detected || res.Family != ForwardV4 {
		t.Fatalf("PollBindFamily() = %+v, want detected v4", res)
	}
}

func TestPollBindFamilyDetectsV6AfterDelay(t *testing.T) {
	insp := &fakeInspector{
		listening:           []ListeningPort{{Port: 9222, BindAddr: "::1", PID: 1}},
		listeningAfterCalls: 2,
	}
	res := PollBindFamily(context.Background(), insp, 9222, 5, time.Millisecond)
	if !res.Detected || res.Family != ForwardV6 {
		t.Fatalf("PollBindFamily() = %+v, want detected v6", res)
	}
	if insp.listCalls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", insp.listCalls)
	}
}

func TestPollBindFamilyTimesOut(t *testing.T) {
	insp := &fakeInspector{}
	res := PollBindFamily(context.Background(), insp, 9222, 3, time.Millisecond)
	if res.Detected {
		t.Fatalf("PollBindFamily() = %+v, want timed out", res)
	}
	if insp.listCalls != 3 {
		t.Fatalf("poll attempts = %d, want 3", insp.listCalls)
	}
}

func TestEnsureForwardingRuleRemovesStaleThenInstallsV4(t *testing.T) {
	// Scenario: browser bound to IPv4 loopback, a stale rule exists for the port.
	insp := &fakeInspector{
		listening: []ListeningPort{{Port: 9222, BindAddr: "127.0.0.1", PID: 50}},
		rules:     []PortProxyRule{{ListenPort: 9222, ConnectAddr: "127.0.0.1", ConnectPort: 9999, Kind: ForwardV4}},
	}
	r := NewResolver(insp, "myproj")

	kind, err := r.EnsureForwardingRule(context.Background(), 9222)
	if err != nil {
		t.Fatalf("EnsureForwardingRule() error = %v", err)
	}
	if kind != ForwardV4 {
		t.Fatalf("kind = %s, want v4tov4", kind)
	}
	if len(insp.deleted) != 1 || insp.deleted[0] != 9222 {
		t.Fatalf("deleted = %v, want stale rule for 9222 removed first", insp.deleted)
	}
	if len(insp.added) != 1 || insp.added[0].Kind != ForwardV4 || insp.added[0].ConnectAddr != "127.0.0.1" {
		t.Fatalf("added = %+v, want one v4 rule to 127.0.0.1", insp.added)
	}
}

func TestEnsureForwardingRuleConnectsToHostLoopback(t *testing.T) {
	// The browser listens on the host's own loopback. The guest dials the
	// host gateway (e.g. 172.29.240.1), but that address is the listener
	// side of the rule; installing it as the connect target would route the
	// forward back into the rule itself.
	insp := &fakeInspector{
		listening: []ListeningPort{{Port: 9222, BindAddr: "127.0.0.1", PID: 50}},
	}
	r := NewResolver(insp, "myproj")

	if _, err := r.EnsureForwardingRule(context.Background(), 9222); err != nil {
		t.Fatalf("EnsureForwardingRule() error = %v", err)
	}
	if len(insp.added) != 1 {
		t.Fatalf("added rules = %d, want 1", len(insp.added))
	}
	got := insp.added[0]
	if got.ConnectAddr != "127.0.0.1" {
		t.Fatalf("connect addr = %q, want 127.0.0.1", got.ConnectAddr)
	}
	if got.ListenPort != 9222 || got.ConnectPort != 9222 {
		t.Fatalf("rule ports = %d->%d, want 9222->9222", got.ListenPort, got.ConnectPort)
	}
}

func TestEnsureForwardingRuleUsesV6WhenBrowserBoundV6(t *testing.T) {
	insp := &fakeInspector{
		listening: []ListeningPort{{Port: 9222, BindAddr: "::1", PID: 50}},
	}
	r := NewResolver(insp, "myproj")

	kind, err := r.EnsureForwardingRule(context.Background(), 9222)
	if err != nil {
		t.Fatalf("EnsureForwardingRule() error = %v", err)
	}
	if kind != ForwardV6 {
		t.Fatalf("kind = %s, want v4tov6", kind)
	}
	if insp.added[0].ConnectAddr != "::1" {
		t.Fatalf("connect addr = %q, want ::1", insp.added[0].ConnectAddr)
	}
}

func TestEnsureForwardingRuleSurfacesRemediation(t *testing.T) {
	insp := &fakeInspector{failAdd: true}
	r := NewResolver(insp, "myproj")

	_, err := r.EnsureForwardingRule(context.Background(), 9222)
	if err == nil {
		t.Fatal("EnsureForwardingRule() = nil error, want remediation error")
	}
	if want := "netsh interface portproxy add"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q missing remediation command %q", err, want)
	}
}
