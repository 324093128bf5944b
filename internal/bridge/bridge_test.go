package bridge

import (
	"context"
	"strconv"
	"strings"
	"testing"
)

func chromeProc(pid, port int, bindAddr, profileDir string) Process {
	cmdline := "C:\\chrome.exe --type=browser --remote-debugging-port=" + strconv.Itoa(port)
	if bindAddr != "" {
		cmdline += " --remote-debugging-address=" + bindAddr
	}
	if profileDir != "" {
		cmdline += " --user-data-dir=" + profileDir
	}
	return Process{PID: pid, Name: "chrome.exe", CommandLine: cmdline}
}

func TestDiscoverInstancesDedupesByPort(t *testing.T) {
	insp := &fakeInspector{procs: []Process{
		chromeProc(100, 9222, "", "C:\\profiles\\main"),
		chromeProc(101, 9222, "", "C:\\profiles\\main"), // renderer subprocess, same args
		chromeProc(102, 9223, "0.0.0.0", "C:\\profiles\\other"),
		{PID: 103, Name: "chrome.exe", CommandLine: "C:\\chrome.exe"}, // no control port
	}}
	r := NewResolver(insp, "proj")

	instances, err := r.DiscoverInstances(context.Background())
	if err != nil {
		t.Fatalf("DiscoverInstances() error = %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("DiscoverInstances() = %d instances, want 2", len(instances))
	}
	if instances[0].Port != 9222 || instances[0].PID != 100 {
		t.Fatalf("first instance = %+v, want port 9222 pid 100", instances[0])
	}
	if instances[1].BindAddr != "0.0.0.0" {
		t.Fatalf("second instance bind = %q, want 0.0.0.0", instances[1].BindAddr)
	}
}

func TestMatchInstanceTiers(t *testing.T) {
	exact := Instance{PID: 1, Port: 9222, ProfileDir: "C:\\tmp\\" + ProfileMarker + "-myproj"}
	legacy := Instance{PID: 2, Port: 9223, ProfileDir: "C:\\tmp\\chrome-debug-myproj"}
	external := Instance{PID: 3, Port: 9224, BindAddr: "0.0.0.0"}
	plain := Instance{PID: 4, Port: 9225, BindAddr: "127.0.0.1"}

	t.Run("exact_profile_wins", func(t *testing.T) {
		got, tier := MatchInstance([]Instance{plain, external, legacy, exact}, "myproj")
		if tier != TierExactProfile || got.PID != 1 {
			t.Fatalf("MatchInstance() = pid %d tier %s, want pid 1 exact-profile", got.PID, tier)
		}
	})

	t.Run("legacy_name_second", func(t *testing.T) {
		got, tier := MatchInstance([]Instance{plain, external, legacy}, "myproj")
		if tier != TierLegacyName || got.PID != 2 {
			t.Fatalf("MatchInstance() = pid %d tier %s, want pid 2 legacy-name", got.PID, tier)
		}
	})

	t.Run("external_bind_third", func(t *testing.T) {
		got, tier := MatchInstance([]Instance{plain, external}, "myproj")
		if tier != TierExternalBind || got.PID != 3 {
			t.Fatalf("MatchInstance() = pid %d tier %s, want pid 3 external-bind", got.PID, tier)
		}
	})

	t.Run("first_instance_last_resort", func(t *testing.T) {
		got, tier := MatchInstance([]Instance{plain}, "myproj")
		if tier != TierFirst || got.PID != 4 {
			t.Fatalf("MatchInstance() = pid %d tier %s, want pid 4 first-instance", got.PID, tier)
		}
	})

	t.Run("empty_list", func(t *testing.T) {
		_, tier := MatchInstance(nil, "myproj")
		if tier != TierNone {
			t.Fatalf("MatchInstance(nil) tier = %s, want none", tier)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		input := []Instance{plain, external, legacy, exact}
		first, firstTier := MatchInstance(input, "myproj")
		for i := 0; i < 5; i++ {
			got, tier := MatchInstance(input, "myproj")
			if got != first || tier != firstTier {
				t.Fatalf("MatchInstance() unstable: got pid %d tier %s", got.PID, tier)
			}
		}
	})
}

func TestFindFreePort(t *testing.T) {
	instances := []Instance{{Port: 9222}, {Port: 9223}}
	if got := FindFreePort(instances, 9222); got != 9224 {
		t.Fatalf("FindFreePort() = %d, want 9224", got)
	}

	// All 100 candidates claimed: wraps back to the start port.
	var full []Instance
	for p := 9222; p < 9322; p++ {
		full = append(full, Instance{Port: p})
	}
	if got := FindFreePort(full, 9222); got != 9222 {
		t.Fatalf("FindFreePort() wrap = %d, want 9222", got)
	}
}

func TestParseDefaultGateway(t *testing.T) {
	table := "Iface\tDestination\tGateway\tFlags\n" +
		"eth0\t00000000\t01001CAC\t0003\n" +
		"eth0\t00001CAC\t00000000\t0001\n"
	if got := parseDefaultGateway(table); got != "172.28.0.1" {
		t.Fatalf("parseDefaultGateway() = %q, want 172.28.0.1", got)
	}
	if got := parseDefaultGateway("Iface\tDestination\tGateway\n"); got != "" {
		t.Fatalf("parseDefaultGateway(no default) = %q, want empty", got)
	}
}

func TestTerminateManagedOnlyTouchesMarkedProcesses(t *testing.T) {
	insp := &fakeInspector{procs: []Process{
		chromeProc(10, 9222, "", "C:\\Users\\op\\AppData\\Local\\Google\\Chrome\\User Data"),
		chromeProc(11, 9223, "", "C:\\tmp\\"+ProfileMarker+"-myproj"),
	}}
	r := NewResolver(insp, "myproj")

	killed, err := r.TerminateManaged(context.Background())
	if err != nil {
		t.Fatalf("TerminateManaged() error = %v", err)
	}
	if killed != 1 {
		t.Fatalf("TerminateManaged() = %d, want 1", killed)
	}
	if len(insp.killed) != 1 || insp.killed[0] != 11 {
		t.Fatalf("killed pids = %v, want [11]", insp.killed)
	}
}

func TestLaunchBrowserRefusesUnmarkedProfile(t *testing.T) {
	r := NewResolver(&fakeInspector{}, "myproj")
	if _, err := r.LaunchBrowser(context.Background(), "C:\\chrome.exe", 9222, "C:\\Users\\op\\profile"); err == nil {
		t.Fatal("LaunchBrowser() with unmarked profile = nil error, want refusal")
	}
}

func TestLaunchBrowserPassesControlPortArgs(t *testing.T) {
	insp := &fakeInspector{launchedPID: 321}
	r := NewResolver(insp, "myproj")
	profile := "C:\\tmp\\" + ProfileMarker + "-myproj"

	pid, err := r.LaunchBrowser(context.Background(), "C:\\chrome.exe", 9250, profile)
	if err != nil {
		t.Fatalf("LaunchBrowser() error = %v", err)
	}
	if pid != 321 {
		t.Fatalf("LaunchBrowser() pid = %d, want 321", pid)
	}
	joined := strings.Join(insp.launchArgs, " ")
	if !strings.Contains(joined, "--remote-debugging-port=9250") {
		t.Fatalf("launch args missing control port: %q", joined)
	}
	if !strings.Contains(joined, profile) {
		t.Fatalf("launch args missing profile dir: %q", joined)
	}
}
