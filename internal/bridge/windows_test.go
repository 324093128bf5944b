package bridge

import "testing"

func TestParseProcessJSON(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		raw := `[{"ProcessId":100,"Name":"chrome.exe","CommandLine":"chrome --remote-debugging-port=9222"},` +
			`{"ProcessId":101,"Name":"msedge.exe","CommandLine":"msedge"}]`
		procs, err := parseProcessJSON(raw)
		if err != nil {
			t.Fatalf("parseProcessJSON() error = %v", err)
		}
		if len(procs) != 2 || procs[0].PID != 100 || procs[1].Name != "msedge.exe" {
			t.Fatalf("parseProcessJSON() = %+v", procs)
		}
	})

	t.Run("single_object", func(t *testing.T) {
		procs, err := parseProcessJSON(`{"ProcessId":55,"Name":"chrome.exe","CommandLine":"chrome"}`)
		if err != nil {
			t.Fatalf("parseProcessJSON() error = %v", err)
		}
		if len(procs) != 1 || procs[0].PID != 55 {
			t.Fatalf("parseProcessJSON() = %+v", procs)
		}
	})

	t.Run("empty", func(t *testing.T) {
		procs, err := parseProcessJSON("  \n")
		if err != nil || procs != nil {
			t.Fatalf("parseProcessJSON(empty) = %v, %v", procs, err)
		}
	})
}

func TestParseNetstat(t *testing.T) {
	out := `
Active Connections

  Proto  Local Address          Foreign Address        State           PID
  TCP    0.0.0.0:135            0.0.0.0:0              LISTENING       1100
  TCP    127.0.0.1:9222         0.0.0.0:0              LISTENING       4242
  TCP    [::1]:9223             [::]:0                 LISTENING       4243
  TCP    192.168.1.5:50332      142.250.74.78:443      ESTABLISHED     2001
`
	ports := parseNetstat(out)
	if len(ports) != 3 {
		t.Fatalf("parseNetstat() = %d entries, want 3", len(ports))
	}
	if ports[1].Port != 9222 || ports[1].BindAddr != "127.0.0.1" || ports[1].PID != 4242 {
		t.Fatalf("parseNetstat()[1] = %+v", ports[1])
	}
	if ports[2].BindAddr != "::1" || ports[2].Port != 9223 {
		t.Fatalf("parseNetstat()[2] = %+v, want ::1 9223", ports[2])
	}
}

func TestParsePortProxy(t *testing.T) {
	out := `
Listen on ipv4:             Connect to ipv4:

Address         Port        Address         Port
--------------- ----------  --------------- ----------
0.0.0.0         9222        127.0.0.1       9222
0.0.0.0         9230        127.0.0.1       9230
`
	rules := parsePortProxy(out, ForwardV4)
	if len(rules) != 2 {
		t.Fatalf("parsePortProxy() = %d rules, want 2", len(rules))
	}
	if rules[0].ListenPort != 9222 || rules[0].ConnectAddr != "127.0.0.1" || rules[0].Kind != ForwardV4 {
		t.Fatalf("parsePortProxy()[0] = %+v", rules[0])
	}
}

func TestSplitHostPort(t *testing.T) {
	cases := []struct {
		in   string
		addr string
		port int
		ok   bool
	}{
		{"127.0.0.1:9222", "127.0.0.1", 9222, true},
		{"[::1]:9223", "::1", 9223, true},
		{"0.0.0.0:80", "0.0.0.0", 80, true},
		{"garbage", "", 0, false},
	}
	for _, tc := range cases {
		addr, port, ok := splitHostPort(tc.in)
		if addr != tc.addr || port != tc.port || ok != tc.ok {
			t.Fatalf("splitHostPort(%q) = %q,%d,%v; want %q,%d,%v", tc.in, addr, port, ok, tc.addr, tc.port, tc.ok)
		}
	}
}
