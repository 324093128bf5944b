package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// WindowsInspector inspects the Windows host from inside a WSL guest by
// shelling out to the interop binaries (powershell.exe, netsh.exe, ...).
type WindowsInspector struct {
	// FirewallRulePrefix names the firewall rule this tool manages.
	FirewallRulePrefix string
}

// NewWindowsInspector returns an Inspector backed by Windows interop commands.
func NewWindowsInspector() *WindowsInspector {
	return &WindowsInspector{FirewallRulePrefix: "browsertap-cdp"}
}

func (w *WindowsInspector) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return string(out), nil
}

func (w *WindowsInspector) ListBrowserProcesses(ctx context.Context) ([]Process, error) {
	script := `Get-CimInstance Win32_Process -Filter "Name='chrome.exe' or Name='msedge.exe' or Name='chromium.exe'" | Select-Object ProcessId,Name,CommandLine | ConvertTo-Json -Compress`
	out, err := w.run(ctx, "powershell.exe", "-NoProfile", "-Command", script)
	if err != nil {
		return nil, fmt.Errorf("list browser processes: %w", err)
	}
	return parseProcessJSON(out)
}

func (w *WindowsInspector) ListeningPorts(ctx context.Context) ([]ListeningPort, error) {
	out, err := w.run(ctx, "netstat.exe", "-ano", "-p", "tcp")
	if err != nil {
		return nil, fmt.Errorf("netstat: %w", err)
	}
	ports := parseNetstat(out)

	out6, err := w.run(ctx, "netstat.exe", "-ano", "-p", "tcpv6")
	if err != nil {
		slog.Debug("netstat tcpv6 failed", "error", err)
		return ports, nil
	}
	return append(ports, parseNetstat(out6)...), nil
}

func (w *WindowsInspector) PortProxyRules(ctx context.Context) ([]PortProxyRule, error) {
	var rules []PortProxyRule
	for _, kind := range []ForwardKind{ForwardV4, ForwardV6} {
		out, err := w.run(ctx, "netsh.exe", "interface", "portproxy", "show", kind.String())
		if err != nil {
			return nil, fmt.Errorf("show portproxy %s: %w", kind, err)
		}
		rules = append(rules, parsePortProxy(out, kind)...)
	}
	return rules, nil
}

func (w *WindowsInspector) FirewallAllows(ctx context.Context, port int) (bool, error) {
	name := fmt.Sprintf("%s-%d", w.FirewallRulePrefix, port)
	out, err := w.run(ctx, "netsh.exe", "advfirewall", "firewall", "show", "rule", "name="+name)
	if err != nil {
		// netsh exits nonzero when no rule matches.
		if strings.Contains(out, "No rules match") {
			return false, nil
		}
		return false, fmt.Errorf("show firewall rule: %w", err)
	}
	return strings.Contains(out, "Enabled:") && strings.Contains(out, "Yes"), nil
}

func (w *WindowsInspector) AddPortProxy(ctx context.Context, kind ForwardKind, listenPort int, connectAddr string, connectPort int) error {
	_, err := w.run(ctx, "netsh.exe", "interface", "portproxy", "add", kind.String(),
		"listenport="+strconv.Itoa(listenPort),
		"listenaddress=0.0.0.0",
		"connectport="+strconv.Itoa(connectPort),
		"connectaddress="+connectAddr,
	)
	if err != nil {
		return fmt.Errorf("add portproxy %s %d: %w", kind, listenPort, err)
	}
	return nil
}

func (w *WindowsInspector) DeletePortProxy(ctx context.Context, listenPort int) error {
	// A rule that is already absent counts as success for both families.
	for _, kind := range []ForwardKind{ForwardV4, ForwardV6} {
		out, err := w.run(ctx, "netsh.exe", "interface", "portproxy", "delete", kind.String(),
			"listenport="+strconv.Itoa(listenPort),
			"listenaddress=0.0.0.0",
		)
		if err != nil {
			slog.Debug("portproxy delete", "kind", kind.String(), "port", listenPort, "output", strings.TrimSpace(out))
		}
	}
	return nil
}

func (w *WindowsInspector) KillProcessTree(ctx context.Context, pid int) error {
	if _, err := w.run(ctx, "taskkill.exe", "/PID", strconv.Itoa(pid), "/T", "/F"); err != nil {
		return fmt.Errorf("taskkill %d: %w", pid, err)
	}
	return nil
}

func (w *WindowsInspector) StartDetached(ctx context.Context, path string, args []string) (int, error) {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", "''") + "'"
	}
	script := fmt.Sprintf(`(Start-Process -FilePath '%s' -ArgumentList %s -PassThru).Id`,
		strings.ReplaceAll(path, "'", "''"), strings.Join(quoted, ","))
	out, err := w.run(ctx, "powershell.exe", "-NoProfile", "-Command", script)
	if err != nil {
		return 0, fmt.Errorf("start browser: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse launched pid from %q: %w", strings.TrimSpace(out), err)
	}
	return pid, nil
}

// parseProcessJSON decodes ConvertTo-Json output, which emits a bare object
// for a single result and an array for several.
func parseProcessJSON(raw string) ([]Process, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	type cimProcess struct {
		ProcessID   int    `json:"ProcessId"`
		Name        string `json:"Name"`
		CommandLine string `json:"CommandLine"`
	}

	var list []cimProcess
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil, fmt.Errorf("parse process list: %w", err)
		}
	} else {
		var one cimProcess
		if err := json.Unmarshal([]byte(raw), &one); err != nil {
			return nil, fmt.Errorf("parse process entry: %w", err)
		}
		list = append(list, one)
	}

	procs := make([]Process, 0, len(list))
	for _, p := range list {
		procs = append(procs, Process{PID: p.ProcessID, Name: p.Name, CommandLine: p.CommandLine})
	}
	return procs, nil
}

// parseNetstat extracts LISTENING sockets from `netstat -ano` output.
func parseNetstat(out string) []ListeningPort {
	var ports []ListeningPort
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "TCP" || fields[3] != "LISTENING" {
			continue
		}
		addr, port, ok := splitHostPort(fields[1])
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil {
			continue
		}
		ports = append(ports, ListeningPort{Port: port, BindAddr: addr, PID: pid})
	}
	return ports
}

// splitHostPort handles both 127.0.0.1:9222 and [::1]:9222 forms.
func splitHostPort(s string) (string, int, bool) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, false
	}
	host := s[:idx]
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}

// parsePortProxy extracts rules from `netsh interface portproxy show` output.
func parsePortProxy(out string, kind ForwardKind) []PortProxyRule {
	var rules []PortProxyRule
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 4 {
			continue
		}
		listenPort, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		connectPort, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		rules = append(rules, PortProxyRule{
			ListenPort:  listenPort,
			ConnectAddr: fields[2],
			ConnectPort: connectPort,
			Kind:        kind,
		})
	}
	return rules
}
