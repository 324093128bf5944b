package bridge

import "context"

// ForwardKind identifies the port-forwarding rule family.
type ForwardKind int

const (
	ForwardNone ForwardKind = iota
	ForwardV4
	ForwardV6
)

func (k ForwardKind) String() string {
	switch k {
	case ForwardV4:
		return "v4tov4"
	case ForwardV6:
		return "v4tov6"
	default:
		return "none"
	}
}

// Process describes one browser process visible on the host side.
type Process struct {
	PID         int
	Name        string
	CommandLine string
}

// ListeningPort describes one listening TCP socket on the host.
type ListeningPort struct {
	Port     int
	BindAddr string
	PID      int
}

// PortProxyRule describes one host forwarding rule.
type PortProxyRule struct {
	ListenPort  int
	ConnectAddr string
	ConnectPort int
	Kind        ForwardKind
}

// Inspector is the narrow host-inspection surface the bridge resolver and
// diagnostics run against. One implementation per target OS; tests use fakes.
// Keeping OS-specific string parsing behind this interface keeps the callers
// free of it.
type Inspector interface {
	ListBrowserProcesses(ctx context.Context) ([]Process, error)
	ListeningPorts(ctx context.Context) ([]ListeningPort, error)
	PortProxyRules(ctx context.Context) ([]PortProxyRule, error)
	FirewallAllows(ctx context.Context, port int) (bool, error)
	AddPortProxy(ctx context.Context, kind ForwardKind, listenPort int, connectAddr string, connectPort int) error
	DeletePortProxy(ctx context.Context, listenPort int) error
	KillProcessTree(ctx context.Context, pid int) error
	StartDetached(ctx context.Context, path string, args []string) (int, error)
}
