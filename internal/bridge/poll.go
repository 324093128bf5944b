package bridge

import (
	"context"
	"strings"
	"time"
)

const (
	defaultPollAttempts = 10
	defaultPollInterval = 500 * time.Millisecond
)

// BindResult is the typed outcome of polling for a port's bind family.
type BindResult struct {
	Detected bool
	Family   ForwardKind
	BindAddr string
}

// PollBindFamily polls the host's listening sockets until the port shows up,
// reporting whether the browser bound an IPv4 or IPv6 loopback address.
// Returns Detected=false after attempts are exhausted.
func PollBindFamily(ctx context.Context, insp Inspector, port, attempts int, interval time.Duration) BindResult {
	for i := 0; i < attempts; i++ {
		ports, err := insp.ListeningPorts(ctx)
		if err == nil {
			for _, lp := range ports {
				if lp.Port != port {
					continue
				}
				family := ForwardV4
				if strings.Contains(lp.BindAddr, ":") {
					family = ForwardV6
				}
				return BindResult{Detected: true, Family: family, BindAddr: lp.BindAddr}
			}
		}

		select {
		case <-ctx.Done():
			return BindResult{}
		case <-time.After(interval):
		}
	}
	return BindResult{}
}
