package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gobwas/ws"
)

// EndpointInfo is the browser's version/metadata used as a liveness signal.
type EndpointInfo struct {
	Browser         string `json:"Browser"`
	ProtocolVersion string `json:"Protocol-Version"`
	WebSocketURL    string `json:"webSocketDebuggerUrl"`
}

// ProbeEndpoint fetches the /json/version metadata endpoint and then dials
// the browser-level websocket once. It produces a specific
// "endpoint unreachable" signal distinguished from a generic connection
// failure, and doubles as the final connectivity test in diagnostics.
func ProbeEndpoint(ctx context.Context, addr string, port int) (*EndpointInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	versionURL := fmt.Sprintf("http://%s/json/version", joinHostPort(addr, port))
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, versionURL, nil)
	if err != nil {
		return nil, newError(CodeEndpointDown, "build probe request", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, newError(CodeEndpointDown, "metadata endpoint unreachable at "+versionURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(CodeEndpointDown, fmt.Sprintf("metadata endpoint returned %d", resp.StatusCode), nil)
	}

	var info EndpointInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, newError(CodeEndpointDown, "decode metadata response", err)
	}

	if info.WebSocketURL != "" {
		wsURL := rewriteWSHost(info.WebSocketURL, addr, port)
		conn, _, _, err := ws.Dial(probeCtx, wsURL)
		if err != nil {
			return &info, newError(CodeEndpointDown, "websocket dial failed at "+wsURL, err)
		}
		_ = conn.Close()
	}

	return &info, nil
}

// rewriteWSHost points the advertised websocket URL at the address we can
// actually reach. Across a host/guest bridge the browser advertises its own
// loopback address.
func rewriteWSHost(raw, addr string, port int) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = joinHostPort(addr, port)
	return u.String()
}

// joinHostPort brackets IPv6 literals so the result is dialable.
func joinHostPort(addr string, port int) string {
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
