package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// RetryPolicy bounds connection attempts.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetry matches the connector policy: 5 attempts, 1.5s apart.
var DefaultRetry = RetryPolicy{Attempts: 5, Delay: 1500 * time.Millisecond}

// Client manages the control-protocol connection to one browser.
type Client struct {
	addr string
	port int

	allocCtx    context.Context
	allocCancel context.CancelFunc
	// browserCtx carries the browser-level session used for target
	// enumeration and browser-wide commands.
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewClient creates a client for the given control endpoint.
func NewClient(addr string, port int) *Client {
	return &Client{addr: addr, port: port}
}

// Addr returns the control endpoint host.
func (c *Client) Addr() string { return c.addr }

// Port returns the control endpoint port.
func (c *Client) Port() int { return c.port }

// Connect opens the control connection with bounded retries. Between
// attempts it probes the metadata endpoint so "endpoint unreachable" is
// reported distinctly from a generic connection failure. Exhausting retries
// returns a CDP_UNAVAILABLE error; the caller escalates to diagnostics.
func (c *Client) Connect(ctx context.Context, retry RetryPolicy) error {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}

	cdpURL := fmt.Sprintf("http://%s:%d", c.addr, c.port)
	var lastErr error
	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		slog.Info("connecting to browser", "url", cdpURL, "attempt", attempt, "max_attempts", retry.Attempts)

		c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)
		c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

		if err := chromedp.Run(c.browserCtx); err == nil {
			slog.Info("browser connection established", "url", cdpURL)
			return nil
		} else {
			lastErr = err
			c.teardown()
		}

		if _, probeErr := ProbeEndpoint(ctx, c.addr, c.port); probeErr != nil {
			slog.Warn("control endpoint unreachable", "url", cdpURL, "error", probeErr)
			lastErr = probeErr
		} else {
			slog.Warn("endpoint alive but connection failed", "url", cdpURL, "error", lastErr)
		}

		if attempt < retry.Attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry.Delay):
			}
		}
	}

	return newError(CodeCDPUnavailable,
		fmt.Sprintf("browser not reachable at %s after %d attempts", cdpURL, retry.Attempts), lastErr)
}

// Close tears the connection down. With closeBrowser set it asks the browser
// process to exit first; otherwise it only disconnects.
func (c *Client) Close(closeBrowser bool) error {
	if closeBrowser && c.browserCtx != nil {
		closeCtx, cancel := context.WithTimeout(c.browserCtx, 5*time.Second)
		err := chromedp.Run(closeCtx, browser.Close())
		cancel()
		if err != nil {
			slog.Warn("browser close command failed", "error", err)
		}
	}
	c.teardown()
	slog.Info("browser connection closed")
	return nil
}

func (c *Client) teardown() {
	if c.browserCancel != nil {
		c.browserCancel()
		c.browserCancel = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
}
