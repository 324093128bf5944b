package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/browsertap/browsertap/internal/storage"
)

// Snapshotter is the page surface Dump needs: live cookie, DOM, and
// screenshot reads taken at dump time.
type Snapshotter interface {
	Cookies(ctx context.Context) ([]storage.Cookie, error)
	OuterHTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// DumpResult lists what a dump produced.
type DumpResult struct {
	Dir            string   `json:"dir"`
	ConsoleEntries int      `json:"console_entries"`
	NetworkLines   int      `json:"network_lines"`
	Exchanges      int      `json:"exchanges"`
	CookieFiles    []string `json:"cookie_files,omitempty"`
	HTMLTruncated  bool     `json:"html_truncated,omitempty"`
	ScreenshotPath string   `json:"screenshot_path,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Dump writes the full artifact set to dir. Buffers are left untouched so a
// dump can be repeated. In immediate mode the text logs and per-exchange
// detail are already durable on disk, so only the point-in-time artifacts
// (cookies, page HTML, screenshot) are produced.
func (c *Capture) Dump(ctx context.Context, page Snapshotter, dir string, htmlMaxBytes int) (*DumpResult, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}

	c.mu.Lock()
	consoleEntries := c.buf.ConsoleEntries()
	networkLines := c.buf.NetworkLines()
	exchanges := c.buf.Exchanges()
	immediate := c.opts.Files != nil
	c.mu.Unlock()

	res := &DumpResult{
		Dir:            dir,
		ConsoleEntries: len(consoleEntries),
		NetworkLines:   len(networkLines),
		Exchanges:      len(exchanges),
	}

	if !immediate {
		if err := writeConsoleLog(filepath.Join(dir, "console.log"), consoleEntries); err != nil {
			return nil, err
		}
		if err := writeNetworkLog(filepath.Join(dir, "network.log"), networkLines); err != nil {
			return nil, err
		}
		if err := writeExchangeFiles(filepath.Join(dir, "requests"), exchanges); err != nil {
			return nil, err
		}
	}

	if err := c.dumpCookies(ctx, page, dir, res); err != nil {
		res.Warnings = append(res.Warnings, "cookies: "+err.Error())
		slog.Warn("cookie dump failed", "error", err)
	}
	if err := c.dumpHTML(ctx, page, dir, htmlMaxBytes, res); err != nil {
		res.Warnings = append(res.Warnings, "page html: "+err.Error())
		slog.Warn("html dump failed", "error", err)
	}
	if err := c.dumpScreenshot(ctx, page, dir, res); err != nil {
		res.Warnings = append(res.Warnings, "screenshot: "+err.Error())
		slog.Warn("screenshot dump failed", "error", err)
	}
	return res, nil
}

func writeConsoleLog(path string, entries []ConsoleEntry) error {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(formatConsoleLine(e))
		sb.WriteByte('\n')
	}
	if err := storage.WriteFileAtomic(path, []byte(sb.String())); err != nil {
		return fmt.Errorf("write console log: %w", err)
	}
	return nil
}

func writeNetworkLog(path string, lines []string) error {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	if err := storage.WriteFileAtomic(path, []byte(sb.String())); err != nil {
		return fmt.Errorf("write network log: %w", err)
	}
	return nil
}

func writeExchangeFiles(dir string, exchanges map[string]Exchange) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create requests dir: %w", err)
	}
	ids := make([]string, 0, len(exchanges))
	for id := range exchanges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ex := exchanges[id]
		if err := storage.WriteJSONAtomic(filepath.Join(dir, id+".json"), &ex); err != nil {
			return fmt.Errorf("write exchange %s: %w", id, err)
		}
	}
	return nil
}

func (c *Capture) dumpCookies(ctx context.Context, page Snapshotter, dir string, res *DumpResult) error {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return err
	}
	cookieDir := filepath.Join(dir, "cookies")
	for domain, group := range storage.GroupCookiesByDomain(cookies) {
		name := domain + ".json"
		if err := storage.WriteJSONAtomic(filepath.Join(cookieDir, name), group); err != nil {
			return err
		}
		res.CookieFiles = append(res.CookieFiles, filepath.Join("cookies", name))
	}
	sort.Strings(res.CookieFiles)
	return nil
}

func (c *Capture) dumpHTML(ctx context.Context, page Snapshotter, dir string, maxBytes int, res *DumpResult) error {
	html, err := page.OuterHTML(ctx)
	if err != nil {
		return err
	}
	data, truncated, origLen, sum := storage.TruncateBytes([]byte(html), maxBytes)
	if truncated {
		res.HTMLTruncated = true
		notice := fmt.Sprintf("\n<!-- truncated: %d of %d bytes kept, sha256 of full content %s -->\n",
			len(data), origLen, sum)
		data = append(data, []byte(notice)...)
	}
	return storage.WriteFileAtomic(filepath.Join(dir, "page.html"), data)
}

func (c *Capture) dumpScreenshot(ctx context.Context, page Snapshotter, dir string, res *DumpResult) error {
	png, err := page.Screenshot(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "screenshot.png")
	if err := storage.WriteFileAtomic(path, png); err != nil {
		return err
	}
	res.ScreenshotPath = path
	return nil
}
