package capture

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/browsertap/browsertap/internal/storage"
)

// State is the capture state machine. Transitions between Capturing and
// Paused happen only on operator command, never automatically.
type State int

const (
	Capturing State = iota
	Paused
)

func (s State) String() string {
	if s == Paused {
		return "paused"
	}
	return "capturing"
}

// Options configures a capture engine.
type Options struct {
	IgnorePatterns    []string
	HotReloadPatterns []string
	// Files enables immediate output mode: every append is persisted
	// synchronously and per-exchange detail is read-modify-written on disk.
	// Nil means buffered mode.
	Files *storage.CaptureFiles
	// Publish, when set, receives every recorded line for live streaming.
	Publish func(kind, line string)
}

// Capture correlates browser events into the session buffer. All handlers
// serialize on one coarse mutex; event rates are low enough that contention
// is irrelevant.
type Capture struct {
	mu    sync.Mutex
	state State
	buf   *Buffer
	opts  Options

	// inflight maps protocol request ids to assigned sequence ids.
	inflight map[string]string
}

// New creates a capture engine in the CAPTURING state.
func New(opts Options) *Capture {
	return &Capture{
		state:    Capturing,
		buf:      NewBuffer(),
		opts:     opts,
		inflight: make(map[string]string),
	}
}

// Immediate reports whether the engine persists appends synchronously.
func (c *Capture) Immediate() bool { return c.opts.Files != nil }

// State returns the current capture state.
func (c *Capture) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TogglePause flips between CAPTURING and PAUSED and returns the new state.
func (c *Capture) TogglePause() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Capturing {
		c.state = Paused
	} else {
		c.state = Capturing
	}
	return c.state
}

// SetPaused forces the state, for the explicit stop/start commands.
func (c *Capture) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if paused {
		c.state = Paused
	} else {
		c.state = Capturing
	}
}

// OnConsole records one console line. Ignored entries are dropped before
// buffering so they never consume buffer slots; hot-reload entries are
// tagged for display but still recorded. Everything is discarded while
// paused.
func (c *Capture) OnConsole(ts time.Time, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Paused {
		return
	}
	if matchAny(c.opts.IgnorePatterns, text) {
		return
	}

	entry := ConsoleEntry{
		Timestamp: ts,
		Text:      text,
		HotReload: matchAny(c.opts.HotReloadPatterns, text),
	}
	c.buf.AddConsole(entry)

	line := formatConsoleLine(entry)
	if c.opts.Files != nil {
		if err := c.opts.Files.AppendConsole(line); err != nil {
			slog.Error("console log append failed", "error", err)
		}
	}
	c.publish("console", line)
}

// OnRequestStarted allocates the next sequence id and records a new
// exchange. Returns the assigned id, or "" while paused.
func (c *Capture) OnRequestStarted(requestID, method, url string, headers map[string]string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Paused {
		return ""
	}

	id := c.buf.NextID()
	ex := &Exchange{
		ID:             id,
		Method:         method,
		URL:            url,
		RequestHeaders: headers,
		StartedAt:      time.Now().UTC(),
	}
	c.buf.PutExchange(ex)
	c.inflight[requestID] = id

	line := fmt.Sprintf("[%s] %s -> %s %s", ex.StartedAt.Format("15:04:05"), id, method, url)
	c.recordNetworkLine(line)

	if c.opts.Files != nil {
		if err := c.opts.Files.WriteExchange(id, ex); err != nil {
			slog.Error("exchange write failed", "id", id, "error", err)
		}
	}
	return id
}

// OnResponse merges response metadata into the owning exchange. Exchanges
// started before a pause still receive their responses.
func (c *Capture) OnResponse(requestID string, status int, statusText string, headers map[string]string, mimeType string) {
	c.mergeUpdate(requestID, Exchange{
		Status:          status,
		StatusText:      statusText,
		ResponseHeaders: headers,
		MimeType:        mimeType,
	}, func(ex *Exchange) string {
		return fmt.Sprintf("[%s] %s <- %d %s %s",
			time.Now().UTC().Format("15:04:05"), ex.ID, status, statusText, ex.URL)
	})
}

// OnFailure merges failure metadata into the owning exchange.
func (c *Capture) OnFailure(requestID, errorText string, canceled bool) {
	c.mergeUpdate(requestID, Exchange{
		ErrorText: errorText,
		Canceled:  canceled,
	}, func(ex *Exchange) string {
		return fmt.Sprintf("[%s] %s !! %s %s",
			time.Now().UTC().Format("15:04:05"), ex.ID, errorText, ex.URL)
	})
}

func (c *Capture) mergeUpdate(requestID string, upd Exchange, line func(*Exchange) string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.inflight[requestID]
	if !ok {
		return
	}
	ex, ok := c.buf.GetExchange(id)
	if !ok {
		return
	}

	ex.Merge(upd)
	c.recordNetworkLine(line(ex))

	if c.opts.Files != nil {
		c.rewriteExchangeFile(id, upd, ex)
	}
}

// rewriteExchangeFile is the immediate-mode read-modify-write: the on-disk
// record is loaded, the update merged in, and the file rewritten. An
// unreadable or missing file means the update starts a fresh record from the
// in-memory state rather than failing.
func (c *Capture) rewriteExchangeFile(id string, upd Exchange, mem *Exchange) {
	var disk Exchange
	if err := c.opts.Files.ReadExchange(id, &disk); err != nil {
		disk = *mem
	} else {
		disk.Merge(upd)
	}
	if disk.ID == "" {
		disk.ID = id
	}
	if err := c.opts.Files.WriteExchange(id, &disk); err != nil {
		slog.Error("exchange rewrite failed", "id", id, "error", err)
	}
}

func (c *Capture) recordNetworkLine(line string) {
	c.buf.AddNetworkLine(line)
	if c.opts.Files != nil {
		if err := c.opts.Files.AppendNetwork(line); err != nil {
			slog.Error("network log append failed", "error", err)
		}
	}
	c.publish("network", line)
}

func (c *Capture) publish(kind, line string) {
	if c.opts.Publish != nil {
		c.opts.Publish(kind, line)
	}
}

// Clear empties the buffers and resets the sequence counter. In immediate
// mode the on-disk console log is truncated and the detail directory
// recreated as well.
func (c *Capture) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Clear()
	c.inflight = make(map[string]string)

	if c.opts.Files != nil {
		if err := c.opts.Files.Reset(); err != nil {
			return fmt.Errorf("reset capture files: %w", err)
		}
	}
	return nil
}

// Counts reports buffered entry counts for status output.
func (c *Capture) Counts() (console, network, exchanges int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Counts()
}

func formatConsoleLine(e ConsoleEntry) string {
	if e.HotReload {
		return fmt.Sprintf("[%s] [hmr] %s", e.Timestamp.Format("15:04:05"), e.Text)
	}
	return fmt.Sprintf("[%s] %s", e.Timestamp.Format("15:04:05"), e.Text)
}

func matchAny(patterns []string, text string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}
