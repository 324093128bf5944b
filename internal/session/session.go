package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/browsertap/browsertap/internal/capture"
	"github.com/browsertap/browsertap/internal/cdp"
	"github.com/browsertap/browsertap/internal/storage"
)

// reminderInterval is how many completed commands pass between summaries of
// the available commands.
const reminderInterval = 5

// CommandSummary lists every operator command. The keyboard loop prints it at
// startup and the session repeats it periodically.
const CommandSummary = "dump, status, clear, pause, stop, start, pages, switch N, cmd <method> [args...], help, quit"

// PageHandle is the monitored-tab surface the session drives. Exactly one
// handle is live per session; switching pages closes the old handle before
// attaching the new one.
type PageHandle interface {
	Info() cdp.PageInfo
	Subscribe(cdp.Events)
	Close()
	Cookies(ctx context.Context) ([]storage.Cookie, error)
	OuterHTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	ComputedStyles(ctx context.Context, selector string) (map[string]string, error)
	Invoke(ctx context.Context, method string, args []any) (any, error)
}

// Browser is the connected-browser surface the session needs.
type Browser interface {
	ListPages(ctx context.Context) ([]cdp.PageInfo, error)
	Attach(info cdp.PageInfo) (PageHandle, error)
	Close(closeBrowser bool) error
}

// Status is the session snapshot served by the control plane.
type Status struct {
	State          string        `json:"state"`
	Page           *cdp.PageInfo `json:"page,omitempty"`
	ConsoleEntries int           `json:"console_entries"`
	NetworkLines   int           `json:"network_lines"`
	Exchanges      int           `json:"exchanges"`
	OutputMode     string        `json:"output_mode"`
	OutputDir      string        `json:"output_dir"`
	UptimeSec      int           `json:"uptime_sec"`
}

// Options carries the session knobs that outlive construction.
type Options struct {
	OutputDir    string
	HTMLMaxBytes int
	// CloseBrowserOnExit closes the browser process at shutdown instead of
	// only disconnecting from it.
	CloseBrowserOnExit bool
}

// Session owns the mutable monitoring state: the monitored page, the capture
// engine, and the shutdown path. One coarse mutex serializes every control
// operation; event rates are far below contention territory.
type Session struct {
	mu      sync.Mutex
	browser Browser
	cap     *capture.Capture
	opts    Options

	page      PageHandle
	startedAt time.Time
	cmdCount  int

	shutdownOnce sync.Once
	shutdownFns  []func()
}

// New creates a session over a connected browser.
func New(browser Browser, cap *capture.Capture, opts Options) *Session {
	return &Session{
		browser:   browser,
		cap:       cap,
		opts:      opts,
		startedAt: time.Now(),
	}
}

// OnShutdown registers a hook to run once during shutdown, after the page
// and browser are released.
func (s *Session) OnShutdown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdownFns = append(s.shutdownFns, fn)
}

// AttachInitial picks the starting page and installs capture subscriptions.
// With several candidates the prompt collaborator decides.
func (s *Session) AttachInitial(ctx context.Context, prompt func([]cdp.PageInfo) (int, error)) (cdp.PageInfo, error) {
	pages, err := s.browser.ListPages(ctx)
	if err != nil {
		return cdp.PageInfo{}, err
	}
	picked, err := cdp.SelectPage(pages, prompt)
	if err != nil {
		return cdp.PageInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.attachLocked(picked); err != nil {
		return cdp.PageInfo{}, err
	}
	return picked, nil
}

// ListPages enumerates the current user-page candidates.
func (s *Session) ListPages(ctx context.Context) ([]cdp.PageInfo, error) {
	pages, err := s.browser.ListPages(ctx)
	if err == nil {
		s.noteCommand()
	}
	return pages, err
}

// SwitchPage makes the page at the 1-based index the sole monitored page.
// The old handle is closed before the new one attaches, so its listeners are
// gone by the time this returns and late events from it are never recorded.
func (s *Session) SwitchPage(ctx context.Context, index int) (cdp.PageInfo, error) {
	pages, err := s.browser.ListPages(ctx)
	if err != nil {
		return cdp.PageInfo{}, err
	}

	var picked *cdp.PageInfo
	for i := range pages {
		if pages[i].Index == index {
			picked = &pages[i]
			break
		}
	}
	if picked == nil {
		return cdp.PageInfo{}, fmt.Errorf("no page with index %d (have %d pages)", index, len(pages))
	}

	s.mu.Lock()
	err = s.attachLocked(*picked)
	s.mu.Unlock()
	if err != nil {
		return cdp.PageInfo{}, err
	}
	slog.Info("switched monitored page", "index", index, "url", picked.URL)
	s.noteCommand()
	return *picked, nil
}

func (s *Session) attachLocked(info cdp.PageInfo) error {
	if s.page != nil {
		s.page.Close()
		s.page = nil
	}

	page, err := s.browser.Attach(info)
	if err != nil {
		return fmt.Errorf("attach page %d: %w", info.Index, err)
	}
	page.Subscribe(cdp.Events{
		Console:          s.cap.OnConsole,
		RequestStarted:   func(reqID, method, url string, headers map[string]string) { s.cap.OnRequestStarted(reqID, method, url, headers) },
		ResponseReceived: s.cap.OnResponse,
		RequestFailed:    s.cap.OnFailure,
	})
	s.page = page
	return nil
}

// Status reports the current session snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()

	console, network, exchanges := s.cap.Counts()
	st := Status{
		State:          s.cap.State().String(),
		ConsoleEntries: console,
		NetworkLines:   network,
		Exchanges:      exchanges,
		OutputMode:     "buffered",
		OutputDir:      s.opts.OutputDir,
		UptimeSec:      int(time.Since(s.startedAt).Seconds()),
	}
	if s.cap.Immediate() {
		st.OutputMode = "immediate"
	}
	if page != nil {
		info := page.Info()
		st.Page = &info
	}
	s.noteCommand()
	return st
}

// Dump writes the artifact set for the monitored page.
func (s *Session) Dump(ctx context.Context) (*capture.DumpResult, error) {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return nil, fmt.Errorf("no monitored page")
	}
	res, err := s.cap.Dump(ctx, page, s.opts.OutputDir, s.opts.HTMLMaxBytes)
	if err == nil {
		s.noteCommand()
	}
	return res, err
}

// Clear empties the capture buffers and resets the sequence counter.
func (s *Session) Clear() error {
	if err := s.cap.Clear(); err != nil {
		return err
	}
	s.noteCommand()
	return nil
}

// TogglePause flips the capture state and returns the new state name.
func (s *Session) TogglePause() string {
	state := s.cap.TogglePause().String()
	s.noteCommand()
	return state
}

// SetPaused forces the capture state for the stop/start commands.
func (s *Session) SetPaused(paused bool) {
	s.cap.SetPaused(paused)
	s.noteCommand()
}

// ComputedStyles resolves styles for a selector on the monitored page.
func (s *Session) ComputedStyles(ctx context.Context, selector string) (map[string]string, error) {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return nil, fmt.Errorf("no monitored page")
	}
	styles, err := page.ComputedStyles(ctx, selector)
	if err == nil {
		s.noteCommand()
	}
	return styles, err
}

// noteCommand tallies one completed command. Every fifth completion repeats
// the available-command summary. Both the keyboard loop and the HTTP surface
// funnel through the session methods, so each counts here.
func (s *Session) noteCommand() {
	s.mu.Lock()
	s.cmdCount++
	n := s.cmdCount
	s.mu.Unlock()

	if n%reminderInterval == 0 {
		slog.Info("available commands: "+CommandSummary, "completed", n)
	}
}

// Invoke runs one allow-listed page command.
func (s *Session) Invoke(ctx context.Context, method string, args []any) (any, error) {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()

	if page == nil {
		return nil, fmt.Errorf("no monitored page")
	}

	result, err := page.Invoke(ctx, method, args)
	if err != nil && cdp.IsTransient(err) {
		// A navigation can destroy the execution context mid-command.
		slog.Debug("transient target error, retrying once", "method", method, "error", err)
		result, err = page.Invoke(ctx, method, args)
	}
	if err == nil {
		s.noteCommand()
	}
	return result, err
}

// Shutdown runs the idempotent teardown path: close the page handle, release
// the browser, run registered hooks. Safe to call from the signal handler,
// the watchdog, and normal exit at once.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		page := s.page
		s.page = nil
		fns := s.shutdownFns
		s.mu.Unlock()

		if page != nil {
			page.Close()
		}
		if err := s.browser.Close(s.opts.CloseBrowserOnExit); err != nil {
			slog.Warn("browser release failed", "error", err)
		}
		for _, fn := range fns {
			fn()
		}
		slog.Info("session shut down", "close_browser", s.opts.CloseBrowserOnExit)
	})
}

// StartWatchdog forces shutdown after the hard timeout regardless of
// in-flight work. A zero duration disables it.
func (s *Session) StartWatchdog(d time.Duration) {
	if d <= 0 {
		return
	}
	time.AfterFunc(d, func() {
		slog.Warn("hard timeout reached, forcing shutdown", "timeout", d)
		s.Shutdown()
	})
}
