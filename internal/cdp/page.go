package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/browsertap/browsertap/internal/storage"
)

// Events are the capture callbacks a subscriber installs on a page. Nil
// callbacks are skipped.
type Events struct {
	Console          func(ts time.Time, text string)
	RequestStarted   func(requestID, method, url string, headers map[string]string)
	ResponseReceived func(requestID string, status int, statusText string, headers map[string]string, mimeType string)
	RequestFailed    func(requestID, errorText string, canceled bool)
}

// Page is a handle to exactly one monitored browser tab. It is owned by at
// most one session; switching pages closes the old handle before a new one
// is attached, so its listeners are torn down synchronously and late events
// are never delivered.
type Page struct {
	info   PageInfo
	ctx    context.Context
	cancel context.CancelFunc

	evalTimeout time.Duration
	navTimeout  time.Duration
}

// AttachPage opens a target context for the page and enables the event
// domains used by capture.
func (c *Client) AttachPage(info PageInfo) (*Page, error) {
	if c.allocCtx == nil {
		return nil, newError(CodeCDPUnavailable, "not connected", nil)
	}

	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(info.TargetID))
	p := &Page{
		info:        info,
		ctx:         tabCtx,
		cancel:      tabCancel,
		evalTimeout: 10 * time.Second,
		navTimeout:  30 * time.Second,
	}

	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable(), runtime.Enable()); err != nil {
		tabCancel()
		return nil, newError(CodeCDPUnavailable, "enable event domains", err)
	}
	return p, nil
}

// Info returns the page descriptor this handle was attached with.
func (p *Page) Info() PageInfo { return p.info }

// Subscribe installs the event listeners. Listener lifetime is bound to the
// page context; Close tears them down.
func (p *Page) Subscribe(ev Events) {
	chromedp.ListenTarget(p.ctx, func(v interface{}) {
		switch e := v.(type) {
		case *runtime.EventConsoleAPICalled:
			if ev.Console == nil {
				return
			}
			ev.Console(time.Now().UTC(), formatConsoleEvent(e))
		case *network.EventRequestWillBeSent:
			if ev.RequestStarted == nil {
				return
			}
			ev.RequestStarted(string(e.RequestID), e.Request.Method, e.Request.URL, headerMap(e.Request.Headers))
		case *network.EventResponseReceived:
			if ev.ResponseReceived == nil {
				return
			}
			ev.ResponseReceived(string(e.RequestID), int(e.Response.Status), e.Response.StatusText,
				headerMap(e.Response.Headers), e.Response.MimeType)
		case *network.EventLoadingFailed:
			if ev.RequestFailed == nil {
				return
			}
			ev.RequestFailed(string(e.RequestID), e.ErrorText, e.Canceled)
		}
	})
}

// Close cancels the page context, which synchronously detaches all event
// listeners registered through Subscribe.
func (p *Page) Close() {
	p.cancel()
}

// SetTimeouts adjusts the default command and navigation timeouts.
func (p *Page) SetTimeouts(eval, nav time.Duration) {
	if eval > 0 {
		p.evalTimeout = eval
	}
	if nav > 0 {
		p.navTimeout = nav
	}
}

func (p *Page) run(parent context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	if parent != nil {
		go func() {
			select {
			case <-parent.Done():
				cancel()
			case <-runCtx.Done():
			}
		}()
	}

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return newError(CodeEvalTimeout, "page command timed out", err)
	}
	return err
}

// Cookies reads all cookies visible to the browser session.
func (p *Page) Cookies(ctx context.Context) ([]storage.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, p.evalTimeout, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		raw, err = cdpstorage.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	cookies := make([]storage.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, storage.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cookies, nil
}

// OuterHTML serializes the full document.
func (p *Page) OuterHTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.evalTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return html, nil
}

// Screenshot captures the current viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.evalTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// Title returns the document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, p.evalTimeout, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// URL returns the current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.evalTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// ComputedStyles evaluates getComputedStyle for the first element matching
// selector and returns the resolved property map.
func (p *Page) ComputedStyles(ctx context.Context, selector string) (map[string]string, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, newError(CodeValidation, "selector is required", nil)
	}

	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return null;
		const cs = window.getComputedStyle(el);
		const out = {};
		for (let i = 0; i < cs.length; i++) out[cs[i]] = cs.getPropertyValue(cs[i]);
		return out;
	})()`, selector)

	var styles map[string]string
	if err := p.run(ctx, p.evalTimeout, chromedp.Evaluate(js, &styles)); err != nil {
		return nil, newError(CodeEvalFailure, "computed styles for "+selector, err)
	}
	if styles == nil {
		return nil, newError(CodePageNotFound, "no element matches selector "+selector, nil)
	}
	return styles, nil
}

// formatConsoleEvent renders a console API call to one text line the way the
// browser console would show it.
func formatConsoleEvent(e *runtime.EventConsoleAPICalled) string {
	parts := make([]string, 0, len(e.Args)+1)
	if e.Type != "" && e.Type != "log" {
		parts = append(parts, "["+strings.ToUpper(string(e.Type))+"]")
	}
	for _, arg := range e.Args {
		if arg == nil {
			continue
		}
		parts = append(parts, formatRemoteObject(arg))
	}
	return strings.Join(parts, " ")
}

func formatRemoteObject(obj *runtime.RemoteObject) string {
	if raw := []byte(obj.Value); len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}
	if obj.Description != "" {
		return obj.Description
	}
	return string(obj.Type)
}

func headerMap(headers network.Headers) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}
