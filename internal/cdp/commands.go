package cdp

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// allowedCommands is the fixed page-command allow-list. Anything outside it
// is rejected, not executed.
var allowedCommands = map[string]bool{
	"goto":                        true,
	"focus":                       true,
	"click":                       true,
	"hover":                       true,
	"type":                        true,
	"waitForSelector":             true,
	"setViewport":                 true,
	"setDefaultTimeout":           true,
	"setDefaultNavigationTimeout": true,
	"title":                       true,
	"url":                         true,
	"content":                     true,
	"pdf":                         true,
	"screenshot":                  true,
}

// CommandAllowed reports whether a page command name is on the allow-list.
func CommandAllowed(method string) bool {
	return allowedCommands[method]
}

// Invoke executes one allow-listed page command with positional args.
func (p *Page) Invoke(ctx context.Context, method string, args []any) (any, error) {
	if !CommandAllowed(method) {
		return nil, newError(CodeCommandRejected, fmt.Sprintf("page command %q is not allowed", method), nil)
	}

	switch method {
	case "goto":
		url, err := argString(args, 0, "url")
		if err != nil {
			return nil, err
		}
		if err := p.run(ctx, p.navTimeout, chromedp.Navigate(url)); err != nil {
			return nil, err
		}
		return map[string]string{"status": "navigated", "url": url}, nil

	case "focus":
		return p.selectorAction(ctx, args, "focused", func(sel string, opts ...chromedp.QueryOption) chromedp.QueryAction {
			return chromedp.Focus(sel, opts...)
		})

	case "click":
		return p.selectorAction(ctx, args, "clicked", func(sel string, opts ...chromedp.QueryOption) chromedp.QueryAction {
			return chromedp.Click(sel, opts...)
		})

	case "hover":
		sel, err := argString(args, 0, "selector")
		if err != nil {
			return nil, err
		}
		js := fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) return false;
			el.dispatchEvent(new MouseEvent('mouseover', {bubbles: true}));
			return true;
		})()`, sel)
		var ok bool
		if err := p.run(ctx, p.evalTimeout, chromedp.Evaluate(js, &ok)); err != nil {
			return nil, err
		}
		if !ok {
			return nil, newError(CodePageNotFound, "no element matches selector "+sel, nil)
		}
		return map[string]string{"status": "hovered", "selector": sel}, nil

	case "type":
		sel, err := argString(args, 0, "selector")
		if err != nil {
			return nil, err
		}
		text, err := argString(args, 1, "text")
		if err != nil {
			return nil, err
		}
		if err := p.run(ctx, p.evalTimeout, chromedp.SendKeys(sel, text, chromedp.ByQuery)); err != nil {
			return nil, err
		}
		return map[string]string{"status": "typed", "selector": sel}, nil

	case "waitForSelector":
		return p.selectorAction(ctx, args, "visible", func(sel string, opts ...chromedp.QueryOption) chromedp.QueryAction {
			return chromedp.WaitVisible(sel, opts...)
		})

	case "setViewport":
		width, err := argInt(args, 0, "width")
		if err != nil {
			return nil, err
		}
		height, err := argInt(args, 1, "height")
		if err != nil {
			return nil, err
		}
		if err := p.run(ctx, p.evalTimeout, chromedp.EmulateViewport(int64(width), int64(height))); err != nil {
			return nil, err
		}
		return map[string]int{"width": width, "height": height}, nil

	case "setDefaultTimeout":
		ms, err := argInt(args, 0, "milliseconds")
		if err != nil {
			return nil, err
		}
		p.SetTimeouts(time.Duration(ms)*time.Millisecond, 0)
		return map[string]int{"timeout_ms": ms}, nil

	case "setDefaultNavigationTimeout":
		ms, err := argInt(args, 0, "milliseconds")
		if err != nil {
			return nil, err
		}
		p.SetTimeouts(0, time.Duration(ms)*time.Millisecond)
		return map[string]int{"navigation_timeout_ms": ms}, nil

	case "title":
		return p.Title(ctx)

	case "url":
		return p.URL(ctx)

	case "content":
		return p.OuterHTML(ctx)

	case "pdf":
		var data []byte
		err := p.run(ctx, p.navTimeout, chromedp.ActionFunc(func(c context.Context) error {
			var err error
			data, _, err = page.PrintToPDF().Do(c)
			return err
		}))
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.EncodeToString(data), nil

	case "screenshot":
		data, err := p.Screenshot(ctx)
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.EncodeToString(data), nil
	}

	return nil, newError(CodeCommandRejected, fmt.Sprintf("page command %q is not implemented", method), nil)
}

func (p *Page) selectorAction(ctx context.Context, args []any, status string,
	action func(string, ...chromedp.QueryOption) chromedp.QueryAction) (any, error) {
	sel, err := argString(args, 0, "selector")
	if err != nil {
		return nil, err
	}
	if err := p.run(ctx, p.evalTimeout, action(sel, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return map[string]string{"status": status, "selector": sel}, nil
}

func argString(args []any, i int, name string) (string, error) {
	if i >= len(args) {
		return "", newError(CodeValidation, fmt.Sprintf("missing argument %d (%s)", i, name), nil)
	}
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", newError(CodeValidation, fmt.Sprintf("argument %d (%s) must be a non-empty string", i, name), nil)
	}
	return s, nil
}

func argInt(args []any, i int, name string) (int, error) {
	if i >= len(args) {
		return 0, newError(CodeValidation, fmt.Sprintf("missing argument %d (%s)", i, name), nil)
	}
	switch v := args[i].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, newError(CodeValidation, fmt.Sprintf("argument %d (%s) must be a number", i, name), nil)
	}
}
