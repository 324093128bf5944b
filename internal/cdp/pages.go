package cdp

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// PageInfo describes one candidate page. Index is 1-based in discovery order.
type PageInfo struct {
	Index    int       `json:"index"`
	TargetID target.ID `json:"target_id"`
	URL      string    `json:"url"`
	Title    string    `json:"title,omitempty"`
}

// internalSchemes mark browser-internal and developer-tool pages.
var internalSchemes = []string{
	"chrome://",
	"chrome-untrusted://",
	"devtools://",
	"edge://",
	"view-source:",
}

// knownExtensionIDs are extension background pages commonly present in dev
// profiles (React/Vue/Redux devtools) that are never the page under test.
var knownExtensionIDs = map[string]bool{
	"fmkadmapgofadopljbjfkapdkoienihi": true, // React DevTools
	"nhdogjmejiglipccpnnnanhbledajbpd": true, // Vue DevTools
	"lmhkpmbekcpmknklioeibfkpmmfibljd": true, // Redux DevTools
}

// Targets enumerates all targets on the connected browser.
func (c *Client) Targets(ctx context.Context) ([]*target.Info, error) {
	if c.browserCtx == nil {
		return nil, newError(CodeCDPUnavailable, "not connected", nil)
	}
	infos, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "enumerate targets", err)
	}
	return infos, nil
}

// ListUserPages filters targets down to pages an operator would recognize as
// theirs. If filtering empties the list the unfiltered page list is returned
// instead of reporting zero pages. Blank pages are excluded only while at
// least one non-blank candidate exists.
func ListUserPages(targets []*target.Info) []PageInfo {
	var all, user []PageInfo
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		info := PageInfo{TargetID: t.TargetID, URL: t.URL, Title: t.Title}
		all = append(all, info)
		if isInternalPage(t.URL) {
			continue
		}
		user = append(user, info)
	}

	if len(user) == 0 {
		user = all
	}

	if nonBlank := withoutBlank(user); len(nonBlank) > 0 {
		user = nonBlank
	}

	for i := range user {
		user[i].Index = i + 1
	}
	return user
}

func isInternalPage(url string) bool {
	for _, scheme := range internalSchemes {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	if rest, ok := strings.CutPrefix(url, "chrome-extension://"); ok {
		id := rest
		if idx := strings.IndexByte(id, '/'); idx >= 0 {
			id = id[:idx]
		}
		if knownExtensionIDs[id] {
			return true
		}
		// Unknown extension pages are still not user pages.
		return true
	}
	return false
}

func isBlankPage(url string) bool {
	return url == "" || url == "about:blank"
}

func withoutBlank(pages []PageInfo) []PageInfo {
	var out []PageInfo
	for _, p := range pages {
		if !isBlankPage(p.URL) {
			out = append(out, p)
		}
	}
	return out
}

// SelectPage auto-selects a sole candidate; with several it suspends on the
// prompt collaborator and resolves to the operator's 1-based pick, defaulting
// to the first candidate on cancellation or invalid input.
func SelectPage(pages []PageInfo, prompt func([]PageInfo) (int, error)) (PageInfo, error) {
	if len(pages) == 0 {
		return PageInfo{}, newError(CodePageNotFound, "no candidate pages", nil)
	}
	if len(pages) == 1 || prompt == nil {
		return pages[0], nil
	}

	choice, err := prompt(pages)
	if err != nil || choice < 1 || choice > len(pages) {
		return pages[0], nil
	}
	return pages[choice-1], nil
}
