package session

import (
	"context"

	"github.com/browsertap/browsertap/internal/cdp"
)

// cdpBrowser adapts the protocol client to the Browser surface.
type cdpBrowser struct {
	client *cdp.Client
}

// WrapClient exposes a connected protocol client as a session Browser.
func WrapClient(client *cdp.Client) Browser {
	return &cdpBrowser{client: client}
}

func (b *cdpBrowser) ListPages(ctx context.Context) ([]cdp.PageInfo, error) {
	targets, err := b.client.Targets(ctx)
	if err != nil {
		return nil, err
	}
	return cdp.ListUserPages(targets), nil
}

func (b *cdpBrowser) Attach(info cdp.PageInfo) (PageHandle, error) {
	return b.client.AttachPage(info)
}

func (b *cdpBrowser) Close(closeBrowser bool) error {
	return b.client.Close(closeBrowser)
}
