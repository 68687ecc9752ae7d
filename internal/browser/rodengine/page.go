package rodengine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// requestIdle is how long the network must stay quiet before a navigation is
// considered settled.
const requestIdle = 500 * time.Millisecond

// Page implements browser.Page on a rod page.
type Page struct {
	page *rod.Page
}

func newPage(p *rod.Page) *Page {
	return &Page{page: p}
}

// Navigate loads url and waits until no document or XHR requests are in
// flight. Images and media are ignored.
func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	wait := page.WaitRequestIdle(requestIdle, nil, nil,
		[]proto.NetworkResourceType{proto.NetworkResourceTypeImage, proto.NetworkResourceTypeMedia})
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load: %w", err)
	}
	wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for network idle: %w", err)
	}
	return nil
}

// Title returns the document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return info.Title, nil
}

// WaitVisible blocks until selector matches a visible element.
func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	if _, err := p.visible(ctx, selector); err != nil {
		return fmt.Errorf("wait visible %s: %w", selector, err)
	}
	return nil
}

// Fill selects the current value and types over it.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	el, err := p.visible(ctx, selector)
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("fill %s: select text: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// Click clicks the element matching selector once it is visible.
func (p *Page) Click(ctx context.Context, selector string) error {
	el, err := p.visible(ctx, selector)
	if err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Text returns the visible text of the element matching selector.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return "", fmt.Errorf("read text %s: %w", selector, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("read text %s: %w", selector, err)
	}
	return text, nil
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

func (p *Page) visible(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, err
	}
	if err := el.WaitVisible(); err != nil {
		return nil, err
	}
	return el, nil
}
