// Package rod drives a single browser tab over the Chrome DevTools
// Protocol. It backs the in-page host: the adapter acts on the tab the user
// already has open, so every call shares that one page and calls run one
// at a time.
package rod

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Config selects the browser to attach to.
type Config struct {
	// ControlURL is the DevTools websocket of a running browser. When empty
	// a local browser is launched.
	ControlURL string
	Headless   bool
	NoSandbox  bool
}

// Backend owns the connection and the one shared page.
type Backend struct {
	cfg  Config
	log  *logging.Logger
	slot chan struct{}

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
}

var _ capability.Backend = (*Backend)(nil)

// New creates a backend. The browser is contacted on first Open.
func New(cfg Config, log *logging.Logger) *Backend {
	if log == nil {
		log = logging.Nop()
	}
	return &Backend{cfg: cfg, log: log, slot: make(chan struct{}, 1)}
}

// Open waits until the page is free and hands it to the caller until the
// returned driver is closed.
func (b *Backend) Open(ctx context.Context) (capability.Driver, error) {
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	page, err := b.attach(ctx)
	if err != nil {
		<-b.slot
		return nil, err
	}
	return &Driver{page: page, release: func() { <-b.slot }}, nil
}

func (b *Backend) attach(ctx context.Context) (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page != nil {
		return b.page, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(b.cfg.Headless).
			NoSandbox(b.cfg.NoSandbox).
			Delete("use-mock-keychain")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		b.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	b.browser = browser

	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	if len(pages) > 0 {
		b.page = pages.First()
	} else {
		p, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return nil, fmt.Errorf("failed to open page: %w", err)
		}
		b.page = p
	}
	b.log.Infof("attached to browser at %s", controlURL)
	return b.page, nil
}

// Close disconnects. A launched browser is killed; an attached one is left
// running.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browser != nil && b.launcher != nil {
		err = b.browser.Close()
	}
	b.cleanup()
	b.browser, b.page = nil, nil
	return err
}

func (b *Backend) cleanup() {
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
		b.launcher = nil
	}
}

// Driver is the shared page, lent to one call.
type Driver struct {
	page    *rod.Page
	release func()
	once    sync.Once
}

var _ capability.Driver = (*Driver)(nil)

// Navigate implements capability.Driver.
func (d *Driver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p := d.page.Context(ctx).Timeout(timeout)
	if err := p.Navigate(url); err != nil {
		return classify(err, "navigation failed")
	}
	if err := p.WaitLoad(); err != nil {
		return classify(err, "page did not load")
	}
	return nil
}

// CurrentURL implements capability.Driver.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// visible returns the visible elements matching selector without waiting.
func (d *Driver) visible(ctx context.Context, selector string) (rod.Elements, error) {
	els, err := d.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := els[:0]
	for _, el := range els {
		if ok, err := el.Visible(); err == nil && ok {
			out = append(out, el)
		}
	}
	return out, nil
}

func (d *Driver) first(ctx context.Context, selector string) (*rod.Element, error) {
	els, err := d.visible(ctx, selector)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, types.ErrSelectorNotFound
	}
	return els.First().Context(ctx), nil
}

// Count implements capability.Driver.
func (d *Driver) Count(ctx context.Context, selector string) (int, error) {
	els, err := d.visible(ctx, selector)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

const clearJS = `() => { this.value = ""; this.dispatchEvent(new Event("input", {bubbles: true})) }`
const caretEndJS = `() => { const n = this.value.length; this.setSelectionRange && this.setSelectionRange(n, n) }`
const changeJS = `() => this.dispatchEvent(new Event("change", {bubbles: true}))`

// Fill implements capability.Driver.
func (d *Driver) Fill(ctx context.Context, selector, value string, opts capability.FillOptions) error {
	el, err := d.first(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return err
	}
	if opts.Append {
		if _, err := el.Eval(caretEndJS); err != nil {
			return err
		}
	} else if _, err := el.Eval(clearJS); err != nil {
		return err
	}

	if opts.TypeDelay > 0 {
		for _, r := range value {
			if err := el.Input(string(r)); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.TypeDelay):
			}
		}
	} else if value != "" {
		if err := el.Input(value); err != nil {
			return err
		}
	}
	_, err = el.Eval(changeJS)
	return err
}

// Select implements capability.Driver.
func (d *Driver) Select(ctx context.Context, selector, value string, opts capability.SelectOptions) error {
	el, err := d.first(ctx, selector)
	if err != nil {
		return err
	}
	if opts.ByText {
		return el.Select([]string{"^" + regexp.QuoteMeta(value) + "$"}, true, rod.SelectorTypeRegex)
	}
	return el.Select([]string{fmt.Sprintf("option[value=%q]", value)}, true, rod.SelectorTypeCSSSector)
}

// SetChecked implements capability.Driver.
func (d *Driver) SetChecked(ctx context.Context, selector string, checked bool) error {
	el, err := d.first(ctx, selector)
	if err != nil {
		return err
	}
	prop, err := el.Property("checked")
	if err != nil {
		return err
	}
	if prop.Bool() == checked {
		return nil
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// Click implements capability.Driver.
func (d *Driver) Click(ctx context.Context, selector string, opts capability.ClickOptions) error {
	el, err := d.first(ctx, selector)
	if err != nil {
		return err
	}
	if !opts.WaitForNavigation {
		return el.Click(proto.InputMouseButtonLeft, 1)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	navigated := make(chan struct{}, 1)
	wait := d.page.Context(waitCtx).EachEvent(func(e *proto.PageFrameNavigated) bool {
		if e.Frame.ParentID == "" {
			navigated <- struct{}{}
			return true
		}
		return false
	})
	go wait()

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	select {
	case <-navigated:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("click on %q did not navigate within %s: %w", selector, opts.Timeout, types.ErrTimeout)
	}
	if err := d.page.Context(ctx).Timeout(opts.Timeout).WaitLoad(); err != nil {
		return classify(err, "page did not load")
	}
	return nil
}

// Text implements capability.Driver.
func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	el, err := d.first(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

// Value implements capability.Driver.
func (d *Driver) Value(ctx context.Context, selector string) (string, error) {
	el, err := d.first(ctx, selector)
	if err != nil {
		return "", err
	}
	prop, err := el.Property("value")
	if err != nil {
		return "", err
	}
	return prop.Str(), nil
}

// Attribute implements capability.Driver.
func (d *Driver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	el, err := d.first(ctx, selector)
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

// Close returns the page to the backend. The tab itself stays open.
func (d *Driver) Close() error {
	d.once.Do(d.release)
	return nil
}

func classify(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, types.ErrTimeout)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
