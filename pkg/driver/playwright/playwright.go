// Package playwright drives headless browsers for the standalone server.
// One Playwright runtime is shared through a reference-counted Pool and
// every call gets its own browser context, so concurrent calls never see
// each other's cookies or pages.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Options configures the launched browser.
type Options struct {
	// Browser is chromium, firefox or webkit.
	Browser  string
	Headless bool
	// Install downloads the driver and browsers before the first launch.
	Install bool
	// Timeout is the default per-action timeout inside a page.
	Timeout     time.Duration
	MaxContexts int
	IdleTimeout time.Duration
}

// New returns a pool that launches Playwright on first use.
func New(opts Options, log *logging.Logger) *Pool {
	return NewPool(Launch(opts), PoolConfig{MaxContexts: opts.MaxContexts, IdleTimeout: opts.IdleTimeout}, log)
}

// Launch returns a Launcher for opts.
func Launch(opts Options) Launcher {
	return func(ctx context.Context) (Runtime, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		runOpts := &pw.RunOptions{
			Verbose: false,
			Stdout:  io.Discard,
			Stderr:  io.Discard,
		}
		if opts.Install {
			if err := pw.Install(runOpts); err != nil {
				return nil, fmt.Errorf("failed to install playwright: %w", err)
			}
		}
		p, err := pw.Run(runOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}

		var bt pw.BrowserType
		switch opts.Browser {
		case "", "chromium":
			bt = p.Chromium
		case "firefox":
			bt = p.Firefox
		case "webkit":
			bt = p.WebKit
		default:
			_ = p.Stop()
			return nil, fmt.Errorf("unknown browser %q", opts.Browser)
		}
		browser, err := bt.Launch(pw.BrowserTypeLaunchOptions{Headless: pw.Bool(opts.Headless)})
		if err != nil {
			_ = p.Stop()
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = capability.DefaultWaitTimeout
		}
		return &runtime{pw: p, browser: browser, timeout: timeout}, nil
	}
}

type runtime struct {
	pw      *pw.Playwright
	browser pw.Browser
	timeout time.Duration
}

func (r *runtime) NewDriver(ctx context.Context) (capability.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bctx, err := r.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	bctx.SetDefaultTimeout(ms(r.timeout))
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	return &Driver{context: bctx, page: page}, nil
}

func (r *runtime) Close() error {
	return errors.Join(r.browser.Close(), r.pw.Stop())
}

// Driver is one page in its own browser context.
type Driver struct {
	context pw.BrowserContext
	page    pw.Page
}

var _ capability.Driver = (*Driver)(nil)

func ms(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

// visible restricts selector to rendered elements, matching what a user
// can interact with.
func (d *Driver) visible(selector string) pw.Locator {
	return d.page.Locator(selector + " >> visible=true")
}

// Navigate implements capability.Driver.
func (d *Driver) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.page.Goto(url, pw.PageGotoOptions{
		Timeout:   pw.Float(ms(timeout)),
		WaitUntil: pw.WaitUntilStateLoad,
	})
	return classify(err, "navigation failed")
}

// CurrentURL implements capability.Driver.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	return d.page.URL(), ctx.Err()
}

// Count implements capability.Driver.
func (d *Driver) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.visible(selector).Count()
}

// Fill implements capability.Driver.
func (d *Driver) Fill(ctx context.Context, selector, value string, opts capability.FillOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := d.visible(selector).First()
	if !opts.Append && opts.TypeDelay <= 0 {
		return classify(loc.Fill(value), "fill failed")
	}
	if !opts.Append {
		if err := loc.Fill(""); err != nil {
			return classify(err, "fill failed")
		}
	} else if err := loc.Press("End"); err != nil {
		return classify(err, "fill failed")
	}
	return classify(loc.PressSequentially(value, pw.LocatorPressSequentiallyOptions{
		Delay: pw.Float(ms(opts.TypeDelay)),
	}), "fill failed")
}

// Select implements capability.Driver.
func (d *Driver) Select(ctx context.Context, selector, value string, opts capability.SelectOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values := pw.SelectOptionValues{Values: &[]string{value}}
	if opts.ByText {
		values = pw.SelectOptionValues{Labels: &[]string{value}}
	}
	_, err := d.visible(selector).First().SelectOption(values)
	return classify(err, "select failed")
}

// SetChecked implements capability.Driver.
func (d *Driver) SetChecked(ctx context.Context, selector string, checked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(d.visible(selector).First().SetChecked(checked), "check failed")
}

// Click implements capability.Driver.
func (d *Driver) Click(ctx context.Context, selector string, opts capability.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := d.visible(selector).First()
	if !opts.WaitForNavigation {
		return classify(loc.Click(), "click failed")
	}
	_, err := d.page.ExpectNavigation(func() error {
		return loc.Click()
	}, pw.PageExpectNavigationOptions{Timeout: pw.Float(ms(opts.Timeout))})
	return classify(err, "click did not navigate")
}

// Text implements capability.Driver.
func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s, err := d.visible(selector).First().TextContent()
	return s, classify(err, "read text failed")
}

// Value implements capability.Driver.
func (d *Driver) Value(ctx context.Context, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s, err := d.visible(selector).First().InputValue()
	return s, classify(err, "read value failed")
}

const attributeJS = `(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`

// Attribute implements capability.Driver.
func (d *Driver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, err := d.visible(selector).First().Evaluate(attributeJS, name)
	if err != nil {
		return "", false, classify(err, "read attribute failed")
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Close closes the page's browser context.
func (d *Driver) Close() error {
	return d.context.Close()
}

func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pw.ErrTimeout) {
		return fmt.Errorf("%s: %w: %v", msg, types.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
