package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Timing defaults for page operations.
const (
	DefaultNavigateTimeout = 10 * time.Second
	DefaultWaitTimeout     = 10 * time.Second
	DefaultPollInterval    = 100 * time.Millisecond
)

// Page is the page-automation capability bound to one adapter. Every URL is
// checked against the adapter's domains before the driver sees it, and every
// operation is checked against the adapter's granted permissions.
type Page struct {
	driver    Driver
	human     human.Waiter
	perms     manifest.PermissionSet
	log       *logging.Logger
	adapterID string
	rules     []manifest.DomainRule
}

// NewPage binds driver to an adapter's manifest. waiter may be nil, in
// which case human steps fail as unattended.
func NewPage(driver Driver, m *manifest.Manifest, perms manifest.PermissionSet, waiter human.Waiter, log *logging.Logger) *Page {
	if waiter == nil {
		waiter = human.Unattended{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Page{
		driver:    driver,
		human:     waiter,
		perms:     perms,
		log:       log,
		adapterID: m.ID,
		rules:     m.DomainRules(),
	}
}

func (p *Page) require(perm manifest.Permission, op string) error {
	if p.perms.Has(perm) {
		return nil
	}
	code := types.CodeUnknown
	if perm == manifest.PermNavigate {
		code = types.CodeNavigationFailed
	}
	return types.Wrap(code, types.ErrPermissionDenied, "%s requires the %s permission", op, perm)
}

// Navigate loads url after checking it against the allowed domains, then
// waits for the ready selector if one is given.
func (p *Page) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := p.require(manifest.PermNavigate, "navigate"); err != nil {
		return err
	}
	if err := manifest.CheckURL(p.rules, url); err != nil {
		p.log.Warnf("%s: blocked navigation to %s", p.adapterID, url)
		return err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultNavigateTimeout
	}
	p.log.Debugf("%s: navigate %s", p.adapterID, url)
	if err := p.driver.Navigate(ctx, url, timeout); err != nil {
		return asCoded(types.CodeNavigationFailed, err, "navigate to %s", url)
	}
	if landed, err := p.driver.CurrentURL(ctx); err == nil && landed != "" && landed != url {
		if err := manifest.CheckURL(p.rules, landed); err != nil {
			return types.Wrap(types.CodeNavigationFailed, types.ErrDomainNotAllowed, "navigation to %s redirected outside allowed domains to %s", url, landed)
		}
	}
	if opts.ReadySelector != "" {
		if err := p.poll(ctx, opts.ReadySelector, true, WaitOptions{Timeout: timeout}); err != nil {
			return types.Wrap(types.CodeNavigationFailed, err, "page %s not ready", url)
		}
	}
	return nil
}

// single resolves selector to exactly one element.
func (p *Page) single(ctx context.Context, selector string) error {
	n, err := p.driver.Count(ctx, selector)
	if err != nil {
		return asCoded(types.CodeSelectorNotFound, err, "query %q", selector)
	}
	switch {
	case n == 0:
		return types.Wrap(types.CodeSelectorNotFound, types.ErrSelectorNotFound, "no element matches %q", selector)
	case n > 1:
		return types.Wrap(types.CodeSelectorNotFound, types.ErrAmbiguousSelector, "%d elements match %q", n, selector)
	}
	return nil
}

// FillField sets a text control's value. Control characters other than tab
// and newline are stripped.
func (p *Page) FillField(ctx context.Context, selector, value string, opts FillOptions) error {
	if err := p.require(manifest.PermWriteForms, "fillField"); err != nil {
		return err
	}
	if err := p.single(ctx, selector); err != nil {
		return err
	}
	if err := p.driver.Fill(ctx, selector, StripControl(value), opts); err != nil {
		return asCoded(types.CodeUnknown, err, "fill %q", selector)
	}
	return nil
}

// SelectOption chooses an option by value, or by visible text with ByText.
func (p *Page) SelectOption(ctx context.Context, selector, value string, opts SelectOptions) error {
	if err := p.require(manifest.PermWriteForms, "selectOption"); err != nil {
		return err
	}
	if err := p.single(ctx, selector); err != nil {
		return err
	}
	if err := p.driver.Select(ctx, selector, value, opts); err != nil {
		return asCoded(types.CodeSelectorNotFound, err, "select %q in %q", value, selector)
	}
	return nil
}

// SetChecked sets a checkbox state.
func (p *Page) SetChecked(ctx context.Context, selector string, checked bool) error {
	if err := p.require(manifest.PermWriteForms, "setChecked"); err != nil {
		return err
	}
	if err := p.single(ctx, selector); err != nil {
		return err
	}
	if err := p.driver.SetChecked(ctx, selector, checked); err != nil {
		return asCoded(types.CodeUnknown, err, "check %q", selector)
	}
	return nil
}

// Click clicks exactly one element.
func (p *Page) Click(ctx context.Context, selector string, opts ClickOptions) error {
	if err := p.require(manifest.PermWriteForms, "click"); err != nil {
		return err
	}
	if err := p.single(ctx, selector); err != nil {
		return err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultNavigateTimeout
	}
	if err := p.driver.Click(ctx, selector, opts); err != nil {
		code := types.CodeUnknown
		if opts.WaitForNavigation {
			code = types.CodeNavigationFailed
		}
		return asCoded(code, err, "click %q", selector)
	}
	if opts.WaitForNavigation {
		if landed, err := p.driver.CurrentURL(ctx); err == nil && landed != "" {
			if err := manifest.CheckURL(p.rules, landed); err != nil {
				return types.Wrap(types.CodeNavigationFailed, types.ErrDomainNotAllowed, "click on %q navigated outside allowed domains to %s", selector, landed)
			}
		}
	}
	return nil
}

// GetText returns the trimmed text of the first match, or ok=false when
// nothing matches.
func (p *Page) GetText(ctx context.Context, selector string) (string, bool, error) {
	if err := p.require(manifest.PermReadForms, "getText"); err != nil {
		return "", false, err
	}
	if found, err := p.Exists(ctx, selector); err != nil || !found {
		return "", false, err
	}
	text, err := p.driver.Text(ctx, selector)
	if err != nil {
		return "", false, asCoded(types.CodeUnknown, err, "read text of %q", selector)
	}
	return strings.TrimSpace(text), true, nil
}

// GetValue returns the value of the first matching control, or ok=false.
func (p *Page) GetValue(ctx context.Context, selector string) (string, bool, error) {
	if err := p.require(manifest.PermReadForms, "getValue"); err != nil {
		return "", false, err
	}
	if found, err := p.Exists(ctx, selector); err != nil || !found {
		return "", false, err
	}
	v, err := p.driver.Value(ctx, selector)
	if err != nil {
		return "", false, asCoded(types.CodeUnknown, err, "read value of %q", selector)
	}
	return v, true, nil
}

// GetAttribute returns an attribute of the first match, or ok=false when
// the element or the attribute is missing.
func (p *Page) GetAttribute(ctx context.Context, selector, name string) (string, bool, error) {
	if err := p.require(manifest.PermReadForms, "getAttribute"); err != nil {
		return "", false, err
	}
	if found, err := p.Exists(ctx, selector); err != nil || !found {
		return "", false, err
	}
	v, ok, err := p.driver.Attribute(ctx, selector, name)
	if err != nil {
		return "", false, asCoded(types.CodeUnknown, err, "read %s of %q", name, selector)
	}
	return v, ok, nil
}

// Exists reports whether at least one element matches.
func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	if err := p.require(manifest.PermReadForms, "exists"); err != nil {
		return false, err
	}
	n, err := p.driver.Count(ctx, selector)
	if err != nil {
		return false, asCoded(types.CodeUnknown, err, "query %q", selector)
	}
	return n > 0, nil
}

// WaitForSelector polls until selector matches or the timeout elapses.
func (p *Page) WaitForSelector(ctx context.Context, selector string, opts WaitOptions) error {
	if err := p.require(manifest.PermReadForms, "waitForSelector"); err != nil {
		return err
	}
	if err := p.poll(ctx, selector, true, opts); err != nil {
		if errors.Is(err, types.ErrTimeout) {
			return types.Wrap(types.CodeSelectorNotFound, err, "waiting for %q", selector)
		}
		return err
	}
	return nil
}

// WaitForSelectorGone polls until selector no longer matches.
func (p *Page) WaitForSelectorGone(ctx context.Context, selector string, opts WaitOptions) error {
	if err := p.require(manifest.PermReadForms, "waitForSelectorGone"); err != nil {
		return err
	}
	if err := p.poll(ctx, selector, false, opts); err != nil {
		if errors.Is(err, types.ErrTimeout) {
			return types.Wrap(types.CodeUnknown, err, "waiting for %q to disappear", selector)
		}
		return err
	}
	return nil
}

// CurrentURL returns the page URL.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	if err := p.require(manifest.PermReadForms, "currentUrl"); err != nil {
		return "", err
	}
	u, err := p.driver.CurrentURL(ctx)
	if err != nil {
		return "", asCoded(types.CodeUnknown, err, "read current url")
	}
	return u, nil
}

// WaitForHuman suspends the call until a person completes a step on the
// page, or the timeout passes.
func (p *Page) WaitForHuman(ctx context.Context, opts HumanOptions) error {
	if err := p.require(manifest.PermHumanWait, "waitForHuman"); err != nil {
		return err
	}
	pageURL, _ := p.driver.CurrentURL(ctx)
	return p.human.Wait(ctx, human.Prompt{
		AdapterID: p.adapterID,
		Message:   opts.Prompt,
		PageURL:   pageURL,
		Timeout:   opts.Timeout,
	})
}

// poll waits until selector's presence equals present.
func (p *Page) poll(ctx context.Context, selector string, present bool, opts WaitOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := p.driver.Count(ctx, selector)
		if err != nil {
			return asCoded(types.CodeUnknown, err, "query %q", selector)
		}
		if (n > 0) == present {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("after %s: %w", timeout, types.ErrTimeout)
		case <-ticker.C:
		}
	}
}

// StripControl removes control characters except tab and newline.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// asCoded keeps a driver's own code when it has one.
func asCoded(fallback types.ErrorCode, err error, format string, args ...any) error {
	var coded *types.Error
	if errors.As(err, &coded) {
		return err
	}
	return types.Wrap(fallback, err, format, args...)
}
