// Package harness is a page driver over YAML fixtures. It stands in for a
// browser in tests and in dry runs of adapters: pages are plain element
// lists, and clicks fire the reactions the fixture declares.
package harness

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Action records one mutating driver call.
type Action struct {
	Kind     string
	Selector string
	Value    string
}

type element struct {
	ElementFixture
}

// Driver is a single simulated page.
type Driver struct {
	fixture   *Fixture
	url       string
	elements  []*element
	reactions []Reaction
	actions   []Action
	mu        sync.Mutex
	closed    bool
}

var _ capability.Driver = (*Driver)(nil)

// New returns a driver on a blank page.
func New(f *Fixture) *Driver {
	return &Driver{fixture: f, url: "about:blank"}
}

// Backend opens one fresh Driver per call over a shared fixture.
type Backend struct {
	Fixture *Fixture

	mu     sync.Mutex
	opened []*Driver
}

// Open implements capability.Backend.
func (b *Backend) Open(ctx context.Context) (capability.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d := New(b.Fixture)
	b.mu.Lock()
	b.opened = append(b.opened, d)
	b.mu.Unlock()
	return d, nil
}

// Close implements capability.Backend.
func (b *Backend) Close() error { return nil }

// Last returns the most recently opened driver, for inspection in tests.
func (b *Backend) Last() *Driver {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.opened) == 0 {
		return nil
	}
	return b.opened[len(b.opened)-1]
}

// Actions returns the mutating calls made so far.
func (d *Driver) Actions() []Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Action(nil), d.actions...)
}

func (d *Driver) check(ctx context.Context) error {
	if d.closed {
		return fmt.Errorf("page is closed")
	}
	return ctx.Err()
}

func (d *Driver) load(url string) error {
	for hops := 0; hops < 5; hops++ {
		p, ok := d.fixture.page(url)
		if !ok {
			return types.NewError(types.CodeNavigationFailed, "no fixture page for %s", url)
		}
		if p.Redirect != "" {
			url = p.Redirect
			if _, ok := d.fixture.page(url); !ok {
				d.url = url
				d.elements = nil
				d.reactions = nil
				return nil
			}
			continue
		}
		d.url = p.URL
		d.elements = make([]*element, 0, len(p.Elements))
		for _, ef := range p.Elements {
			e := &element{ElementFixture: ef}
			if ef.Attributes != nil {
				e.Attributes = make(map[string]string, len(ef.Attributes))
				for k, v := range ef.Attributes {
					e.Attributes[k] = v
				}
			}
			d.elements = append(d.elements, e)
		}
		d.reactions = p.Reactions
		return nil
	}
	return types.NewError(types.CodeNavigationFailed, "too many redirects from %s", url)
}

// Navigate implements capability.Driver.
func (d *Driver) Navigate(ctx context.Context, url string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	return d.load(url)
}

// CurrentURL implements capability.Driver.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return "", err
	}
	return d.url, nil
}

func (d *Driver) matches(selector string) []*element {
	var out []*element
	for _, e := range d.elements {
		if e.Selector == selector && !e.Hidden {
			out = append(out, e)
		}
	}
	return out
}

func (d *Driver) first(selector string) (*element, error) {
	m := d.matches(selector)
	if len(m) == 0 {
		return nil, types.Wrap(types.CodeSelectorNotFound, types.ErrSelectorNotFound, "no element matches %q", selector)
	}
	return m[0], nil
}

// Count implements capability.Driver.
func (d *Driver) Count(ctx context.Context, selector string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return 0, err
	}
	return len(d.matches(selector)), nil
}

// Fill implements capability.Driver.
func (d *Driver) Fill(ctx context.Context, selector, value string, opts capability.FillOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	e, err := d.first(selector)
	if err != nil {
		return err
	}
	switch e.Tag {
	case "", "input", "textarea":
	default:
		return fmt.Errorf("element %q is a %s and cannot be filled", selector, e.Tag)
	}
	if opts.Append {
		e.Value += value
	} else {
		e.Value = value
	}
	d.actions = append(d.actions, Action{Kind: "fill", Selector: selector, Value: value})
	return nil
}

// Select implements capability.Driver.
func (d *Driver) Select(ctx context.Context, selector, value string, opts capability.SelectOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	e, err := d.first(selector)
	if err != nil {
		return err
	}
	if e.Tag != "select" {
		return fmt.Errorf("element %q is not a select", selector)
	}
	for _, o := range e.Options {
		if (opts.ByText && o.Text == value) || (!opts.ByText && o.Value == value) {
			e.Value = o.Value
			d.actions = append(d.actions, Action{Kind: "select", Selector: selector, Value: o.Value})
			return nil
		}
	}
	return types.Wrap(types.CodeSelectorNotFound, types.ErrSelectorNotFound, "%q has no option %q", selector, value)
}

// SetChecked implements capability.Driver.
func (d *Driver) SetChecked(ctx context.Context, selector string, checked bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	e, err := d.first(selector)
	if err != nil {
		return err
	}
	e.Checked = checked
	d.actions = append(d.actions, Action{Kind: "check", Selector: selector, Value: strconv.FormatBool(checked)})
	return nil
}

// Click implements capability.Driver. Matching reactions fire in order.
func (d *Driver) Click(ctx context.Context, selector string, opts capability.ClickOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return err
	}
	if _, err := d.first(selector); err != nil {
		return err
	}
	d.actions = append(d.actions, Action{Kind: "click", Selector: selector})

	navigated := false
	for _, r := range d.reactions {
		if r.Click != selector || !d.holds(r.When) {
			continue
		}
		for sel, text := range r.SetText {
			for _, e := range d.all(sel) {
				e.Text = text
			}
		}
		for _, sel := range r.Show {
			for _, e := range d.all(sel) {
				e.Hidden = false
			}
		}
		for _, sel := range r.Hide {
			for _, e := range d.all(sel) {
				e.Hidden = true
			}
		}
		for _, sel := range r.Remove {
			d.remove(sel)
		}
		if r.Navigate != "" {
			if err := d.load(r.Navigate); err != nil {
				return err
			}
			navigated = true
			break
		}
	}
	if opts.WaitForNavigation && !navigated {
		return types.Wrap(types.CodeNavigationFailed, types.ErrTimeout, "click on %q did not navigate", selector)
	}
	return nil
}

func (d *Driver) all(selector string) []*element {
	var out []*element
	for _, e := range d.elements {
		if e.Selector == selector {
			out = append(out, e)
		}
	}
	return out
}

func (d *Driver) remove(selector string) {
	kept := d.elements[:0]
	for _, e := range d.elements {
		if e.Selector != selector {
			kept = append(kept, e)
		}
	}
	d.elements = kept
}

// holds reports whether every condition matches. Checkbox conditions compare
// against "true" or "false".
func (d *Driver) holds(when map[string]string) bool {
	for sel, want := range when {
		m := d.all(sel)
		if len(m) == 0 {
			return false
		}
		got := m[0].Value
		if m[0].Tag == "checkbox" {
			got = strconv.FormatBool(m[0].Checked)
		}
		if got != want {
			return false
		}
	}
	return true
}

// Text implements capability.Driver.
func (d *Driver) Text(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return "", err
	}
	e, err := d.first(selector)
	if err != nil {
		return "", err
	}
	return e.Text, nil
}

// Value implements capability.Driver.
func (d *Driver) Value(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return "", err
	}
	e, err := d.first(selector)
	if err != nil {
		return "", err
	}
	if e.Tag == "checkbox" {
		return strconv.FormatBool(e.Checked), nil
	}
	return e.Value, nil
}

// Attribute implements capability.Driver.
func (d *Driver) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(ctx); err != nil {
		return "", false, err
	}
	e, err := d.first(selector)
	if err != nil {
		return "", false, err
	}
	v, ok := e.Attributes[name]
	return v, ok, nil
}

// Close implements capability.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
