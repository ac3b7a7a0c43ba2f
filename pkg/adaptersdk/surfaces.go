package adaptersdk

import (
	"context"
	"time"
)

// Page drives the page the host opened for this call. The context
// arguments are accepted for symmetry with host APIs; calls are bounded by
// the host's own timeouts.
type Page struct{ c *conn }

// NavigateOptions configures Page.Navigate.
type NavigateOptions struct {
	ReadySelector string
	Timeout       time.Duration
}

func (p Page) Navigate(_ context.Context, url string, opts NavigateOptions) error {
	_, err := p.c.call("page.navigate", []any{url}, map[string]any{
		"ready_selector": opts.ReadySelector,
		"timeout_ms":     millis(opts.Timeout),
	})
	return err
}

func (p Page) FillField(_ context.Context, selector, value string) error {
	_, err := p.c.call("page.fill_field", []any{selector, value}, nil)
	return err
}

func (p Page) SelectOption(_ context.Context, selector, value string, byText bool) error {
	_, err := p.c.call("page.select_option", []any{selector, value}, map[string]any{"by_text": byText})
	return err
}

func (p Page) SetChecked(_ context.Context, selector string, checked bool) error {
	_, err := p.c.call("page.set_checked", []any{selector, checked}, nil)
	return err
}

func (p Page) Click(_ context.Context, selector string, waitForNavigation bool) error {
	_, err := p.c.call("page.click", []any{selector}, map[string]any{"wait_for_navigation": waitForNavigation})
	return err
}

// GetText returns the element's trimmed text; ok is false when it is absent.
func (p Page) GetText(_ context.Context, selector string) (string, bool, error) {
	return optionalString(p.c.call("page.get_text", []any{selector}, nil))
}

func (p Page) GetValue(_ context.Context, selector string) (string, bool, error) {
	return optionalString(p.c.call("page.get_value", []any{selector}, nil))
}

func (p Page) GetAttribute(_ context.Context, selector, name string) (string, bool, error) {
	return optionalString(p.c.call("page.get_attribute", []any{selector, name}, nil))
}

func (p Page) Exists(_ context.Context, selector string) (bool, error) {
	v, err := p.c.call("page.exists", []any{selector}, nil)
	b, _ := v.(bool)
	return b, err
}

func (p Page) WaitForSelector(_ context.Context, selector string, timeout time.Duration) error {
	_, err := p.c.call("page.wait_for_selector", []any{selector}, map[string]any{"timeout_ms": millis(timeout)})
	return err
}

func (p Page) WaitForSelectorGone(_ context.Context, selector string, timeout time.Duration) error {
	_, err := p.c.call("page.wait_for_selector_gone", []any{selector}, map[string]any{"timeout_ms": millis(timeout)})
	return err
}

func (p Page) CurrentURL(_ context.Context) (string, error) {
	v, err := p.c.call("page.current_url", nil, nil)
	s, _ := v.(string)
	return s, err
}

// WaitForHuman blocks until a person marks the step done or timeout passes.
func (p Page) WaitForHuman(_ context.Context, prompt string, timeout time.Duration) error {
	_, err := p.c.call("page.wait_for_human", nil, map[string]any{"prompt": prompt, "timeout_ms": millis(timeout)})
	return err
}

// Storage is the adapter's private key-value store.
type Storage struct{ c *conn }

// Get returns nil when key is absent.
func (s Storage) Get(_ context.Context, key string) (any, error) {
	return s.c.call("storage.get", []any{key}, nil)
}

func (s Storage) Set(_ context.Context, key string, value any) error {
	_, err := s.c.call("storage.set", []any{key, value}, nil)
	return err
}

func (s Storage) Delete(_ context.Context, key string) error {
	_, err := s.c.call("storage.delete", []any{key}, nil)
	return err
}

func (s Storage) Clear(_ context.Context) error {
	_, err := s.c.call("storage.clear", nil, nil)
	return err
}

// Notify sends best-effort messages to the operator. Errors are dropped.
type Notify struct{ c *conn }

func (n Notify) Info(message string)  { _, _ = n.c.call("notify.info", []any{message}, nil) }
func (n Notify) Warn(message string)  { _, _ = n.c.call("notify.warn", []any{message}, nil) }
func (n Notify) Error(message string) { _, _ = n.c.call("notify.error", []any{message}, nil) }

// Utils exposes the host's helper functions so results match other runtimes.
type Utils struct{ c *conn }

func (u Utils) Sleep(_ context.Context, d time.Duration) error {
	_, err := u.c.call("utils.sleep", []any{d.Milliseconds()}, nil)
	return err
}

// ParseDate returns an RFC 3339 timestamp, or ok=false when s is not a date.
func (u Utils) ParseDate(_ context.Context, s string) (string, bool, error) {
	return optionalString(u.c.call("utils.parse_date", []any{s}, nil))
}

func (u Utils) FormatCurrency(_ context.Context, amount float64) (string, error) {
	v, err := u.c.call("utils.format_currency", []any{amount}, nil)
	s, _ := v.(string)
	return s, err
}

func (u Utils) ParseAmount(_ context.Context, s string) (float64, bool, error) {
	v, err := u.c.call("utils.parse_amount", []any{s}, nil)
	f, ok := v.(float64)
	return f, ok, err
}
