package capability

import (
	"context"
	"time"
)

// Driver is the backend primitive set the page capability is built on.
// Callers guarantee that element-targeting methods are only used after the
// selector was confirmed to match; drivers act on the first match.
type Driver interface {
	// Navigate loads url and waits for the load to settle, up to timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// CurrentURL returns the page's URL.
	CurrentURL(ctx context.Context) (string, error)

	// Count returns how many elements match selector.
	Count(ctx context.Context, selector string) (int, error)

	// Fill types value into the element, firing input and change events.
	Fill(ctx context.Context, selector, value string, opts FillOptions) error

	// Select chooses an option of a select element by value or visible text.
	Select(ctx context.Context, selector, value string, opts SelectOptions) error

	// SetChecked sets a checkbox or radio state.
	SetChecked(ctx context.Context, selector string, checked bool) error

	// Click clicks the element, optionally waiting for the resulting navigation.
	Click(ctx context.Context, selector string, opts ClickOptions) error

	// Text returns the element's text content.
	Text(ctx context.Context, selector string) (string, error)

	// Value returns a form control's current value.
	Value(ctx context.Context, selector string) (string, error)

	// Attribute returns an attribute value and whether it is present.
	Attribute(ctx context.Context, selector, name string) (string, bool, error)

	// Close releases the page.
	Close() error
}

// NavigateOptions configures Page.Navigate.
type NavigateOptions struct {
	ReadySelector string
	Timeout       time.Duration
}

// FillOptions configures Page.FillField.
type FillOptions struct {
	// Append keeps the existing value instead of clearing it first.
	Append bool
	// TypeDelay types one character at a time with this delay.
	TypeDelay time.Duration
}

// SelectOptions configures Page.SelectOption.
type SelectOptions struct {
	ByText bool
}

// ClickOptions configures Page.Click.
type ClickOptions struct {
	WaitForNavigation bool
	Timeout           time.Duration
}

// WaitOptions configures the polling waits.
type WaitOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// HumanOptions configures Page.WaitForHuman.
type HumanOptions struct {
	Prompt  string
	Timeout time.Duration
}

// Backend opens drivers. Each tool call gets its own driver and closes it
// when the call ends; Close releases whatever the backend holds.
type Backend interface {
	Open(ctx context.Context) (Driver, error)
	Close() error
}
