package capability_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/driver/harness"
	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/types"
)

const siteFixture = `
pages:
  - url: https://benefits.example.gov/check
    elements:
      - selector: "#household"
        tag: input
      - selector: "#notes"
        tag: textarea
      - selector: ".row"
        text: one
      - selector: ".row"
        text: two
      - selector: "#title"
        text: "   Benefits Check  "
        attributes: {data-step: "1"}
      - selector: "#spinner"
      - selector: "#go"
        tag: button
      - selector: "#away"
        tag: button
    reactions:
      - click: "#go"
        hide: ["#spinner"]
      - click: "#away"
        navigate: https://evil.test/landing
  - url: https://evil.test/landing
  - url: https://benefits.example.gov/moved
    redirect: https://evil.test/landing
  - url: https://example.gov/apply/start
  - url: https://example.gov/applyx
`

func allPerms() manifest.PermissionSet {
	set := manifest.PermissionSet{}
	for _, p := range manifest.KnownPermissions {
		set[p] = true
	}
	return set
}

func newPage(t *testing.T, perms manifest.PermissionSet, waiter human.Waiter) (*capability.Page, *harness.Driver) {
	t.Helper()
	f, err := harness.ParseFixture([]byte(siteFixture))
	require.NoError(t, err)
	m := &manifest.Manifest{
		ID:              "gov.benefits",
		Domains:         []string{"benefits.example.gov", "example.gov/apply"},
		DeclarativeOnly: true,
	}
	require.NoError(t, m.Validate())
	d := harness.New(f)
	return capability.NewPage(d, m, perms, waiter, nil), d
}

func TestNavigateDomainCheck(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		url  string
		code types.ErrorCode
		ok   bool
	}{
		{name: "allowed host", url: "https://benefits.example.gov/check", ok: true},
		{name: "allowed path prefix", url: "https://example.gov/apply/start", ok: true},
		{name: "host mismatch", url: "https://evil.test/landing", code: types.CodeNavigationFailed},
		{name: "path prefix mismatch", url: "https://example.gov/applyx", code: types.CodeNavigationFailed},
		{name: "dot segments leave prefix", url: "https://example.gov/apply/../admin", code: types.CodeNavigationFailed},
		{name: "encoded dot segments", url: "https://example.gov/apply/%2e%2e/admin", code: types.CodeNavigationFailed},
		{name: "redirect off domain", url: "https://benefits.example.gov/moved", code: types.CodeNavigationFailed},
		{name: "bad scheme", url: "file:///etc/passwd", code: types.CodeNavigationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, d := newPage(t, allPerms(), nil)
			err := page.Navigate(ctx, tt.url, capability.NavigateOptions{})
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrDomainNotAllowed)
			assert.Equal(t, tt.code, types.CodeOf(err))
			if tt.name != "redirect off domain" {
				u, _ := d.CurrentURL(ctx)
				assert.Equal(t, "about:blank", u, "driver must not be touched")
			}
		})
	}
}

func TestNavigateReadySelector(t *testing.T) {
	ctx := context.Background()
	page, _ := newPage(t, allPerms(), nil)

	require.NoError(t, page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{ReadySelector: "#title"}))

	err := page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{ReadySelector: "#never", Timeout: 30 * time.Millisecond})
	assert.Equal(t, types.CodeNavigationFailed, types.CodeOf(err))
}

func TestActionsRequireExactlyOneElement(t *testing.T) {
	ctx := context.Background()
	page, _ := newPage(t, allPerms(), nil)
	require.NoError(t, page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{}))

	err := page.FillField(ctx, "#missing", "x", capability.FillOptions{})
	assert.Equal(t, types.CodeSelectorNotFound, types.CodeOf(err))
	assert.ErrorIs(t, err, types.ErrSelectorNotFound)

	err = page.Click(ctx, ".row", capability.ClickOptions{})
	assert.Equal(t, types.CodeSelectorNotFound, types.CodeOf(err))
	assert.ErrorIs(t, err, types.ErrAmbiguousSelector)
}

func TestFillFieldStripsControlCharacters(t *testing.T) {
	ctx := context.Background()
	page, d := newPage(t, allPerms(), nil)
	require.NoError(t, page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{}))

	require.NoError(t, page.FillField(ctx, "#notes", "line1\nline2\t\x00\x1b[31m\x7f", capability.FillOptions{}))
	v, ok, err := page.GetValue(ctx, "#notes")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "line1\nline2\t[31m", v)

	actions := d.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "fill", actions[0].Kind)
}

func TestReadsAreNonFatal(t *testing.T) {
	ctx := context.Background()
	page, _ := newPage(t, allPerms(), nil)
	require.NoError(t, page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{}))

	text, ok, err := page.GetText(ctx, "#title")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Benefits Check", text)

	_, ok, err = page.GetText(ctx, "#missing")
	require.NoError(t, err)
	assert.False(t, ok)

	attr, ok, err := page.GetAttribute(ctx, "#title", "data-step")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", attr)

	_, ok, err = page.GetAttribute(ctx, "#title", "data-none")
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := page.Exists(ctx, ".row")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWaits(t *testing.T) {
	ctx := context.Background()
	page, _ := newPage(t, allPerms(), nil)
	require.NoError(t, page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{}))

	fast := capability.WaitOptions{Timeout: 40 * time.Millisecond, Interval: 5 * time.Millisecond}

	assert.NoError(t, page.WaitForSelector(ctx, "#title", fast))
	err := page.WaitForSelector(ctx, "#never", fast)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, types.CodeSelectorNotFound, types.CodeOf(err))

	err = page.WaitForSelectorGone(ctx, "#spinner", fast)
	assert.ErrorIs(t, err, types.ErrTimeout)
	assert.Equal(t, types.CodeUnknown, types.CodeOf(err))

	require.NoError(t, page.Click(ctx, "#go", capability.ClickOptions{}))
	assert.NoError(t, page.WaitForSelectorGone(ctx, "#spinner", fast))
}

func TestClickNavigationOffDomain(t *testing.T) {
	ctx := context.Background()
	page, _ := newPage(t, allPerms(), nil)
	require.NoError(t, page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{}))

	err := page.Click(ctx, "#away", capability.ClickOptions{WaitForNavigation: true})
	assert.ErrorIs(t, err, types.ErrDomainNotAllowed)
	assert.Equal(t, types.CodeNavigationFailed, types.CodeOf(err))
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	readOnly := manifest.PermissionSet{manifest.PermNavigate: true, manifest.PermReadForms: true}
	page, _ := newPage(t, readOnly, nil)
	require.NoError(t, page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{}))

	err := page.FillField(ctx, "#household", "3", capability.FillOptions{})
	assert.ErrorIs(t, err, types.ErrPermissionDenied)

	err = page.WaitForHuman(ctx, capability.HumanOptions{Prompt: "x"})
	assert.ErrorIs(t, err, types.ErrPermissionDenied)

	noNav, _ := newPage(t, manifest.PermissionSet{manifest.PermReadForms: true}, nil)
	err = noNav.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{})
	assert.ErrorIs(t, err, types.ErrPermissionDenied)
	assert.Equal(t, types.CodeNavigationFailed, types.CodeOf(err))
}

type recordingWaiter struct {
	mu      sync.Mutex
	prompts []human.Prompt
	err     error
}

func (w *recordingWaiter) Wait(_ context.Context, p human.Prompt) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prompts = append(w.prompts, p)
	return w.err
}

func TestWaitForHuman(t *testing.T) {
	ctx := context.Background()
	w := &recordingWaiter{}
	page, _ := newPage(t, allPerms(), w)
	require.NoError(t, page.Navigate(ctx, "https://benefits.example.gov/check", capability.NavigateOptions{}))

	require.NoError(t, page.WaitForHuman(ctx, capability.HumanOptions{Prompt: "Solve the challenge", Timeout: time.Minute}))
	require.Len(t, w.prompts, 1)
	assert.Equal(t, human.Prompt{
		AdapterID: "gov.benefits",
		Message:   "Solve the challenge",
		PageURL:   "https://benefits.example.gov/check",
		Timeout:   time.Minute,
	}, w.prompts[0])

	unattended, _ := newPage(t, allPerms(), nil)
	err := unattended.WaitForHuman(ctx, capability.HumanOptions{Prompt: "x"})
	assert.ErrorIs(t, err, types.ErrHumanUnavailable)
	assert.Equal(t, types.CodeHumanRequired, types.CodeOf(err))
}

func TestStripControl(t *testing.T) {
	assert.Equal(t, "a\tb\nc", capability.StripControl("a\tb\r\nc\x00"))
	assert.Equal(t, "héllo", capability.StripControl("héllo\u0085"))
}
