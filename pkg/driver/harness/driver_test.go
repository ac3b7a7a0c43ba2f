package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/types"
)

const formFixture = `
pages:
  - url: https://example.gov/form
    elements:
      - selector: "#name"
        tag: input
      - selector: "#state"
        tag: select
        options:
          - {value: "ca", text: "California"}
          - {value: "ny", text: "New York"}
      - selector: "#agree"
        tag: checkbox
      - selector: "#go"
        tag: button
        text: Go
      - selector: "#out"
        hidden: true
        attributes: {data-id: "42"}
    reactions:
      - click: "#go"
        when: {"#agree": "true"}
        set_text: {"#out": "Accepted"}
        show: ["#out"]
      - click: "#go"
        when: {"#agree": "false"}
        set_text: {"#out": "Rejected"}
        show: ["#out"]
  - url: https://example.gov/old
    redirect: https://example.gov/form
`

func newDriver(t *testing.T) *Driver {
	t.Helper()
	f, err := ParseFixture([]byte(formFixture))
	require.NoError(t, err)
	d := New(f)
	require.NoError(t, d.Navigate(context.Background(), "https://example.gov/form", 0))
	return d
}

func TestNavigateUnknownPage(t *testing.T) {
	f, err := ParseFixture([]byte(formFixture))
	require.NoError(t, err)
	d := New(f)

	err = d.Navigate(context.Background(), "https://example.gov/missing", 0)
	assert.Equal(t, types.CodeNavigationFailed, types.CodeOf(err))
}

func TestRedirect(t *testing.T) {
	f, err := ParseFixture([]byte(formFixture))
	require.NoError(t, err)
	d := New(f)

	require.NoError(t, d.Navigate(context.Background(), "https://example.gov/old/", 0))
	u, err := d.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.gov/form", u)
}

func TestFormInteraction(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	n, err := d.Count(ctx, "#out")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "hidden elements do not count")

	require.NoError(t, d.Fill(ctx, "#name", "Ada", capability.FillOptions{}))
	require.NoError(t, d.Fill(ctx, "#name", " L", capability.FillOptions{Append: true}))
	v, err := d.Value(ctx, "#name")
	require.NoError(t, err)
	assert.Equal(t, "Ada L", v)

	require.NoError(t, d.Select(ctx, "#state", "New York", capability.SelectOptions{ByText: true}))
	v, _ = d.Value(ctx, "#state")
	assert.Equal(t, "ny", v)
	assert.Error(t, d.Select(ctx, "#state", "tx", capability.SelectOptions{}))

	require.NoError(t, d.SetChecked(ctx, "#agree", true))
	require.NoError(t, d.Click(ctx, "#go", capability.ClickOptions{}))

	text, err := d.Text(ctx, "#out")
	require.NoError(t, err)
	assert.Equal(t, "Accepted", text)

	attr, ok, err := d.Attribute(ctx, "#out", "data-id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", attr)

	kinds := []string{}
	for _, a := range d.Actions() {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []string{"fill", "fill", "select", "check", "click"}, kinds)
}

func TestConditionalReaction(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)

	require.NoError(t, d.Click(ctx, "#go", capability.ClickOptions{}))
	text, err := d.Text(ctx, "#out")
	require.NoError(t, err)
	assert.Equal(t, "Rejected", text)
}

func TestClickWaitForNavigationWithoutNavigation(t *testing.T) {
	d := newDriver(t)
	err := d.Click(context.Background(), "#go", capability.ClickOptions{WaitForNavigation: true})
	assert.Equal(t, types.CodeNavigationFailed, types.CodeOf(err))
}

func TestClosedDriver(t *testing.T) {
	d := newDriver(t)
	require.NoError(t, d.Close())
	_, err := d.Count(context.Background(), "#go")
	assert.Error(t, err)
}

func TestFixtureValidation(t *testing.T) {
	_, err := ParseFixture([]byte("pages:\n  - elements: []\n"))
	assert.Error(t, err)

	_, err = ParseFixture([]byte("pages:\n  - url: https://a.test\n  - url: https://a.test/\n"))
	assert.Error(t, err)
}

func TestLoadFixtureDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("pages:\n  - url: https://a.test\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("pages:\n  - url: https://b.test\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	f, err := LoadFixture(dir)
	require.NoError(t, err)
	assert.Len(t, f.Pages, 2)

	b := &Backend{Fixture: f}
	drv, err := b.Open(context.Background())
	require.NoError(t, err)
	assert.NoError(t, drv.Navigate(context.Background(), "https://b.test", 0))
	assert.Same(t, drv, capability.Driver(b.Last()))
}
