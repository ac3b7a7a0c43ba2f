package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/types"
)

func testManifest(t *testing.T, id string) *manifest.Manifest {
	t.Helper()
	m := &manifest.Manifest{ID: id, Name: id, Version: "1.0.0", Domains: []string{"example.test"}, Runtime: manifest.RuntimeDeclarative}
	require.NoError(t, m.Validate())
	return m
}

func def(name string) *manifest.ToolDefinition {
	return &manifest.ToolDefinition{
		Name:        name,
		Description: name,
		InputSchema: &manifest.Schema{
			Type:       "object",
			Properties: map[string]*manifest.Schema{"zip": {Type: "string"}},
			Required:   []string{"zip"},
		},
	}
}

type recordingRunner struct {
	mu    sync.Mutex
	calls []string
	run   func(tool *Tool, args map[string]any) (map[string]any, error)
}

func (r *recordingRunner) Run(_ context.Context, tool *Tool, args map[string]any) (map[string]any, error) {
	r.mu.Lock()
	r.calls = append(r.calls, tool.Name)
	r.mu.Unlock()
	if r.run != nil {
		return r.run(tool, args)
	}
	return map[string]any{"zip": args["zip"]}, nil
}

func TestNamespaceRoundTrip(t *testing.T) {
	cases := []struct{ adapter, tool string }{
		{"bank", "check_balance"},
		{"gov.dmv", "renew_license"},
		{"my-site.forms", "a"},
		{"x1", "tool_with_single_underscores"},
	}
	for _, c := range cases {
		name := Join(c.adapter, c.tool)
		a, tool, ok := Split(name)
		require.True(t, ok, name)
		assert.Equal(t, c.adapter, a)
		assert.Equal(t, c.tool, tool)
	}

	for _, bad := range []string{"noseparator", "__tool", "adapter__", ""} {
		_, _, ok := Split(bad)
		assert.False(t, ok, bad)
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := New(&recordingRunner{})
	tools, err := r.Register(testManifest(t, "gov.dmv"), []*manifest.ToolDefinition{def("renew"), def("lookup")})
	require.NoError(t, err)
	require.Len(t, tools, 2)

	tool, err := r.Resolve("gov.dmv__renew")
	require.NoError(t, err)
	assert.Equal(t, "gov.dmv", tool.AdapterID)
	assert.Equal(t, "renew", tool.Definition.Name)

	assert.Equal(t, []string{"gov.dmv__lookup", "gov.dmv__renew"}, r.Names())
}

func TestRegisterDuplicateFailsAtomically(t *testing.T) {
	r := New(&recordingRunner{})
	_, err := r.Register(testManifest(t, "bank"), []*manifest.ToolDefinition{def("check")})
	require.NoError(t, err)

	_, err = r.Register(testManifest(t, "bank"), []*manifest.ToolDefinition{def("other"), def("check")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, r.Count(), "no tool of the rejected batch is registered")

	_, err = r.Register(testManifest(t, "shop"), []*manifest.ToolDefinition{def("x"), def("x")})
	assert.Error(t, err)
	_, err = r.Register(testManifest(t, "shop"), []*manifest.ToolDefinition{def("Bad__Name")})
	assert.Error(t, err)
}

func TestResolveUnknownListsKnownNames(t *testing.T) {
	r := New(&recordingRunner{})
	_, err := r.Resolve("bank__check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tools are registered")

	_, err = r.Register(testManifest(t, "bank"), []*manifest.ToolDefinition{def("transfer"), def("check")})
	require.NoError(t, err)

	_, err = r.Resolve("bank__withdraw")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrToolNotFound)
	assert.Equal(t, types.CodeValidation, types.CodeOf(err))
	assert.Contains(t, err.Error(), "bank__check, bank__transfer")
}

func TestUnregister(t *testing.T) {
	r := New(&recordingRunner{})
	_, err := r.Register(testManifest(t, "bank"), []*manifest.ToolDefinition{def("a"), def("b")})
	require.NoError(t, err)
	_, err = r.Register(testManifest(t, "shop"), []*manifest.ToolDefinition{def("a")})
	require.NoError(t, err)

	assert.Equal(t, 2, r.Unregister("bank"))
	assert.Equal(t, []string{"shop__a"}, r.Names())
}

func TestDispatchSuccessEmitsEvents(t *testing.T) {
	var mu sync.Mutex
	var events []*types.Event
	sink := func(e *types.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	runner := &recordingRunner{}
	r := New(runner, WithEventSink(sink))
	_, err := r.Register(testManifest(t, "bank"), []*manifest.ToolDefinition{def("check")})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), "bank__check", map[string]any{"zip": "94110"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, map[string]any{"zip": "94110"}, res.Data)

	require.Len(t, events, 2)
	assert.Equal(t, types.EventTypeToolCall, events[0].Type)
	assert.Equal(t, types.EventTypeToolResult, events[1].Type)
	assert.Equal(t, "bank__check", events[1].ToolName)
}

func TestDispatchValidatesBeforeRunning(t *testing.T) {
	runner := &recordingRunner{}
	r := New(runner)
	_, err := r.Register(testManifest(t, "bank"), []*manifest.ToolDefinition{def("check")})
	require.NoError(t, err)

	res := r.Dispatch(context.Background(), "bank__check", map[string]any{"zip": 94110})
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeValidation, res.Code)

	res = r.Dispatch(context.Background(), "bank__check", nil)
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeValidation, res.Code)
	assert.Contains(t, res.Error, "zip")

	assert.Empty(t, runner.calls, "the runner never sees invalid input")
}

func TestDispatchNormalizesFailures(t *testing.T) {
	runner := &recordingRunner{}
	r := New(runner)
	_, err := r.Register(testManifest(t, "bank"), []*manifest.ToolDefinition{def("check")})
	require.NoError(t, err)
	args := map[string]any{"zip": "1"}

	runner.run = func(*Tool, map[string]any) (map[string]any, error) {
		return nil, types.NewError(types.CodeSiteChanged, "form moved")
	}
	res := r.Dispatch(context.Background(), "bank__check", args)
	assert.Equal(t, types.CodeSiteChanged, res.Code)
	assert.Equal(t, "form moved", res.Error)

	runner.run = func(*Tool, map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	}
	res = r.Dispatch(context.Background(), "bank__check", args)
	assert.Equal(t, types.CodeUnknown, res.Code)

	runner.run = func(*Tool, map[string]any) (map[string]any, error) {
		panic("adapter bug")
	}
	res = r.Dispatch(context.Background(), "bank__check", args)
	assert.False(t, res.Success)
	assert.Equal(t, types.CodeUnknown, res.Code)
	assert.Contains(t, res.Error, "adapter bug")

	res = r.Dispatch(context.Background(), "bank__nope", args)
	assert.Equal(t, types.CodeValidation, res.Code)
}

func TestPolicy(t *testing.T) {
	p, err := NewPolicy([]string{"gov.*__*", "bank__check"}, []string{"*__delete_*"})
	require.NoError(t, err)

	assert.True(t, p.Allows("gov.dmv__renew"))
	assert.True(t, p.Allows("bank__check"))
	assert.False(t, p.Allows("bank__transfer"))
	assert.False(t, p.Allows("gov.dmv__delete_record"))

	open, err := NewPolicy(nil, []string{"*__delete_*"})
	require.NoError(t, err)
	assert.True(t, open.Allows("anything__goes"))
	assert.False(t, open.Allows("shop__delete_cart"))

	var none *Policy
	assert.True(t, none.Allows("x__y"))

	_, err = NewPolicy([]string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func TestDispatchHonorsPolicy(t *testing.T) {
	p, err := NewPolicy(nil, []string{"bank__transfer"})
	require.NoError(t, err)
	runner := &recordingRunner{}
	r := New(runner, WithPolicy(p))
	_, err = r.Register(testManifest(t, "bank"), []*manifest.ToolDefinition{def("check"), def("transfer")})
	require.NoError(t, err)

	assert.Equal(t, []string{"bank__check"}, r.Names())
	res := r.Dispatch(context.Background(), "bank__transfer", map[string]any{"zip": "1"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disabled by policy")
	assert.Empty(t, runner.calls)
}

func TestReadOnly(t *testing.T) {
	m := testManifest(t, "bank")
	m.Tools = []manifest.ToolSummary{{Name: "check", ReadOnly: true}}
	r := New(&recordingRunner{})
	tools, err := r.Register(m, []*manifest.ToolDefinition{def("check"), def("pay")})
	require.NoError(t, err)
	assert.True(t, tools[0].ReadOnly())
	assert.False(t, tools[1].ReadOnly())
}
