package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/sitebridge/pkg/human"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/registry"
	"github.com/entrhq/sitebridge/pkg/telemetry"
	"github.com/entrhq/sitebridge/pkg/types"
)

func newRegistry(t *testing.T, opts ...registry.Option) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.RunnerFunc(func(_ context.Context, tool *registry.Tool, args map[string]any) (map[string]any, error) {
		if tool.Definition.Name == "locked" {
			return nil, types.NewError(types.CodeAuthRequired, "session expired")
		}
		return map[string]any{"zip": args["zip"], "tool": tool.Name}, nil
	}), opts...)

	m := &manifest.Manifest{
		ID: "bank", Name: "Bank", Version: "1.2.0", Domains: []string{"bank.test"},
		Runtime: manifest.RuntimeScript, Entrypoint: "adapter.vibe",
		Tools: []manifest.ToolSummary{{Name: "lookup", ReadOnly: true}, {Name: "locked"}},
	}
	require.NoError(t, m.Validate())
	schema := &manifest.Schema{
		Type:       "object",
		Properties: map[string]*manifest.Schema{"zip": {Type: "string"}},
		Required:   []string{"zip"},
	}
	_, err := reg.Register(m, []*manifest.ToolDefinition{
		{Name: "lookup", Description: "Look up a zip", InputSchema: schema},
		{Name: "locked", Description: "Always locked"},
	})
	require.NoError(t, err)
	return reg
}

// rpc sends one JSON-RPC message through the MCP server and decodes the
// response envelope.
func rpc(t *testing.T, s *Server, method string, params any) map[string]any {
	t.Helper()
	msg, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	resp := s.MCP().HandleMessage(context.Background(), msg)
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Nil(t, out["error"], "rpc error: %s", raw)
	return out["result"].(map[string]any)
}

func initialize(t *testing.T, s *Server) {
	t.Helper()
	rpc(t, s, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "0"},
	})
}

func toolNames(t *testing.T, s *Server) []string {
	t.Helper()
	result := rpc(t, s, "tools/list", map[string]any{})
	var names []string
	for _, tool := range result["tools"].([]any) {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	return names
}

func TestMCPPublishesRegistry(t *testing.T) {
	s := New(newRegistry(t), Options{})
	initialize(t, s)

	result := rpc(t, s, "tools/list", map[string]any{})
	tools := result["tools"].([]any)
	require.Len(t, tools, 2)

	byName := make(map[string]map[string]any)
	for _, tool := range tools {
		m := tool.(map[string]any)
		byName[m["name"].(string)] = m
	}
	lookup := byName["bank__lookup"]
	require.NotNil(t, lookup)
	assert.Equal(t, "Look up a zip", lookup["description"])
	schema := lookup["inputSchema"].(map[string]any)
	assert.Equal(t, []any{"zip"}, schema["required"])
	annotations := lookup["annotations"].(map[string]any)
	assert.Equal(t, true, annotations["readOnlyHint"])
	assert.Equal(t, false, byName["bank__locked"]["annotations"].(map[string]any)["readOnlyHint"])
}

func callText(t *testing.T, s *Server, name string, args map[string]any) (types.Result, bool) {
	t.Helper()
	result := rpc(t, s, "tools/call", map[string]any{"name": name, "arguments": args})
	content := result["content"].([]any)
	require.Len(t, content, 1)
	var res types.Result
	require.NoError(t, json.Unmarshal([]byte(content[0].(map[string]any)["text"].(string)), &res))
	isError, _ := result["isError"].(bool)
	return res, isError
}

func TestMCPCallReturnsTaggedResult(t *testing.T) {
	s := New(newRegistry(t), Options{})
	initialize(t, s)

	res, isError := callText(t, s, "bank__lookup", map[string]any{"zip": "94110"})
	assert.False(t, isError)
	assert.True(t, res.Success)
	assert.Equal(t, "94110", res.Data["zip"])

	res, isError = callText(t, s, "bank__locked", nil)
	assert.True(t, isError)
	assert.Equal(t, types.CodeAuthRequired, res.Code)
	assert.Equal(t, "session expired", res.Error)

	res, isError = callText(t, s, "bank__lookup", map[string]any{"zip": 94110})
	assert.True(t, isError)
	assert.Equal(t, types.CodeValidation, res.Code)
}

func TestSyncFollowsRegistry(t *testing.T) {
	reg := newRegistry(t)
	s := New(reg, Options{})
	initialize(t, s)
	assert.Len(t, toolNames(t, s), 2)

	reg.Unregister("bank")
	s.Sync()
	assert.Empty(t, toolNames(t, s))
}

func TestSyncHonorsPolicy(t *testing.T) {
	policy, err := registry.NewPolicy(nil, []string{"*__locked"})
	require.NoError(t, err)
	s := New(newRegistry(t, registry.WithPolicy(policy)), Options{})
	initialize(t, s)
	assert.Equal(t, []string{"bank__lookup"}, toolNames(t, s))
}

func TestHTTPHealthAndTools(t *testing.T) {
	s := New(newRegistry(t), Options{Version: "1.0.0", AccessLog: true})
	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	var inv toolInventory
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&inv))
	assert.Equal(t, "sitebridge", inv.Server)
	require.Len(t, inv.Tools, 2)
	assert.Equal(t, "bank__locked", inv.Tools[0].Name)
	assert.Equal(t, "bank", inv.Tools[1].AdapterID)
	assert.True(t, inv.Tools[1].ReadOnly)
	assert.JSONEq(t, `{"type":"object","properties":{"zip":{"type":"string"}},"required":["zip"]}`, string(inv.Tools[1].InputSchema))
}

func TestHTTPCallTool(t *testing.T) {
	s := New(newRegistry(t), Options{})
	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/tools/bank__lookup/call", "application/json", strings.NewReader(`{"zip":"10001"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	var res types.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Success)
	assert.Equal(t, "10001", res.Data["zip"])

	bad, err := http.Post(ts.URL+"/tools/bank__lookup/call", "application/json", strings.NewReader(`[1,2]`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHTTPMetrics(t *testing.T) {
	ctx := context.Background()
	provider, err := telemetry.Setup(ctx, telemetry.Config{ServiceName: "test"})
	require.NoError(t, err)
	defer provider.Shutdown(ctx)

	obs, err := provider.Observer()
	require.NoError(t, err)
	reg := newRegistry(t, registry.WithObserver(obs))
	s := New(reg, Options{Telemetry: provider})
	reg.Dispatch(ctx, "bank__lookup", map[string]any{"zip": "1"})

	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Metrics []telemetry.Point `json:"metrics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	var calls float64
	for _, p := range body.Metrics {
		if p.Name == telemetry.MetricCalls {
			calls += p.Value
		}
	}
	assert.Equal(t, 1.0, calls)

	disabled := httptest.NewServer(New(reg, Options{}).Handler(nil))
	defer disabled.Close()
	resp2, err := http.Get(disabled.URL + "/metrics")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestHTTPHumanRequests(t *testing.T) {
	broker := human.NewBroker(time.Minute)
	s := New(newRegistry(t), Options{Broker: broker})
	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- broker.Wait(context.Background(), human.Prompt{AdapterID: "bank", Message: "Solve the CAPTCHA"})
	}()
	require.Eventually(t, func() bool { return len(broker.Pending()) == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Get(ts.URL + "/human/requests")
	require.NoError(t, err)
	var list struct {
		Requests []human.Request `json:"requests"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Requests, 1)
	id := list.Requests[0].ID
	assert.Equal(t, "Solve the CAPTCHA", list.Requests[0].Prompt)

	resp, err = http.Post(ts.URL+"/human/requests/not-the-id/complete", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	select {
	case <-waitErr:
		t.Fatal("a mismatched id must not resolve the request")
	default:
	}

	resp, err = http.Get(ts.URL + "/human/requests/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/human/requests/"+id+"/complete", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("completing over http did not resolve the wait")
	}
}

func TestHTTPHumanRoutesWithoutBroker(t *testing.T) {
	s := New(newRegistry(t), Options{})
	ts := httptest.NewServer(s.Handler(nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/human/requests")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestEventsForwardsAndChains(t *testing.T) {
	s := New(newRegistry(t), Options{})
	var seen []types.EventType
	sink := s.Events(func(e *types.Event) { seen = append(seen, e.Type) })

	sink(types.NewNotifyEvent("bank", types.NotifyWarn, "slow site"))
	sink(types.NewToolCallEvent("bank", "bank__lookup", nil))
	assert.Equal(t, []types.EventType{types.EventTypeNotify, types.EventTypeToolCall}, seen)
	assert.Equal(t, "warning", notifyLevel(types.NotifyWarn))
	assert.Equal(t, "info", notifyLevel(types.NotifyInfo))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := New(newRegistry(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0", s.Handler(nil)) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
