package adaptersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, out string) []Message {
	t.Helper()
	var msgs []Message
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var m Message
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		msgs = append(msgs, m)
	}
	return msgs
}

func TestServeDescribeAndExecute(t *testing.T) {
	a := &Adapter{
		ID: "demo.echo",
		Tools: map[string]Handler{
			"echo": func(_ context.Context, _ *Context, params map[string]any) (map[string]any, error) {
				return params, nil
			},
			"deny": func(context.Context, *Context, map[string]any) (map[string]any, error) {
				return nil, fmt.Errorf("login: %w", Fail("AUTH_REQUIRED", "session expired"))
			},
		},
	}
	in := strings.NewReader(`{"type":"describe","id":1}
{"type":"execute","tool":"echo","params":{"x":1},"id":2}

{"type":"execute","tool":"deny","id":3}
{"type":"execute","tool":"nope","id":4}
`)
	var out bytes.Buffer
	require.NoError(t, a.Serve(context.Background(), in, &out))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 4)

	assert.Equal(t, map[string]any{"id": "demo.echo", "tools": []any{"deny", "echo"}}, msgs[0].Data)
	assert.Equal(t, int64(2), msgs[1].ID)
	assert.Equal(t, map[string]any{"x": float64(1)}, msgs[1].Data)
	require.NotNil(t, msgs[2].Error)
	assert.Equal(t, "AUTH_REQUIRED", msgs[2].Error.Code)
	assert.Equal(t, "login: session expired", msgs[2].Error.Message)
	assert.Equal(t, "VALIDATION_ERROR", msgs[3].Error.Code)
}

func TestCapabilityCallRoundTrip(t *testing.T) {
	a := &Adapter{
		ID: "demo.page",
		Tools: map[string]Handler{
			"title": func(ctx context.Context, c *Context, _ map[string]any) (map[string]any, error) {
				text, ok, err := c.Page.GetText(ctx, "h1")
				if err != nil {
					return nil, err
				}
				return map[string]any{"title": text, "found": ok}, nil
			},
		},
	}
	in := strings.NewReader(`{"type":"execute","tool":"title","id":7}
{"type":"reply","id":1,"data":"Welcome"}
`)
	var out bytes.Buffer
	require.NoError(t, a.Serve(context.Background(), in, &out))

	msgs := decodeLines(t, out.String())
	require.Len(t, msgs, 2)
	assert.Equal(t, TypeCall, msgs[0].Type)
	assert.Equal(t, "page.get_text", msgs[0].Method)
	assert.Equal(t, []any{"h1"}, msgs[0].Args)
	assert.Equal(t, map[string]any{"title": "Welcome", "found": true}, msgs[1].Data)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "RATE_LIMITED", CodeOf(fmt.Errorf("wrapped: %w", Fail("RATE_LIMITED", "slow down"))))
	assert.Equal(t, "UNKNOWN", CodeOf(errors.New("plain")))
}
