// Package adaptersdk is the Go library for writing process adapters.
//
// A process adapter is an ordinary executable. The host starts it with an
// empty environment in a throwaway directory, writes one request to stdin
// and serves the capability calls the adapter writes to stdout until the
// adapter writes its result. Everything the adapter does to the outside
// world goes through those calls.
//
// Each request gets a new process. Init runs once at load in a process of
// its own, so package variables, files and anything else it sets up are not
// visible to later tool calls. Keep state that must survive in c.Storage.
//
//	func main() {
//		adaptersdk.Run(&adaptersdk.Adapter{
//			ID: "gov.benefits",
//			Tools: map[string]adaptersdk.Handler{
//				"check_status": checkStatus,
//			},
//		})
//	}
package adaptersdk

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Handler implements one tool.
type Handler func(ctx context.Context, c *Context, params map[string]any) (map[string]any, error)

// Adapter describes a process adapter.
type Adapter struct {
	Tools map[string]Handler
	// Init, when set, runs once when the host loads the adapter, in a
	// separate process from every tool call. Only Storage writes persist.
	Init func(ctx context.Context, c *Context) error
	ID   string
}

// Run serves the adapter on stdin and stdout and exits the process.
func Run(a *Adapter) {
	if err := a.Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "adapter %s: %v\n", a.ID, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// Serve handles requests from r until it is closed.
func (a *Adapter) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	c := &conn{scanner: scanner, enc: json.NewEncoder(w)}

	for {
		req, err := c.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		res := a.handle(ctx, c, req)
		if err := c.send(res); err != nil {
			return err
		}
	}
}

func (a *Adapter) handle(ctx context.Context, c *conn, req Message) (res Message) {
	res = Message{Type: TypeResult, ID: req.ID}
	defer func() {
		if r := recover(); r != nil {
			res.Data = nil
			res.Error = &WireError{Code: "UNKNOWN", Message: fmt.Sprintf("adapter panicked: %v", r)}
		}
	}()

	cc := newContext(c)
	var (
		data any
		err  error
	)
	switch req.Type {
	case TypeDescribe:
		names := make([]string, 0, len(a.Tools))
		for name := range a.Tools {
			names = append(names, name)
		}
		sort.Strings(names)
		data = Description{ID: a.ID, Tools: names}
	case TypeInit:
		if a.Init != nil {
			err = a.Init(ctx, cc)
		}
	case TypeExecute:
		h, ok := a.Tools[req.Tool]
		if !ok {
			err = Fail("VALIDATION_ERROR", fmt.Sprintf("unknown tool %q", req.Tool))
			break
		}
		if req.Params == nil {
			req.Params = map[string]any{}
		}
		data, err = h(ctx, cc, req.Params)
	default:
		err = Fail("UNKNOWN", fmt.Sprintf("unexpected %q request", req.Type))
	}
	if err != nil {
		res.Error = toWire(err)
		return res
	}
	res.Data = data
	return res
}

// Fail returns an error that reaches the caller with the given code, one of
// NAVIGATION_FAILED, SELECTOR_NOT_FOUND, VALIDATION_ERROR, SITE_CHANGED,
// AUTH_REQUIRED, RATE_LIMITED or UNKNOWN.
func Fail(code, message string) error {
	return &WireError{Code: code, Message: message}
}

// CodeOf returns the code carried by err, or UNKNOWN.
func CodeOf(err error) string {
	var we *WireError
	if errors.As(err, &we) {
		return we.Code
	}
	return "UNKNOWN"
}

func toWire(err error) *WireError {
	var we *WireError
	if errors.As(err, &we) {
		return &WireError{Code: we.Code, Message: err.Error()}
	}
	return &WireError{Code: "UNKNOWN", Message: err.Error()}
}

type conn struct {
	scanner *bufio.Scanner
	enc     *json.Encoder
	mu      sync.Mutex
	seq     int64
}

func (c *conn) next() (Message, error) {
	for c.scanner.Scan() {
		line := strings.TrimSpace(c.scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return Message{}, fmt.Errorf("malformed message from host: %w", err)
		}
		return msg, nil
	}
	if err := c.scanner.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

func (c *conn) send(m Message) error {
	return c.enc.Encode(m)
}

// call sends one capability call and waits for its reply. Calls are
// serialized; the protocol carries one outstanding call at a time.
func (c *conn) call(method string, args []any, opts map[string]any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := c.seq
	if err := c.send(Message{Type: TypeCall, ID: id, Method: method, Args: args, Opts: opts}); err != nil {
		return nil, err
	}
	reply, err := c.next()
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", method, err)
	}
	if reply.Type != TypeReply || reply.ID != id {
		return nil, fmt.Errorf("unexpected %q message while waiting for %s", reply.Type, method)
	}
	if reply.Error != nil {
		return nil, reply.Error
	}
	return reply.Data, nil
}

// Context gives a handler the capability surfaces for its call.
type Context struct {
	Page    Page
	Storage Storage
	Notify  Notify
	Utils   Utils
}

func newContext(c *conn) *Context {
	return &Context{Page: Page{c}, Storage: Storage{c}, Notify: Notify{c}, Utils: Utils{c}}
}

func millis(d time.Duration) any {
	if d <= 0 {
		return nil
	}
	return d.Milliseconds()
}

func optionalString(v any, err error) (string, bool, error) {
	if err != nil || v == nil {
		return "", false, err
	}
	s, ok := v.(string)
	return s, ok, nil
}
