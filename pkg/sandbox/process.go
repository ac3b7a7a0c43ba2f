package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entrhq/sitebridge/pkg/adaptersdk"
	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/types"
)

const maxLineBytes = 4 << 20

// ProcessAdapter runs an adapter executable once per invocation. The child
// gets an empty environment and a fresh temporary working directory, and can
// only act by sending capability calls over stdout.
//
// Init, describe and every Execute each run in their own process, so memory,
// files and environment set up during init are gone by the first Execute.
// Adapter storage is the only state that carries over.
type ProcessAdapter struct {
	log     *logging.Logger
	path    string
	id      string
	tools   []string
	timeout time.Duration
	seq     atomic.Int64
}

// LoadProcess asks the executable at path to describe itself.
func LoadProcess(ctx context.Context, path string, cfg Config, log *logging.Logger) (*ProcessAdapter, error) {
	if log == nil {
		log = logging.Nop()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat entrypoint: %w", err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return nil, fmt.Errorf("entrypoint %s is not executable", path)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().CallTimeout
	}
	a := &ProcessAdapter{log: log, path: path, timeout: timeout}

	descCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	data, err := a.run(descCtx, adaptersdk.Message{Type: adaptersdk.TypeDescribe}, nil)
	if err != nil {
		return nil, fmt.Errorf("describe failed: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("describe returned %T", data)
	}
	var desc adaptersdk.Description
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("describe returned malformed data: %w", err)
	}
	a.id = desc.ID
	a.tools = desc.Tools
	return a, nil
}

func (a *ProcessAdapter) ID() string      { return a.id }
func (a *ProcessAdapter) Tools() []string { return append([]string(nil), a.tools...) }
func (a *ProcessAdapter) Close() error    { return nil }

// Init runs the adapter's init handler in its own process. Only its storage
// writes outlive it.
func (a *ProcessAdapter) Init(ctx context.Context, cc *capability.Context) error {
	_, err := a.run(ctx, adaptersdk.Message{Type: adaptersdk.TypeInit}, cc)
	return err
}

// Execute runs one tool in a fresh process.
func (a *ProcessAdapter) Execute(ctx context.Context, tool string, params map[string]any, cc *capability.Context) (map[string]any, error) {
	data, err := a.run(ctx, adaptersdk.Message{Type: adaptersdk.TypeExecute, Tool: tool, Params: params}, cc)
	if err != nil {
		return nil, err
	}
	switch t := data.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	default:
		return map[string]any{"value": t}, nil
	}
}

// run starts the child, sends req, serves its capability calls and returns
// the data of its result.
func (a *ProcessAdapter) run(ctx context.Context, req adaptersdk.Message, cc *capability.Context) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	workDir, err := os.MkdirTemp("", "sitebridge-adapter-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	cmd := exec.CommandContext(ctx, a.path)
	cmd.Dir = workDir
	cmd.Env = []string{}
	cmd.Stderr = &logWriter{log: a.log, prefix: a.path}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start adapter: %w", err)
	}

	data, protoErr := a.converse(ctx, req, cc, stdin, stdout)
	_ = stdin.Close()
	waitErr := cmd.Wait()

	if protoErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, types.Wrap(types.CodeUnknown, types.ErrTimeout, "adapter process exceeded %s", a.timeout)
		}
		return nil, protoErr
	}
	if waitErr != nil {
		a.log.Debugf("%s exited after result: %v", a.path, waitErr)
	}
	return data, nil
}

func (a *ProcessAdapter) converse(ctx context.Context, req adaptersdk.Message, cc *capability.Context, w io.Writer, r io.Reader) (any, error) {
	enc := json.NewEncoder(w)
	req.ID = a.seq.Add(1)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", req.Type, err)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg adaptersdk.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, types.NewError(types.CodeUnknown, "adapter wrote malformed line: %v", err)
		}

		switch msg.Type {
		case adaptersdk.TypeResult:
			if msg.ID != req.ID {
				return nil, types.NewError(types.CodeUnknown, "adapter answered request %d, expected %d", msg.ID, req.ID)
			}
			if msg.Error != nil {
				return nil, types.NewError(types.ParseErrorCode(msg.Error.Code), "%s", msg.Error.Message)
			}
			return msg.Data, nil

		case adaptersdk.TypeCall:
			reply := a.serve(ctx, cc, msg)
			if err := enc.Encode(reply); err != nil {
				return nil, fmt.Errorf("failed to reply to %s: %w", msg.Method, err)
			}

		default:
			return nil, types.NewError(types.CodeUnknown, "adapter sent unexpected %q message", msg.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, types.Wrap(types.CodeUnknown, err, "reading from adapter")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, types.NewError(types.CodeUnknown, "adapter exited without a result")
}

// serve answers one capability call. Panics inside a capability become a
// coded error reply instead of killing the host.
func (a *ProcessAdapter) serve(ctx context.Context, cc *capability.Context, msg adaptersdk.Message) (reply adaptersdk.Message) {
	reply = adaptersdk.Message{Type: adaptersdk.TypeReply, ID: msg.ID}
	defer func() {
		if r := recover(); r != nil {
			a.log.Errorf("capability %s panicked: %v", msg.Method, r)
			reply.Data = nil
			reply.Error = &adaptersdk.WireError{Code: string(types.CodeUnknown), Message: fmt.Sprintf("capability %s failed", msg.Method)}
		}
	}()

	if cc == nil {
		reply.Error = &adaptersdk.WireError{Code: string(types.CodeUnknown), Message: "no capabilities are available while describing"}
		return reply
	}
	data, err := Invoke(ctx, cc, Invocation{Method: msg.Method, Args: msg.Args, Opts: msg.Opts})
	if err != nil {
		var coded *types.Error
		code := types.CodeUnknown
		if errors.As(err, &coded) {
			code = coded.Code
		}
		reply.Error = &adaptersdk.WireError{Code: string(code), Message: err.Error()}
		return reply
	}
	reply.Data = data
	return reply
}

// logWriter forwards adapter stderr to the log, one line at a time.
type logWriter struct {
	log    *logging.Logger
	prefix string
	mu     sync.Mutex
	buf    []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := strings.IndexByte(string(w.buf), '\n')
		if i < 0 {
			break
		}
		w.log.Debugf("%s: %s", w.prefix, strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
