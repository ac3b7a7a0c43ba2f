// Package registry maps namespaced tool names to adapter tools and
// dispatches calls to them.
package registry

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/telemetry"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Tool is one registered tool.
type Tool struct {
	Definition *manifest.ToolDefinition
	Manifest   *manifest.Manifest
	// Name is the namespaced name.
	Name      string
	AdapterID string
}

// ReadOnly reports whether the tool is marked read-only by its catalog or
// its manifest summary.
func (t *Tool) ReadOnly() bool {
	if t.Definition.ReadOnly {
		return true
	}
	s, ok := t.Manifest.ToolSummary(t.Definition.Name)
	return ok && s.ReadOnly
}

// Runner executes a resolved tool with validated arguments.
type Runner interface {
	Run(ctx context.Context, tool *Tool, args map[string]any) (map[string]any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, tool *Tool, args map[string]any) (map[string]any, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, tool *Tool, args map[string]any) (map[string]any, error) {
	return f(ctx, tool, args)
}

// Registry holds the namespaced tool table.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	runner   Runner
	policy   *Policy
	sink     types.EventSink
	log      *logging.Logger
	observer *telemetry.Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicy restricts which tools are listed and callable.
func WithPolicy(p *Policy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithEventSink receives tool call and result events.
func WithEventSink(sink types.EventSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithObserver records spans and metrics per call.
func WithObserver(o *telemetry.Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// New creates an empty registry dispatching through runner.
func New(runner Runner, opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]*Tool),
		runner: runner,
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds every tool of an adapter. Nothing is registered when any
// name is invalid or already taken.
func (r *Registry) Register(m *manifest.Manifest, defs []*manifest.ToolDefinition) ([]*Tool, error) {
	if err := manifest.ValidateAdapterID(m.ID); err != nil {
		return nil, err
	}
	added := make([]*Tool, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if err := manifest.ValidateToolName(def.Name); err != nil {
			return nil, fmt.Errorf("adapter %s: %w", m.ID, err)
		}
		name := Join(m.ID, def.Name)
		if seen[name] {
			return nil, fmt.Errorf("adapter %s: tool %q listed twice", m.ID, def.Name)
		}
		seen[name] = true
		added = append(added, &Tool{Name: name, AdapterID: m.ID, Definition: def, Manifest: m})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range added {
		if _, exists := r.tools[t.Name]; exists {
			return nil, fmt.Errorf("tool %s is already registered", t.Name)
		}
	}
	for _, t := range added {
		r.tools[t.Name] = t
	}
	return added, nil
}

// Unregister removes every tool of an adapter and returns how many were
// removed.
func (r *Registry) Unregister(adapterID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, t := range r.tools {
		if t.AdapterID == adapterID {
			delete(r.tools, name)
			n++
		}
	}
	return n
}

// Resolve looks up a namespaced name. Unknown names fail closed with the
// list of names that do exist.
func (r *Registry) Resolve(name string) (*Tool, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}
	known := r.Names()
	if len(known) == 0 {
		return nil, types.Wrap(types.CodeValidation, types.ErrToolNotFound, "unknown tool %q; no tools are registered", name)
	}
	return nil, types.Wrap(types.CodeValidation, types.ErrToolNotFound, "unknown tool %q; known tools: %s", name, strings.Join(known, ", "))
}

// List returns the tools the policy allows, sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if r.policy.Allows(t.Name) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted names of the listed tools.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// Count returns the number of registered tools, including denied ones.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Dispatch runs one call end to end and always returns a tagged result.
// Arguments are validated against the tool's input schema before the
// runner, and therefore any page, is touched.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (res *types.Result) {
	tool, err := r.Resolve(name)
	if err != nil {
		r.log.Warnf("dispatch: %v", err)
		return types.FromError(err)
	}
	if args == nil {
		args = map[string]any{}
	}

	ctx, finish := r.observer.Start(ctx, tool.AdapterID, tool.Name)
	r.emit(types.NewToolCallEvent(tool.AdapterID, tool.Name, args))
	defer func() {
		finish(res)
		r.emit(types.NewToolResultEvent(tool.AdapterID, tool.Name, res))
		if res.Success {
			r.log.Infof("%s: ok", tool.Name)
		} else {
			r.log.Warnf("%s: %s: %s", tool.Name, res.Code, res.Error)
		}
	}()

	if !r.policy.Allows(tool.Name) {
		return types.FromError(types.Wrap(types.CodeValidation, types.ErrPermissionDenied, "tool %s is disabled by policy", tool.Name))
	}
	if err := tool.Definition.InputSchema.ValidateArgs(args); err != nil {
		return types.FromError(err)
	}
	data, err := r.run(ctx, tool, args)
	if err != nil {
		return types.FromError(err)
	}
	return types.Ok(data)
}

func (r *Registry) run(ctx context.Context, tool *Tool, args map[string]any) (data map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("%s: panic: %v\n%s", tool.Name, p, debug.Stack())
			data, err = nil, types.NewError(types.CodeUnknown, "tool %s panicked: %v", tool.Name, p)
		}
	}()
	if r.runner == nil {
		return nil, types.NewError(types.CodeUnknown, "no runner configured")
	}
	return r.runner.Run(ctx, tool, args)
}

func (r *Registry) emit(e *types.Event) {
	if r.sink != nil {
		r.sink(e)
	}
}
