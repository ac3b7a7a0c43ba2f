package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mgomes/vibescript/vibes"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/types"
)

// ScriptAdapter is an adapter running in a VibeScript VM. The script
// defines adapter() returning {id:, tools: [...]}, an optional init(), and
// one function per tool taking the call params.
type ScriptAdapter struct {
	script *vibes.Script
	log    *logging.Logger
	id     string
	tools  []string
}

// LoadScript compiles the script at path.
func LoadScript(path string, cfg Config, log *logging.Logger) (*ScriptAdapter, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return CompileScript(string(src), cfg, log)
}

// CompileScript compiles source and reads the adapter description from it.
func CompileScript(source string, cfg Config, log *logging.Logger) (*ScriptAdapter, error) {
	if log == nil {
		log = logging.Nop()
	}
	engine, err := vibes.NewEngine(vibes.Config{
		StepQuota:        cfg.StepQuota,
		MemoryQuotaBytes: cfg.MemoryQuotaBytes,
		RecursionLimit:   cfg.RecursionLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create script engine: %w", err)
	}
	script, err := engine.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script: %w", err)
	}
	if _, ok := script.Function("adapter"); !ok {
		return nil, fmt.Errorf("script does not define adapter()")
	}

	desc, err := script.Call(context.Background(), "adapter", nil, vibes.CallOptions{})
	if err != nil {
		return nil, fmt.Errorf("adapter() failed: %w", err)
	}
	a := &ScriptAdapter{script: script, log: log}
	if err := a.describe(desc); err != nil {
		return nil, err
	}
	for _, name := range a.tools {
		if _, ok := script.Function(name); !ok {
			return nil, fmt.Errorf("tool %s has no function", name)
		}
	}
	return a, nil
}

func (a *ScriptAdapter) describe(desc vibes.Value) error {
	if desc.Kind() != vibes.KindHash && desc.Kind() != vibes.KindObject {
		return fmt.Errorf("adapter() must return a hash, got %s", desc.Kind())
	}
	h := desc.Hash()
	id := h["id"]
	if id.Kind() != vibes.KindString {
		return fmt.Errorf("adapter() must return a string id")
	}
	a.id = id.String()

	tools := h["tools"]
	if tools.Kind() != vibes.KindArray {
		return fmt.Errorf("adapter() must return a tools array")
	}
	for _, t := range tools.Array() {
		switch t.Kind() {
		case vibes.KindString, vibes.KindSymbol:
			a.tools = append(a.tools, t.String())
		case vibes.KindHash:
			a.tools = append(a.tools, t.Hash()["name"].String())
		default:
			return fmt.Errorf("tools entries must be names, got %s", t.Kind())
		}
	}
	return nil
}

func (a *ScriptAdapter) ID() string      { return a.id }
func (a *ScriptAdapter) Tools() []string { return append([]string(nil), a.tools...) }
func (a *ScriptAdapter) Close() error    { return nil }

// Init calls init() when the script defines it.
func (a *ScriptAdapter) Init(ctx context.Context, cc *capability.Context) error {
	if _, ok := a.script.Function("init"); !ok {
		return nil
	}
	_, err := a.call(ctx, "init", nil, cc)
	return err
}

// Execute calls the tool's function with params and returns its hash.
func (a *ScriptAdapter) Execute(ctx context.Context, tool string, params map[string]any, cc *capability.Context) (map[string]any, error) {
	if _, ok := a.script.Function(tool); !ok {
		return nil, types.Wrap(types.CodeValidation, types.ErrToolNotFound, "script has no tool %s", tool)
	}
	if params == nil {
		params = map[string]any{}
	}
	v, err := a.call(ctx, tool, []vibes.Value{toValue(params)}, cc)
	if err != nil {
		return nil, err
	}
	out, err := fromValue(v)
	if err != nil {
		return nil, types.NewError(types.CodeUnknown, "tool %s returned %v", tool, err)
	}
	switch t := out.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	default:
		return map[string]any{"value": t}, nil
	}
}

func (a *ScriptAdapter) call(ctx context.Context, fn string, args []vibes.Value, cc *capability.Context) (vibes.Value, error) {
	binding := &scriptCapabilities{cc: cc}
	v, err := a.script.Call(ctx, fn, args, vibes.CallOptions{
		Capabilities: []vibes.CapabilityAdapter{binding},
	})
	if err == nil {
		return v, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return v, types.Wrap(types.CodeUnknown, ctxErr, "%s interrupted", fn)
	}
	if coded := binding.lastError(); coded != nil && strings.Contains(err.Error(), coded.Message) {
		return v, coded
	}
	a.log.Warnf("%s: %s failed: %v", a.id, fn, err)
	return v, types.Wrap(types.CodeUnknown, err, "%s failed", fn)
}

// scriptCapabilities binds the capability surfaces as script globals for
// one call. The VM flattens errors raised by builtins into its own runtime
// error, so the last coded error is kept here to restore its code.
type scriptCapabilities struct {
	cc   *capability.Context
	mu   sync.Mutex
	last *types.Error
}

func (s *scriptCapabilities) Bind(binding vibes.CapabilityBinding) (map[string]vibes.Value, error) {
	ctx := binding.Context
	surfaces := make(map[string]map[string]vibes.Value)
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		surface, op, _ := strings.Cut(name, ".")
		if surfaces[surface] == nil {
			surfaces[surface] = make(map[string]vibes.Value)
		}
		surfaces[surface][op] = vibes.NewBuiltin(name, s.builtin(ctx, name))
	}

	globals := make(map[string]vibes.Value, len(surfaces))
	for surface, ops := range surfaces {
		globals[surface] = vibes.NewObject(ops)
	}
	return globals, nil
}

func (s *scriptCapabilities) builtin(ctx context.Context, name string) vibes.BuiltinFunc {
	return func(_ *vibes.Execution, _ vibes.Value, args []vibes.Value, kwargs map[string]vibes.Value, _ vibes.Value) (vibes.Value, error) {
		inv := Invocation{Method: name, Args: make([]any, len(args))}
		for i, arg := range args {
			conv, err := fromValue(arg)
			if err != nil {
				return vibes.NewNil(), s.record(badArg(name, fmt.Sprintf("argument %d", i+1), "data"))
			}
			inv.Args[i] = conv
		}
		opts, err := kwargsMap(kwargs)
		if err != nil {
			return vibes.NewNil(), s.record(badArg(name, "options", "data"))
		}
		inv.Opts = opts

		result, err := Invoke(ctx, s.cc, inv)
		if err != nil {
			return vibes.NewNil(), s.record(err)
		}
		return toValue(result), nil
	}
}

func (s *scriptCapabilities) record(err error) error {
	var coded *types.Error
	if errors.As(err, &coded) {
		s.mu.Lock()
		s.last = coded
		s.mu.Unlock()
	}
	return err
}

func (s *scriptCapabilities) lastError() *types.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
