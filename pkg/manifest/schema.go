package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/entrhq/sitebridge/pkg/types"
)

const (
	schemaResource = "mem://sitebridge/input_schema.json"
	patternTimeout = 100 * time.Millisecond
)

// Schema is the JSON-Schema subset tool inputs are described with.
type Schema struct {
	Type        string             `yaml:"type,omitempty" json:"type,omitempty"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Properties  map[string]*Schema `yaml:"properties,omitempty" json:"properties,omitempty"`
	Required    []string           `yaml:"required,omitempty" json:"required,omitempty"`
	Items       *Schema            `yaml:"items,omitempty" json:"items,omitempty"`
	Enum        []any              `yaml:"enum,omitempty" json:"enum,omitempty"`
	Minimum     *float64           `yaml:"minimum,omitempty" json:"minimum,omitempty"`
	Maximum     *float64           `yaml:"maximum,omitempty" json:"maximum,omitempty"`
	MinLength   *int               `yaml:"minLength,omitempty" json:"minLength,omitempty"`
	MaxLength   *int               `yaml:"maxLength,omitempty" json:"maxLength,omitempty"`
	Pattern     string             `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Default     any                `yaml:"default,omitempty" json:"default,omitempty"`

	AdditionalProperties *bool `yaml:"additionalProperties,omitempty" json:"additionalProperties,omitempty"`

	once       sync.Once
	compiled   *jsonschema.Schema
	compileErr error
}

// JSON renders the schema for transports that want raw JSON Schema.
// An empty schema renders as an open object.
func (s *Schema) JSON() json.RawMessage {
	if s == nil || s.Type == "" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return b
}

// Compile builds the validator once. Catalog parsing calls it so a broken
// schema, such as an invalid pattern, fails the load instead of every call.
func (s *Schema) Compile() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		s.compiled, s.compileErr = compileSchema(s.JSON())
	})
	return s.compileErr
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	c.UseRegexpEngine(ecmaRegexp)
	if err := c.AddResource(schemaResource, doc); err != nil {
		return nil, err
	}
	return c.Compile(schemaResource)
}

// ValidateArgs checks tool arguments against the schema and returns a
// VALIDATION_ERROR listing every problem found. Null arguments count as
// absent.
func (s *Schema) ValidateArgs(args map[string]any) error {
	if s == nil {
		return nil
	}
	if err := s.Compile(); err != nil {
		return types.Wrap(types.CodeValidation, types.ErrValidation, "input schema is invalid: %v", err)
	}
	raw, err := json.Marshal(dropNulls(args))
	if err != nil {
		return types.Wrap(types.CodeValidation, types.ErrValidation, "arguments are not JSON: %v", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return types.Wrap(types.CodeValidation, types.ErrValidation, "arguments are not JSON: %v", err)
	}
	err = s.compiled.Validate(inst)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return types.Wrap(types.CodeValidation, types.ErrValidation, "%v", err)
	}
	var problems []string
	collectLeaves(verr, &problems)
	sort.Strings(problems)
	return types.Wrap(types.CodeValidation, types.ErrValidation, "%s", strings.Join(problems, "; "))
}

// collectLeaves renders each failing keyword as "location: message".
func collectLeaves(e *jsonschema.ValidationError, out *[]string) {
	if len(e.Causes) == 0 {
		msg := e.Error()
		if i := strings.Index(msg, "': "); strings.HasPrefix(msg, "at '") && i >= 0 {
			msg = msg[i+3:]
		}
		label := strings.Join(e.InstanceLocation, ".")
		if label == "" {
			label = "input"
		}
		*out = append(*out, label+": "+msg)
		return
	}
	for _, c := range e.Causes {
		collectLeaves(c, out)
	}
}

func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[k] = dropNulls(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = dropNulls(val)
		}
		return out
	}
	return v
}

type ecmaPattern regexp2.Regexp

func (re *ecmaPattern) MatchString(s string) bool {
	ok, err := (*regexp2.Regexp)(re).MatchString(s)
	return err == nil && ok
}

func (re *ecmaPattern) String() string {
	return (*regexp2.Regexp)(re).String()
}

// ecmaRegexp compiles patterns with ECMA-262 semantics as JSON Schema
// expects.
func ecmaRegexp(s string) (jsonschema.Regexp, error) {
	re, err := regexp2.Compile(s, regexp2.ECMAScript)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", s, err)
	}
	re.MatchTimeout = patternTimeout
	return (*ecmaPattern)(re), nil
}

// ToFloat converts the numeric types JSON and YAML decoders produce.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
