// Package declarative runs data-only tool recipes against the page
// capability. A recipe is navigation, inputs, a submit step and outputs;
// nothing in it is executed as code.
package declarative

import (
	"context"
	"fmt"
	"strconv"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Interpreter executes DeclarativeSpecs.
type Interpreter struct {
	log *logging.Logger
}

// New creates an interpreter. log may be nil.
func New(log *logging.Logger) *Interpreter {
	if log == nil {
		log = logging.Nop()
	}
	return &Interpreter{log: log}
}

// Run executes spec with args and returns the coerced outputs.
func (in *Interpreter) Run(ctx context.Context, page *capability.Page, spec *manifest.DeclarativeSpec, args map[string]any) (map[string]any, error) {
	timeout := spec.Timeout()

	if err := page.Navigate(ctx, spec.URL, capability.NavigateOptions{
		ReadySelector: spec.ReadySelector,
		Timeout:       timeout,
	}); err != nil {
		return nil, err
	}
	if spec.FirstClick != "" {
		if err := page.Click(ctx, spec.FirstClick, capability.ClickOptions{Timeout: timeout}); err != nil {
			return nil, err
		}
	}

	for _, field := range spec.Inputs {
		v, present := args[field.Name]
		if !present || v == nil {
			if field.Required {
				return nil, types.Wrap(types.CodeValidation, types.ErrValidation, "input %s is required", field.Name)
			}
			continue
		}
		if err := in.fill(ctx, page, field, v); err != nil {
			return nil, err
		}
	}

	if err := page.Click(ctx, spec.Submit.Selector, capability.ClickOptions{
		WaitForNavigation: spec.Submit.WaitForNavigation,
		Timeout:           timeout,
	}); err != nil {
		return nil, err
	}
	if spec.Submit.DoneSelector != "" {
		if err := page.WaitForSelector(ctx, spec.Submit.DoneSelector, capability.WaitOptions{Timeout: timeout}); err != nil {
			return nil, err
		}
	}

	out := make(map[string]any, len(spec.Outputs))
	for _, field := range spec.Outputs {
		raw, found, err := read(ctx, page, field)
		if err != nil {
			return nil, err
		}
		if !found {
			if field.Optional {
				out[field.Name] = nil
				continue
			}
			return nil, types.Wrap(types.CodeSelectorNotFound, types.ErrSelectorNotFound, "output %s: no element matches %q", field.Name, field.Selector)
		}
		out[field.Name] = Coerce(raw, field.Type)
	}
	in.log.Debugf("recipe for %s produced %d outputs", spec.URL, len(out))
	return out, nil
}

func (in *Interpreter) fill(ctx context.Context, page *capability.Page, field manifest.InputField, v any) error {
	switch field.Type {
	case manifest.InputCheckbox:
		return page.SetChecked(ctx, field.Selector, truthy(v))
	case manifest.InputSelect, manifest.InputSelectText:
		value := Stringify(v)
		if mapped, ok := field.Options[value]; ok {
			value = mapped
		}
		return page.SelectOption(ctx, field.Selector, value, capability.SelectOptions{
			ByText: field.Type == manifest.InputSelectText,
		})
	default:
		return page.FillField(ctx, field.Selector, Stringify(v), capability.FillOptions{})
	}
}

func read(ctx context.Context, page *capability.Page, field manifest.OutputField) (string, bool, error) {
	if field.Attribute != "" {
		return page.GetAttribute(ctx, field.Selector, field.Attribute)
	}
	return page.GetText(ctx, field.Selector)
}

// Stringify renders an argument the way it is typed into a form. Integral
// floats lose their fraction so 3 is typed as "3", not "3.000000".
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return ParseBool(t)
		}
		return b
	default:
		f, ok := manifest.ToFloat(v)
		return ok && f != 0
	}
}
