package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/sitebridge/pkg/capability"
	"github.com/entrhq/sitebridge/pkg/manifest"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Invocation is one capability call coming out of a sandbox: positional
// arguments plus keyword options, all plain JSON-shaped data.
type Invocation struct {
	Opts   map[string]any
	Method string
	Args   []any
}

type method func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error)

// methods is every capability call a sandbox may make. Names are
// "<surface>.<operation>".
var methods = map[string]method{
	"page.navigate": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		url, err := inv.str(0, "url")
		if err != nil {
			return nil, err
		}
		return nil, cc.Page.Navigate(ctx, url, capability.NavigateOptions{
			ReadySelector: inv.optStr("ready_selector"),
			Timeout:       inv.optMillis("timeout_ms"),
		})
	},
	"page.fill_field": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		value, err := inv.text(1, "value")
		if err != nil {
			return nil, err
		}
		return nil, cc.Page.FillField(ctx, sel, value, capability.FillOptions{
			Append:    inv.optBool("append") || (inv.has("clear") && !inv.optBool("clear")),
			TypeDelay: inv.optMillis("type_delay_ms"),
		})
	},
	"page.select_option": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		value, err := inv.text(1, "value")
		if err != nil {
			return nil, err
		}
		return nil, cc.Page.SelectOption(ctx, sel, value, capability.SelectOptions{ByText: inv.optBool("by_text")})
	},
	"page.set_checked": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		checked := true
		if len(inv.Args) > 1 {
			b, ok := inv.Args[1].(bool)
			if !ok {
				return nil, badArg(inv.Method, "checked", "a boolean")
			}
			checked = b
		}
		return nil, cc.Page.SetChecked(ctx, sel, checked)
	},
	"page.click": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		return nil, cc.Page.Click(ctx, sel, capability.ClickOptions{
			WaitForNavigation: inv.optBool("wait_for_navigation"),
			Timeout:           inv.optMillis("timeout_ms"),
		})
	},
	"page.get_text": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		return optional(cc.Page.GetText(ctx, sel))
	},
	"page.get_value": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		return optional(cc.Page.GetValue(ctx, sel))
	},
	"page.get_attribute": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		name, err := inv.str(1, "name")
		if err != nil {
			return nil, err
		}
		return optional(cc.Page.GetAttribute(ctx, sel, name))
	},
	"page.exists": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		return cc.Page.Exists(ctx, sel)
	},
	"page.wait_for_selector": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		return nil, cc.Page.WaitForSelector(ctx, sel, inv.waitOptions())
	},
	"page.wait_for_selector_gone": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		sel, err := inv.str(0, "selector")
		if err != nil {
			return nil, err
		}
		return nil, cc.Page.WaitForSelectorGone(ctx, sel, inv.waitOptions())
	},
	"page.current_url": func(ctx context.Context, cc *capability.Context, _ Invocation) (any, error) {
		return cc.Page.CurrentURL(ctx)
	},
	"page.wait_for_human": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		prompt := inv.optStr("prompt")
		if prompt == "" && len(inv.Args) > 0 {
			prompt, _ = inv.Args[0].(string)
		}
		return nil, cc.Page.WaitForHuman(ctx, capability.HumanOptions{
			Prompt:  prompt,
			Timeout: inv.optMillis("timeout_ms"),
		})
	},

	"storage.get": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		key, err := inv.str(0, "key")
		if err != nil {
			return nil, err
		}
		return cc.Storage.Get(ctx, key)
	},
	"storage.set": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		key, err := inv.str(0, "key")
		if err != nil {
			return nil, err
		}
		if len(inv.Args) < 2 {
			return nil, badArg(inv.Method, "value", "present")
		}
		return nil, cc.Storage.Set(ctx, key, inv.Args[1])
	},
	"storage.delete": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		key, err := inv.str(0, "key")
		if err != nil {
			return nil, err
		}
		return nil, cc.Storage.Delete(ctx, key)
	},
	"storage.clear": func(ctx context.Context, cc *capability.Context, _ Invocation) (any, error) {
		return nil, cc.Storage.Clear(ctx)
	},

	"notify.info":  notifyMethod((*capability.Notifier).Info),
	"notify.warn":  notifyMethod((*capability.Notifier).Warn),
	"notify.error": notifyMethod((*capability.Notifier).Error),

	"utils.sleep": func(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
		ms, ok := argFloat(inv.Args, 0)
		if !ok {
			return nil, badArg(inv.Method, "ms", "a number")
		}
		return nil, cc.Utils.Sleep(ctx, time.Duration(ms*float64(time.Millisecond)))
	},
	"utils.parse_date": func(_ context.Context, cc *capability.Context, inv Invocation) (any, error) {
		s, _ := argAt(inv.Args, 0).(string)
		t := cc.Utils.ParseDate(s)
		if t == nil {
			return nil, nil
		}
		return t.Format(time.RFC3339), nil
	},
	"utils.format_currency": func(_ context.Context, cc *capability.Context, inv Invocation) (any, error) {
		v, ok := argFloat(inv.Args, 0)
		if !ok {
			return nil, badArg(inv.Method, "amount", "a number")
		}
		return cc.Utils.FormatCurrency(v), nil
	},
	"utils.parse_amount": func(_ context.Context, cc *capability.Context, inv Invocation) (any, error) {
		s, _ := argAt(inv.Args, 0).(string)
		v, ok := cc.Utils.ParseAmount(s)
		if !ok {
			return nil, nil
		}
		return v, nil
	},
	"utils.fail": func(_ context.Context, _ *capability.Context, inv Invocation) (any, error) {
		code, _ := argAt(inv.Args, 0).(string)
		msg, _ := argAt(inv.Args, 1).(string)
		if msg == "" {
			msg = "adapter reported failure"
		}
		return nil, types.NewError(types.ParseErrorCode(code), "%s", msg)
	},
}

// Methods lists the capability calls available to sandboxes, grouped by
// surface.
func Methods() map[string][]string {
	out := make(map[string][]string)
	for name := range methods {
		surface, op, _ := strings.Cut(name, ".")
		out[surface] = append(out[surface], op)
	}
	for _, ops := range out {
		sort.Strings(ops)
	}
	return out
}

// Invoke runs one capability call against cc.
func Invoke(ctx context.Context, cc *capability.Context, inv Invocation) (any, error) {
	m, ok := methods[inv.Method]
	if !ok {
		return nil, types.NewError(types.CodeValidation, "unknown capability method %q", inv.Method)
	}
	return m(ctx, cc, inv)
}

func notifyMethod(send func(*capability.Notifier, string)) method {
	return func(_ context.Context, cc *capability.Context, inv Invocation) (any, error) {
		msg, ok := argAt(inv.Args, 0).(string)
		if !ok {
			msg = fmt.Sprint(argAt(inv.Args, 0))
		}
		send(cc.Notify, msg)
		return nil, nil
	}
}

func optional(v string, ok bool, err error) (any, error) {
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

func badArg(method, name, want string) error {
	return types.Wrap(types.CodeValidation, types.ErrValidation, "%s: %s must be %s", method, name, want)
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func argFloat(args []any, i int) (float64, bool) {
	return manifest.ToFloat(argAt(args, i))
}

func (inv Invocation) str(i int, name string) (string, error) {
	s, ok := argAt(inv.Args, i).(string)
	if !ok || s == "" {
		return "", badArg(inv.Method, name, "a non-empty string")
	}
	return s, nil
}

// text accepts strings and renders numbers and booleans as typed text.
func (inv Invocation) text(i int, name string) (string, error) {
	switch v := argAt(inv.Args, i).(type) {
	case string:
		return v, nil
	case bool:
		return fmt.Sprint(v), nil
	case nil:
		return "", badArg(inv.Method, name, "present")
	default:
		if f, ok := manifest.ToFloat(v); ok {
			return fmt.Sprint(f), nil
		}
		return "", badArg(inv.Method, name, "a string or number")
	}
}

func (inv Invocation) has(key string) bool {
	_, ok := inv.Opts[key]
	return ok
}

func (inv Invocation) optStr(key string) string {
	s, _ := inv.Opts[key].(string)
	return s
}

func (inv Invocation) optBool(key string) bool {
	b, _ := inv.Opts[key].(bool)
	return b
}

func (inv Invocation) optMillis(key string) time.Duration {
	f, ok := manifest.ToFloat(inv.Opts[key])
	if !ok || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Millisecond))
}

func (inv Invocation) waitOptions() capability.WaitOptions {
	return capability.WaitOptions{
		Timeout:  inv.optMillis("timeout_ms"),
		Interval: inv.optMillis("interval_ms"),
	}
}
