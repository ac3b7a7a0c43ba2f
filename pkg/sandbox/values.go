package sandbox

import (
	"fmt"
	"math"
	"sort"

	"github.com/mgomes/vibescript/vibes"
)

// toValue converts JSON-shaped Go data into a script value.
func toValue(v any) vibes.Value {
	switch t := v.(type) {
	case nil:
		return vibes.NewNil()
	case bool:
		return vibes.NewBool(t)
	case string:
		return vibes.NewString(t)
	case int:
		return vibes.NewInt(int64(t))
	case int64:
		return vibes.NewInt(t)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return vibes.NewInt(int64(t))
		}
		return vibes.NewFloat(t)
	case []any:
		out := make([]vibes.Value, len(t))
		for i, e := range t {
			out[i] = toValue(e)
		}
		return vibes.NewArray(out)
	case map[string]any:
		out := make(map[string]vibes.Value, len(t))
		for k, e := range t {
			out[k] = toValue(e)
		}
		return vibes.NewHash(out)
	default:
		return vibes.NewString(fmt.Sprint(t))
	}
}

// fromValue converts a script value back into JSON-shaped Go data. Callable
// values are rejected so nothing executable leaves the sandbox.
func fromValue(v vibes.Value) (any, error) {
	switch v.Kind() {
	case vibes.KindNil:
		return nil, nil
	case vibes.KindBool:
		return v.Bool(), nil
	case vibes.KindInt:
		return v.Int(), nil
	case vibes.KindFloat:
		return v.Float(), nil
	case vibes.KindString, vibes.KindSymbol, vibes.KindMoney, vibes.KindDuration, vibes.KindTime:
		return v.String(), nil
	case vibes.KindArray:
		arr := v.Array()
		out := make([]any, len(arr))
		for i, e := range arr {
			conv, err := fromValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case vibes.KindHash, vibes.KindObject:
		h := v.Hash()
		out := make(map[string]any, len(h))
		for k, e := range h {
			conv, err := fromValue(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = conv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of kind %s is not data", v.Kind())
	}
}

// kwargsMap converts keyword arguments, sorted for stable error messages.
func kwargsMap(kwargs map[string]vibes.Value) (map[string]any, error) {
	if len(kwargs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(kwargs))
	for _, k := range keys {
		conv, err := fromValue(kwargs[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}
