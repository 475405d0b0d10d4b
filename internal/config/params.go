package config

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Params is the run configuration: a mapping of run parameters that is deep-copied when created
// and never mutated afterwards. Accessors hand out copies, so no caller can alter the run's view.
type Params struct {
	values map[string]any
}

// NewParams copies values (recursively) into a new Params.
func NewParams(values map[string]any) Params {
	return Params{values: copyMap(values)}
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, found := p.values[key]
	return found
}

// Get returns a copy of the value stored under key.
func (p Params) Get(key string) (any, bool) {
	v, found := p.values[key]
	if !found {
		return nil, false
	}
	return copyValue(v), true
}

// String returns the value under key converted to a string.
func (p Params) String(key string) (string, bool, error) {
	v, found := p.values[key]
	if !found {
		return "", false, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", true, fmt.Errorf("parameter %q: %w", key, err)
	}
	return s, true, nil
}

// Int returns the value under key as an integer. Floats are accepted only if integral, so
// "n_epochs: 2.5" is reported instead of silently truncated.
func (p Params) Int(key string) (int64, bool, error) {
	v, found := p.values[key]
	if !found || v == nil {
		return 0, false, nil
	}
	switch f := v.(type) {
	case float64:
		if f != math.Trunc(f) {
			return 0, true, fmt.Errorf("parameter %q: %v is not an integer", key, f)
		}
	case float32:
		if float64(f) != math.Trunc(float64(f)) {
			return 0, true, fmt.Errorf("parameter %q: %v is not an integer", key, f)
		}
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return 0, true, fmt.Errorf("parameter %q: %w", key, err)
	}
	return i, true, nil
}

// Float returns the value under key as a float64.
func (p Params) Float(key string) (float64, bool, error) {
	v, found := p.values[key]
	if !found || v == nil {
		return 0, false, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, true, fmt.Errorf("parameter %q: %w", key, err)
	}
	return f, true, nil
}

// IntOr returns the integer under key, or def if it is not set.
func (p Params) IntOr(key string, def int64) (int64, error) {
	i, found, err := p.Int(key)
	if err != nil || !found {
		return def, err
	}
	return i, nil
}

// FloatOr returns the float under key, or def if it is not set.
func (p Params) FloatOr(key string, def float64) (float64, error) {
	f, found, err := p.Float(key)
	if err != nil || !found {
		return def, err
	}
	return f, nil
}

// Keys returns the top-level keys, sorted.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for key := range p.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of top-level keys.
func (p Params) Len() int {
	return len(p.values)
}

// Map returns a deep copy of the parameters.
func (p Params) Map() map[string]any {
	return copyMap(p.values)
}

// Flatten returns the parameters as strings, nested keys joined by ".". Used to log the
// configuration to a tracker, which only stores flat string parameters.
func (p Params) Flatten() map[string]string {
	flat := make(map[string]string)
	flatten("", p.values, flat)
	return flat
}

// MarshalYAML implements yaml.Marshaler.
func (p Params) MarshalYAML() (any, error) {
	return p.Map(), nil
}

func flatten(prefix string, values map[string]any, out map[string]string) {
	for key, v := range values {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(name, nested, out)
			continue
		}
		if list, ok := v.([]any); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = fmt.Sprint(item)
			}
			out[name] = strings.Join(parts, ",")
			continue
		}
		out[name] = fmt.Sprint(v)
	}
}

func copyMap(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	c := make(map[string]any, len(values))
	for key, v := range values {
		c[key] = copyValue(v)
	}
	return c
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		c := make([]any, len(t))
		for i, item := range t {
			c[i] = copyValue(item)
		}
		return c
	case []string:
		return append([]string(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case []int64:
		return append([]int64(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
