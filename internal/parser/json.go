package parser

import (
	"encoding/json"
	"fmt"
	"io"
)

// ParseJSONConfig decodes a run configuration document. Numbers are decoded as json.Number and
// then narrowed to int64 when integral, so budgets and intervals keep an integer type.
func ParseJSONConfig(reader io.Reader) (map[string]any, error) {
	var data map[string]any
	decoder := json.NewDecoder(reader)
	decoder.UseNumber()

	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	return normalizeNumbers(data).(map[string]any), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for key, item := range t {
			t[key] = normalizeNumbers(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeNumbers(item)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
