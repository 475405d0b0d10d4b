package parser

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ParseYAMLConfig decodes a run configuration document. YAML keeps integer and float scalars
// apart, so "n_epochs: 3" stays an int.
func ParseYAMLConfig(reader io.Reader) (map[string]any, error) {
	var data map[string]any
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(&data); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return data, nil
}

// parseScalar types a command line value the same way a YAML document would.
func parseScalar(raw string) (any, error) {
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("failed to parse value %q: %w", raw, err)
	}
	return value, nil
}
