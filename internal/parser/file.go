package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ParseConfigFile reads a run configuration from a .json, .yaml or .yml file.
func ParseConfigFile(path string) (map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSONConfig(file)
	case ".yaml", ".yml":
		return ParseYAMLConfig(file)
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}

// ApplyOverrides sets "key=value" settings on values. Nested keys are separated by "." and
// intermediate maps are created as needed; values are typed as YAML scalars ("3" is an int,
// "0.1" a float, "true" a bool).
func ApplyOverrides(values map[string]any, settings []string) error {
	for _, setting := range settings {
		parts := strings.SplitN(setting, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return fmt.Errorf("invalid setting format: %s (expected key=value)", setting)
		}
		value, err := parseScalar(parts[1])
		if err != nil {
			return err
		}

		path := strings.Split(parts[0], ".")
		target := values
		for _, key := range path[:len(path)-1] {
			next, ok := target[key].(map[string]any)
			if !ok {
				if _, exists := target[key]; exists {
					return fmt.Errorf("invalid setting %s: %q is not a mapping", setting, key)
				}
				next = make(map[string]any)
				target[key] = next
			}
			target = next
		}
		target[path[len(path)-1]] = value
	}
	return nil
}
