package parser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYAMLConfig(t *testing.T) {
	doc := `
project: linear
model_dir: /tmp/models
n_epochs: 3
learning_rate: 0.05
optimizer:
  momentum: 0.9
`
	values, err := ParseYAMLConfig(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "linear", values["project"])
	assert.Equal(t, 3, values["n_epochs"])
	assert.Equal(t, 0.05, values["learning_rate"])
	assert.Equal(t, map[string]any{"momentum": 0.9}, values["optimizer"])

	empty, err := ParseYAMLConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseYAMLConfig(strings.NewReader("n_epochs: [1"))
	assert.Error(t, err)
}

func TestParseJSONConfig(t *testing.T) {
	values, err := ParseJSONConfig(strings.NewReader(`{"n_global_iterations": 100, "noise": 0.2, "sizes": [1, 2.5]}`))
	require.NoError(t, err)
	assert.Equal(t, int64(100), values["n_global_iterations"])
	assert.Equal(t, 0.2, values["noise"])
	assert.Equal(t, []any{int64(1), 2.5}, values["sizes"])
}

func TestParseConfigFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("n_epochs: 2\n"), 0o644))
	values, err := ParseConfigFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 2, values["n_epochs"])

	txtPath := filepath.Join(dir, "run.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("n_epochs=2"), 0o644))
	_, err = ParseConfigFile(txtPath)
	assert.ErrorContains(t, err, "unsupported file format")

	_, err = ParseConfigFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	values := map[string]any{"n_epochs": 3, "optimizer": map[string]any{"lr": 0.1}}
	err := ApplyOverrides(values, []string{
		"n_epochs=5",
		"optimizer.lr=0.01",
		"model.hidden=32",
		"device=cpu",
		"shuffle=true",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, values["n_epochs"])
	assert.Equal(t, 0.01, values["optimizer"].(map[string]any)["lr"])
	assert.Equal(t, 32, values["model"].(map[string]any)["hidden"])
	assert.Equal(t, "cpu", values["device"])
	assert.Equal(t, true, values["shuffle"])

	assert.Error(t, ApplyOverrides(values, []string{"n_epochs"}))
	assert.Error(t, ApplyOverrides(values, []string{"=3"}))
	assert.Error(t, ApplyOverrides(values, []string{"n_epochs.inner=3"}))
}
