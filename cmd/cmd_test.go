package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/mlproject/internal/checkpoint"
)

func TestParseTags(t *testing.T) {
	tags, err := parseTags([]string{"team=ml", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": "ml", "note": "a=b"}, tags)

	_, err = parseTags([]string{"novalue"})
	assert.Error(t, err)
}

func TestProcessEscapeSequences(t *testing.T) {
	assert.Equal(t, "line1\nline2\tend", processEscapeSequences(`line1\nline2\tend`))
}

func TestTrainAndResume(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "models")
	mlruns := filepath.Join(dir, "mlruns")
	configPath := filepath.Join(dir, "linear.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`project: linear
model_dir: %s
device: cpu
n_epochs: 2
num_features: 2
num_examples: 64
num_test_examples: 16
batch_size: 16
`, modelDir)), 0o644))

	rootCmd.SetArgs([]string{"train", "--config", configPath, "--tracking-uri", mlruns, "--tag", "suite=cmd"})
	require.NoError(t, rootCmd.Execute())

	runDirs, err := filepath.Glob(filepath.Join(modelDir, "*_linear"))
	require.NoError(t, err)
	require.Len(t, runDirs, 1)
	latest, err := checkpoint.Latest(runDirs[0])
	require.NoError(t, err)
	require.NotEmpty(t, latest)

	artifacts, err := filepath.Glob(filepath.Join(mlruns, "0", "*", "artifacts", "checkpoints", "*.gob"))
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Base(latest), filepath.Base(artifacts[0]))

	rootCmd.SetArgs([]string{"resume", "--dir", runDirs[0], "--set", "n_epochs=3"})
	require.NoError(t, rootCmd.Execute())

	state, err := checkpoint.Load(mustLatest(t, runDirs[0]))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, state.Epoch, 1)
	assert.Equal(t, 3, state.Config["n_epochs"])

	// The resumed training is tracked as a second run.
	artifacts, err = filepath.Glob(filepath.Join(mlruns, "0", "*", "artifacts", "checkpoints", "*.gob"))
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
}

func mustLatest(t *testing.T, dir string) string {
	t.Helper()
	path, err := checkpoint.Latest(dir)
	require.NoError(t, err)
	require.NotEmpty(t, path)
	return path
}
