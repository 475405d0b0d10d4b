package mlflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/imishinist/mlproject/internal/config"
	"github.com/imishinist/mlproject/internal/models"
)

func newTestStore(t *testing.T) *FileStore {
	store := NewFileStore(t.TempDir())
	store.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return store
}

func readMeta(t *testing.T, path string) runMeta {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var meta runMeta
	require.NoError(t, yaml.Unmarshal(data, &meta))
	return meta
}

func TestFileStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	experimentID := "0"
	runName := "linear-baseline"

	run, err := StartRun(ctx, store, &models.RunConfig{
		ExperimentID: &experimentID,
		RunName:      &runName,
		Tags:         map[string]string{"team": "ml"},
	})
	require.NoError(t, err)
	assert.Len(t, run.ID(), 32)
	assert.Equal(t, runName, run.Info().RunName)
	assert.Equal(t, "file://"+filepath.Join(store.root, experimentID, run.ID(), "artifacts"), run.Info().ArtifactURI)

	runDir := filepath.Join(store.root, experimentID, run.ID())
	meta := readMeta(t, filepath.Join(runDir, "meta.yaml"))
	assert.Equal(t, 1, meta.Status)
	assert.Nil(t, meta.EndTime)
	assert.FileExists(t, filepath.Join(store.root, experimentID, "meta.yaml"))

	tag, err := os.ReadFile(filepath.Join(runDir, "tags", "team"))
	require.NoError(t, err)
	assert.Equal(t, "ml", string(tag))

	require.NoError(t, run.LogParams(ctx, map[string]string{"n_epochs": "3"}))
	param, err := os.ReadFile(filepath.Join(runDir, "params", "n_epochs"))
	require.NoError(t, err)
	assert.Equal(t, "3", string(param))

	ts := time.UnixMilli(1700000000123)
	require.NoError(t, run.LogMetrics(ctx, models.MetricsFromScalars("test", map[string]float64{"loss": 0.5}, 7, ts)))
	require.NoError(t, run.LogMetrics(ctx, models.MetricsFromScalars("test", map[string]float64{"loss": 0.25}, 8, ts)))
	metric, err := os.ReadFile(filepath.Join(runDir, "metrics", "test", "loss"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000123 0.5 7\n1700000000123 0.25 8\n", string(metric))

	checkpointPath := filepath.Join(t.TempDir(), "net_e00001_b00010.gob")
	require.NoError(t, os.WriteFile(checkpointPath, []byte("weights"), 0644))
	require.NoError(t, run.AddArtifact(ctx, checkpointPath))
	uploaded, err := os.ReadFile(filepath.Join(runDir, "artifacts", ArtifactDir, "net_e00001_b00010.gob"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(uploaded))

	require.NoError(t, run.End(ctx, models.RunStatusFinished))
	meta = readMeta(t, filepath.Join(runDir, "meta.yaml"))
	assert.Equal(t, 3, meta.Status)
	require.NotNil(t, meta.EndTime)
	assert.Equal(t, int64(1700000000000), *meta.EndTime)

	reopened, err := OpenRun(ctx, store, run.ID())
	require.NoError(t, err)
	info := reopened.Info()
	assert.Equal(t, runName, info.RunName)
	assert.Equal(t, string(models.RunStatusFinished), info.Status)
	assert.Equal(t, "ml", info.Tags["team"])
	assert.Equal(t, run.Info().ArtifactURI, info.ArtifactURI)
	require.NotNil(t, info.EndTime)

	_, err = OpenRun(ctx, store, "missing")
	assert.Error(t, err)
}

func TestFileStoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.CreateRun(ctx, &models.RunConfig{})
	assert.Error(t, err)

	assert.Error(t, store.UpdateRun(ctx, "missing", models.RunStatusFailed))
	assert.Error(t, AttachRun(store, "missing").LogParams(ctx, map[string]string{"a": "b"}))

	experimentID := "1"
	run, err := StartRun(ctx, store, &models.RunConfig{ExperimentID: &experimentID})
	require.NoError(t, err)
	assert.Error(t, run.LogMetrics(ctx, []models.Metric{{Key: "../escape", Value: 1}}))
}

func TestOpenPicksFileStore(t *testing.T) {
	dir := t.TempDir()
	backend, err := Open(&config.Config{TrackingURI: "file://" + dir, ExperimentID: "0"})
	require.NoError(t, err)
	store, ok := backend.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, dir, store.root)

	_, err = Open(&config.Config{TrackingURI: "file://" + dir})
	assert.Error(t, err, "missing experiment ID")
}
