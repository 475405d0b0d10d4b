package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	assert.Equal(t, "net_e00003_b00007.gob", Filename("net", 3, 7))
	assert.Contains(t, Filename("net", 3, 7), "net_e00003_b00007")
	assert.Equal(t, "net_e123456_b00000.gob", Filename("net", 123456, 0))

	name, epoch, step, ok := ParseFilename("/tmp/x/my_net_e00012_b00345.gob")
	require.True(t, ok)
	assert.Equal(t, "my_net", name)
	assert.Equal(t, 12, epoch)
	assert.Equal(t, 345, step)

	_, _, _, ok = ParseFilename("net_e3_b7.gob")
	assert.False(t, ok)
	_, _, _, ok = ParseFilename("scalars.jsonl")
	assert.False(t, ok)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	best := 0.875
	state := &State{
		ID: 10000012345,
		Config: map[string]any{
			"model_dir": dir,
			"n_epochs":  3,
			"lr":        0.1,
			"layers":    []any{16, 8},
			"optimizer": map[string]any{"name": "sgd"},
		},
		GlobalStep:        1234,
		Epoch:             3,
		EpochStep:         7,
		BestScore:         &best,
		ModelSaveDir:      dir,
		TensorboardRunDir: filepath.Join(dir, "tb"),
		ModelState:        []byte{1, 2, 3, 4},
	}
	path := filepath.Join(dir, Filename("net", state.Epoch, state.EpochStep))
	require.NoError(t, Save(path, state))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	// No temporary files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveLoadNilBestScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename("net", 0, 1))
	require.NoError(t, Save(path, &State{ID: 1, ModelState: []byte("w")}))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded.BestScore)
	assert.Equal(t, []byte("w"), loaded.ModelState)
}

func TestSaveLoadZeroBestScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename("net", 0, 1))
	zero := 0.0
	require.NoError(t, Save(path, &State{ID: 1, BestScore: &zero}))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.BestScore)
	assert.Equal(t, 0.0, *loaded.BestScore)

	info, err := Inspect(path)
	require.NoError(t, err)
	require.NotNil(t, info.State.BestScore)
	assert.Equal(t, 0.0, *info.State.BestScore)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.gob"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.gob")
	require.NoError(t, os.WriteFile(garbage, []byte("not a checkpoint"), 0644))
	_, err = Load(garbage)
	assert.Error(t, err)

	assert.Error(t, Save(filepath.Join(dir, "no", "such", "dir.gob"), &State{}))
}

func TestInspectAndList(t *testing.T) {
	dir := t.TempDir()
	for _, c := range []struct{ epoch, step int }{{1, 10}, {0, 20}, {1, 2}} {
		path := filepath.Join(dir, Filename("net", c.epoch, c.step))
		require.NoError(t, Save(path, &State{Epoch: c.epoch, EpochStep: c.step, ModelState: make([]byte, 100)}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	paths, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "net_e00000_b00020.gob"),
		filepath.Join(dir, "net_e00001_b00002.gob"),
		filepath.Join(dir, "net_e00001_b00010.gob"),
	}, paths)

	latest, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, paths[2], latest)

	info, err := Inspect(latest)
	require.NoError(t, err)
	assert.Equal(t, 100, info.ModelBytes)
	assert.Nil(t, info.State.ModelState)
	assert.Equal(t, 10, info.State.EpochStep)
	assert.Greater(t, info.Size, int64(0))
	assert.False(t, info.SavedAt.IsZero())

	empty, err := Latest(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "", empty)
}
