package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsDeepCopy(t *testing.T) {
	source := map[string]any{
		"model_dir": "/tmp/models",
		"n_epochs":  3,
		"optimizer": map[string]any{"name": "sgd", "lr": 0.1},
		"layers":    []any{16, 8},
	}
	p := NewParams(source)

	// Mutating the source after construction must not leak into Params.
	source["n_epochs"] = 99
	source["optimizer"].(map[string]any)["lr"] = 7.0
	source["layers"].([]any)[0] = 1

	n, found, err := p.Int("n_epochs")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), n)

	opt, _ := p.Get("optimizer")
	assert.Equal(t, 0.1, opt.(map[string]any)["lr"])

	// Neither can mutating a value handed out.
	opt.(map[string]any)["lr"] = 3.0
	m := p.Map()
	m["layers"].([]any)[1] = 0
	again, _ := p.Get("optimizer")
	assert.Equal(t, 0.1, again.(map[string]any)["lr"])
	layers, _ := p.Get("layers")
	assert.Equal(t, []any{16, 8}, layers)
}

func TestParamsTypedLookups(t *testing.T) {
	p := NewParams(map[string]any{
		"n_global_iterations": 100.0,
		"n_epochs":            2.5,
		"learning_rate":       "0.25",
		"device":              "cpu",
		"empty":               nil,
	})

	n, found, err := p.Int("n_global_iterations")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(100), n)

	_, found, err = p.Int("n_epochs")
	assert.True(t, found)
	assert.Error(t, err)

	lr, err := p.FloatOr("learning_rate", 1)
	require.NoError(t, err)
	assert.Equal(t, 0.25, lr)

	def, err := p.IntOr("missing", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), def)

	_, found, err = p.Int("empty")
	require.NoError(t, err)
	assert.False(t, found)

	s, found, err := p.String("device")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cpu", s)

	assert.Equal(t, []string{"device", "empty", "learning_rate", "n_epochs", "n_global_iterations"}, p.Keys())
}

func TestParamsFlatten(t *testing.T) {
	p := NewParams(map[string]any{
		"n_epochs":  3,
		"optimizer": map[string]any{"name": "sgd", "lr": 0.1},
		"layers":    []any{16, 8},
	})
	assert.Equal(t, map[string]string{
		"n_epochs":       "3",
		"optimizer.name": "sgd",
		"optimizer.lr":   "0.1",
		"layers":         "16,8",
	}, p.Flatten())
}

func TestNilParams(t *testing.T) {
	p := NewParams(nil)
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.Has("model_dir"))
	assert.NotNil(t, p.Map())
}
