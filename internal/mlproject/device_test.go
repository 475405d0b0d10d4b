package mlproject

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/mlproject/internal/config"
)

func TestResolveDevice(t *testing.T) {
	d, err := ResolveDevice(config.NewParams(map[string]any{KeyDevice: "CPU"}))
	require.NoError(t, err)
	assert.Equal(t, "cpu", d.Name)
	assert.True(t, d.IsCPU())

	d, err = ResolveDevice(config.NewParams(map[string]any{KeyDevice: "cuda:1"}))
	require.NoError(t, err)
	assert.Equal(t, "cuda:1", d.String())
	assert.False(t, d.IsCPU())
}

func TestDetectDevice(t *testing.T) {
	saved := nvidiaDeviceNode
	defer func() { nvidiaDeviceNode = saved }()

	nvidiaDeviceNode = filepath.Join(t.TempDir(), "nvidia0")
	d, err := ResolveDevice(config.NewParams(nil))
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, d.Name)

	require.NoError(t, os.WriteFile(nvidiaDeviceNode, nil, 0o644))
	d, err = ResolveDevice(config.NewParams(nil))
	require.NoError(t, err)
	assert.Equal(t, DeviceCUDA, d.Name)
}
