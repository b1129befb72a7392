package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesScenarioDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()

	assert.False(t, cfg.Throttle7)
	assert.Equal(t, 0.5, cfg.FallenBehindThreshold)
	assert.Equal(t, 8192, cfg.BufferSize)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default().BufferSize, cfg.BufferSize)
	assert.Equal(t, Default().SleepHeartbeat, cfg.SleepHeartbeat)
}

func TestLoadOverridesFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	contents := "sleep_heartbeat: 2s\nbuffer_size: 4096\nthrottle7: true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.SleepHeartbeat)
	assert.Equal(t, 4096, cfg.BufferSize)
	assert.True(t, cfg.Throttle7)
}
