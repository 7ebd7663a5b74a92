package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.API.Host)
	assert.Equal(t, 3030, cfg.API.Port)
	assert.Equal(t, "127.0.0.1:3030", cfg.API.Addr())
	assert.True(t, cfg.API.Loopback())
	assert.Equal(t, "claude", cfg.Provider.Name)
	assert.True(t, cfg.Provider.FallbackEnabled)
	assert.Equal(t, 900, cfg.Scheduler.DefaultTimeout)
	assert.Empty(t, cfg.NATS.URL, "in-memory bus by default")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NOLAN_API_HOST", "0.0.0.0")
	t.Setenv("NOLAN_API_PORT", "8080")
	t.Setenv("NOLAN_DATA_ROOT", "/srv/nolan")
	t.Setenv("AGENT_WORK_ROOT", "/srv/work")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.False(t, cfg.API.Loopback())
	assert.Equal(t, "/srv/nolan", cfg.Data.Root)
	assert.Equal(t, "/srv/work", cfg.Data.WorkRoot)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("NOLAN_API_PORT", "70000")
	_, err := LoadWithPath(t.TempDir())
	require.Error(t, err)

	t.Setenv("NOLAN_API_PORT", "3030")
	t.Setenv("NOLAN_PROVIDER_NAME", "copilot")
	_, err = LoadWithPath(t.TempDir())
	require.Error(t, err)
}

func TestLoopbackDetection(t *testing.T) {
	for host, want := range map[string]bool{
		"127.0.0.1": true,
		"localhost": true,
		"::1":       true,
		"0.0.0.0":   false,
		"10.0.0.5":  false,
	} {
		a := APIConfig{Host: host}
		assert.Equal(t, want, a.Loopback(), host)
	}
}
