package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresAdapter(t *testing.T) {
	t.Setenv("CLAUDEPROXY_ADAPTER", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownAdapter(t *testing.T) {
	t.Setenv("CLAUDEPROXY_ADAPTER", "bogus")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_DefaultPortsPerAdapter(t *testing.T) {
	t.Setenv("CLAUDEPROXY_ADAPTER", "xai")
	t.Setenv("CLAUDEPROXY_PORT", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)

	t.Setenv("CLAUDEPROXY_ADAPTER", "groq")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 5003, cfg.Port)
}

func TestLoad_PortOverride(t *testing.T) {
	t.Setenv("CLAUDEPROXY_ADAPTER", "xai")
	t.Setenv("CLAUDEPROXY_PORT", "9999")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
}

func TestLoad_OSOverride(t *testing.T) {
	t.Setenv("CLAUDEPROXY_ADAPTER", "xai")
	t.Setenv("CLAUDEPROXY_OS_OVERRIDE", "windows")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, OSWindows, cfg.OSFamily)
}

func TestRequireCredential_MissingFailsFast(t *testing.T) {
	cfg := &Config{Adapter: AdapterXAI}
	require.Error(t, cfg.RequireCredential())

	cfg.XAIAPIKey = "sk-test"
	require.NoError(t, cfg.RequireCredential())
}
