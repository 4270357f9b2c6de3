package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("BOGDOL_HOME_DIR", home)
	t.Setenv("BOGDOL_SERVER_URL", "")
	t.Setenv("BOGDOL_WS_URL", "")
	t.Setenv("BOGDOL_LOG_LEVEL", "")
	t.Setenv("BOGDOL_DEBUG", "")
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8000", cfg.ServerURL)
	require.Equal(t, "ws://localhost:8000", cfg.WSURL)
	require.Equal(t, "", cfg.LogLevel)
	require.False(t, cfg.Debug)
}

func TestLoadFromEnvironment(t *testing.T) {
	setEnv(t, t.TempDir())
	t.Setenv("BOGDOL_SERVER_URL", "https://intranet.example.com/")
	t.Setenv("BOGDOL_LOG_LEVEL", "debug")
	t.Setenv("BOGDOL_DEBUG", "1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://intranet.example.com", cfg.ServerURL)
	require.Equal(t, "wss://intranet.example.com", cfg.WSURL)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.Debug)
}

func TestConfigFileFillsUnsetFields(t *testing.T) {
	home := t.TempDir()
	setEnv(t, home)
	t.Setenv("BOGDOL_LOG_LEVEL", "warn")

	file := []byte("server_url: https://file.example.com\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), file, 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	// The file provides what the environment left unset.
	require.Equal(t, "https://file.example.com", cfg.ServerURL)
	// The environment wins where both are set.
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsBadScheme(t *testing.T) {
	setEnv(t, t.TempDir())
	t.Setenv("BOGDOL_SERVER_URL", "ftp://intranet.example.com")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadCreatesHomeDir(t *testing.T) {
	home := filepath.Join(t.TempDir(), "nested", "state")
	setEnv(t, home)

	_, err := Load()
	require.NoError(t, err)
	info, err := os.Stat(home)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
