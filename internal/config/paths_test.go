package config

import (
	"bytes"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG paths apply on Linux only")
	}

	cfgHome := t.TempDir()
	dataHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgHome)
	t.Setenv("XDG_DATA_HOME", dataHome)

	assert.Equal(t, filepath.Join(cfgHome, "savesync", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(dataHome, "savesync", "tokens"), TokenDir())
	assert.Equal(t, filepath.Join(dataHome, "savesync", "ledger.db"), LedgerPath())
}

func TestPaths_LinuxFallback(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG paths apply on Linux only")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	assert.Equal(t, filepath.Join(home, ".config", "savesync"), DefaultConfigDir())
	assert.Equal(t, filepath.Join(home, ".local", "share", "savesync"), DefaultDataDir())
}

func TestExpandTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "saves"), expandTilde("~/saves"))
	assert.Equal(t, "/abs/path", expandTilde("/abs/path"))
	assert.Equal(t, "~user/x", expandTilde("~user/x"))
}

func TestRenderEffective_RedactsSecrets(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, fullConfig))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(&Resolved{Config: cfg, Path: "/etc/savesync.toml", ProviderName: "home"}, &buf))

	out := buf.String()
	assert.Contains(t, out, `active_provider = "home"`)
	assert.Contains(t, out, "[providers.bucket]")
	assert.Contains(t, out, `access_key_id = "AK"`)
	assert.Contains(t, out, `secret_access_key = "<redacted>"`)
	assert.Contains(t, out, `client_secret = "<redacted>"`)
	assert.NotContains(t, out, "gsecret")
	assert.NotContains(t, out, `"SK"`)
	assert.Contains(t, out, `save_games = "/games/saves"`)
}
