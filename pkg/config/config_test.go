package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
rig:
  address: "10.0.0.5:4534"
  timeout_ms: 2000
sync:
  enabled: true
  deadband_hz: 50
ptt:
  timeout_sec: 120
bridge:
  port: 14532
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "10.0.0.5:4534", cfg.Rig.Address)
	require.Equal(t, 2000, cfg.Rig.TimeoutMs)
	require.True(t, cfg.Sync.Enabled)
	require.Equal(t, 50, cfg.Sync.DeadbandHz)
	require.Equal(t, 120, cfg.PTT.TimeoutSec)
	require.Equal(t, 14532, cfg.Bridge.Port)

	// Unset fields get defaults.
	require.Equal(t, "127.0.0.1:4533", cfg.Display.Address)
	require.Equal(t, 500, cfg.Sync.IntervalMs)
	require.Equal(t, 3000, cfg.Sync.SettleWindowMs)
	require.Equal(t, 300, cfg.Bridge.IdleTimeoutSec)
	require.Equal(t, 10000, cfg.Storage.MaxEvents)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:4534", cfg.Rig.Address)
	require.Equal(t, 4532, cfg.Bridge.Port)
	require.Equal(t, 180, cfg.PTT.TimeoutSec)
	require.Equal(t, 100, cfg.Sync.DeadbandHz)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "rig: [not: valid\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
rig:
  address: "127.0.0.1:4534"
bridge:
  port: 4532
`)

	t.Setenv("RIGMUXD_RIG_ADDRESS", "192.168.1.10:4534")
	t.Setenv("RIGMUXD_BRIDGE_PORT", "14532")
	t.Setenv("RIGMUXD_SYNC_ENABLED", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "192.168.1.10:4534", cfg.Rig.Address)
	require.Equal(t, 14532, cfg.Bridge.Port)
	require.True(t, cfg.Sync.Enabled)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		var c Config
		c.applyDefaults()
		return &c
	}

	t.Run("DefaultsAreValid", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("SamePorts", func(t *testing.T) {
		cfg := base()
		cfg.Web.Port = cfg.Bridge.Port
		require.Error(t, cfg.Validate())
	})

	t.Run("InvalidBridgePort", func(t *testing.T) {
		cfg := base()
		cfg.Bridge.Port = 70000
		require.Error(t, cfg.Validate())
	})

	t.Run("ZeroPTTTimeout", func(t *testing.T) {
		cfg := base()
		cfg.PTT.TimeoutSec = -1
		require.Error(t, cfg.Validate())
	})

	t.Run("SyncWithoutDisplay", func(t *testing.T) {
		cfg := base()
		cfg.Sync.Enabled = true
		cfg.Display.Address = ""
		require.Error(t, cfg.Validate())
	})
}
