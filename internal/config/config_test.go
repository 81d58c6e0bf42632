package config_test

import (
	"testing"
	"time"

	"github.com/arkade-os/aspd/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "regtest", cfg.Network)
	require.NotEmpty(t, cfg.Datadir)
	require.Greater(t, cfg.RoundInterval, time.Duration(0))

	params, err := cfg.NetParams()
	require.NoError(t, err)
	require.Equal(t, "regtest", params.Name)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ASPD_NETWORK", "signet")
	t.Setenv("ASPD_ROUND_INTERVAL", "1m")
	t.Setenv("ASPD_VTXO_EXPIRY_DELTA", "288")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "signet", cfg.Network)
	require.Equal(t, time.Minute, cfg.RoundInterval)
	require.Equal(t, uint32(288), cfg.VtxoExpiryDelta)
}

func TestConfigValidation(t *testing.T) {
	t.Run("unknown network", func(t *testing.T) {
		t.Setenv("ASPD_NETWORK", "simnet")
		_, err := config.LoadConfig()
		require.Error(t, err)
	})

	t.Run("phases exceeding the interval", func(t *testing.T) {
		t.Setenv("ASPD_ROUND_INTERVAL", "5s")
		t.Setenv("ASPD_ROUND_SUBMIT_TIME", "4s")
		t.Setenv("ASPD_ROUND_SIGN_TIME", "4s")
		_, err := config.LoadConfig()
		require.Error(t, err)
	})
}

func TestConfigPersistence(t *testing.T) {
	datadir := t.TempDir()
	t.Setenv("ASPD_DATADIR", datadir)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Save())

	loaded, err := config.ReadFromDatadir(datadir)
	require.NoError(t, err)
	require.Equal(t, cfg.Network, loaded.Network)
	require.Equal(t, cfg.RoundInterval, loaded.RoundInterval)
	require.Equal(t, cfg.VtxoExpiryDelta, loaded.VtxoExpiryDelta)

	_, err = config.ReadFromDatadir(t.TempDir())
	require.Error(t, err)
}
