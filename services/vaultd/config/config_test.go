package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"synthvault/observability/logging"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesYAML(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
engine_config: /etc/vault.toml
pause_on_start: true
auth:
  hmac_secret: "`+secret+`"
  issuer: synthvault
keeper:
  enabled: true
  interval: 15s
  identity: "0x0000000000000000000000000000000000000a03"
pricer:
  enabled: true
  interval: 1m
  identity: "0x0000000000000000000000000000000000000a02"
  coingecko_ids:
    ETH: ethereum
  manual:
    USD/GHS: "10.35"
  assets:
    - asset: "0x00000000000000000000000000000000000000e7"
      symbol: eth
      quote: ghs
      via: usd
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, 15*time.Second, cfg.Keeper.Interval)
	require.Equal(t, "ETH", cfg.Pricer.Assets[0].Symbol)
	require.Equal(t, "USD", cfg.Pricer.Assets[0].Via)
	require.Equal(t, 2*time.Minute, cfg.Auth.ClockSkew)
	require.Equal(t, "ethereum", cfg.Pricer.CoinGeckoIDs["ETH"])
	require.Equal(t, "10.35", cfg.Pricer.Manual["USD/GHS"])
	require.True(t, cfg.PauseOnStart)
}

func TestValidateRejectsMalformedManualPair(t *testing.T) {
	cfg := Default()
	cfg.Auth.HMACSecret = secret
	cfg.Pricer.Enabled = true
	cfg.Pricer.Identity = "0x0000000000000000000000000000000000000a02"
	cfg.Pricer.Assets = []PricedAsset{{Asset: "0x00000000000000000000000000000000000000e7", Symbol: "ETH", Quote: "GHS"}}
	cfg.Pricer.Manual = map[string]string{"USDGHS": "10.35"}
	require.ErrorContains(t, cfg.Validate(), "BASE/QUOTE")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VAULTD_JWT_SECRET", secret)
	t.Setenv("VAULTD_LISTEN", ":9999")
	t.Setenv("VAULTD_KEEPER_ENABLED", "false")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ListenAddress)
	require.Equal(t, secret, cfg.Auth.HMACSecret)

	t.Setenv("VAULTD_PRICER_ENABLED", "maybe")
	_, err = Load("")
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"missing secret": func(c *Config) { c.Auth.HMACSecret = "" },
		"short secret":   func(c *Config) { c.Auth.HMACSecret = "short" },
		"custody":        func(c *Config) { c.Custody = "nope" },
		"keeper":         func(c *Config) { c.Keeper.Enabled = true },
		"pricer assets": func(c *Config) {
			c.Pricer.Enabled = true
			c.Pricer.Identity = "0x0000000000000000000000000000000000000a02"
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		cfg.Auth.HMACSecret = secret
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "listen: \":1\"\nbogus: true\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestSanitizedMasksSecret(t *testing.T) {
	cfg := Default()
	cfg.Auth.HMACSecret = secret
	require.Equal(t, logging.RedactedValue, cfg.Sanitized().Auth.HMACSecret)
	require.Equal(t, secret, cfg.Auth.HMACSecret)
}
