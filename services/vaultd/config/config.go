package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"synthvault/observability/logging"
)

// Config captures the runtime settings for the vault daemon.
type Config struct {
	ListenAddress string `yaml:"listen"`
	Environment   string `yaml:"environment"`
	LogLevel      string `yaml:"log_level"`
	EngineConfig  string `yaml:"engine_config"`
	JournalPath   string `yaml:"journal_path"`
	Custody       string `yaml:"custody"`
	Synthetic     string `yaml:"synthetic"`
	// PauseOnStart halts the vault module until an operator resumes it.
	PauseOnStart bool            `yaml:"pause_on_start"`
	Auth         AuthConfig      `yaml:"auth"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	Keeper       KeeperConfig    `yaml:"keeper"`
	Pricer       PricerConfig    `yaml:"pricer"`
	Telemetry    TelemetryConfig `yaml:"telemetry"`
}

// AuthConfig configures HS256 bearer tokens. The sub claim carries the
// caller's hex address.
type AuthConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ClockSkew  time.Duration `yaml:"clock_skew"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// KeeperConfig drives the liquidation loop. Identity must hold the
// liquidator role.
type KeeperConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Identity string        `yaml:"identity"`
}

// PricerConfig drives the oracle refresh loop. Identity must hold the oracle
// role.
type PricerConfig struct {
	Enabled           bool              `yaml:"enabled"`
	Interval          time.Duration     `yaml:"interval"`
	Identity          string            `yaml:"identity"`
	MaxAge            time.Duration     `yaml:"max_age"`
	CacheTTL          time.Duration     `yaml:"cache_ttl"`
	CoinGeckoEndpoint string            `yaml:"coingecko_endpoint"`
	CoinGeckoIDs      map[string]string `yaml:"coingecko_ids"`
	Assets            []PricedAsset     `yaml:"assets"`
	// Manual pins fallback rates keyed "BASE/QUOTE", e.g. "USD/GHS": "10.35".
	Manual map[string]string `yaml:"manual"`
}

// PricedAsset maps a collateral asset to its quote pair. When Via is set the
// rate is composed as Symbol/Via × Via/Quote.
type PricedAsset struct {
	Asset  string `yaml:"asset"`
	Symbol string `yaml:"symbol"`
	Quote  string `yaml:"quote"`
	Via    string `yaml:"via"`
}

type TelemetryConfig struct {
	Metrics bool `yaml:"metrics"`
	Traces  bool `yaml:"traces"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddress: ":8080",
		LogLevel:      "info",
		EngineConfig:  "vault.toml",
		JournalPath:   "vault-journal.db",
		Custody:       "0x00000000000000000000000000000000000c0570",
		Synthetic:     "0x0000000000000000000000000000000000005e70",
		Auth:          AuthConfig{ClockSkew: 2 * time.Minute},
		RateLimit:     RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		Keeper:        KeeperConfig{Interval: 30 * time.Second},
		Pricer:        PricerConfig{Interval: time.Minute, MaxAge: 10 * time.Minute, CacheTTL: 30 * time.Second},
	}
}

// Load reads the YAML file at path, applies VAULTD_* overrides and validates
// the result. An empty path yields the defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("VAULTD_LISTEN", &cfg.ListenAddress)
	str("VAULTD_ENV", &cfg.Environment)
	str("VAULTD_LOG_LEVEL", &cfg.LogLevel)
	str("VAULTD_ENGINE_CONFIG", &cfg.EngineConfig)
	str("VAULTD_JOURNAL_PATH", &cfg.JournalPath)
	str("VAULTD_JWT_SECRET", &cfg.Auth.HMACSecret)
	str("VAULTD_KEEPER_IDENTITY", &cfg.Keeper.Identity)
	str("VAULTD_PRICER_IDENTITY", &cfg.Pricer.Identity)
	for key, dst := range map[string]*bool{
		"VAULTD_KEEPER_ENABLED": &cfg.Keeper.Enabled,
		"VAULTD_PRICER_ENABLED": &cfg.Pricer.Enabled,
	} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = parsed
		}
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8080"
	}
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	for i := range cfg.Pricer.Assets {
		a := &cfg.Pricer.Assets[i]
		a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
		a.Quote = strings.ToUpper(strings.TrimSpace(a.Quote))
		a.Via = strings.ToUpper(strings.TrimSpace(a.Via))
	}
}

// Validate reports the first configuration problem found.
func (cfg Config) Validate() error {
	if cfg.Auth.HMACSecret == "" {
		return errors.New("auth: hmac_secret required (or VAULTD_JWT_SECRET)")
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return errors.New("auth: hmac_secret must be at least 32 bytes")
	}
	if strings.TrimSpace(cfg.EngineConfig) == "" {
		return errors.New("engine_config required")
	}
	for name, addr := range map[string]string{"custody": cfg.Custody, "synthetic": cfg.Synthetic} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid address %q", name, addr)
		}
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return errors.New("rate_limit: requests_per_minute must not be negative")
	}
	if cfg.Keeper.Enabled {
		if !common.IsHexAddress(cfg.Keeper.Identity) {
			return fmt.Errorf("keeper: invalid identity %q", cfg.Keeper.Identity)
		}
		if cfg.Keeper.Interval <= 0 {
			return errors.New("keeper: interval must be positive")
		}
	}
	if cfg.Pricer.Enabled {
		if !common.IsHexAddress(cfg.Pricer.Identity) {
			return fmt.Errorf("pricer: invalid identity %q", cfg.Pricer.Identity)
		}
		if cfg.Pricer.Interval <= 0 {
			return errors.New("pricer: interval must be positive")
		}
		if len(cfg.Pricer.Assets) == 0 {
			return errors.New("pricer: at least one asset required")
		}
		for i, a := range cfg.Pricer.Assets {
			if !common.IsHexAddress(a.Asset) {
				return fmt.Errorf("pricer.assets[%d]: invalid asset %q", i, a.Asset)
			}
			if a.Symbol == "" || a.Quote == "" {
				return fmt.Errorf("pricer.assets[%d]: symbol and quote required", i)
			}
		}
		for pair := range cfg.Pricer.Manual {
			base, quote, ok := strings.Cut(pair, "/")
			if !ok || strings.TrimSpace(base) == "" || strings.TrimSpace(quote) == "" {
				return fmt.Errorf("pricer.manual: key %q must be BASE/QUOTE", pair)
			}
		}
	}
	return nil
}

// Sanitized returns a copy safe to log.
func (cfg Config) Sanitized() Config {
	out := cfg
	out.Auth.HMACSecret = logging.MaskField("hmac_secret", cfg.Auth.HMACSecret).Value.String()
	return out
}
