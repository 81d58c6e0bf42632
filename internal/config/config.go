package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

// Config is the service's tuning surface, loaded from ASPD_* environment
// variables at creation time and persisted as config.json in the datadir so
// a restart reuses the same parameters.
type Config struct {
	Datadir  string `json:"-"`
	Network  string `json:"network"`
	LogLevel int    `json:"log_level"`

	NodeUrl        string `json:"node_url"`
	NodeCookiePath string `json:"node_cookie_path"`

	RoundInterval   time.Duration `json:"round_interval"`
	RoundSubmitTime time.Duration `json:"round_submit_time"`
	RoundSignTime   time.Duration `json:"round_sign_time"`
	NonceBudget     uint64        `json:"nonce_budget"`

	// VtxoExpiryDelta is the number of blocks after a round confirms until
	// the service may unilaterally reclaim it.
	VtxoExpiryDelta uint32 `json:"vtxo_expiry_delta"`
	// VtxoExitDelta is the number of blocks a user waits before a
	// unilateral exit becomes final.
	VtxoExitDelta uint16 `json:"vtxo_exit_delta"`

	SweepFeeRateSatVb float64 `json:"sweep_fee_rate_sat_vb"`
}

var (
	Datadir           = "DATADIR"
	Network           = "NETWORK"
	LogLevel          = "LOG_LEVEL"
	NodeUrl           = "NODE_URL"
	NodeCookiePath    = "NODE_COOKIE_PATH"
	RoundInterval     = "ROUND_INTERVAL"
	RoundSubmitTime   = "ROUND_SUBMIT_TIME"
	RoundSignTime     = "ROUND_SIGN_TIME"
	NonceBudget       = "NONCE_BUDGET"
	VtxoExpiryDelta   = "VTXO_EXPIRY_DELTA"
	VtxoExitDelta     = "VTXO_EXIT_DELTA"
	SweepFeeRateSatVb = "SWEEP_FEE_RATE_SAT_VB"

	defaultDatadir         = btcutil.AppDataDir("aspd", false)
	defaultNetwork         = "regtest"
	defaultLogLevel        = 4
	defaultNodeUrl         = "localhost:18443"
	defaultRoundInterval   = 30 * time.Second
	defaultRoundSubmit     = 10 * time.Second
	defaultRoundSign       = 10 * time.Second
	defaultNonceBudget     = uint64(64)
	defaultVtxoExpiryDelta = uint32(144)
	defaultVtxoExitDelta   = uint16(12)
	defaultSweepFeeRate    = 1.0

	configFileName = "config.json"
)

// LoadDefaultDatadir returns the default application datadir.
func LoadDefaultDatadir() string {
	return defaultDatadir
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("ASPD")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(NodeUrl, defaultNodeUrl)
	viper.SetDefault(RoundInterval, defaultRoundInterval)
	viper.SetDefault(RoundSubmitTime, defaultRoundSubmit)
	viper.SetDefault(RoundSignTime, defaultRoundSign)
	viper.SetDefault(NonceBudget, defaultNonceBudget)
	viper.SetDefault(VtxoExpiryDelta, defaultVtxoExpiryDelta)
	viper.SetDefault(VtxoExitDelta, defaultVtxoExitDelta)
	viper.SetDefault(SweepFeeRateSatVb, defaultSweepFeeRate)

	cfg := &Config{
		Datadir:           viper.GetString(Datadir),
		Network:           viper.GetString(Network),
		LogLevel:          viper.GetInt(LogLevel),
		NodeUrl:           viper.GetString(NodeUrl),
		NodeCookiePath:    viper.GetString(NodeCookiePath),
		RoundInterval:     viper.GetDuration(RoundInterval),
		RoundSubmitTime:   viper.GetDuration(RoundSubmitTime),
		RoundSignTime:     viper.GetDuration(RoundSignTime),
		NonceBudget:       viper.GetUint64(NonceBudget),
		VtxoExpiryDelta:   uint32(viper.GetUint64(VtxoExpiryDelta)),
		VtxoExitDelta:     uint16(viper.GetUint64(VtxoExitDelta)),
		SweepFeeRateSatVb: viper.GetFloat64(SweepFeeRateSatVb),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := c.NetParams(); err != nil {
		return err
	}
	if c.RoundSubmitTime+c.RoundSignTime > c.RoundInterval {
		return fmt.Errorf(
			"round phases (%s + %s) do not fit the round interval %s",
			c.RoundSubmitTime, c.RoundSignTime, c.RoundInterval,
		)
	}
	if c.SweepFeeRateSatVb <= 0 {
		return fmt.Errorf("sweep fee rate must be positive")
	}
	return nil
}

func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %s", c.Network)
	}
}

// Save persists the configuration in the datadir.
func (c *Config) Save() error {
	buf, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.Datadir, configFileName), buf, 0600)
}

// ReadFromDatadir loads a previously saved configuration.
func ReadFromDatadir(datadir string) (*Config, error) {
	buf, err := os.ReadFile(filepath.Join(datadir, configFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read config, did you run create? %w", err)
	}
	cfg := &Config{Datadir: datadir}
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
