package config

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/meltingclock/autonomy-orders/internal/dex/autonomy"
	"github.com/meltingclock/autonomy-orders/internal/helpers"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

type Config struct {
	NETWORK string `yaml:"NETWORK"` // "bsc", "ethereum"; fills router/wrapped native when unset
	RPC_URL string `yaml:"RPC_URL"`

	// secrets kept in YAML or env, never logged
	PRIVATE_KEY string `yaml:"PRIVATE_KEY"`

	// Contracts
	ROUTER_ADDRESS         string `yaml:"ROUTER_ADDRESS"`
	MIDROUTER_ADDRESS      string `yaml:"MIDROUTER_ADDRESS"`
	REGISTRY_ADDRESS       string `yaml:"REGISTRY_ADDRESS"`
	WRAPPED_NATIVE_ADDRESS string `yaml:"WRAPPED_NATIVE_ADDRESS"`
	REFERER_ADDRESS        string `yaml:"REFERER_ADDRESS"`

	// Event indexer
	SUBGRAPH_URL     string `yaml:"SUBGRAPH_URL"`
	REFRESH_INTERVAL string `yaml:"REFRESH_INTERVAL"` // Go duration, e.g. "10s"

	// Order defaults
	PREPAID_SURCHARGE      string   `yaml:"PREPAID_SURCHARGE"`  // native units added to prepaid orders
	SLIPPAGE_BIPS          int      `yaml:"SLIPPAGE_BIPS"`      // 50 = 0.5%
	DEADLINE_MINUTES       int      `yaml:"DEADLINE_MINUTES"`   // order deadline from placement
	AUTO_GAS_BOOST         int      `yaml:"AUTO_GAS_BOOST"`     // Percentage boost (20 = 20%)
	MAX_GAS_PRICE_GWEI     string   `yaml:"MAX_GAS_PRICE_GWEI"` // Max gas price in gwei
	FEE_ON_TRANSFER_TOKENS []string `yaml:"FEE_ON_TRANSFER_TOKENS"`

	// Notifications
	TELEGRAM_TOKEN   string `yaml:"TELEGRAM_TOKEN"`
	TELEGRAM_CHAT_ID int64  `yaml:"TELEGRAM_CHAT_ID"`

	// Observability
	LOG_LEVEL    string `yaml:"LOG_LEVEL"`
	LOG_FILE     string `yaml:"LOG_FILE"`
	METRICS_ADDR string `yaml:"METRICS_ADDR"` // e.g. ":9102"; empty disables
	DEBUG        bool   `yaml:"DEBUG"`
}

const (
	DefaultPath    = "config.yml"
	DefaultEnvFile = ".env"
)

func Default() *Config {
	return &Config{
		NETWORK: string(autonomy.BSC),
		RPC_URL: "https://bsc-dataseed.binance.org",

		REFRESH_INTERVAL: "10s",

		PREPAID_SURCHARGE:      "0.01",
		SLIPPAGE_BIPS:          50,
		DEADLINE_MINUTES:       60 * 24 * 30,
		AUTO_GAS_BOOST:         10,
		MAX_GAS_PRICE_GWEI:     "20",
		FEE_ON_TRANSFER_TOKENS: []string{},

		LOG_LEVEL: "info",
		DEBUG:     false,
	}
}

func (c *Config) applyEnvOverrides() {
	str := map[string]*string{
		"NETWORK":                &c.NETWORK,
		"RPC_URL":                &c.RPC_URL,
		"PRIVATE_KEY":            &c.PRIVATE_KEY,
		"ROUTER_ADDRESS":         &c.ROUTER_ADDRESS,
		"MIDROUTER_ADDRESS":      &c.MIDROUTER_ADDRESS,
		"REGISTRY_ADDRESS":       &c.REGISTRY_ADDRESS,
		"WRAPPED_NATIVE_ADDRESS": &c.WRAPPED_NATIVE_ADDRESS,
		"REFERER_ADDRESS":        &c.REFERER_ADDRESS,
		"SUBGRAPH_URL":           &c.SUBGRAPH_URL,
		"REFRESH_INTERVAL":       &c.REFRESH_INTERVAL,
		"PREPAID_SURCHARGE":      &c.PREPAID_SURCHARGE,
		"MAX_GAS_PRICE_GWEI":     &c.MAX_GAS_PRICE_GWEI,
		"TELEGRAM_TOKEN":         &c.TELEGRAM_TOKEN,
		"LOG_LEVEL":              &c.LOG_LEVEL,
		"LOG_FILE":               &c.LOG_FILE,
		"METRICS_ADDR":           &c.METRICS_ADDR,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.TELEGRAM_CHAT_ID = id
		}
	}
	if v := os.Getenv("SLIPPAGE_BIPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SLIPPAGE_BIPS = n
		}
	}
	if v := os.Getenv("AUTO_GAS_BOOST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AUTO_GAS_BOOST = n
		}
	}
	if v := os.Getenv("FEE_ON_TRANSFER_TOKENS"); v != "" {
		c.FEE_ON_TRANSFER_TOKENS = strings.Split(v, ",")
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.DEBUG = v == "true" || v == "1"
	}
}

// Load reads path (creating it with defaults when missing), then applies the
// .env file next to the working directory and finally process env overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := godotenv.Load(DefaultEnvFile); err != nil && !os.IsNotExist(err) {
		telemetry.Warnf("[config] ignoring %s: %v", DefaultEnvFile, err)
	}

	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, errors.Wrap(err, "create default config")
		}
		telemetry.Infof("[config] wrote defaults to %s", path)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.RPC_URL == "" {
		return errors.New("RPC_URL is required (set in config.yml or RPC_URL env)")
	}
	for name, v := range map[string]string{
		"ROUTER_ADDRESS":         c.ROUTER_ADDRESS,
		"MIDROUTER_ADDRESS":      c.MIDROUTER_ADDRESS,
		"REGISTRY_ADDRESS":       c.REGISTRY_ADDRESS,
		"WRAPPED_NATIVE_ADDRESS": c.WRAPPED_NATIVE_ADDRESS,
		"REFERER_ADDRESS":        c.REFERER_ADDRESS,
	} {
		if v != "" && !common.IsHexAddress(v) {
			return errors.Errorf("%s is not an address: %q", name, v)
		}
	}
	if err := c.Autonomy().Validate(); err != nil {
		return err
	}
	if _, err := c.RefreshInterval(); err != nil {
		return err
	}
	if _, err := c.Surcharge(); err != nil {
		return err
	}
	if _, err := c.MaxGasPrice(); err != nil {
		return err
	}
	if err := helpers.ValidateSlippageBips(c.SLIPPAGE_BIPS); err != nil {
		return err
	}
	if c.AUTO_GAS_BOOST < 0 {
		return errors.New("AUTO_GAS_BOOST must not be negative")
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if path == "" {
		path = DefaultPath
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// Autonomy builds the contract set, with network preset fallbacks applied.
func (c *Config) Autonomy() autonomy.Config {
	addr := func(s string) common.Address {
		if s == "" {
			return common.Address{}
		}
		return common.HexToAddress(s)
	}
	return autonomy.Config{
		Network:       autonomy.Network(strings.ToLower(c.NETWORK)),
		Router:        addr(c.ROUTER_ADDRESS),
		MidRouter:     addr(c.MIDROUTER_ADDRESS),
		Registry:      addr(c.REGISTRY_ADDRESS),
		WrappedNative: addr(c.WRAPPED_NATIVE_ADDRESS),
		Referer:       addr(c.REFERER_ADDRESS),
	}.WithPreset()
}

func (c *Config) RefreshInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.REFRESH_INTERVAL)
	if err != nil {
		return 0, errors.Wrap(err, "REFRESH_INTERVAL")
	}
	if d <= 0 {
		return 0, errors.New("REFRESH_INTERVAL must be positive")
	}
	return d, nil
}

// Surcharge is PREPAID_SURCHARGE in wei.
func (c *Config) Surcharge() (*big.Int, error) {
	wei, err := helpers.ParseUnits(c.PREPAID_SURCHARGE, 18)
	if err != nil {
		return nil, errors.Wrap(err, "PREPAID_SURCHARGE")
	}
	return wei, nil
}

// MaxGasPrice is MAX_GAS_PRICE_GWEI in wei; nil when unset.
func (c *Config) MaxGasPrice() (*big.Int, error) {
	if c.MAX_GAS_PRICE_GWEI == "" {
		return nil, nil
	}
	wei, err := helpers.GweiToWei(c.MAX_GAS_PRICE_GWEI)
	if err != nil {
		return nil, errors.Wrap(err, "MAX_GAS_PRICE_GWEI")
	}
	return wei, nil
}

func (c *Config) Deadline(now time.Time) time.Time {
	mins := c.DEADLINE_MINUTES
	if mins <= 0 {
		mins = 20
	}
	return now.Add(time.Duration(mins) * time.Minute)
}

func (c *Config) Telemetry() telemetry.Config {
	level := c.LOG_LEVEL
	if c.DEBUG {
		level = "debug"
	}
	return telemetry.Config{
		Level:      level,
		OutputFile: c.LOG_FILE,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
}
