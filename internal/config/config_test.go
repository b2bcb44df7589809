package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMidRouter = "0x00000000000000000000000000000000000000a1"
	testRegistry  = "0x00000000000000000000000000000000000000b2"
)

func TestLoadCreatesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bsc", cfg.NETWORK)
	assert.FileExists(t, DefaultPath)

	// contracts are deployment specific
	assert.Error(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yml := "NETWORK: bsc\nMIDROUTER_ADDRESS: \"" + testMidRouter + "\"\nREFRESH_INTERVAL: 30s\nSLIPPAGE_BIPS: 100\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.yml"), []byte(yml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REGISTRY_ADDRESS="+testRegistry+"\n"), 0o600))
	// restored on cleanup; must be absent so .env can supply it
	t.Setenv("REGISTRY_ADDRESS", "")
	require.NoError(t, os.Unsetenv("REGISTRY_ADDRESS"))
	t.Setenv("AUTO_GAS_BOOST", "25")
	t.Setenv("FEE_ON_TRANSFER_TOKENS", "0x01,0x02")

	cfg, err := Load("orders.yml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 100, cfg.SLIPPAGE_BIPS)
	assert.Equal(t, 25, cfg.AUTO_GAS_BOOST)
	assert.Equal(t, []string{"0x01", "0x02"}, cfg.FEE_ON_TRANSFER_TOKENS)

	ac := cfg.Autonomy()
	assert.Equal(t, common.HexToAddress(testMidRouter), ac.MidRouter)
	assert.Equal(t, common.HexToAddress(testRegistry), ac.Registry)
	assert.Equal(t, common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"), ac.Router)

	d, err := cfg.RefreshInterval()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestDerivedValues(t *testing.T) {
	cfg := Default()

	s, err := cfg.Surcharge()
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", s.String())

	g, err := cfg.MaxGasPrice()
	require.NoError(t, err)
	assert.Equal(t, "20000000000", g.String())

	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, now.Add(30*24*time.Hour), cfg.Deadline(now))

	cfg.DEBUG = true
	assert.Equal(t, "debug", cfg.Telemetry().Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Default()
	base.MIDROUTER_ADDRESS = testMidRouter
	base.REGISTRY_ADDRESS = testRegistry
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"rpc":      func(c *Config) { c.RPC_URL = "" },
		"address":  func(c *Config) { c.REFERER_ADDRESS = "nope" },
		"interval": func(c *Config) { c.REFRESH_INTERVAL = "soon" },
		"slippage": func(c *Config) { c.SLIPPAGE_BIPS = 9000 },
		"boost":    func(c *Config) { c.AUTO_GAS_BOOST = -1 },
		"gas":      func(c *Config) { c.MAX_GAS_PRICE_GWEI = "x" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
