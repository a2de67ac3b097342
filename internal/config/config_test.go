package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Storage.UseMemory)
	assert.Equal(t, ExchangeFixed, cfg.Exchange.Kind)

	num, den, err := cfg.FixedRate()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), num)
	assert.Equal(t, uint64(25), den)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "ledger.yaml", `
http:
  addr: ":9000"
  enable_airdrop: true
  nonce_ttl: 2m
storage:
  use_memory: false
  postgres_dsn: postgres://u:p@localhost/ledger
  clickhouse_dsn: clickhouse://localhost:9000/ledger
exchange:
  kind: jsonrpc
  endpoint: http://localhost:8899
  timeout: 5s
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.EnableAirdrop)
	assert.Equal(t, 2*time.Minute, cfg.HTTP.NonceTTL)
	assert.False(t, cfg.Storage.UseMemory)
	assert.Equal(t, ExchangeJSONRPC, cfg.Exchange.Kind)
	assert.Equal(t, 5*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_POSTGRES_DSN", "postgres://env/ledger")
	t.Setenv("LEDGER_CLICKHOUSE_DSN", "clickhouse://env:9000/ledger")
	t.Setenv("LEDGER_HTTP_ADDR", ":7000")
	t.Setenv("LEDGER_EXCHANGE_ENDPOINT", "https://exchange.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.Storage.UseMemory)
	assert.Equal(t, "postgres://env/ledger", cfg.Storage.PostgresDSN)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, ExchangeJSONRPC, cfg.Exchange.Kind)
	assert.Equal(t, "https://exchange.example", cfg.Exchange.Endpoint)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing dsn", func(c *Config) { c.Storage.UseMemory = false }},
		{"bad program id", func(c *Config) { c.Ledger.ProgramID = "not-base58!" }},
		{"bad bootstrap admin", func(c *Config) { c.Ledger.BootstrapAdmin = "0OIl" }},
		{"unknown exchange", func(c *Config) { c.Exchange.Kind = "amm" }},
		{"jsonrpc without endpoint", func(c *Config) { c.Exchange.Kind = ExchangeJSONRPC }},
		{"zero rate", func(c *Config) { c.Exchange.Fixed.Rate = decimal.Zero }},
		{"fee too high", func(c *Config) { c.Exchange.Fixed.FeeBps = 10_001 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"no nonce ttl", func(c *Config) { c.HTTP.NonceTTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFixedRate(t *testing.T) {
	tests := []struct {
		rate     string
		num, den uint64
	}{
		{"0.04", 1, 25},
		{"0.040", 1, 25},
		{"40", 40, 1},
		{"1.5", 3, 2},
		{"4e2", 400, 1},
	}

	for _, tt := range tests {
		t.Run(tt.rate, func(t *testing.T) {
			cfg := Default()
			cfg.Exchange.Fixed.Rate = decimal.RequireFromString(tt.rate)
			num, den, err := cfg.FixedRate()
			require.NoError(t, err)
			assert.Equal(t, tt.num, num)
			assert.Equal(t, tt.den, den)
		})
	}

	cfg := Default()
	cfg.Exchange.Fixed.Rate = decimal.RequireFromString("1e30")
	_, _, err := cfg.FixedRate()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", `
# comment
LEDGER_TEST_NEW="from-file"
LEDGER_TEST_SET=from-file
malformed line
`)
	t.Setenv("LEDGER_TEST_SET", "from-env")
	t.Setenv("LEDGER_TEST_NEW", "")
	os.Unsetenv("LEDGER_TEST_NEW")

	LoadEnvFile(path)
	t.Cleanup(func() { os.Unsetenv("LEDGER_TEST_NEW") })

	assert.Equal(t, "from-file", os.Getenv("LEDGER_TEST_NEW"))
	assert.Equal(t, "from-env", os.Getenv("LEDGER_TEST_SET"))
}
