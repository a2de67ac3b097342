// Package config loads daemon settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"custody-ledger/internal/address"
)

// Exchange kinds.
const (
	ExchangeFixed   = "fixed"
	ExchangeJSONRPC = "jsonrpc"
)

// Config holds every setting of the ledger daemon.
type Config struct {
	HTTP struct {
		Addr          string        `yaml:"addr"`
		EnableAirdrop bool          `yaml:"enable_airdrop"`
		NonceTTL      time.Duration `yaml:"nonce_ttl"`
	} `yaml:"http"`

	Storage struct {
		UseMemory        bool   `yaml:"use_memory"`
		PostgresDSN      string `yaml:"postgres_dsn"`
		PostgresMaxConns int32  `yaml:"postgres_max_conns"`
		ClickhouseDSN    string `yaml:"clickhouse_dsn"`
		Migrate          bool   `yaml:"migrate"`
	} `yaml:"storage"`

	Ledger struct {
		ProgramID      string `yaml:"program_id"`
		BootstrapAdmin string `yaml:"bootstrap_admin"`
	} `yaml:"ledger"`

	Exchange struct {
		Kind       string        `yaml:"kind"`
		Endpoint   string        `yaml:"endpoint"`
		Timeout    time.Duration `yaml:"timeout"`
		MaxRetries int           `yaml:"max_retries"`
		Fixed      struct {
			// Rate is units of asset B per unit of asset A.
			Rate   decimal.Decimal `yaml:"rate"`
			FeeBps uint64          `yaml:"fee_bps"`
			MaxOut uint64          `yaml:"max_out"`
		} `yaml:"fixed"`
	} `yaml:"exchange"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// Default returns a configuration that runs entirely in memory against the
// fixed-rate exchange at 40 units of B per 1000 units of A.
func Default() *Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.NonceTTL = 10 * time.Minute
	cfg.Storage.UseMemory = true
	cfg.Storage.Migrate = true
	cfg.Ledger.ProgramID = "4wBqpZM9xaSheZzJSMawUKKwhdpChKbZ5eu5ky4Vigw"
	cfg.Exchange.Kind = ExchangeFixed
	cfg.Exchange.Timeout = 30 * time.Second
	cfg.Exchange.MaxRetries = 3
	cfg.Exchange.Fixed.Rate = decimal.RequireFromString("0.04")
	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 10
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 28
	return &cfg
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// overrideWithEnv replaces values whose LEDGER_* variable is set.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("LEDGER_POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
		cfg.Storage.UseMemory = false
	}
	if v := os.Getenv("LEDGER_CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("LEDGER_PROGRAM_ID"); v != "" {
		cfg.Ledger.ProgramID = v
	}
	if v := os.Getenv("LEDGER_EXCHANGE_ENDPOINT"); v != "" {
		cfg.Exchange.Endpoint = v
		cfg.Exchange.Kind = ExchangeJSONRPC
	}
	if v := os.Getenv("LEDGER_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.NonceTTL <= 0 {
		errs = append(errs, errors.New("http.nonce_ttl must be positive"))
	}

	if !c.Storage.UseMemory && (c.Storage.PostgresDSN == "" || c.Storage.ClickhouseDSN == "") {
		errs = append(errs, errors.New("storage.postgres_dsn and storage.clickhouse_dsn are required unless storage.use_memory is set"))
	}
	if c.Storage.PostgresMaxConns < 0 {
		errs = append(errs, errors.New("storage.postgres_max_conns must not be negative"))
	}

	if _, err := c.ProgramID(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BootstrapAdmin(); err != nil {
		errs = append(errs, err)
	}

	switch c.Exchange.Kind {
	case ExchangeFixed:
		if _, _, err := c.FixedRate(); err != nil {
			errs = append(errs, err)
		}
		if c.Exchange.Fixed.FeeBps > 10_000 {
			errs = append(errs, fmt.Errorf("exchange.fixed.fee_bps %d exceeds 10000", c.Exchange.Fixed.FeeBps))
		}
	case ExchangeJSONRPC:
		if !strings.HasPrefix(c.Exchange.Endpoint, "http://") && !strings.HasPrefix(c.Exchange.Endpoint, "https://") {
			errs = append(errs, fmt.Errorf("invalid exchange.endpoint: %q", c.Exchange.Endpoint))
		}
		if c.Exchange.MaxRetries < 0 {
			errs = append(errs, errors.New("exchange.max_retries must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown exchange.kind %q", c.Exchange.Kind))
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown logging.level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// ProgramID parses ledger.program_id.
func (c *Config) ProgramID() (address.Address, error) {
	id, err := address.Parse(c.Ledger.ProgramID)
	if err != nil {
		return address.Zero, fmt.Errorf("ledger.program_id: %w", err)
	}
	return id, nil
}

// BootstrapAdmin parses ledger.bootstrap_admin. It returns the zero address
// when bootstrap is disabled.
func (c *Config) BootstrapAdmin() (address.Address, error) {
	if c.Ledger.BootstrapAdmin == "" {
		return address.Zero, nil
	}
	a, err := address.Parse(c.Ledger.BootstrapAdmin)
	if err != nil {
		return address.Zero, fmt.Errorf("ledger.bootstrap_admin: %w", err)
	}
	return a, nil
}

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// FixedRate converts exchange.fixed.rate into an exact fraction.
func (c *Config) FixedRate() (numerator, denominator uint64, err error) {
	rate := c.Exchange.Fixed.Rate
	if !rate.IsPositive() {
		return 0, 0, fmt.Errorf("exchange.fixed.rate must be positive, got %s", rate)
	}

	num := rate.Coefficient()
	den := big.NewInt(1)
	if exp := rate.Exponent(); exp < 0 {
		den.Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil)
	} else {
		num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	}

	// Reduce so rates like "0.040" and "0.04" yield the same fraction.
	g := new(big.Int).GCD(nil, nil, num, den)
	num.Quo(num, g)
	den.Quo(den, g)

	if decimal.NewFromBigInt(num, 0).GreaterThan(maxUint64) || decimal.NewFromBigInt(den, 0).GreaterThan(maxUint64) {
		return 0, 0, fmt.Errorf("exchange.fixed.rate %s is out of range", rate)
	}
	return num.Uint64(), den.Uint64(), nil
}
