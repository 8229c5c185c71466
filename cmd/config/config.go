package config

import (
	"bytes"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// errors
var (
	ErrMissingForwarder = errors.New("FORWARDER_ADDRESS is required")
	ErrMissingKey       = errors.New("RELAYER_PRIVATE_KEY is required")
	ErrInvalidForwarder = errors.New("invalid forwarder address")
	ErrInvalidValue     = errors.New("invalid config value")
)

// Duration is a time.Duration written as "2m" or "500ms"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrap(ErrInvalidValue, err.Error())
	}
	d.Duration = v
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Config is the relayer configuration
type Config struct {
	ForwarderAddress     string   `toml:"forwarder_address" yaml:"forwarder_address"`
	RelayerPrivateKey    string   `toml:"relayer_private_key" yaml:"relayer_private_key"`
	RPCURL               string   `toml:"rpc_url" yaml:"rpc_url"`
	Port                 int      `toml:"port" yaml:"port"`
	ReceiptTimeout       Duration `toml:"receipt_timeout" yaml:"receipt_timeout"`
	ReceiptPollInterval  Duration `toml:"receipt_poll_interval" yaml:"receipt_poll_interval"`
	QueueDepth           int      `toml:"queue_depth" yaml:"queue_depth"`
	GasOverhead          uint64   `toml:"gas_overhead" yaml:"gas_overhead"`
	MaxGas               uint64   `toml:"max_gas" yaml:"max_gas"`
	GasPriceWei          string   `toml:"gas_price_wei" yaml:"gas_price_wei"`
	StoreDir             string   `toml:"store_dir" yaml:"store_dir"`
	StatusCacheSize      int      `toml:"status_cache_size" yaml:"status_cache_size"`
	MinBalanceWei        string   `toml:"min_balance_wei" yaml:"min_balance_wei"`
	BalanceCheckInterval Duration `toml:"balance_check_interval" yaml:"balance_check_interval"`
	LogLevel             string   `toml:"log_level" yaml:"log_level"`
	LogFormat            string   `toml:"log_format" yaml:"log_format"`
	JRPCWorkers          int      `toml:"jrpc_workers" yaml:"jrpc_workers"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		RPCURL:               "https://sepolia.base.org",
		Port:                 3002,
		ReceiptTimeout:       Duration{2 * time.Minute},
		ReceiptPollInterval:  Duration{2 * time.Second},
		QueueDepth:           256,
		GasOverhead:          50000,
		StatusCacheSize:      1024,
		BalanceCheckInterval: Duration{time.Minute},
		LogLevel:             "info",
		LogFormat:            "console",
		JRPCWorkers:          16,
	}
}

// Load reads the config file and the env file, then applies the environment and validates the result.
// Empty paths are skipped, a missing env file is ignored.
func Load(path string, envFile string) (*Config, error) {
	cfg := Default()
	if len(path) > 0 {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if len(envFile) > 0 {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.WithStack(err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parse the config from the file of the path
// .yaml and .yml files are read as yaml, everything else as toml
func LoadFile(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(file, v)
	default:
		return LoadReader(file, v)
	}
}

// LoadString parse the config from the string
func LoadString(data string, v interface{}) error {
	return LoadReader(bytes.NewReader([]byte(data)), v)
}

// LoadReader parse the toml config from the reader
func LoadReader(r io.Reader, v interface{}) error {
	if _, err := toml.DecodeReader(r, v); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// LoadYAML parse the yaml config from the reader
func LoadYAML(r io.Reader, v interface{}) error {
	if err := yaml.NewDecoder(r).Decode(v); err != nil && err != io.EOF {
		return errors.WithStack(err)
	}
	return nil
}

// ApplyEnv overrides the config with the environment variables found by lookup
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, has := lookup(key); has {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		if v, has := lookup(key); has {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(ErrInvalidValue, "%v: %v", key, v)
			}
			*dst = n
		}
		return nil
	}
	unsigned := func(key string, dst *uint64) error {
		if v, has := lookup(key); has {
			n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return errors.Wrapf(ErrInvalidValue, "%v: %v", key, v)
			}
			*dst = n
		}
		return nil
	}
	duration := func(key string, dst *Duration) error {
		if v, has := lookup(key); has {
			if err := dst.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
				return errors.Wrapf(ErrInvalidValue, "%v: %v", key, v)
			}
		}
		return nil
	}

	str("FORWARDER_ADDRESS", &cfg.ForwarderAddress)
	str("RELAYER_PRIVATE_KEY", &cfg.RelayerPrivateKey)
	str("RPC_URL", &cfg.RPCURL)
	str("GAS_PRICE_WEI", &cfg.GasPriceWei)
	str("STORE_DIR", &cfg.StoreDir)
	str("MIN_BALANCE_WEI", &cfg.MinBalanceWei)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	for _, err := range []error{
		integer("PORT", &cfg.Port),
		integer("QUEUE_DEPTH", &cfg.QueueDepth),
		integer("STATUS_CACHE_SIZE", &cfg.StatusCacheSize),
		integer("JRPC_WORKERS", &cfg.JRPCWorkers),
		unsigned("GAS_OVERHEAD", &cfg.GasOverhead),
		unsigned("MAX_GAS", &cfg.MaxGas),
		duration("RECEIPT_TIMEOUT", &cfg.ReceiptTimeout),
		duration("RECEIPT_POLL_INTERVAL", &cfg.ReceiptPollInterval),
		duration("BALANCE_CHECK_INTERVAL", &cfg.BalanceCheckInterval),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the values needed to start the relayer
func (cfg *Config) Validate() error {
	if len(cfg.ForwarderAddress) == 0 {
		return errors.WithStack(ErrMissingForwarder)
	}
	if !common.IsHexAddress(cfg.ForwarderAddress) {
		return errors.Wrap(ErrInvalidForwarder, cfg.ForwarderAddress)
	}
	if len(cfg.RelayerPrivateKey) == 0 {
		return errors.WithStack(ErrMissingKey)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.Wrapf(ErrInvalidValue, "port %v", cfg.Port)
	}
	if cfg.QueueDepth <= 0 {
		return errors.Wrapf(ErrInvalidValue, "queue depth %v", cfg.QueueDepth)
	}
	if cfg.ReceiptTimeout.Duration <= 0 || cfg.ReceiptPollInterval.Duration <= 0 {
		return errors.Wrap(ErrInvalidValue, "receipt timing must be positive")
	}
	if _, err := parseWei("gas price", cfg.GasPriceWei); err != nil {
		return err
	}
	if _, err := parseWei("min balance", cfg.MinBalanceWei); err != nil {
		return err
	}
	return nil
}

// Forwarder returns the forwarder address
func (cfg *Config) Forwarder() common.Address {
	return common.HexToAddress(cfg.ForwarderAddress)
}

// GasPrice returns the fixed gas price, nil when the node suggests it
func (cfg *Config) GasPrice() *big.Int {
	v, _ := parseWei("gas price", cfg.GasPriceWei)
	return v
}

// MinBalance returns the balance warning threshold, nil when disabled
func (cfg *Config) MinBalance() *big.Int {
	v, _ := parseWei("min balance", cfg.MinBalanceWei)
	return v
}

// BindAddress returns the listen address of the api server
func (cfg *Config) BindAddress() string {
	return ":" + strconv.Itoa(cfg.Port)
}

func parseWei(name string, s string) (*big.Int, error) {
	if len(s) == 0 {
		return nil, nil
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, errors.Wrapf(ErrInvalidValue, "%v %v", name, s)
	}
	return v, nil
}
