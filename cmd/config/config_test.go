package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const forwarder = "0x9999999999999999999999999999999999999999"

func env(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, has := m[key]
		return v, has
	}
}

func TestLoadStringTOML(t *testing.T) {
	cfg := Default()
	require.NoError(t, LoadString(`
forwarder_address = "`+forwarder+`"
relayer_private_key = "0x01"
port = 4000
receipt_timeout = "30s"
queue_depth = 8
gas_price_wei = "1000000000"
`, cfg))

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReceiptTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.ReceiptPollInterval.Duration)
	assert.Equal(t, 8, cfg.QueueDepth)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(1000000000), cfg.GasPrice().Int64())
	assert.Nil(t, cfg.MinBalance())
	assert.Equal(t, ":4000", cfg.BindAddress())
}

func TestLoadFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayer.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
forwarder_address: "`+forwarder+`"
relayer_private_key: "0x01"
receipt_poll_interval: 500ms
max_gas: 1000000
`), 0o600))

	cfg := Default()
	require.NoError(t, LoadFile(path, cfg))
	assert.Equal(t, 500*time.Millisecond, cfg.ReceiptPollInterval.Duration)
	assert.Equal(t, uint64(1000000), cfg.MaxGas)
	assert.Equal(t, 3002, cfg.Port)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"FORWARDER_ADDRESS":   forwarder,
		"RELAYER_PRIVATE_KEY": "0x02",
		"PORT":                "8080",
		"RECEIPT_TIMEOUT":     "90s",
		"QUEUE_DEPTH":         "16",
		"MIN_BALANCE_WEI":     "0x10",
	})))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.ReceiptTimeout.Duration)
	assert.Equal(t, int64(16), cfg.MinBalance().Int64())
	assert.Equal(t, "https://sepolia.base.org", cfg.RPCURL)

	err := Default().ApplyEnv(env(map[string]string{"PORT": "eighty"}))
	assert.True(t, errors.Is(err, ErrInvalidValue))
	err = Default().ApplyEnv(env(map[string]string{"RECEIPT_TIMEOUT": "soon"}))
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.True(t, errors.Is(cfg.Validate(), ErrMissingForwarder))

	cfg.ForwarderAddress = "0x12"
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidForwarder))

	cfg.ForwarderAddress = forwarder
	assert.True(t, errors.Is(cfg.Validate(), ErrMissingKey))

	cfg.RelayerPrivateKey = "0x01"
	cfg.GasPriceWei = "cheap"
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidValue))
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, ioutil.WriteFile(envPath, []byte("RELAYER_TEST_ONLY_KEY=1\n"), 0o600))

	t.Setenv("FORWARDER_ADDRESS", forwarder)
	t.Setenv("RELAYER_PRIVATE_KEY", "0x03")
	cfg, err := Load("", envPath)
	require.NoError(t, err)
	assert.Equal(t, forwarder, cfg.ForwarderAddress)

	_, err = Load("", filepath.Join(dir, "missing.env"))
	assert.NoError(t, err)
}
