package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "memory", cfg.StoreType)
	assert.Equal(t, 60*time.Second, cfg.DefaultTTL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 4, cfg.BlockWorkers)
	assert.Equal(t, "explorer.balance.requests", cfg.AMQPQueue)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_TYPE", "PostgreSQL")
	t.Setenv("BLOCK_WORKERS", "8")
	t.Setenv("REQUEST_TIMEOUT", "not-a-duration")
	t.Setenv("API_KEYS", `{"etherscan":"k1, k2","ETH/publicnode":"p1"}`)

	cfg := Load()
	assert.Equal(t, "postgresql", cfg.StoreType)
	assert.Equal(t, 8, cfg.BlockWorkers)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout, "invalid values fall back to the default")
	assert.Equal(t, []string{"k1", "k2"}, cfg.APIKeys["etherscan"])
	assert.Equal(t, []string{"p1"}, cfg.APIKeys["ETH/publicnode"])
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("FLAG_ON", "true")
	t.Setenv("FLAG_BAD", "maybe")
	assert.True(t, GetEnvAsBool("FLAG_ON", false))
	assert.True(t, GetEnvAsBool("FLAG_BAD", true))
	assert.False(t, GetEnvAsBool("FLAG_MISSING", false))
}

func TestLoadProviders_BuiltIn(t *testing.T) {
	p, err := LoadProviders("", map[string][]string{"etherscan": {"key"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"ARB", "BSC", "BTC", "DOGE", "ETH", "LTC"}, p.NetworkNames())

	btc := p.Networks["BTC"]
	assert.Equal(t, int32(8), btc.Decimals)
	assert.Equal(t, []string{"blockbook", "cryptoid", "blockbook_backup"}, btc.Order["balance"])

	eth := p.Networks["ETH"]
	chain := eth.Chain("eth")
	token, ok := chain.Token("USDT")
	require.True(t, ok)
	assert.Equal(t, int32(6), token.Decimals)

	for _, pc := range eth.Providers {
		if pc.Name == "etherscan" {
			assert.Equal(t, []string{"key"}, pc.APIKeys)
		}
	}
}

func TestLoadProviders_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
networks:
  BTC:
    symbol: BTC
    decimals: 8
    providers:
      - {name: a, kind: blockbook, url: "http://a", timeout: 3s}
      - {name: b, kind: cryptoid, url: "http://b"}
    exclude: [a]
`), 0o600))

	p, err := LoadProviders(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, p.Networks["BTC"].Providers[0].Timeout)
	assert.Equal(t, []string{"a"}, p.Networks["BTC"].Exclude)

	_, err = LoadProviders(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestParseProviders_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `networks: {}`},
		{"missing symbol", `networks: {BTC: {providers: []}}`},
		{"missing url", `networks: {BTC: {symbol: BTC, providers: [{name: a, kind: blockbook}]}}`},
		{"duplicate provider", `networks: {BTC: {symbol: BTC, providers: [{name: a, kind: blockbook, url: x}, {name: a, kind: cryptoid, url: y}]}}`},
		{"unknown operation", `networks: {BTC: {symbol: BTC, providers: [{name: a, kind: blockbook, url: x, operations: [swap]}]}}`},
		{"order unknown provider", `networks: {BTC: {symbol: BTC, providers: [{name: a, kind: blockbook, url: x}], order: {balance: [b]}}}`},
		{"exclude unknown provider", `networks: {BTC: {symbol: BTC, providers: [{name: a, kind: blockbook, url: x}], exclude: [b]}}`},
		{"not yaml", `:::`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProviders([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
