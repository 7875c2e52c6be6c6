package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PERPSIM_DATA_PATH", "/data/candles.duckdb")
	t.Setenv("PERPSIM_SYMBOLS", "BTC-USDT,ETH-USDT")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", c.Env)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, "duckdb", c.DataSource)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, c.Symbols)
	assert.Equal(t, "USDT", c.Asset)
	assert.Equal(t, "1000", c.StartBalance)
	assert.Equal(t, 10, c.DefaultLeverage)
	assert.True(t, c.SlippageEnabled)

	_, ok := c.Start()
	assert.False(t, ok)
}

func TestLoadRejectsUnknownDataSource(t *testing.T) {
	t.Setenv("PERPSIM_DATA_PATH", "/data")
	t.Setenv("PERPSIM_SYMBOLS", "BTC-USDT")
	t.Setenv("PERPSIM_DATA_SOURCE", "csv")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesStartTime(t *testing.T) {
	t.Setenv("PERPSIM_DATA_PATH", "/data")
	t.Setenv("PERPSIM_SYMBOLS", "BTC-USDT")
	t.Setenv("PERPSIM_START_TIME", "2024-01-02T15:04:00Z")

	c, err := Load()
	require.NoError(t, err)

	start, ok := c.Start()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 2, 15, 4, 0, 0, time.UTC), start)

	t.Setenv("PERPSIM_START_TIME", "yesterday")
	_, err = Load()
	assert.Error(t, err)
}
