package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func minuteCandle(symbol string, offset int, close float64) common.Candle {
	price := fixed.FromFloat64(close)
	return common.Candle{
		Symbol:    symbol,
		Timestamp: base.Add(time.Duration(offset) * time.Minute),
		Open:      price,
		High:      price.Add(fixed.One),
		Low:       price.Sub(fixed.One),
		Close:     price,
		Volume:    fixed.Ten,
	}
}

func seeded(t *testing.T) *Memory {
	t.Helper()
	store := NewMemory()
	for i := 0; i < 10; i++ {
		store.Add(minuteCandle("BTC-USDT", i, 100+float64(i)))
	}
	require.NoError(t, store.Validate(context.Background()))
	return store
}

func TestMemory_CandleAt(t *testing.T) {
	store := seeded(t)

	candle, err := store.CandleAt("BTC-USDT", base.Add(3*time.Minute+30*time.Second))
	require.NoError(t, err)
	assert.True(t, candle.Close.Eq(fixed.FromFloat64(103)))

	_, err = store.CandleAt("BTC-USDT", base.Add(time.Hour))
	require.ErrorIs(t, err, ErrNoData)

	_, err = store.CandleAt("ETH-USDT", base)
	require.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestMemory_CandleAtOrBefore(t *testing.T) {
	store := NewMemory()
	store.Add(minuteCandle("BTC-USDT", 0, 100), minuteCandle("BTC-USDT", 5, 105))

	// Inside the gap the latest earlier candle serves.
	candle, err := store.CandleAtOrBefore("BTC-USDT", base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, candle.Close.Eq(fixed.FromFloat64(100)))

	// PriceAt follows the same rule.
	price, err := store.PriceAt("BTC-USDT", base.Add(8*time.Minute))
	require.NoError(t, err)
	assert.True(t, price.Eq(fixed.FromFloat64(105)))

	_, err = store.CandleAtOrBefore("BTC-USDT", base.Add(-time.Minute))
	require.ErrorIs(t, err, ErrNoData)

	_, err = store.CandleAtOrBefore("ETH-USDT", base)
	require.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestMemory_PriceAtAndEarliest(t *testing.T) {
	store := seeded(t)

	price, err := store.PriceAt("BTC-USDT", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, price.Eq(fixed.FromFloat64(105)))

	earliest, err := store.EarliestTime("BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, base, earliest)
}

func TestMemory_CandlesBetween(t *testing.T) {
	store := seeded(t)

	candles, err := store.CandlesBetween("BTC-USDT", base.Add(2*time.Minute), base.Add(6*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, candles, 5)
	assert.Equal(t, base.Add(2*time.Minute), candles[0].Timestamp)
	assert.Equal(t, base.Add(6*time.Minute), candles[4].Timestamp)

	limited, err := store.CandlesBetween("BTC-USDT", base, base.Add(time.Hour), 3)
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func TestMemory_ValidateRejectsDuplicates(t *testing.T) {
	store := NewMemory()
	store.Add(minuteCandle("BTC-USDT", 0, 100), minuteCandle("BTC-USDT", 0, 101))
	require.Error(t, store.Validate(context.Background()))

	empty := NewMemory()
	require.ErrorIs(t, empty.Validate(context.Background()), ErrNoData)
}

func TestResample_FiveMinutes(t *testing.T) {
	var candles []common.Candle
	for i := 0; i < 7; i++ {
		candles = append(candles, minuteCandle("BTC-USDT", i, 100+float64(i)))
	}

	out := Resample(candles, 5*time.Minute)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, base, first.Timestamp)
	assert.True(t, first.Open.Eq(fixed.FromFloat64(100)))
	assert.True(t, first.Close.Eq(fixed.FromFloat64(104)))
	assert.True(t, first.High.Eq(fixed.FromFloat64(105)), first.High.String())
	assert.True(t, first.Low.Eq(fixed.FromFloat64(99)), first.Low.String())
	assert.True(t, first.Volume.Eq(fixed.FromFloat64(50)))

	// Trailing partial bucket keeps what it has.
	second := out[1]
	assert.Equal(t, base.Add(5*time.Minute), second.Timestamp)
	assert.True(t, second.Close.Eq(fixed.FromFloat64(106)))
}

func TestKlines_ResampledAndLimited(t *testing.T) {
	store := seeded(t)

	klines, err := Klines(store, "BTC-USDT", "5m", base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, base.UnixMilli(), klines[0].OpenTime)
	assert.Equal(t, base.Add(5*time.Minute).UnixMilli()-1, klines[0].CloseTime)

	limited, err := Klines(store, "BTC-USDT", "1m", base, base.Add(time.Hour), 4)
	require.NoError(t, err)
	require.Len(t, limited, 4)
	// The limit keeps the most recent candles.
	assert.Equal(t, base.Add(9*time.Minute).UnixMilli(), limited[3].OpenTime)

	_, err = Klines(store, "BTC-USDT", "3h", base, base.Add(time.Hour), 0)
	require.Error(t, err)
}
