package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

var (
	ErrUnknownSymbol = errors.New("unknown symbol")
	ErrNoData        = errors.New("no market data")
)

// Store serves historical candles to the engine and the API. All candles
// are stored at one minute resolution, coarser intervals are resampled on
// the way out.
type Store interface {
	Validate(ctx context.Context) error
	Symbols() []string
	EarliestTime(symbol string) (time.Time, error)
	PriceAt(symbol string, at time.Time) (fixed.Point, error)
	CandleAt(symbol string, at time.Time) (common.Candle, error)
	CandleAtOrBefore(symbol string, at time.Time) (common.Candle, error)
	CandlesBetween(symbol string, from, to time.Time, limit int) ([]common.Candle, error)
}

var intervals = map[string]time.Duration{
	"1m": time.Minute,
	"5m": 5 * time.Minute,
}

// Klines answers the kline endpoint: base candles between from and to,
// resampled when interval is coarser than the stored resolution.
func Klines(store Store, symbol, interval string, from, to time.Time, limit int) ([]common.KlineDTO, error) {
	duration, ok := intervals[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	// Resampling needs the full base range, the limit is applied after.
	candles, err := store.CandlesBetween(symbol, from, to, 0)
	if err != nil {
		return nil, err
	}
	if duration != time.Minute {
		candles = Resample(candles, duration)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	out := make([]common.KlineDTO, 0, len(candles))
	for i := range candles {
		out = append(out, candles[i].Kline(duration))
	}
	return out, nil
}
