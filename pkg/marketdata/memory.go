package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

// Memory keeps candle series sorted in RAM. It backs the other stores,
// which load their data through Add and delegate queries here.
type Memory struct {
	candles map[string][]common.Candle
}

func NewMemory() *Memory {
	return &Memory{candles: make(map[string][]common.Candle)}
}

// Add inserts candles and keeps each series ordered by timestamp. Candle
// timestamps are truncated to the minute on the way in.
func (m *Memory) Add(candles ...common.Candle) {
	touched := make(map[string]struct{})
	for _, c := range candles {
		c.Timestamp = c.Timestamp.Truncate(time.Minute)
		m.candles[c.Symbol] = append(m.candles[c.Symbol], c)
		touched[c.Symbol] = struct{}{}
	}
	for symbol := range touched {
		series := m.candles[symbol]
		sort.Slice(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
	}
}

func (m *Memory) Validate(_ context.Context) error {
	if len(m.candles) == 0 {
		return fmt.Errorf("%w: store holds no symbols", ErrNoData)
	}
	for symbol, series := range m.candles {
		for i := 1; i < len(series); i++ {
			if !series[i].Timestamp.After(series[i-1].Timestamp) {
				return fmt.Errorf("%s: duplicate candle at %s", symbol, series[i].Timestamp)
			}
		}
	}
	return nil
}

func (m *Memory) Symbols() []string {
	out := make([]string, 0, len(m.candles))
	for symbol := range m.candles {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) EarliestTime(symbol string) (time.Time, error) {
	series, ok := m.candles[symbol]
	if !ok || len(series) == 0 {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return series[0].Timestamp, nil
}

// CandleAt looks up the candle covering the minute of at.
func (m *Memory) CandleAt(symbol string, at time.Time) (common.Candle, error) {
	series, ok := m.candles[symbol]
	if !ok {
		return common.Candle{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	at = at.Truncate(time.Minute)
	i := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(at)
	})
	if i == len(series) || !series[i].Timestamp.Equal(at) {
		return common.Candle{}, fmt.Errorf("%w: %s at %s", ErrNoData, symbol, at)
	}
	return series[i], nil
}

// CandleAtOrBefore returns the latest candle not after at, the last known
// market state when at falls inside a data gap.
func (m *Memory) CandleAtOrBefore(symbol string, at time.Time) (common.Candle, error) {
	series, ok := m.candles[symbol]
	if !ok {
		return common.Candle{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	at = at.Truncate(time.Minute)
	i := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(at)
	})
	if i == 0 {
		return common.Candle{}, fmt.Errorf("%w: %s has nothing at or before %s", ErrNoData, symbol, at)
	}
	return series[i-1], nil
}

// PriceAt is the close of the latest candle at or before at.
func (m *Memory) PriceAt(symbol string, at time.Time) (fixed.Point, error) {
	candle, err := m.CandleAtOrBefore(symbol, at)
	if err != nil {
		return fixed.Zero, err
	}
	return candle.Close, nil
}

// CandlesBetween returns candles with from <= timestamp <= to, at most
// limit of them when limit is positive.
func (m *Memory) CandlesBetween(symbol string, from, to time.Time, limit int) ([]common.Candle, error) {
	series, ok := m.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	from = from.Truncate(time.Minute)
	lo := sort.Search(len(series), func(i int) bool {
		return !series[i].Timestamp.Before(from)
	})
	hi := sort.Search(len(series), func(i int) bool {
		return series[i].Timestamp.After(to)
	})
	out := append([]common.Candle(nil), series[lo:hi]...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
