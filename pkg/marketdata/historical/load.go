package historical

import (
	"fmt"
	"time"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

// Load reads every record of a mapped candle file and returns them as
// domain candles for the given symbol.
func Load(source *Source, symbol string) ([]common.Candle, error) {
	count, err := source.EntryCount()
	if err != nil {
		return nil, err
	}

	candles := make([]common.Candle, 0, count)
	var record Record
	for i := int64(0); i < count; i++ {
		if err := source.Read(i, &record); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		candles = append(candles, common.Candle{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(record.TimestampMs),
			Open:      fixed.FromFloat64(record.Open),
			High:      fixed.FromFloat64(record.High),
			Low:       fixed.FromFloat64(record.Low),
			Close:     fixed.FromFloat64(record.Close),
			Volume:    fixed.FromFloat64(record.Volume),
		})
	}
	return candles, nil
}
