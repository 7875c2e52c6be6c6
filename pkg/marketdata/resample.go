package marketdata

import (
	"time"

	"perpsim/pkg/common"
)

// Resample folds ordered base candles into interval-sized buckets. Open and
// close come from the first and last candle of the bucket, high and low are
// the extremes and volume is summed. Partial trailing buckets are emitted
// as-is.
func Resample(candles []common.Candle, interval time.Duration) []common.Candle {
	if len(candles) == 0 {
		return nil
	}

	var out []common.Candle
	for _, c := range candles {
		bucket := c.Timestamp.Truncate(interval)
		if len(out) == 0 || !out[len(out)-1].Timestamp.Equal(bucket) {
			c.Timestamp = bucket
			out = append(out, c)
			continue
		}
		last := &out[len(out)-1]
		last.High = last.High.Max(c.High)
		last.Low = last.Low.Min(c.Low)
		last.Close = c.Close
		last.Volume = last.Volume.Add(c.Volume)
	}
	return out
}
