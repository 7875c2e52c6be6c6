package common

import (
	"time"

	"perpsim/pkg/utility/fixed"
)

type Candle struct {
	Symbol    string
	Timestamp time.Time
	Open      fixed.Point
	High      fixed.Point
	Low       fixed.Point
	Close     fixed.Point
	Volume    fixed.Point
}

// KlineDTO is the array-of-fields kline row served over the market data
// endpoint, matching the [openTime, open, high, low, close, volume, closeTime]
// layout clients already parse.
type KlineDTO struct {
	OpenTime  int64  `json:"time"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

func (c *Candle) Kline(interval time.Duration) KlineDTO {
	return KlineDTO{
		OpenTime:  c.Timestamp.UnixMilli(),
		Open:      c.Open.String(),
		High:      c.High.String(),
		Low:       c.Low.String(),
		Close:     c.Close.String(),
		Volume:    c.Volume.String(),
		CloseTime: c.Timestamp.Add(interval).UnixMilli() - 1,
	}
}
