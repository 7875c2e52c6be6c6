package engine

import (
	"fmt"
	"time"

	"perpsim/pkg/account"
	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

// lookaheadHorizon caps how far ahead a what-if scan walks. A year of
// minute candles is far more than any strategy holds a position.
const lookaheadHorizon = 365 * 24 * time.Hour

// LookaheadResult reports whether and where a position's TP or SL would
// fire against the candles ahead of the current virtual time.
type LookaheadResult struct {
	Triggered        bool
	TriggerType      account.TriggerKind
	TriggerPrice     fixed.Point
	TriggerTimestamp time.Time
	// Pnl is scaled by leverage, matching the margin-relative figure
	// downstream clients expect from this report.
	Pnl           fixed.Point
	ExecutionTime time.Time
}

// Lookahead walks future candles for the given position and reports the
// first TP or SL breach without mutating any state. Within one candle the
// stop loss takes precedence, the same tie-break the live scan applies.
func (e *Engine) Lookahead(symbol string, side common.PositionSide) (LookaheadResult, error) {
	e.mu.Lock()
	position, ok := e.book.Get(symbol, side)
	if !ok {
		e.mu.Unlock()
		return LookaheadResult{}, fmt.Errorf("%w: no %s position on %s",
			account.ErrPositionNotFound, side, symbol)
	}
	snapshot := *position
	now := e.clk.Now()
	e.mu.Unlock()

	if snapshot.TakeProfit == nil && snapshot.StopLoss == nil {
		return LookaheadResult{}, nil
	}

	candles, err := e.store.CandlesBetween(symbol, now.Add(time.Minute), now.Add(lookaheadHorizon), 0)
	if err != nil {
		return LookaheadResult{}, err
	}

	for _, candle := range candles {
		trigger, hit := account.PositionTrigger(&snapshot, candle.High, candle.Low)
		if !hit {
			continue
		}
		realized := trigger.Price.Sub(snapshot.EntryPrice).Mul(snapshot.Quantity)
		if side == common.PositionSideShort {
			realized = realized.Neg()
		}
		return LookaheadResult{
			Triggered:        true,
			TriggerType:      trigger.Kind,
			TriggerPrice:     trigger.Price,
			TriggerTimestamp: candle.Timestamp,
			Pnl:              realized.MulInt(snapshot.Leverage),
			ExecutionTime:    candle.Timestamp,
		}, nil
	}
	return LookaheadResult{}, nil
}
