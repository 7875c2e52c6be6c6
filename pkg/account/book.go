package account

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

var ErrPositionNotFound = errors.New("position not found")

// Book tracks hedge-mode positions. Long and short exposure on one symbol
// are independent entries, so closing one never nets against the other.
type Book struct {
	positions map[string]*common.Position
}

func NewBook() *Book {
	return &Book{positions: make(map[string]*common.Position)}
}

func (b *Book) Get(symbol string, side common.PositionSide) (*common.Position, bool) {
	p, ok := b.positions[common.PositionKey(symbol, side)]
	return p, ok
}

func (b *Book) Positions() []*common.Position {
	out := make([]*common.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Increase opens or adds to a position. Adding recomputes the entry price
// as the quantity-weighted average of the old and new fills and stacks the
// new margin on top. Take profit and stop loss from the incoming order
// replace the stored ones when set.
func (b *Book) Increase(symbol string, side common.PositionSide, quantity, price, margin fixed.Point,
	leverage int, takeProfit, stopLoss *fixed.Point, now time.Time) *common.Position {

	key := common.PositionKey(symbol, side)
	p, ok := b.positions[key]
	if !ok {
		p = &common.Position{
			Symbol:      symbol,
			Side:        side,
			Quantity:    quantity,
			EntryPrice:  price,
			MarkPrice:   price,
			Margin:      margin,
			Leverage:    leverage,
			TakeProfit:  takeProfit,
			StopLoss:    stopLoss,
			CreatedTime: now,
			UpdatedTime: now,
		}
		b.positions[key] = p
		return p
	}

	oldValue := p.EntryPrice.Mul(p.Quantity)
	newValue := price.Mul(quantity)
	p.Quantity = p.Quantity.Add(quantity)
	p.EntryPrice = oldValue.Add(newValue).Div(p.Quantity)
	p.Margin = p.Margin.Add(margin)
	p.MarkPrice = price
	if takeProfit != nil {
		p.TakeProfit = takeProfit
	}
	if stopLoss != nil {
		p.StopLoss = stopLoss
	}
	p.UpdatedTime = now
	return p
}

// Reduce realizes profit on quantity closed at exitPrice and releases the
// matching share of the margin. Closing at least the full quantity removes
// the position, never flips it.
func (b *Book) Reduce(symbol string, side common.PositionSide, quantity, exitPrice fixed.Point,
	now time.Time) (realized, marginReleased fixed.Point, closed bool, err error) {

	key := common.PositionKey(symbol, side)
	p, ok := b.positions[key]
	if !ok {
		return fixed.Zero, fixed.Zero, false, fmt.Errorf("%w: %s", ErrPositionNotFound, key)
	}
	if quantity.Gt(p.Quantity) {
		quantity = p.Quantity
	}

	realized = exitPrice.Sub(p.EntryPrice).Mul(quantity)
	if side == common.PositionSideShort {
		realized = realized.Neg()
	}

	if quantity.Eq(p.Quantity) {
		marginReleased = p.Margin
		delete(b.positions, key)
		return realized, marginReleased, true, nil
	}

	marginReleased = p.Margin.Mul(quantity).Div(p.Quantity)
	p.Margin = p.Margin.Sub(marginReleased)
	p.Quantity = p.Quantity.Sub(quantity)
	p.RealizedPnl = p.RealizedPnl.Add(realized)
	p.MarkPrice = exitPrice
	p.UpdatedTime = now
	return realized, marginReleased, false, nil
}

// Mark refreshes mark price and unrealized profit for both sides of symbol.
func (b *Book) Mark(symbol string, price fixed.Point, now time.Time) {
	for _, side := range []common.PositionSide{common.PositionSideLong, common.PositionSideShort} {
		p, ok := b.positions[common.PositionKey(symbol, side)]
		if !ok {
			continue
		}
		p.MarkPrice = price
		p.UnrealizedPnl = price.Sub(p.EntryPrice).Mul(p.Quantity)
		if side == common.PositionSideShort {
			p.UnrealizedPnl = p.UnrealizedPnl.Neg()
		}
		p.UpdatedTime = now
	}
}

type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "STOP_LOSS"
	TriggerTakeProfit TriggerKind = "TAKE_PROFIT"
	// TriggerManual marks closes driven by an explicit reducing order
	// rather than a breached threshold.
	TriggerManual TriggerKind = "MANUAL"
)

type Trigger struct {
	Position *common.Position
	Kind     TriggerKind
	Price    fixed.Point
}

// CheckTriggers scans both sides of symbol against a candle's range and
// returns at most one trigger per position. When the range crosses both
// levels the stop loss wins, the pessimistic read of an ambiguous candle.
func (b *Book) CheckTriggers(symbol string, high, low fixed.Point) []Trigger {
	var out []Trigger
	for _, side := range []common.PositionSide{common.PositionSideLong, common.PositionSideShort} {
		p, ok := b.positions[common.PositionKey(symbol, side)]
		if !ok {
			continue
		}
		if t, ok := PositionTrigger(p, high, low); ok {
			out = append(out, t)
		}
	}
	return out
}

// PositionTrigger evaluates one position against a candle range, stop loss
// first. Lookahead scans share this so live and what-if runs agree.
func PositionTrigger(p *common.Position, high, low fixed.Point) (Trigger, bool) {
	if p.Side == common.PositionSideLong {
		if p.StopLoss != nil && low.Lte(*p.StopLoss) {
			return Trigger{Position: p, Kind: TriggerStopLoss, Price: *p.StopLoss}, true
		}
		if p.TakeProfit != nil && high.Gte(*p.TakeProfit) {
			return Trigger{Position: p, Kind: TriggerTakeProfit, Price: *p.TakeProfit}, true
		}
		return Trigger{}, false
	}
	if p.StopLoss != nil && high.Gte(*p.StopLoss) {
		return Trigger{Position: p, Kind: TriggerStopLoss, Price: *p.StopLoss}, true
	}
	if p.TakeProfit != nil && low.Lte(*p.TakeProfit) {
		return Trigger{Position: p, Kind: TriggerTakeProfit, Price: *p.TakeProfit}, true
	}
	return Trigger{}, false
}

func (b *Book) Snapshot() []common.PositionDTO {
	positions := b.Positions()
	out := make([]common.PositionDTO, 0, len(positions))
	for _, p := range positions {
		out = append(out, p.DTO())
	}
	return out
}

func (b *Book) Restore(dtos []common.PositionDTO) error {
	positions := make(map[string]*common.Position, len(dtos))
	for _, dto := range dtos {
		p, err := common.PositionFromDTO(dto)
		if err != nil {
			return err
		}
		positions[p.Key()] = p
	}
	b.positions = positions
	return nil
}
