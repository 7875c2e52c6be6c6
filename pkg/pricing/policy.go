package pricing

import (
	"sort"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

// SlippageTier maps a minimum notional order value to the slippage rate
// applied to orders at or above it.
type SlippageTier struct {
	MinValue fixed.Point
	Rate     fixed.Point
}

// Policy derives execution prices and commissions from notional order value.
// The zero tier set means no slippage at all, which is what deterministic
// backtests usually want.
type Policy struct {
	commissionRate fixed.Point
	minCommission  fixed.Point
	tiers          []SlippageTier
}

type Option func(*Policy)

func WithCommission(rate, minimum fixed.Point) Option {
	return func(p *Policy) {
		p.commissionRate = rate
		p.minCommission = minimum
	}
}

func WithSlippageTiers(tiers []SlippageTier) Option {
	return func(p *Policy) {
		p.tiers = append([]SlippageTier(nil), tiers...)
		sort.Slice(p.tiers, func(i, j int) bool {
			return p.tiers[i].MinValue.Lt(p.tiers[j].MinValue)
		})
	}
}

// NewPolicy returns the default taker schedule, 0.07% commission with a
// 0.04 floor and slippage stepping up at 100, 1000 and 10000 of notional.
func NewPolicy(options ...Option) *Policy {
	p := &Policy{
		commissionRate: fixed.MustFromString("0.0007"),
		minCommission:  fixed.MustFromString("0.04"),
		tiers: []SlippageTier{
			{MinValue: fixed.Zero, Rate: fixed.MustFromString("0.0001")},
			{MinValue: fixed.Hundred, Rate: fixed.MustFromString("0.0005")},
			{MinValue: fixed.Thousand, Rate: fixed.MustFromString("0.001")},
			{MinValue: fixed.MustFromString("10000"), Rate: fixed.MustFromString("0.002")},
		},
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Commission charges the rate on notional value with an absolute floor.
func (p *Policy) Commission(orderValue fixed.Point) fixed.Point {
	return p.commissionRate.Mul(orderValue).Max(p.minCommission)
}

// SlippageRate picks the tier with the highest threshold not above the
// order value. Values below every threshold still pay the lowest tier.
func (p *Policy) SlippageRate(orderValue fixed.Point) fixed.Point {
	if len(p.tiers) == 0 {
		return fixed.Zero
	}
	rate := p.tiers[0].Rate
	for _, tier := range p.tiers {
		if orderValue.Gte(tier.MinValue) {
			rate = tier.Rate
		}
	}
	return rate
}

// ExecutionPrice shifts the reference price against the taker, up for buys
// and down for sells.
func (p *Policy) ExecutionPrice(side common.OrderSide, price, orderValue fixed.Point) fixed.Point {
	slip := price.Mul(p.SlippageRate(orderValue))
	if side == common.OrderSideBuy {
		return price.Add(slip)
	}
	return price.Sub(slip)
}
