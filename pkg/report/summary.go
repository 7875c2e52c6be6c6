package report

import (
	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

// Summary aggregates a finished run: one entry per realized trade plus the
// commission drag taken from the full order history.
type Summary struct {
	Trades          int
	Wins            int
	Losses          int
	WinRate         fixed.Point
	TotalPnl        fixed.Point
	MeanPnl         fixed.Point
	PnlStdDev       fixed.Point
	BestTrade       fixed.Point
	WorstTrade      fixed.Point
	TotalCommission fixed.Point
	OrdersFilled    int
	OrdersCancelled int
}

// Summarize folds realized trade results and the order history into a
// Summary. tradePnls carries one realized figure per closing fill, the
// engine's close listener is the natural producer.
func Summarize(history []common.Order, tradePnls []fixed.Point) Summary {
	s := Summary{
		Trades:    len(tradePnls),
		TotalPnl:  fixed.Zero,
		MeanPnl:   fixed.Mean(tradePnls),
		PnlStdDev: fixed.StdDev(tradePnls, fixed.Mean(tradePnls)),
	}

	for i, pnl := range tradePnls {
		s.TotalPnl = s.TotalPnl.Add(pnl)
		if pnl.IsPos() {
			s.Wins++
		} else if pnl.IsNeg() {
			s.Losses++
		}
		if i == 0 {
			s.BestTrade, s.WorstTrade = pnl, pnl
			continue
		}
		s.BestTrade = s.BestTrade.Max(pnl)
		s.WorstTrade = s.WorstTrade.Min(pnl)
	}
	if s.Trades > 0 {
		s.WinRate = fixed.FromInt(s.Wins, 0).Mul(fixed.Hundred).DivInt(s.Trades)
	} else {
		s.WinRate = fixed.Zero
	}

	s.TotalCommission = fixed.Zero
	for i := range history {
		switch history[i].Status {
		case common.OrderStatusFilled:
			s.OrdersFilled++
			s.TotalCommission = s.TotalCommission.Add(history[i].Commission)
		case common.OrderStatusCancelled:
			s.OrdersCancelled++
		}
	}
	return s
}
