package engine

import (
	"fmt"
	"sort"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

// Snapshot is the engine's share of a persisted simulation: everything but
// the clock, which the caller owns.
type Snapshot struct {
	Balances         []common.BalanceDTO
	Positions        []common.PositionDTO
	OpenOrders       []common.OrderDTO
	History          []common.OrderDTO
	TotalRealizedPnl string
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Balances:         e.ledger.Snapshot(),
		Positions:        e.book.Snapshot(),
		OpenOrders:       make([]common.OrderDTO, 0, len(e.orders)),
		History:          make([]common.OrderDTO, 0, len(e.history)),
		TotalRealizedPnl: e.totalRealized.String(),
	}
	for _, id := range e.orderIDs {
		if order, ok := e.orders[id]; ok {
			s.OpenOrders = append(s.OpenOrders, order.DTO())
		}
	}
	for _, order := range e.history {
		s.History = append(s.History, order.DTO())
	}
	return s
}

// Restore replaces the engine state wholesale. Any parse failure leaves
// the engine untouched.
func (e *Engine) Restore(s Snapshot) error {
	orders := make(map[string]*common.Order, len(s.OpenOrders))
	orderIDs := make([]string, 0, len(s.OpenOrders))
	for _, dto := range s.OpenOrders {
		order, err := common.OrderFromDTO(dto)
		if err != nil {
			return fmt.Errorf("open orders: %w", err)
		}
		orders[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	sort.SliceStable(orderIDs, func(i, j int) bool {
		return orders[orderIDs[i]].CreatedTime.Before(orders[orderIDs[j]].CreatedTime)
	})

	history := make([]*common.Order, 0, len(s.History))
	for _, dto := range s.History {
		order, err := common.OrderFromDTO(dto)
		if err != nil {
			return fmt.Errorf("order history: %w", err)
		}
		history = append(history, order)
	}

	totalRealized := fixed.Zero
	if s.TotalRealizedPnl != "" {
		var err error
		if totalRealized, err = fixed.FromString(s.TotalRealizedPnl); err != nil {
			return fmt.Errorf("total realized pnl: %w", err)
		}
	}

	// Parse balances and positions before applying anything so a corrupt
	// section cannot leave the ledger and the book out of step.
	for _, dto := range s.Balances {
		if _, err := common.BalanceFromDTO(dto); err != nil {
			return fmt.Errorf("balances: %w", err)
		}
	}
	for _, dto := range s.Positions {
		if _, err := common.PositionFromDTO(dto); err != nil {
			return fmt.Errorf("positions: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ledger.Restore(s.Balances); err != nil {
		return err
	}
	if err := e.book.Restore(s.Positions); err != nil {
		return err
	}
	e.orders = orders
	e.orderIDs = orderIDs
	e.history = history
	e.totalRealized = totalRealized
	return nil
}
