package common

import (
	"fmt"
	"time"

	"perpsim/pkg/utility/fixed"
)

type Order struct {
	ID               string
	Symbol           string
	Side             OrderSide
	PositionSide     PositionSide
	Type             OrderType
	Quantity         fixed.Point
	Price            fixed.Point
	ExecutedPrice    fixed.Point
	ExecutedQuantity fixed.Point
	Status           OrderStatus
	TakeProfit       *fixed.Point
	StopLoss         *fixed.Point
	Commission       fixed.Point
	Leverage         int
	CreatedTime      time.Time
	ExecutedTime     *time.Time
}

// OrderDTO is the exchange-facing shape of an order. Field names and value
// encodings (decimal strings, millisecond epochs) are a compatibility
// contract with downstream strategy clients and must not change.
type OrderDTO struct {
	OrderID       string  `json:"orderId"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	PositionSide  string  `json:"positionSide"`
	Type          string  `json:"type"`
	Quantity      string  `json:"quantity"`
	Price         string  `json:"price"`
	ExecutedPrice string  `json:"executedPrice"`
	ExecutedQty   string  `json:"executedQty"`
	Status        string  `json:"status"`
	TakeProfit    *string `json:"takeProfit"`
	StopLoss      *string `json:"stopLoss"`
	Commission    string  `json:"commission"`
	Leverage      string  `json:"leverage"`
	CreateTime    int64   `json:"createTime"`
	UpdateTime    int64   `json:"updateTime"`
}

func (o *Order) DTO() OrderDTO {
	updateTime := o.CreatedTime
	if o.ExecutedTime != nil {
		updateTime = *o.ExecutedTime
	}
	return OrderDTO{
		OrderID:       o.ID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		PositionSide:  string(o.PositionSide),
		Type:          string(o.Type),
		Quantity:      o.Quantity.String(),
		Price:         o.Price.String(),
		ExecutedPrice: o.ExecutedPrice.String(),
		ExecutedQty:   o.ExecutedQuantity.String(),
		Status:        string(o.Status),
		TakeProfit:    pointString(o.TakeProfit),
		StopLoss:      pointString(o.StopLoss),
		Commission:    o.Commission.String(),
		Leverage:      fmt.Sprintf("%d", o.Leverage),
		CreateTime:    o.CreatedTime.UnixMilli(),
		UpdateTime:    updateTime.UnixMilli(),
	}
}

// OrderFromDTO rebuilds a domain order from its wire shape. Every enum and
// numeric literal is parsed exhaustively so a corrupt snapshot fails at load
// time, not deep inside the engine.
func OrderFromDTO(dto OrderDTO) (*Order, error) {
	side, err := ParseOrderSide(dto.Side)
	if err != nil {
		return nil, err
	}
	positionSide, err := ParsePositionSide(dto.PositionSide)
	if err != nil {
		return nil, err
	}
	orderType, err := ParseOrderType(dto.Type)
	if err != nil {
		return nil, err
	}
	status, err := ParseOrderStatus(dto.Status)
	if err != nil {
		return nil, err
	}

	order := &Order{
		ID:           dto.OrderID,
		Symbol:       dto.Symbol,
		Side:         side,
		PositionSide: positionSide,
		Type:         orderType,
		Status:       status,
		CreatedTime:  time.UnixMilli(dto.CreateTime),
	}

	if order.Quantity, err = fixed.FromString(dto.Quantity); err != nil {
		return nil, fmt.Errorf("order %s quantity: %w", dto.OrderID, err)
	}
	if order.Price, err = fixed.FromString(dto.Price); err != nil {
		return nil, fmt.Errorf("order %s price: %w", dto.OrderID, err)
	}
	if order.ExecutedPrice, err = fixed.FromString(dto.ExecutedPrice); err != nil {
		return nil, fmt.Errorf("order %s executedPrice: %w", dto.OrderID, err)
	}
	if order.ExecutedQuantity, err = fixed.FromString(dto.ExecutedQty); err != nil {
		return nil, fmt.Errorf("order %s executedQty: %w", dto.OrderID, err)
	}
	if order.Commission, err = fixed.FromString(dto.Commission); err != nil {
		return nil, fmt.Errorf("order %s commission: %w", dto.OrderID, err)
	}
	if order.TakeProfit, err = pointFromString(dto.TakeProfit); err != nil {
		return nil, fmt.Errorf("order %s takeProfit: %w", dto.OrderID, err)
	}
	if order.StopLoss, err = pointFromString(dto.StopLoss); err != nil {
		return nil, fmt.Errorf("order %s stopLoss: %w", dto.OrderID, err)
	}
	if _, err := fmt.Sscanf(dto.Leverage, "%d", &order.Leverage); err != nil {
		return nil, fmt.Errorf("order %s leverage %q: %w", dto.OrderID, dto.Leverage, ErrDeserialization)
	}

	if dto.UpdateTime != 0 && dto.UpdateTime != dto.CreateTime && status != OrderStatusPending {
		executed := time.UnixMilli(dto.UpdateTime)
		order.ExecutedTime = &executed
	}
	return order, nil
}

func pointString(p *fixed.Point) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func pointFromString(s *string) (*fixed.Point, error) {
	if s == nil {
		return nil, nil
	}
	p, err := fixed.FromString(*s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
