package common

import (
	"fmt"
	"time"

	"perpsim/pkg/utility/fixed"
)

// Position is one side of a hedge-mode position. Long and short exposure on
// the same symbol live in separate entries keyed by Key().
type Position struct {
	Symbol        string
	Side          PositionSide
	Quantity      fixed.Point
	EntryPrice    fixed.Point
	MarkPrice     fixed.Point
	UnrealizedPnl fixed.Point
	RealizedPnl   fixed.Point
	Margin        fixed.Point
	Leverage      int
	TakeProfit    *fixed.Point
	StopLoss      *fixed.Point
	CreatedTime   time.Time
	UpdatedTime   time.Time
}

func (p *Position) Key() string {
	return PositionKey(p.Symbol, p.Side)
}

func PositionKey(symbol string, side PositionSide) string {
	return symbol + "_" + string(side)
}

type PositionDTO struct {
	Symbol        string  `json:"symbol"`
	PositionSide  string  `json:"positionSide"`
	PositionAmt   string  `json:"positionAmt"`
	EntryPrice    string  `json:"entryPrice"`
	MarkPrice     string  `json:"markPrice"`
	UnrealizedPnl string  `json:"unrealizedPnl"`
	RealizedPnl   string  `json:"realizedPnl"`
	Margin        string  `json:"margin"`
	Leverage      string  `json:"leverage"`
	TakeProfit    *string `json:"takeProfit"`
	StopLoss      *string `json:"stopLoss"`
	CreateTime    int64   `json:"createTime"`
	UpdateTime    int64   `json:"updateTime"`
}

func (p *Position) DTO() PositionDTO {
	return PositionDTO{
		Symbol:        p.Symbol,
		PositionSide:  string(p.Side),
		PositionAmt:   p.Quantity.String(),
		EntryPrice:    p.EntryPrice.String(),
		MarkPrice:     p.MarkPrice.String(),
		UnrealizedPnl: p.UnrealizedPnl.String(),
		RealizedPnl:   p.RealizedPnl.String(),
		Margin:        p.Margin.String(),
		Leverage:      fmt.Sprintf("%d", p.Leverage),
		TakeProfit:    pointString(p.TakeProfit),
		StopLoss:      pointString(p.StopLoss),
		CreateTime:    p.CreatedTime.UnixMilli(),
		UpdateTime:    p.UpdatedTime.UnixMilli(),
	}
}

func PositionFromDTO(dto PositionDTO) (*Position, error) {
	side, err := ParsePositionSide(dto.PositionSide)
	if err != nil {
		return nil, err
	}

	position := &Position{
		Symbol:      dto.Symbol,
		Side:        side,
		CreatedTime: time.UnixMilli(dto.CreateTime),
		UpdatedTime: time.UnixMilli(dto.UpdateTime),
	}

	if position.Quantity, err = fixed.FromString(dto.PositionAmt); err != nil {
		return nil, fmt.Errorf("position %s positionAmt: %w", dto.Symbol, err)
	}
	if position.EntryPrice, err = fixed.FromString(dto.EntryPrice); err != nil {
		return nil, fmt.Errorf("position %s entryPrice: %w", dto.Symbol, err)
	}
	if position.MarkPrice, err = fixed.FromString(dto.MarkPrice); err != nil {
		return nil, fmt.Errorf("position %s markPrice: %w", dto.Symbol, err)
	}
	if position.UnrealizedPnl, err = fixed.FromString(dto.UnrealizedPnl); err != nil {
		return nil, fmt.Errorf("position %s unrealizedPnl: %w", dto.Symbol, err)
	}
	if position.RealizedPnl, err = fixed.FromString(dto.RealizedPnl); err != nil {
		return nil, fmt.Errorf("position %s realizedPnl: %w", dto.Symbol, err)
	}
	if position.Margin, err = fixed.FromString(dto.Margin); err != nil {
		return nil, fmt.Errorf("position %s margin: %w", dto.Symbol, err)
	}
	if position.TakeProfit, err = pointFromString(dto.TakeProfit); err != nil {
		return nil, fmt.Errorf("position %s takeProfit: %w", dto.Symbol, err)
	}
	if position.StopLoss, err = pointFromString(dto.StopLoss); err != nil {
		return nil, fmt.Errorf("position %s stopLoss: %w", dto.Symbol, err)
	}
	if _, err := fmt.Sscanf(dto.Leverage, "%d", &position.Leverage); err != nil {
		return nil, fmt.Errorf("position %s leverage %q: %w", dto.Symbol, dto.Leverage, ErrDeserialization)
	}
	return position, nil
}
