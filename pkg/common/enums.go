package common

import (
	"errors"
	"fmt"
)

// ErrDeserialization marks an unrecognized enum literal coming back from a
// snapshot or an API body. Loaders must fail loudly on it instead of
// coercing the value.
var ErrDeserialization = errors.New("deserialization error")

type OrderSide string
type OrderType string
type OrderStatus string
type PositionSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusPartiallyFilled is part of the wire contract but is never
	// reached: market orders fill whole and there is no matching loop that
	// could split a fill.
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
)

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(s) {
	case OrderSideBuy, OrderSideSell:
		return OrderSide(s), nil
	}
	return "", fmt.Errorf("%w: unknown order side %q", ErrDeserialization, s)
}

func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(s) {
	case OrderTypeMarket, OrderTypeLimit:
		return OrderType(s), nil
	}
	return "", fmt.Errorf("%w: unknown order type %q", ErrDeserialization, s)
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusPending, OrderStatusFilled, OrderStatusCancelled, OrderStatusPartiallyFilled:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrDeserialization, s)
}

func ParsePositionSide(s string) (PositionSide, error) {
	switch PositionSide(s) {
	case PositionSideLong, PositionSideShort:
		return PositionSide(s), nil
	}
	return "", fmt.Errorf("%w: unknown position side %q", ErrDeserialization, s)
}

// Opposite returns the order side that reduces a position held on this side.
func (s PositionSide) Opposite() OrderSide {
	if s == PositionSideLong {
		return OrderSideSell
	}
	return OrderSideBuy
}
