package common

import (
	"fmt"

	"perpsim/pkg/utility/fixed"
)

// Balance tracks one asset of the account ledger. Total is always derived
// as Free plus Locked, never stored independently.
type Balance struct {
	Asset  string
	Free   fixed.Point
	Locked fixed.Point
}

func (b *Balance) Total() fixed.Point {
	return b.Free.Add(b.Locked)
}

type BalanceDTO struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
	Total  string `json:"total"`
}

func (b *Balance) DTO() BalanceDTO {
	return BalanceDTO{
		Asset:  b.Asset,
		Free:   b.Free.String(),
		Locked: b.Locked.String(),
		Total:  b.Total().String(),
	}
}

func BalanceFromDTO(dto BalanceDTO) (*Balance, error) {
	balance := &Balance{Asset: dto.Asset}
	var err error
	if balance.Free, err = fixed.FromString(dto.Free); err != nil {
		return nil, fmt.Errorf("balance %s free: %w", dto.Asset, err)
	}
	if balance.Locked, err = fixed.FromString(dto.Locked); err != nil {
		return nil, fmt.Errorf("balance %s locked: %w", dto.Asset, err)
	}
	return balance, nil
}
