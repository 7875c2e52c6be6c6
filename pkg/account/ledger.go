package account

import (
	"errors"
	"fmt"
	"sort"

	"perpsim/pkg/common"
	"perpsim/pkg/utility/fixed"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger holds the account balances. It is not safe for concurrent use on
// its own, callers serialize access through the engine.
type Ledger struct {
	balances map[string]*common.Balance
}

func NewLedger(asset string, initial fixed.Point) *Ledger {
	l := &Ledger{balances: make(map[string]*common.Balance)}
	l.balances[asset] = &common.Balance{Asset: asset, Free: initial}
	return l
}

func (l *Ledger) Balance(asset string) (common.Balance, bool) {
	b, ok := l.balances[asset]
	if !ok {
		return common.Balance{}, false
	}
	return *b, true
}

func (l *Ledger) Balances() []common.Balance {
	out := make([]common.Balance, 0, len(l.balances))
	for _, b := range l.balances {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// CanDebit reports whether the free balance covers amount.
func (l *Ledger) CanDebit(asset string, amount fixed.Point) bool {
	b, ok := l.balances[asset]
	return ok && b.Free.Gte(amount)
}

// Debit takes amount from the free balance, failing atomically when it
// would go negative.
func (l *Ledger) Debit(asset string, amount fixed.Point) error {
	b, ok := l.balances[asset]
	if !ok || b.Free.Lt(amount) {
		free := fixed.Zero
		if ok {
			free = b.Free
		}
		return fmt.Errorf("%w: need %s %s, free %s", ErrInsufficientBalance, amount, asset, free)
	}
	b.Free = b.Free.Sub(amount)
	return nil
}

// Credit adds amount to the free balance, creating the asset entry if the
// account never held it. Amount may be negative when a losing close settles.
func (l *Ledger) Credit(asset string, amount fixed.Point) {
	b, ok := l.balances[asset]
	if !ok {
		b = &common.Balance{Asset: asset}
		l.balances[asset] = b
	}
	b.Free = b.Free.Add(amount)
}

func (l *Ledger) Snapshot() []common.BalanceDTO {
	balances := l.Balances()
	out := make([]common.BalanceDTO, 0, len(balances))
	for i := range balances {
		out = append(out, balances[i].DTO())
	}
	return out
}

func (l *Ledger) Restore(dtos []common.BalanceDTO) error {
	balances := make(map[string]*common.Balance, len(dtos))
	for _, dto := range dtos {
		b, err := common.BalanceFromDTO(dto)
		if err != nil {
			return err
		}
		balances[b.Asset] = b
	}
	l.balances = balances
	return nil
}
