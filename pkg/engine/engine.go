package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"perpsim/pkg/account"
	"perpsim/pkg/clock"
	"perpsim/pkg/common"
	"perpsim/pkg/marketdata"
	"perpsim/pkg/pricing"
	"perpsim/pkg/utility/fixed"
)

const defaultHistoryLimit = 10000

type FillListener func(order common.Order)
type CloseListener func(position common.Position, trigger account.TriggerKind, realized fixed.Point)

// Engine owns the order lifecycle and composes the ledger, the position
// book and the pricing policy. Every public method takes the engine mutex,
// the components below it do no locking of their own.
type Engine struct {
	mu sync.Mutex

	log    *slog.Logger
	ledger *account.Ledger
	book   *account.Book
	policy *pricing.Policy
	store  marketdata.Store
	clk    *clock.Clock

	asset           string
	defaultLeverage int
	leverage        map[string]int

	orders       map[string]*common.Order
	orderIDs     []string
	history      []*common.Order
	historyLimit int

	totalRealized fixed.Point

	fillListeners  []FillListener
	closeListeners []CloseListener
	queued         []func()
}

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithDefaultLeverage(leverage int) Option {
	return func(e *Engine) { e.defaultLeverage = leverage }
}

// WithHistoryLimit bounds the order history. The oldest entries are dropped
// once the limit is reached.
func WithHistoryLimit(limit int) Option {
	return func(e *Engine) { e.historyLimit = limit }
}

func WithFillListener(fn FillListener) Option {
	return func(e *Engine) { e.fillListeners = append(e.fillListeners, fn) }
}

func WithCloseListener(fn CloseListener) Option {
	return func(e *Engine) { e.closeListeners = append(e.closeListeners, fn) }
}

// AddFillListener registers a listener after construction, for collaborators
// that need the engine to exist first.
func (e *Engine) AddFillListener(fn FillListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fillListeners = append(e.fillListeners, fn)
}

func (e *Engine) AddCloseListener(fn CloseListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeListeners = append(e.closeListeners, fn)
}

func New(ledger *account.Ledger, book *account.Book, policy *pricing.Policy,
	store marketdata.Store, clk *clock.Clock, asset string, options ...Option) *Engine {

	e := &Engine{
		log:             slog.Default(),
		ledger:          ledger,
		book:            book,
		policy:          policy,
		store:           store,
		clk:             clk,
		asset:           asset,
		defaultLeverage: 1,
		leverage:        make(map[string]int),
		orders:          make(map[string]*common.Order),
		historyLimit:    defaultHistoryLimit,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// OrderRequest is a fully parsed order creation request. PositionSide may
// be left empty, in which case it is derived from the side, buys open
// long and sells open short.
type OrderRequest struct {
	Symbol       string
	Side         common.OrderSide
	PositionSide common.PositionSide
	Type         common.OrderType
	Quantity     fixed.Point
	Price        fixed.Point
	TakeProfit   *fixed.Point
	StopLoss     *fixed.Point
	Leverage     int
}

// CreateOrder validates the request, checks margin coverage and stores the
// order. Market orders execute immediately at the latest known close,
// limit orders rest until cancelled. A rejected request leaves no trace.
func (e *Engine) CreateOrder(req OrderRequest) (common.Order, error) {
	defer e.dispatch()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validate(&req); err != nil {
		return common.Order{}, err
	}

	leverage := req.Leverage
	if leverage == 0 {
		leverage = e.leverageFor(req.Symbol)
	}

	now := e.clk.Now()
	reducing := req.Side != openingSide(req.PositionSide)

	// The reference price is the latest close at or before now, so a data
	// gap still prices market orders at the last known candle. Only before
	// the first candle does an order rest for the opening scan to fill.
	marketPrice, havePrice := fixed.Zero, false
	if req.Type == common.OrderTypeMarket {
		if price, err := e.store.PriceAt(req.Symbol, now); err == nil {
			marketPrice, havePrice = price, true
		}
	}

	if reducing {
		if _, ok := e.book.Get(req.Symbol, req.PositionSide); !ok {
			return common.Order{}, fmt.Errorf("%w: no %s position on %s",
				account.ErrPositionNotFound, req.PositionSide, req.Symbol)
		}
	} else {
		refPrice := req.Price
		if req.Type == common.OrderTypeMarket {
			refPrice = marketPrice
		}
		if refPrice.IsPos() {
			value := req.Quantity.Mul(refPrice)
			required := value.DivInt(leverage).Add(e.policy.Commission(value))
			if !e.ledger.CanDebit(e.asset, required) {
				return common.Order{}, fmt.Errorf("%w: need %s %s to open %s",
					account.ErrInsufficientBalance, required, e.asset, req.Symbol)
			}
		}
	}

	order := &common.Order{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		PositionSide: req.PositionSide,
		Type:         req.Type,
		Quantity:     req.Quantity,
		Price:        req.Price,
		Status:       common.OrderStatusPending,
		TakeProfit:   req.TakeProfit,
		StopLoss:     req.StopLoss,
		Leverage:     leverage,
		CreatedTime:  now,
	}
	e.orders[order.ID] = order
	e.orderIDs = append(e.orderIDs, order.ID)

	if order.Type == common.OrderTypeMarket && havePrice {
		if err := e.executeOrder(order, marketPrice, now, account.TriggerManual); err != nil {
			delete(e.orders, order.ID)
			e.orderIDs = e.orderIDs[:len(e.orderIDs)-1]
			return common.Order{}, fmt.Errorf("%w: %s", ErrExecution, err)
		}
	}
	return *order, nil
}

// CancelOrder moves a pending order to history. Filled and cancelled
// orders are already out of the open map, so they report not found.
func (e *Engine) CancelOrder(id string) (common.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[id]
	if !ok {
		return common.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	order.Status = common.OrderStatusCancelled
	e.archive(order)
	e.log.Debug("order cancelled", "orderId", id, "symbol", order.Symbol)
	return *order, nil
}

// OnCandle runs the per-candle scan: mark to the close, fire TP and SL
// closures at their trigger prices, then fill pending market orders at the
// close. Trigger closures always run first so a position cannot be stopped
// out and re-opened by the same pass.
func (e *Engine) OnCandle(candle common.Candle) {
	defer e.dispatch()
	e.mu.Lock()
	defer e.mu.Unlock()

	at := candle.Timestamp

	e.book.Mark(candle.Symbol, candle.Close, at)

	for _, trigger := range e.book.CheckTriggers(candle.Symbol, candle.High, candle.Low) {
		if err := e.closeTriggered(trigger, at); err != nil {
			e.log.Warn("trigger close failed",
				"symbol", candle.Symbol, "kind", string(trigger.Kind), "error", err)
		}
	}

	for _, id := range append([]string(nil), e.orderIDs...) {
		order, ok := e.orders[id]
		if !ok || order.Symbol != candle.Symbol || order.Type != common.OrderTypeMarket {
			continue
		}
		if err := e.executeOrder(order, candle.Close, at, account.TriggerManual); err != nil {
			e.log.Warn("market order fill failed", "orderId", id, "error", err)
		}
	}
}

// OnTick is the clock subscription hook. Each elapsed step it replays the
// candle at the new time for every symbol with exposure or pending orders.
func (e *Engine) OnTick(_, now time.Time) {
	for _, symbol := range e.activeSymbols() {
		candle, err := e.store.CandleAt(symbol, now)
		if err != nil {
			continue
		}
		e.OnCandle(candle)
	}
}

func (e *Engine) SetLeverage(symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("%w: leverage must be at least 1, got %d", ErrValidation, leverage)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[symbol] = leverage
	return nil
}

func (e *Engine) Order(id string) (common.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if order, ok := e.orders[id]; ok {
		return *order, nil
	}
	for _, order := range e.history {
		if order.ID == id {
			return *order, nil
		}
	}
	return common.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}

func (e *Engine) OpenOrders() []common.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.Order, 0, len(e.orders))
	for _, id := range e.orderIDs {
		if order, ok := e.orders[id]; ok {
			out = append(out, *order)
		}
	}
	return out
}

func (e *Engine) History() []common.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.Order, 0, len(e.history))
	for _, order := range e.history {
		out = append(out, *order)
	}
	return out
}

func (e *Engine) Positions() []common.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	positions := e.book.Positions()
	out := make([]common.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, *p)
	}
	return out
}

func (e *Engine) Balances() []common.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balances()
}

func (e *Engine) TotalRealizedPnl() fixed.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalRealized
}

// validate rejects malformed requests and normalizes the position side.
func (e *Engine) validate(req *OrderRequest) error {
	switch req.Side {
	case common.OrderSideBuy, common.OrderSideSell:
	default:
		return fmt.Errorf("%w: bad side %q", ErrValidation, req.Side)
	}
	switch req.Type {
	case common.OrderTypeMarket, common.OrderTypeLimit:
	default:
		return fmt.Errorf("%w: bad type %q", ErrValidation, req.Type)
	}
	if !req.Quantity.IsPos() {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrValidation, req.Quantity)
	}
	if req.Type == common.OrderTypeLimit && !req.Price.IsPos() {
		return fmt.Errorf("%w: limit order needs a positive price", ErrValidation)
	}
	if req.PositionSide == "" {
		if req.Side == common.OrderSideBuy {
			req.PositionSide = common.PositionSideLong
		} else {
			req.PositionSide = common.PositionSideShort
		}
	}
	return nil
}

func openingSide(direction common.PositionSide) common.OrderSide {
	if direction == common.PositionSideLong {
		return common.OrderSideBuy
	}
	return common.OrderSideSell
}

// executeOrder fills a pending order at marketPrice. Margin and commission
// are charged on the pre-slippage notional, slippage only moves the
// recorded execution price. An oversized reduce is clamped to the position
// quantity and the fill reports what actually traded. kind labels the
// close notification when the fill removes a position.
func (e *Engine) executeOrder(order *common.Order, marketPrice fixed.Point, at time.Time,
	kind account.TriggerKind) error {

	quantity := order.Quantity
	reducing := order.Side != openingSide(order.PositionSide)

	var before common.Position
	if reducing {
		p, ok := e.book.Get(order.Symbol, order.PositionSide)
		if !ok {
			return fmt.Errorf("%w: %s", account.ErrPositionNotFound,
				common.PositionKey(order.Symbol, order.PositionSide))
		}
		before = *p
		if quantity.Gt(p.Quantity) {
			quantity = p.Quantity
		}
	}

	value := quantity.Mul(marketPrice)
	commission := e.policy.Commission(value)
	execPrice := e.policy.ExecutionPrice(order.Side, marketPrice, value)

	if !reducing {
		margin := value.DivInt(order.Leverage)
		if err := e.ledger.Debit(e.asset, margin.Add(commission)); err != nil {
			return err
		}
		e.book.Increase(order.Symbol, order.PositionSide, quantity, execPrice,
			margin, order.Leverage, order.TakeProfit, order.StopLoss, at)
	} else {
		realized, released, closed, err := e.book.Reduce(order.Symbol, order.PositionSide,
			quantity, execPrice, at)
		if err != nil {
			return err
		}
		e.ledger.Credit(e.asset, released.Add(realized).Sub(commission))
		e.totalRealized = e.totalRealized.Add(realized)
		if closed {
			position := before
			e.notify(func() {
				for _, fn := range e.closeListeners {
					fn(position, kind, realized)
				}
			})
		}
	}

	order.ExecutedPrice = execPrice
	order.ExecutedQuantity = quantity
	order.Commission = commission
	order.Status = common.OrderStatusFilled
	executed := at
	order.ExecutedTime = &executed
	e.archive(order)

	e.log.Debug("order filled",
		"orderId", order.ID, "symbol", order.Symbol, "side", string(order.Side),
		"price", execPrice.String(), "qty", order.Quantity.String())

	filled := *order
	e.notify(func() {
		for _, fn := range e.fillListeners {
			fn(filled)
		}
	})
	return nil
}

// closeTriggered synthesizes a full-size closing market order and fills it
// at the breached threshold price, never at the candle close.
func (e *Engine) closeTriggered(trigger account.Trigger, at time.Time) error {
	position := *trigger.Position
	order := &common.Order{
		ID:           uuid.NewString(),
		Symbol:       position.Symbol,
		Side:         position.Side.Opposite(),
		PositionSide: position.Side,
		Type:         common.OrderTypeMarket,
		Quantity:     position.Quantity,
		Price:        trigger.Price,
		Status:       common.OrderStatusPending,
		Leverage:     position.Leverage,
		CreatedTime:  at,
	}
	e.orders[order.ID] = order
	e.orderIDs = append(e.orderIDs, order.ID)

	if err := e.executeOrder(order, trigger.Price, at, trigger.Kind); err != nil {
		delete(e.orders, order.ID)
		e.orderIDs = e.orderIDs[:len(e.orderIDs)-1]
		return err
	}

	realized := order.ExecutedPrice.Sub(position.EntryPrice).Mul(order.ExecutedQuantity)
	if position.Side == common.PositionSideShort {
		realized = realized.Neg()
	}
	e.log.Info("position closed by trigger",
		"symbol", position.Symbol, "side", string(position.Side),
		"kind", string(trigger.Kind), "price", trigger.Price.String(),
		"realized", realized.String())
	return nil
}

// archive moves a terminal order out of the open map into bounded history.
func (e *Engine) archive(order *common.Order) {
	delete(e.orders, order.ID)
	for i, id := range e.orderIDs {
		if id == order.ID {
			e.orderIDs = append(e.orderIDs[:i], e.orderIDs[i+1:]...)
			break
		}
	}
	e.history = append(e.history, order)
	if len(e.history) > e.historyLimit {
		e.history = e.history[len(e.history)-e.historyLimit:]
	}
}

func (e *Engine) leverageFor(symbol string) int {
	if leverage, ok := e.leverage[symbol]; ok {
		return leverage
	}
	return e.defaultLeverage
}

func (e *Engine) activeSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]struct{})
	for _, p := range e.book.Positions() {
		seen[p.Symbol] = struct{}{}
	}
	for _, order := range e.orders {
		seen[order.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for symbol := range seen {
		out = append(out, symbol)
	}
	return out
}

// notify queues a listener callback while the engine lock is held.
// dispatch drains the queue after the lock is released, so listeners may
// call back into the engine without deadlocking.
func (e *Engine) notify(fn func()) {
	e.queued = append(e.queued, fn)
}

func (e *Engine) dispatch() {
	e.mu.Lock()
	queued := e.queued
	e.queued = nil
	e.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}
