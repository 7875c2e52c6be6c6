package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"perpsim/pkg/account"
	"perpsim/pkg/clock"
	"perpsim/pkg/common"
	"perpsim/pkg/engine"
	"perpsim/pkg/marketdata"
	"perpsim/pkg/report"
	"perpsim/pkg/utility/fixed"
)

// envelope is the response shape every endpoint uses, success or failure.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func (s *Server) respond(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("response encode failed", "error", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	s.respond(w, http.StatusOK, envelope{Code: 0, Msg: "success", Data: data})
}

func (s *Server) fail(w http.ResponseWriter, err error, emptyData any) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, account.ErrPositionNotFound),
		errors.Is(err, marketdata.ErrUnknownSymbol),
		errors.Is(err, marketdata.ErrNoData):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrValidation),
		errors.Is(err, account.ErrInsufficientBalance),
		errors.Is(err, common.ErrDeserialization):
		status = http.StatusBadRequest
	}
	s.respond(w, status, envelope{Code: status, Msg: err.Error(), Data: emptyData})
}

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	interval := q.Get("interval")
	if interval == "" {
		interval = "5m"
	}
	limit := 500
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	from, err := s.store.EarliestTime(symbol)
	if err != nil {
		s.fail(w, err, []any{})
		return
	}
	if raw := q.Get("startTime"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			from = time.UnixMilli(ms)
		}
	}

	// Never serve candles past the virtual clock, the future is not
	// supposed to exist yet.
	to := s.clk.Now()
	if raw := q.Get("endTime"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && time.UnixMilli(ms).Before(to) {
			to = time.UnixMilli(ms)
		}
	}

	klines, err := marketdata.Klines(s.store, symbol, interval, from, to, limit)
	if err != nil {
		s.fail(w, err, []any{})
		return
	}
	s.ok(w, klines)
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	price, err := s.store.PriceAt(symbol, s.clk.Now())
	if err != nil {
		s.fail(w, err, nil)
		return
	}

	level := func(factor string) []string {
		return []string{price.Mul(fixed.MustFromString(factor)).String(), "1000"}
	}
	s.ok(w, map[string]any{
		"symbol":    symbol,
		"bids":      [][]string{level("0.999"), level("0.998"), level("0.997")},
		"asks":      [][]string{level("1.001"), level("1.002"), level("1.003")},
		"timestamp": s.clk.Now().UnixMilli(),
	})
}

type createOrderRequest struct {
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	PositionSide string          `json:"positionSide"`
	Type         string          `json:"type"`
	Quantity     json.Number     `json:"quantity"`
	Price        json.Number     `json:"price"`
	Leverage     int             `json:"leverage"`
	TakeProfit   json.RawMessage `json:"takeProfit"`
	StopLoss     json.RawMessage `json:"stopLoss"`
	Immediate    bool            `json:"immediate"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, fmt.Errorf("%w: %s", common.ErrDeserialization, err), nil)
		return
	}

	if _, err := s.store.EarliestTime(body.Symbol); err != nil {
		s.fail(w, err, nil)
		return
	}

	req, err := s.parseOrderRequest(body)
	if err != nil {
		s.metrics.ordersRejected.Inc()
		s.fail(w, err, nil)
		return
	}

	order, err := s.engine.CreateOrder(req)
	if err != nil {
		s.metrics.ordersRejected.Inc()
		s.fail(w, err, nil)
		return
	}
	s.metrics.ordersCreated.WithLabelValues(string(order.Side)).Inc()
	s.saveState()

	data := map[string]any{"order": order.DTO()}
	if body.Immediate && order.Status == common.OrderStatusFilled {
		if execution, err := s.lookaheadReport(order); err == nil {
			data["execution"] = execution
		}
	}
	s.ok(w, data)
}

func (s *Server) parseOrderRequest(body createOrderRequest) (engine.OrderRequest, error) {
	side, err := common.ParseOrderSide(body.Side)
	if err != nil {
		return engine.OrderRequest{}, err
	}
	orderType, err := common.ParseOrderType(body.Type)
	if err != nil {
		return engine.OrderRequest{}, err
	}
	req := engine.OrderRequest{
		Symbol:   body.Symbol,
		Side:     side,
		Type:     orderType,
		Leverage: body.Leverage,
	}
	if body.PositionSide != "" {
		if req.PositionSide, err = common.ParsePositionSide(body.PositionSide); err != nil {
			return engine.OrderRequest{}, err
		}
	}
	if req.Quantity, err = fixed.FromString(body.Quantity.String()); err != nil {
		return engine.OrderRequest{}, fmt.Errorf("%w: quantity: %s", engine.ErrValidation, err)
	}
	if body.Price != "" {
		if req.Price, err = fixed.FromString(body.Price.String()); err != nil {
			return engine.OrderRequest{}, fmt.Errorf("%w: price: %s", engine.ErrValidation, err)
		}
	}
	if req.TakeProfit, err = parseTrigger(body.TakeProfit); err != nil {
		return engine.OrderRequest{}, fmt.Errorf("takeProfit: %w", err)
	}
	if req.StopLoss, err = parseTrigger(body.StopLoss); err != nil {
		return engine.OrderRequest{}, fmt.Errorf("stopLoss: %w", err)
	}
	return req, nil
}

// parseTrigger reads the {"stopPrice": ...} sub-structure a trigger comes
// in as. Clients send it either as a nested object or as a JSON string
// containing one; both are accepted, anything else is rejected loudly.
func parseTrigger(raw json.RawMessage) (*fixed.Point, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %s", common.ErrDeserialization, err)
		}
		if inner == "" {
			return nil, nil
		}
		raw = json.RawMessage(inner)
	}

	var spec struct {
		StopPrice json.Number `json:"stopPrice"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrDeserialization, err)
	}
	if spec.StopPrice == "" {
		return nil, nil
	}
	price, err := fixed.FromString(spec.StopPrice.String())
	if err != nil {
		return nil, fmt.Errorf("%w: stopPrice %q", common.ErrDeserialization, spec.StopPrice)
	}
	if !price.IsPos() {
		return nil, nil
	}
	return &price, nil
}

// lookaheadReport runs the what-if scan for an immediate-mode order and
// shapes the result the way clients already parse it.
func (s *Server) lookaheadReport(order common.Order) (map[string]any, error) {
	result, err := s.engine.Lookahead(order.Symbol, order.PositionSide)
	if err != nil {
		return nil, err
	}
	if !result.Triggered {
		return map[string]any{"triggered": false}, nil
	}
	return map[string]any{
		"triggered":         true,
		"trigger_type":      string(result.TriggerType),
		"trigger_price":     result.TriggerPrice.String(),
		"trigger_timestamp": result.TriggerTimestamp.UnixMilli(),
		"pnl":               result.Pnl.String(),
		"execution_time":    result.ExecutionTime.UnixMilli(),
	}, nil
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.Order(r.URL.Query().Get("orderId"))
	if err != nil {
		s.fail(w, err, nil)
		return
	}
	s.ok(w, order.DTO())
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	_, err := s.engine.CancelOrder(r.URL.Query().Get("orderId"))
	if err != nil {
		s.fail(w, err, nil)
		return
	}
	s.metrics.ordersCancelled.Inc()
	s.saveState()
	s.respond(w, http.StatusOK, envelope{Code: 0, Msg: "Order cancelled successfully", Data: nil})
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, _ *http.Request) {
	orders := s.engine.OpenOrders()
	data := make([]common.OrderDTO, 0, len(orders))
	for i := range orders {
		data = append(data, orders[i].DTO())
	}
	s.ok(w, data)
}

func (s *Server) handleAllOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	all := append(s.engine.OpenOrders(), s.engine.History()...)
	filtered := all[:0]
	for _, order := range all {
		if symbol == "" || order.Symbol == symbol {
			filtered = append(filtered, order)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedTime.After(filtered[j].CreatedTime)
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}

	data := make([]common.OrderDTO, 0, len(filtered))
	for i := range filtered {
		data = append(data, filtered[i].DTO())
	}
	s.ok(w, data)
}

type setLeverageRequest struct {
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

func (s *Server) handleSetLeverage(w http.ResponseWriter, r *http.Request) {
	var body setLeverageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, fmt.Errorf("%w: %s", common.ErrDeserialization, err), nil)
		return
	}
	if err := s.engine.SetLeverage(body.Symbol, body.Leverage); err != nil {
		s.fail(w, err, nil)
		return
	}
	s.ok(w, map[string]any{"symbol": body.Symbol, "leverage": body.Leverage})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.engine.Positions()
	data := make([]common.PositionDTO, 0, len(positions))
	for i := range positions {
		data = append(data, positions[i].DTO())
	}
	s.ok(w, data)
}

func (s *Server) handleBalance(w http.ResponseWriter, _ *http.Request) {
	balances := s.engine.Balances()
	data := make([]common.BalanceDTO, 0, len(balances))
	for i := range balances {
		data = append(data, balances[i].DTO())
	}
	s.ok(w, data)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	summary := report.Summarize(s.engine.History(), s.recorder.Pnls())
	s.ok(w, map[string]any{
		"trades":          summary.Trades,
		"wins":            summary.Wins,
		"losses":          summary.Losses,
		"winRate":         summary.WinRate.String(),
		"totalPnl":        summary.TotalPnl.String(),
		"meanPnl":         summary.MeanPnl.String(),
		"pnlStdDev":       summary.PnlStdDev.String(),
		"bestTrade":       summary.BestTrade.String(),
		"worstTrade":      summary.WorstTrade.String(),
		"totalCommission": summary.TotalCommission.String(),
		"ordersFilled":    summary.OrdersFilled,
		"ordersCancelled": summary.OrdersCancelled,
		"totalRealized":   s.engine.TotalRealizedPnl().String(),
	})
}

func (s *Server) handleStateSave(w http.ResponseWriter, _ *http.Request) {
	if err := s.state.Save(s.engine.Snapshot(), s.clk.Now()); err != nil {
		s.fail(w, err, nil)
		return
	}
	s.respond(w, http.StatusOK, envelope{Code: 0, Msg: "State saved successfully", Data: nil})
}

func (s *Server) handleStateClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.state.Clear(); err != nil {
		s.fail(w, err, nil)
		return
	}
	s.respond(w, http.StatusOK, envelope{Code: 0, Msg: "State cleared successfully", Data: nil})
}

func (s *Server) handleTimeCurrent(w http.ResponseWriter, _ *http.Request) {
	now := s.clk.Now()
	s.ok(w, map[string]any{
		"current_time": now.UTC().Format(time.RFC3339),
		"timestamp":    now.UnixMilli(),
		"start_time":   s.startTime.UTC().Format(time.RFC3339),
	})
}

type advanceTimeRequest struct {
	Steps int `json:"steps"`
}

func (s *Server) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	body := advanceTimeRequest{Steps: 1}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.fail(w, fmt.Errorf("%w: %s", common.ErrDeserialization, err), nil)
			return
		}
	}
	if body.Steps < 1 {
		s.fail(w, fmt.Errorf("%w: steps must be at least 1", engine.ErrValidation), nil)
		return
	}

	if err := s.clk.Advance(time.Duration(body.Steps) * clock.Step); err != nil {
		s.fail(w, err, nil)
		return
	}
	s.metrics.timeSteps.Add(float64(body.Steps))
	now := s.clk.Now()
	s.hub.Broadcast("TIME_ADVANCE", now, map[string]any{"timestamp": now.UnixMilli()})
	s.saveState()

	s.respond(w, http.StatusOK, envelope{
		Code: 0,
		Msg:  fmt.Sprintf("Time advanced by %d minutes", body.Steps),
		Data: map[string]any{
			"current_time": now.UTC().Format(time.RFC3339),
			"timestamp":    now.UnixMilli(),
		},
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, _ *http.Request) {
	symbols := s.store.Symbols()
	s.ok(w, map[string]any{"symbols": symbols, "count": len(symbols)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	now := s.clk.Now()
	balances := s.engine.Balances()
	data := make([]common.BalanceDTO, 0, len(balances))
	for i := range balances {
		data = append(data, balances[i].DTO())
	}
	s.respond(w, http.StatusOK, envelope{Code: 0, Msg: "healthy", Data: map[string]any{
		"status":       "healthy",
		"current_time": now.UTC().Format(time.RFC3339),
		"timestamp":    now.UnixMilli(),
		"balance":      data,
	}})
}
