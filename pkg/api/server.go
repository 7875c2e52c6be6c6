package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perpsim/pkg/account"
	"perpsim/pkg/clock"
	"perpsim/pkg/common"
	"perpsim/pkg/engine"
	"perpsim/pkg/marketdata"
	"perpsim/pkg/report"
	"perpsim/pkg/state"
	"perpsim/pkg/utility/fixed"
)

// Server is the exchange-compatible HTTP surface plus the control plane
// for the simulation (time advance, state snapshots, summary, metrics).
type Server struct {
	log      *slog.Logger
	engine   *engine.Engine
	store    marketdata.Store
	clk      *clock.Clock
	state    *state.Manager
	recorder *report.Recorder
	hub      *StreamHub
	metrics  *metrics

	startTime  time.Time
	httpServer *http.Server
}

func NewServer(addr string, eng *engine.Engine, store marketdata.Store, clk *clock.Clock,
	stateManager *state.Manager, recorder *report.Recorder, log *slog.Logger) *Server {

	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:       log,
		engine:    eng,
		store:     store,
		clk:       clk,
		state:     stateManager,
		recorder:  recorder,
		hub:       NewStreamHub(log),
		metrics:   newMetrics(),
		startTime: clk.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /openApi/swap/v3/quote/klines", s.handleKlines)
	mux.HandleFunc("GET /openApi/swap/v2/quote/depth", s.handleDepth)
	mux.HandleFunc("POST /openApi/swap/v2/trade/order", s.handleCreateOrder)
	mux.HandleFunc("GET /openApi/swap/v2/trade/order", s.handleGetOrder)
	mux.HandleFunc("DELETE /openApi/swap/v2/trade/order", s.handleCancelOrder)
	mux.HandleFunc("GET /openApi/swap/v2/trade/openOrders", s.handleOpenOrders)
	mux.HandleFunc("GET /openApi/swap/v2/trade/allOrders", s.handleAllOrders)
	mux.HandleFunc("POST /openApi/swap/v2/trade/leverage", s.handleSetLeverage)
	mux.HandleFunc("GET /openApi/swap/v2/user/positions", s.handlePositions)
	mux.HandleFunc("GET /openApi/swap/v2/user/balance", s.handleBalance)

	mux.HandleFunc("GET /api/v1/trading/summary", s.handleSummary)
	mux.HandleFunc("POST /api/v1/state/save", s.handleStateSave)
	mux.HandleFunc("POST /api/v1/state/clear", s.handleStateClear)
	mux.HandleFunc("GET /api/v1/time/current", s.handleTimeCurrent)
	mux.HandleFunc("POST /api/v1/time/advance", s.handleTimeAdvance)
	mux.HandleFunc("GET /api/v1/symbols", s.handleSymbols)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	mux.Handle("GET /ws", s.hub)

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// OnFill is registered as an engine fill listener at wiring time. It feeds
// the stream and the metrics.
func (s *Server) OnFill(order common.Order) {
	s.hub.Broadcast("ORDER_FILLED", s.clk.Now(), order.DTO())
}

// OnClose is registered as an engine close listener. It records the
// realized result for the trading summary as well.
func (s *Server) OnClose(position common.Position, kind account.TriggerKind, realized fixed.Point) {
	s.recorder.Add(realized)
	s.metrics.positionsClosed.WithLabelValues(string(kind)).Inc()
	s.hub.Broadcast("POSITION_CLOSED", s.clk.Now(), map[string]any{
		"position": position.DTO(),
		"kind":     string(kind),
		"realized": realized.String(),
	})
}

// saveState snapshots after a successful mutation. Persistence is
// best-effort, a failed save is logged and the in-memory state stands.
func (s *Server) saveState() {
	if err := s.state.Save(s.engine.Snapshot(), s.clk.Now()); err != nil {
		s.log.Error("state save failed", "error", err)
	}
}
