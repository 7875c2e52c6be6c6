package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"perpsim/internal/config"
	"perpsim/internal/dbg"
	"perpsim/pkg/account"
	"perpsim/pkg/api"
	"perpsim/pkg/clock"
	"perpsim/pkg/engine"
	"perpsim/pkg/marketdata"
	"perpsim/pkg/marketdata/historical"
	"perpsim/pkg/pricing"
	"perpsim/pkg/report"
	"perpsim/pkg/state"
	"perpsim/pkg/utility/fixed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := dbg.NewDevLogger()
	if cfg.Env == "prod" {
		logger = dbg.NewProdLogger()
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)
	slogger := dbg.Slog(logger)

	logger.Info("perpsim starting",
		zap.String("addr", cfg.Addr),
		zap.Strings("symbols", cfg.Symbols),
		zap.String("dataSource", cfg.DataSource))
	defer logger.Info("done")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("error opening market data", zap.Error(err))
	}
	defer closeStore()

	if err := store.Validate(ctx); err != nil {
		logger.Fatal("market data validation failed", zap.Error(err))
	}

	startBalance, err := fixed.FromString(cfg.StartBalance)
	if err != nil {
		logger.Fatal("bad start balance", zap.Error(err))
	}

	start, ok := cfg.Start()
	if !ok {
		if start, err = store.EarliestTime(cfg.Symbols[0]); err != nil {
			logger.Fatal("cannot determine start time", zap.Error(err))
		}
	}
	clk := clock.New(start)

	policyOptions := []pricing.Option{}
	if !cfg.SlippageEnabled {
		policyOptions = append(policyOptions, pricing.WithSlippageTiers(nil))
	}

	eng := engine.New(
		account.NewLedger(cfg.Asset, startBalance),
		account.NewBook(),
		pricing.NewPolicy(policyOptions...),
		store, clk, cfg.Asset,
		engine.WithLogger(slogger.With("component", "engine")),
		engine.WithDefaultLeverage(cfg.DefaultLeverage),
		engine.WithHistoryLimit(cfg.HistoryLimit),
	)

	stateManager := state.NewManager(cfg.StateDir, slogger)
	if snapshot, simTime, found, err := stateManager.Load(); err != nil {
		logger.Fatal("error loading saved state", zap.Error(err))
	} else if found {
		if err := eng.Restore(snapshot); err != nil {
			logger.Fatal("error restoring saved state", zap.Error(err))
		}
		if err := clk.Set(simTime); err != nil {
			logger.Fatal("error restoring clock", zap.Error(err))
		}
		logger.Info("state restored", zap.Time("simTime", simTime))
	}

	clk.Subscribe(eng.OnTick)

	recorder := report.NewRecorder()
	server := api.NewServer(cfg.Addr, eng, store, clk, stateManager, recorder, slogger)
	eng.AddFillListener(server.OnFill)
	eng.AddCloseListener(server.OnClose)

	if err := server.Run(ctx); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	if err := stateManager.Save(eng.Snapshot(), clk.Now()); err != nil {
		logger.Error("error saving state on exit", zap.Error(err))
	}

	summary := report.Summarize(eng.History(), recorder.Pnls())
	logger.Info("session summary",
		zap.Int("trades", summary.Trades),
		zap.Int("wins", summary.Wins),
		zap.Int("losses", summary.Losses),
		zap.String("totalPnl", summary.TotalPnl.String()),
		zap.String("totalCommission", summary.TotalCommission.String()))
}

// openStore builds the candle store from the configured backend, a duckdb
// file with one table per symbol or a directory of packed binary files.
func openStore(ctx context.Context, cfg config.Config) (marketdata.Store, func(), error) {
	switch cfg.DataSource {
	case "duckdb":
		db := marketdata.NewDuckDB(cfg.DataPath)
		if err := db.Connect(); err != nil {
			return nil, func() {}, err
		}
		for _, symbol := range cfg.Symbols {
			if err := db.LoadCandles(ctx, symbol, time.Unix(0, 0), time.Now()); err != nil {
				db.Close()
				return nil, func() {}, fmt.Errorf("load %s: %w", symbol, err)
			}
		}
		return db, db.Close, nil

	case "binary":
		memory := marketdata.NewMemory()
		for _, symbol := range cfg.Symbols {
			source := historical.NewSource(filepath.Join(cfg.DataPath, symbol+".bin"))
			if err := source.Open(); err != nil {
				return nil, func() {}, err
			}
			candles, err := historical.Load(source, symbol)
			source.Close()
			if err != nil {
				return nil, func() {}, fmt.Errorf("load %s: %w", symbol, err)
			}
			memory.Add(candles...)
		}
		return memory, func() {}, nil
	}
	return nil, func() {}, fmt.Errorf("unknown data source %q", cfg.DataSource)
}
