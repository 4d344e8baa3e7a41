package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vitos/paper_signal_engine/internal/config"
	"github.com/vitos/paper_signal_engine/internal/domain"
	"github.com/vitos/paper_signal_engine/internal/indicators"
	"github.com/vitos/paper_signal_engine/internal/infrastructure/exchange"
	"github.com/vitos/paper_signal_engine/internal/infrastructure/logger"
	"github.com/vitos/paper_signal_engine/internal/infrastructure/storage"
	"github.com/vitos/paper_signal_engine/internal/usecase"
	"go.uber.org/zap"
)

// app is everything a command needs, built from the config in order:
// logger, storage, market data, engine.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *storage.SQLiteStore
	bybit  *exchange.BybitAdapter
	replay *exchange.ReplayFeed
	market domain.MarketData
	engine *usecase.TradingEngine
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "config.yaml" {
		// The default path is optional.
		path = ""
	}
	return config.Load(path)
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if cfg.App.LogFile != "" {
		a.log, err = logger.NewFileLogger(cfg.App.LogFile, cfg.App.LogLevel)
	} else {
		a.log, err = logger.NewLogger(cfg.App.LogLevel)
	}
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a.store, err = storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init sqlite: %w", err)
	}

	if cfg.Exchange.ReplayFile != "" {
		a.replay, err = exchange.LoadReplayFile(cfg.Exchange.ReplayFile, cfg.Exchange.BarLimit)
		if err != nil {
			a.store.Close()
			return nil, fmt.Errorf("load replay: %w", err)
		}
		a.market = a.replay
		a.log.Info("Using replay feed", zap.String("file", cfg.Exchange.ReplayFile))
	} else {
		a.bybit = exchange.NewBybitAdapter(exchange.BybitConfig{
			APIKey:         cfg.Exchange.APIKey,
			APISecret:      cfg.Exchange.APISecret,
			RESTEndpoint:   cfg.Exchange.RESTEndpoint,
			WSEndpoint:     cfg.Exchange.WSEndpoint,
			Category:       cfg.Exchange.Category,
			BarLimit:       cfg.Exchange.BarLimit,
			QuoteFreshness: cfg.Execution.QuoteFreshness,
		}, a.log)
		a.market = a.bybit
	}

	lib, err := indicators.New(indicators.Backend(cfg.App.IndicatorBackend), cfg.Indicators)
	if err != nil {
		a.Close()
		return nil, err
	}
	weights, err := cfg.Weights()
	if err != nil {
		a.Close()
		return nil, err
	}
	agg, err := usecase.NewSignalAggregatorWithWeights(weights)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.engine, err = usecase.NewTradingEngine(ctx, cfg.Engine(), usecase.EngineDeps{
		Market:     a.market,
		Indicators: lib,
		Aggregator: agg,
		Risk:       usecase.NewRiskManager(cfg.Risk, a.log),
		Store:      a.store,
		Logger:     a.log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if a.bybit != nil {
		_ = a.bybit.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close store", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
