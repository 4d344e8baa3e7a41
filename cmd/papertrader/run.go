package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/paper_signal_engine/internal/infrastructure/metrics"
	"github.com/vitos/paper_signal_engine/internal/usecase"
	"github.com/vitos/paper_signal_engine/internal/web"
	"go.uber.org/zap"
)

var runNoServer bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine loop with the HTTP API",
	Long: `Run ticks the engine on app.tick_interval over app.instruments,
streams quotes from Bybit (or steps through exchange.replay_file) and
serves the JSON API, /ws event stream and /metrics on server.port.`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runNoServer, "no-server", false, "do not start the HTTP server")
}

func runEngine(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	rec := metrics.NewRecorder()
	a.engine.Subscribe(rec.Observe)

	if a.bybit != nil {
		if err := a.bybit.ConnectWS(ctx, a.cfg.App.Instruments); err != nil {
			// REST quotes still work without the stream.
			log.Warn("Ticker stream unavailable", zap.Error(err))
		}
	}

	worker := usecase.NewTickWorker(a.engine, a.cfg.App.Instruments, a.cfg.App.TickInterval, log)
	worker.OnTick(func(report usecase.TickReport) {
		rec.ObserveTick(report)
		if a.replay != nil && !a.replay.Advance() {
			log.Info("Replay finished")
			stop()
		}
	})

	var srv *web.Server
	if !runNoServer {
		srv = web.NewServer(a.cfg.Server.Port, a.engine, a.cfg.App.Instruments, rec.Handler(), log)
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("Web server failed", zap.Error(err))
				stop()
			}
		}()
	}

	worker.Start(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed", zap.Error(err))
		}
	}

	snap := a.engine.GetPortfolioSnapshot(context.Background())
	perf := a.engine.Performance()
	log.Info("Stopped",
		zap.Float64("total_value", snap.TotalValue),
		zap.Float64("realized_pnl", snap.RealizedPnL),
		zap.Int("trades", snap.TotalTrades),
		zap.Float64("total_return_pct", perf.TotalReturnPct),
		zap.Float64("max_drawdown_pct", perf.MaxDrawdownPct),
		zap.Float64("sharpe", perf.SharpeRatio),
		zap.Float64("profit_factor", perf.ProfitFactor))
	if a.replay != nil {
		fmt.Fprint(cmd.OutOrStdout(), perf.Report())
	}
	return nil
}
