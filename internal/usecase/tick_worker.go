package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickWorker drives the engine on a fixed interval and keeps the latest
// report for readers.
type TickWorker struct {
	engine   *TradingEngine
	symbols  []string
	interval time.Duration
	onTick   func(TickReport)
	logger   *zap.Logger

	mu   sync.RWMutex
	last *TickReport
}

func NewTickWorker(engine *TradingEngine, symbols []string, interval time.Duration, logger *zap.Logger) *TickWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TickWorker{
		engine:   engine,
		symbols:  symbols,
		interval: interval,
		logger:   logger,
	}
}

// OnTick registers a callback run after every tick. Call before Start.
func (w *TickWorker) OnTick(fn func(TickReport)) {
	w.onTick = fn
}

// Start ticks once immediately and then on every interval until ctx is
// done. It returns when the loop exits.
func (w *TickWorker) Start(ctx context.Context) {
	w.logger.Info("Starting tick worker",
		zap.Strings("symbols", w.symbols),
		zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Tick worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *TickWorker) tick(ctx context.Context) {
	report := w.engine.Tick(ctx, w.symbols)
	for _, msg := range report.Errors {
		w.logger.Error("Tick error", zap.String("error", msg))
	}
	w.mu.Lock()
	w.last = &report
	w.mu.Unlock()
	if w.onTick != nil {
		w.onTick(report)
	}
}

// LastReport returns the most recent report, if any tick has run.
func (w *TickWorker) LastReport() (TickReport, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.last == nil {
		return TickReport{}, false
	}
	return *w.last, true
}
