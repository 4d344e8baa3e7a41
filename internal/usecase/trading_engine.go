package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/paper_signal_engine/internal/domain"
	"github.com/vitos/paper_signal_engine/internal/indicators"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const recentLimit = 500

type EngineConfig struct {
	Workers        int
	BarPeriod      string
	InitialCapital float64
	Execution      ExecutionConfig
}

func (c EngineConfig) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.BarPeriod == "" {
		return errors.New("bar period is required")
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", c.InitialCapital)
	}
	return c.Execution.Validate()
}

// EngineDeps are the collaborators the engine is assembled from. Store and
// Logger may be nil.
type EngineDeps struct {
	Market     domain.MarketData
	Indicators *indicators.Library
	Aggregator *SignalAggregator
	Risk       *RiskManager
	Store      domain.Store
	Logger     *zap.Logger
}

// TickReport summarises one pass of the engine.
type TickReport struct {
	Time     time.Time         `json:"time"`
	Session  string            `json:"session"`
	Duration time.Duration     `json:"duration"`
	Quotes   int               `json:"quotes"`
	Expired  int               `json:"expired"`
	Signals  []domain.Signal   `json:"signals"`
	Orders   []domain.Order    `json:"orders"`
	Vetoes   []domain.RiskVeto `json:"vetoes"`
	Errors   []string          `json:"errors,omitempty"`
}

// TradingEngine ties market data, scoring, risk and execution together.
type TradingEngine struct {
	cfg        EngineConfig
	market     domain.MarketData
	library    *indicators.Library
	aggregator *SignalAggregator
	risk       *RiskManager
	ledger     *Ledger
	executor   *TradeExecutor
	store      *resilientStore
	events     *eventBus
	perf       *PerformanceTracker
	logger     *zap.Logger
	timeNow    func() time.Time

	mu      sync.RWMutex
	marks   map[string]domain.Quote
	signals []domain.Signal
	trades  []domain.Trade
}

func NewTradingEngine(ctx context.Context, cfg EngineConfig, deps EngineDeps) (*TradingEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if deps.Market == nil || deps.Indicators == nil {
		return nil, errors.New("engine needs market data and an indicator library")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Aggregator == nil {
		deps.Aggregator = NewSignalAggregator()
	}
	if deps.Risk == nil {
		deps.Risk = NewRiskManager(DefaultRiskLimits(), logger)
	}

	store := newResilientStore(deps.Store, logger)
	bus := &eventBus{}
	ledger := NewLedger(cfg.InitialCapital, logger)
	if p := store.LoadPortfolio(ctx); p != nil {
		ledger.Restore(p, store.TradeIDs(ctx))
		logger.Info("Portfolio restored",
			zap.Float64("cash", p.Cash),
			zap.Int("positions", len(p.Positions)),
			zap.Int("total_trades", p.TotalTrades))
	}

	e := &TradingEngine{
		cfg:        cfg,
		market:     deps.Market,
		library:    deps.Indicators,
		aggregator: deps.Aggregator,
		risk:       deps.Risk,
		ledger:     ledger,
		executor:   newTradeExecutor(cfg.Execution, deps.Market, ledger, store, bus, logger),
		store:      store,
		events:     bus,
		perf:       NewPerformanceTracker(ledger.Portfolio().InitialCapital, ledger.Snapshot(nil).TotalValue),
		logger:     logger,
		timeNow:    time.Now,
		marks:      make(map[string]domain.Quote),
	}
	if n := e.executor.Restore(store.LiveOrders(ctx)); n > 0 {
		logger.Info("Live orders restored", zap.Int("orders", n))
	}
	bus.Subscribe(e.remember)
	return e, nil
}

// useClock points every component at the same clock.
func (e *TradingEngine) useClock(now func() time.Time) {
	e.timeNow = now
	e.ledger.timeNow = now
	e.executor.timeNow = now
	e.aggregator.timeNow = now
}

func (e *TradingEngine) Subscribe(h EventHandler) {
	e.events.Subscribe(h)
}

// Degraded reports whether persistence was switched off this session.
func (e *TradingEngine) Degraded() bool {
	return e.store.Degraded()
}

func (e *TradingEngine) Ledger() *Ledger {
	return e.ledger
}

func (e *TradingEngine) remember(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch v := ev.Data.(type) {
	case domain.Signal:
		e.signals = append(e.signals, v)
		if len(e.signals) > recentLimit {
			e.signals = e.signals[len(e.signals)-recentLimit:]
		}
	case domain.Trade:
		if v.Closing {
			e.perf.RecordClose(v.RealizedPnL)
		}
		e.trades = append(e.trades, v)
		if len(e.trades) > recentLimit {
			e.trades = e.trades[len(e.trades)-recentLimit:]
		}
	}
}

// GenerateSignals scores every symbol on a bounded pool. Symbols whose data
// cannot be fetched or scored are logged and left out; the rest keep the
// input order.
func (e *TradingEngine) GenerateSignals(ctx context.Context, symbols []string) []domain.Signal {
	results := make([]*domain.Signal, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			sig, err := e.signalFor(gctx, symbol)
			if err != nil {
				e.logger.Warn("Skipping symbol this tick",
					zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			results[i] = sig
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Signal, 0, len(symbols))
	for _, sig := range results {
		if sig == nil {
			continue
		}
		e.store.SaveSignal(ctx, sig)
		e.events.publish(Event{Type: EventSignal, Time: sig.Time, Data: *sig})
		out = append(out, *sig)
	}
	return out
}

func (e *TradingEngine) signalFor(ctx context.Context, symbol string) (*domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, err := e.market.GetBars(ctx, symbol, e.cfg.BarPeriod)
	if err != nil {
		return nil, fmt.Errorf("get bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrInsufficientHistory)
	}
	if err := domain.ValidateSeries(bars); err != nil {
		return nil, err
	}

	set := e.library.Compute(bars)
	if set.Symbol == "" {
		set.Symbol = symbol
	}
	scores := ScoreAll(set, bars)
	last := bars[len(bars)-1]
	sig := e.aggregator.Aggregate(symbol, last.Time, last.Close, scores, &set)

	e.logger.Debug("Signal generated",
		zap.String("symbol", symbol),
		zap.String("classification", string(sig.Classification)),
		zap.Float64("score", sig.WeightedScore),
		zap.Float64("confidence", sig.Confidence),
		zap.Int("missing_indicators", len(set.Missing)))
	return &sig, nil
}

// PlaceOrder submits a manual order. price is the limit price for LIMIT
// orders and the trigger for STOP orders; it is ignored for MARKET.
func (e *TradingEngine) PlaceOrder(ctx context.Context, symbol string, side domain.Side, qty float64, kind domain.OrderKind, price float64) (*domain.Order, error) {
	o, err := e.executor.Place(ctx, OrderRequest{Symbol: symbol, Side: side, Kind: kind, Quantity: qty, Price: price})
	if o != nil && o.State == domain.StateRejected {
		e.logger.Info("Order rejected",
			zap.String("order_id", o.ID),
			zap.String("symbol", symbol),
			zap.String("reason", o.Reason))
	}
	e.savePortfolio(ctx)
	return o, err
}

func (e *TradingEngine) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return e.executor.Cancel(ctx, orderID)
}

func (e *TradingEngine) Order(orderID string) (domain.Order, bool) {
	return e.executor.Order(orderID)
}

func (e *TradingEngine) Orders() []domain.Order {
	return e.executor.Orders()
}

// RecentSignals returns up to limit of the latest signals, newest last.
func (e *TradingEngine) RecentSignals(limit int) []domain.Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return tailOf(e.signals, limit)
}

func (e *TradingEngine) RecentTrades(limit int) []domain.Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return tailOf(e.trades, limit)
}

func tailOf[T any](items []T, limit int) []T {
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	out := make([]T, limit)
	copy(out, items[len(items)-limit:])
	return out
}

// Performance summarises the run so far from the equity sampled at the end
// of every tick and the P&L of closing fills.
func (e *TradingEngine) Performance() Performance {
	return e.perf.Summary()
}

// GetPortfolioSnapshot refreshes quotes for open positions where it can and
// marks the portfolio with the latest known prices.
func (e *TradingEngine) GetPortfolioSnapshot(ctx context.Context) domain.PortfolioSnapshot {
	p := e.ledger.Portfolio()
	for symbol := range p.Positions {
		q, err := e.market.GetQuote(ctx, symbol)
		if err != nil {
			e.logger.Debug("Using last mark", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		e.mark(q)
	}
	return e.snapshot()
}

func (e *TradingEngine) snapshot() domain.PortfolioSnapshot {
	e.mu.RLock()
	marks := make(map[string]float64, len(e.marks))
	for symbol, q := range e.marks {
		marks[symbol] = q.Price
	}
	e.mu.RUnlock()
	return e.ledger.Snapshot(marks)
}

func (e *TradingEngine) mark(q domain.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.marks[q.Symbol]; ok && prev.Time.After(q.Time) {
		return
	}
	e.marks[q.Symbol] = q
}

// watched lists symbols that need a quote this tick: those with live orders
// or open positions.
func (e *TradingEngine) watched() []string {
	seen := make(map[string]bool)
	for _, s := range e.executor.LiveSymbols() {
		seen[s] = true
	}
	for s := range e.ledger.Portfolio().Positions {
		seen[s] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Tick runs one engine pass: session rollover, order monitoring, signal
// generation, risk checks and entries, then a portfolio save.
func (e *TradingEngine) Tick(ctx context.Context, symbols []string) TickReport {
	start := e.timeNow()
	report := TickReport{Time: start, Session: e.sessionDate(start)}
	e.ledger.ResetSession(report.Session)

	for _, symbol := range e.watched() {
		q, err := e.market.GetQuote(ctx, symbol)
		if err != nil {
			e.logger.Warn("Quote unavailable for monitored symbol",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		report.Quotes++
		e.mark(q)
		if err := e.executor.OnQuote(ctx, q); err != nil {
			report.Errors = append(report.Errors, err.Error())
		}
	}
	report.Expired = e.executor.ExpireOrders(ctx)

	report.Signals = e.GenerateSignals(ctx, symbols)
	for i := range report.Signals {
		sig := &report.Signals[i]
		if sig.Classification == domain.ClassHold {
			continue
		}
		intent, veto := e.risk.Evaluate(sig, e.snapshot())
		if veto != nil {
			report.Vetoes = append(report.Vetoes, *veto)
			e.events.publish(Event{Type: EventVeto, Time: sig.Time, Data: *veto})
			continue
		}
		o, err := e.executor.ExecuteIntent(ctx, intent)
		if err != nil {
			e.logger.Error("Entry failed", zap.String("symbol", sig.Symbol), zap.Error(err))
			report.Errors = append(report.Errors, err.Error())
		}
		if o != nil {
			report.Orders = append(report.Orders, *o)
		}
	}

	e.perf.RecordEquity(e.snapshot().TotalValue)
	e.savePortfolio(ctx)
	report.Duration = e.timeNow().Sub(start)
	e.logger.Info("Tick complete",
		zap.Int("symbols", len(symbols)),
		zap.Int("signals", len(report.Signals)),
		zap.Int("orders", len(report.Orders)),
		zap.Int("vetoes", len(report.Vetoes)),
		zap.Int("expired", report.Expired),
		zap.Duration("duration", report.Duration))
	return report
}

// sessionDate follows the market's own clock when it has one, so a replay
// rolls sessions over on bar dates.
func (e *TradingEngine) sessionDate(now time.Time) string {
	if clock, ok := e.market.(domain.Clock); ok {
		if t := clock.Now(); !t.IsZero() {
			now = t
		}
	}
	return now.UTC().Format("2006-01-02")
}

func (e *TradingEngine) savePortfolio(ctx context.Context) {
	p := e.ledger.Portfolio()
	e.store.SavePortfolio(ctx, &p)
}
