package usecase

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/vitos/paper_signal_engine/internal/domain"
	"go.uber.org/zap"
)

const qtyEpsilon = 1e-9

// Ledger owns the portfolio. Every mutation happens under mu, and only in
// response to a fill.
type Ledger struct {
	mu        sync.Mutex
	portfolio *domain.Portfolio
	applied   map[string]struct{}
	logger    *zap.Logger
	timeNow   func() time.Time
}

func NewLedger(initialCapital float64, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		portfolio: domain.NewPortfolio(initialCapital),
		applied:   make(map[string]struct{}),
		logger:    logger,
		timeNow:   time.Now,
	}
}

// Restore replaces the portfolio with a previously saved one. appliedIDs
// are the trades already booked into it; replaying them stays a no-op.
func (l *Ledger) Restore(p *domain.Portfolio, appliedIDs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := p.Clone()
	if c.Positions == nil {
		c.Positions = make(map[string]*domain.Position)
	}
	l.portfolio = &c
	l.applied = make(map[string]struct{}, len(appliedIDs))
	for _, id := range appliedIDs {
		l.applied[id] = struct{}{}
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// Apply books a fill. Replaying a trade id is a no-op. On error the
// portfolio is left untouched. The trade's RealizedPnL is filled in.
func (l *Ledger) Apply(t *domain.Trade) (domain.Portfolio, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.portfolio
	if _, done := l.applied[t.ID]; done {
		return p.Clone(), nil
	}
	if t.ID == "" || !t.Side.Valid() || t.Quantity <= 0 || t.Price <= 0 || t.Commission < 0 ||
		math.IsNaN(t.Price) || math.IsNaN(t.Quantity) {
		return p.Clone(), l.inconsistent(t, "trade has invalid fields")
	}

	pos := p.Positions[t.Symbol]
	held := 0.0
	if pos != nil {
		held = pos.Quantity
	}
	if t.ExpectedPositionQty != nil && math.Abs(*t.ExpectedPositionQty-held) > qtyEpsilon {
		return p.Clone(), l.inconsistent(t, fmt.Sprintf("expected position %v, ledger holds %v", *t.ExpectedPositionQty, held))
	}

	signed := t.SignedQuantity()
	notional := t.Price * t.Quantity
	cashDelta := notional - t.Commission
	if t.Side == domain.SideBuy {
		cashDelta = -(notional + t.Commission)
	}
	opening := held == 0 || sign(held) == sign(signed)
	// Any fill that spends cash is checked, covers and flips included.
	if cashDelta < 0 && p.Cash+cashDelta < -qtyEpsilon {
		return p.Clone(), fmt.Errorf("%w: need %.2f, have %.2f", domain.ErrInsufficientCash, -cashDelta, p.Cash)
	}

	realized := -t.Commission
	if !opening {
		closed := math.Min(math.Abs(signed), math.Abs(held))
		fillPnL := (t.Price-pos.AvgEntryPrice)*closed*sign(held) - t.Commission
		realized = fillPnL
		if fillPnL < 0 {
			p.DayLoss += -fillPnL
			p.LosingTrades++
		} else if fillPnL > 0 {
			p.WinningTrades++
		}
	}

	next := held + signed
	switch {
	case pos == nil:
		p.Positions[t.Symbol] = &domain.Position{
			Symbol:        t.Symbol,
			Quantity:      signed,
			AvgEntryPrice: t.Price,
			OpenedAt:      t.Time,
		}
	case opening:
		pos.AvgEntryPrice = (math.Abs(held)*pos.AvgEntryPrice + t.Quantity*t.Price) / math.Abs(next)
		pos.Quantity = next
	case math.Abs(next) <= qtyEpsilon:
		delete(p.Positions, t.Symbol)
	case sign(next) == sign(held):
		pos.Quantity = next
	default:
		// Flipped through zero: the remainder opens at the fill price.
		p.Positions[t.Symbol] = &domain.Position{
			Symbol:        t.Symbol,
			Quantity:      next,
			AvgEntryPrice: t.Price,
			OpenedAt:      t.Time,
		}
	}

	p.Cash += cashDelta
	p.RealizedPnL += realized
	p.TotalTrades++
	p.UpdatedAt = l.timeNow()
	t.RealizedPnL = realized
	t.Closing = !opening
	l.applied[t.ID] = struct{}{}

	l.logger.Debug("Fill applied",
		zap.String("trade_id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.String("side", string(t.Side)),
		zap.Float64("qty", t.Quantity),
		zap.Float64("price", t.Price),
		zap.Float64("realized", realized),
		zap.Float64("cash", p.Cash))
	return p.Clone(), nil
}

func (l *Ledger) inconsistent(t *domain.Trade, detail string) error {
	l.logger.Error("Refusing inconsistent fill",
		zap.String("trade_id", t.ID),
		zap.String("order_id", t.OrderID),
		zap.String("symbol", t.Symbol),
		zap.String("detail", detail))
	return fmt.Errorf("%w: trade %s: %s", domain.ErrLedgerInconsistency, t.ID, detail)
}

// SetStops records the protective prices of an open position.
func (l *Ledger) SetStops(symbol string, stopLoss, takeProfit float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.portfolio.Positions[symbol]
	if !ok {
		return false
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	return true
}

func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.portfolio.Positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Portfolio returns a copy of the current state.
func (l *Ledger) Portfolio() domain.Portfolio {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.portfolio.Clone()
}

// ResetSession zeroes the day-loss counter when date differs from the
// current session. It reports whether a rollover happened.
func (l *Ledger) ResetSession(date string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.portfolio.SessionDate == date {
		return false
	}
	l.logger.Info("Trading session rollover",
		zap.String("from", l.portfolio.SessionDate),
		zap.String("to", date),
		zap.Float64("day_loss", l.portfolio.DayLoss))
	l.portfolio.SessionDate = date
	l.portfolio.DayLoss = 0
	return true
}

// Snapshot marks the portfolio to market. Positions without a mark are
// valued at their average entry price.
func (l *Ledger) Snapshot(marks map[string]float64) domain.PortfolioSnapshot {
	l.mu.Lock()
	p := l.portfolio.Clone()
	l.mu.Unlock()

	snap := domain.PortfolioSnapshot{
		InitialCapital: p.InitialCapital,
		Cash:           p.Cash,
		RealizedPnL:    p.RealizedPnL,
		DayLoss:        p.DayLoss,
		TotalTrades:    p.TotalTrades,
		Positions:      make([]domain.PositionView, 0, len(p.Positions)),
		Time:           l.timeNow(),
	}
	if closed := p.WinningTrades + p.LosingTrades; closed > 0 {
		snap.WinRate = float64(p.WinningTrades) / float64(closed)
	}

	total := p.Cash
	for _, pos := range p.Positions {
		mark, ok := marks[pos.Symbol]
		if !ok || mark <= 0 {
			mark = pos.AvgEntryPrice
		}
		view := domain.PositionView{
			Position:      *pos,
			MarkPrice:     mark,
			MarketValue:   pos.Quantity * mark,
			UnrealizedPnL: pos.UnrealizedPnL(mark),
		}
		snap.UnrealizedPnL += view.UnrealizedPnL
		total += view.MarketValue
		snap.Positions = append(snap.Positions, view)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})
	snap.TotalValue = total
	return snap
}
