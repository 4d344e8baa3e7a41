package domain

import "time"

// Position is the open exposure in one instrument. Quantity is signed:
// positive for long, negative for short.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
}

// CostBasis is the signed amount of cash committed to the position.
func (p *Position) CostBasis() float64 {
	return p.Quantity * p.AvgEntryPrice
}

func (p *Position) UnrealizedPnL(mark float64) float64 {
	return (mark - p.AvgEntryPrice) * p.Quantity
}

// Side returns the side that opened the position.
func (p *Position) Side() Side {
	if p.Quantity < 0 {
		return SideSell
	}
	return SideBuy
}

type Portfolio struct {
	InitialCapital float64              `json:"initial_capital"`
	Cash           float64              `json:"cash"`
	RealizedPnL    float64              `json:"realized_pnl"`
	DayLoss        float64              `json:"day_loss"`
	SessionDate    string               `json:"session_date"`
	Positions      map[string]*Position `json:"positions"`
	TotalTrades    int                  `json:"total_trades"`
	WinningTrades  int                  `json:"winning_trades"`
	LosingTrades   int                  `json:"losing_trades"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		InitialCapital: initialCapital,
		Cash:           initialCapital,
		Positions:      make(map[string]*Position),
	}
}

// Clone returns a deep copy safe to hand to readers.
func (p *Portfolio) Clone() Portfolio {
	c := *p
	c.Positions = make(map[string]*Position, len(p.Positions))
	for k, v := range p.Positions {
		pos := *v
		c.Positions[k] = &pos
	}
	return c
}

// OpenCostBasis sums the signed cost basis of all open positions.
func (p *Portfolio) OpenCostBasis() float64 {
	total := 0.0
	for _, pos := range p.Positions {
		total += pos.CostBasis()
	}
	return total
}

type PositionView struct {
	Position
	MarkPrice     float64 `json:"mark_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PortfolioSnapshot is a read-only, marked-to-market view of a Portfolio.
type PortfolioSnapshot struct {
	InitialCapital float64        `json:"initial_capital"`
	Cash           float64        `json:"cash"`
	RealizedPnL    float64        `json:"realized_pnl"`
	UnrealizedPnL  float64        `json:"unrealized_pnl"`
	DayLoss        float64        `json:"day_loss"`
	TotalValue     float64        `json:"total_value"`
	Positions      []PositionView `json:"positions"`
	TotalTrades    int            `json:"total_trades"`
	WinRate        float64        `json:"win_rate"`
	Time           time.Time      `json:"time"`
}

// Position returns the view for symbol, if open.
func (s PortfolioSnapshot) Position(symbol string) (PositionView, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return PositionView{}, false
}
