package usecase

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// periodsPerYear annualises the per-tick Sharpe ratio.
const periodsPerYear = 252

// Performance summarises a run: returns from the equity curve sampled once
// per tick, trade statistics from closing fills.
type Performance struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalValue     float64 `json:"final_value"`
	TotalReturnPct float64 `json:"total_return_pct"`
	// MaxDrawdownPct is the worst peak-to-trough fall, zero or negative.
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	Samples        int     `json:"samples"`

	ClosedTrades  int     `json:"closed_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRatePct    float64 `json:"win_rate_pct"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	ProfitFactor  float64 `json:"profit_factor"`
}

// Summarize computes a Performance. equity is the value curve, one sample
// per tick, starting with the opening value; closed holds the realized P&L
// of each closing fill. A trade wins when its P&L is above zero.
func Summarize(initialCapital float64, equity, closed []float64) Performance {
	perf := Performance{
		InitialCapital: initialCapital,
		FinalValue:     initialCapital,
		Samples:        len(equity),
	}
	if n := len(equity); n > 0 {
		perf.FinalValue = equity[n-1]
	}
	if initialCapital > 0 {
		perf.TotalReturnPct = (perf.FinalValue - initialCapital) / initialCapital * 100
	}
	perf.MaxDrawdownPct = maxDrawdown(equity)
	perf.SharpeRatio = sharpe(equity)

	var grossProfit, grossLoss float64
	var wins, losses int
	for _, pnl := range closed {
		perf.TotalPnL += pnl
		if pnl > 0 {
			wins++
			grossProfit += pnl
			if pnl > perf.BestTrade {
				perf.BestTrade = pnl
			}
		} else {
			losses++
			grossLoss += pnl
			if pnl < perf.WorstTrade {
				perf.WorstTrade = pnl
			}
		}
	}
	perf.ClosedTrades = len(closed)
	perf.WinningTrades = wins
	perf.LosingTrades = losses
	if perf.ClosedTrades == 0 {
		return perf
	}
	perf.WinRatePct = float64(wins) / float64(perf.ClosedTrades) * 100
	perf.AvgPnL = perf.TotalPnL / float64(perf.ClosedTrades)
	if wins > 0 {
		perf.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		perf.AvgLoss = grossLoss / float64(losses)
	}
	// With no losing trades the gross loss counts as one unit.
	denom := 1.0
	if losses > 0 {
		denom = math.Abs(grossLoss)
	}
	if denom != 0 {
		perf.ProfitFactor = grossProfit / denom
	}
	return perf
}

func maxDrawdown(equity []float64) float64 {
	worst, peak := 0.0, math.Inf(-1)
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (v - peak) / peak * 100; dd < worst {
			worst = dd
		}
	}
	return worst
}

// sharpe is mean over population standard deviation of the per-sample
// returns, annualised. It is zero when returns do not vary.
func sharpe(equity []float64) float64 {
	returns := make([]float64, 0, len(equity))
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, (equity[i]-equity[i-1])/equity[i-1])
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std < 1e-12 {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

// Report renders the summary for a terminal.
func (p Performance) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Performance over %d ticks\n", p.Samples)
	fmt.Fprintf(&b, "  Initial capital:  %.2f\n", p.InitialCapital)
	fmt.Fprintf(&b, "  Final value:      %.2f\n", p.FinalValue)
	fmt.Fprintf(&b, "  Total return:     %.2f%%\n", p.TotalReturnPct)
	fmt.Fprintf(&b, "  Max drawdown:     %.2f%%\n", p.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Sharpe ratio:     %.3f\n", p.SharpeRatio)
	fmt.Fprintf(&b, "  Closed trades:    %d (%d won, %d lost, %.2f%% win rate)\n",
		p.ClosedTrades, p.WinningTrades, p.LosingTrades, p.WinRatePct)
	fmt.Fprintf(&b, "  Total P&L:        %.2f\n", p.TotalPnL)
	fmt.Fprintf(&b, "  Avg P&L:          %.2f (win %.2f, loss %.2f)\n", p.AvgPnL, p.AvgWin, p.AvgLoss)
	fmt.Fprintf(&b, "  Best/worst trade: %.2f / %.2f\n", p.BestTrade, p.WorstTrade)
	fmt.Fprintf(&b, "  Profit factor:    %.2f\n", p.ProfitFactor)
	return b.String()
}

// PerformanceTracker collects the inputs of Summarize as the engine runs.
type PerformanceTracker struct {
	mu      sync.Mutex
	initial float64
	equity  []float64
	closed  []float64
}

func NewPerformanceTracker(initialCapital, openingValue float64) *PerformanceTracker {
	return &PerformanceTracker{initial: initialCapital, equity: []float64{openingValue}}
}

func (t *PerformanceTracker) RecordEquity(value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.equity = append(t.equity, value)
}

func (t *PerformanceTracker) RecordClose(pnl float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = append(t.closed, pnl)
}

func (t *PerformanceTracker) Summary() Performance {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summarize(t.initial, t.equity, t.closed)
}
