package usecase

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/vitos/paper_signal_engine/internal/domain"
	"go.uber.org/zap"
)

type RiskLimits struct {
	MinConfidence  float64 `yaml:"min_confidence"`
	DailyLossPct   float64 `yaml:"daily_loss_pct"`
	MaxPositions   int     `yaml:"max_positions"`
	MaxPositionPct float64 `yaml:"max_position_pct"`
	RiskPct        float64 `yaml:"risk_pct"`
	StopPct        float64 `yaml:"stop_pct"`
	RewardMultiple float64 `yaml:"reward_multiple"`
	PriceDecimals  int32   `yaml:"price_decimals"`
}

func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MinConfidence:  70,
		DailyLossPct:   0.03,
		MaxPositions:   10,
		MaxPositionPct: 0.05,
		RiskPct:        0.02,
		StopPct:        0.02,
		RewardMultiple: 1.5,
		PriceDecimals:  2,
	}
}

func (l RiskLimits) Validate() error {
	switch {
	case l.MinConfidence < 0 || l.MinConfidence > 95:
		return fmt.Errorf("min_confidence must be within [0, 95], got %v", l.MinConfidence)
	case l.DailyLossPct <= 0 || l.DailyLossPct >= 1:
		return fmt.Errorf("daily_loss_pct must be within (0, 1), got %v", l.DailyLossPct)
	case l.MaxPositions <= 0:
		return fmt.Errorf("max_positions must be positive, got %d", l.MaxPositions)
	case l.MaxPositionPct <= 0 || l.MaxPositionPct > 1:
		return fmt.Errorf("max_position_pct must be within (0, 1], got %v", l.MaxPositionPct)
	case l.RiskPct <= 0 || l.RiskPct > 1:
		return fmt.Errorf("risk_pct must be within (0, 1], got %v", l.RiskPct)
	case l.StopPct <= 0 || l.StopPct >= 1:
		return fmt.Errorf("stop_pct must be within (0, 1), got %v", l.StopPct)
	case l.RewardMultiple <= 0:
		return fmt.Errorf("reward_multiple must be positive, got %v", l.RewardMultiple)
	case l.PriceDecimals < 0:
		return fmt.Errorf("price_decimals must not be negative, got %d", l.PriceDecimals)
	}
	return nil
}

// RiskManager sizes actionable signals and vetoes those that break limits.
type RiskManager struct {
	limits RiskLimits
	logger *zap.Logger
}

func NewRiskManager(limits RiskLimits, logger *zap.Logger) *RiskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskManager{limits: limits, logger: logger}
}

func (r *RiskManager) Limits() RiskLimits {
	return r.limits
}

// Evaluate returns either a sized intent or the first veto that applies.
func (r *RiskManager) Evaluate(sig *domain.Signal, snap domain.PortfolioSnapshot) (*domain.TradeIntent, *domain.RiskVeto) {
	veto := func(reason string) (*domain.TradeIntent, *domain.RiskVeto) {
		r.logger.Debug("Signal vetoed",
			zap.String("symbol", sig.Symbol),
			zap.String("classification", string(sig.Classification)),
			zap.Float64("confidence", sig.Confidence),
			zap.String("reason", reason))
		return nil, &domain.RiskVeto{Symbol: sig.Symbol, Reason: reason}
	}

	if !sig.Actionable() {
		return veto(domain.VetoNoSignal)
	}
	if sig.Confidence < r.limits.MinConfidence {
		return veto(domain.VetoLowConfidence)
	}
	if snap.DayLoss >= r.limits.DailyLossPct*snap.InitialCapital {
		return veto(domain.VetoDailyLoss)
	}
	if len(snap.Positions) >= r.limits.MaxPositions {
		return veto(domain.VetoPositionLimit)
	}
	if sig.Price <= 0 || math.IsNaN(sig.Price) {
		return veto(domain.VetoInvalidPrice)
	}
	qty := r.PositionSize(snap.TotalValue, sig.Price)
	if qty < 1 {
		return veto(domain.VetoBelowMinUnit)
	}
	if _, open := snap.Position(sig.Symbol); open {
		return veto(domain.VetoPositionOpen)
	}

	side := domain.SideBuy
	if sig.Classification == domain.ClassSell {
		side = domain.SideSell
	}
	stop, take := r.Brackets(side, sig.Price)
	return &domain.TradeIntent{
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: sig.Price,
		StopLoss:   stop,
		TakeProfit: take,
		Signal:     sig,
	}, nil
}

// PositionSize is the whole number of units allowed by the position cap and
// the per-trade risk budget, whichever is smaller.
func (r *RiskManager) PositionSize(portfolioValue, price float64) float64 {
	if portfolioValue <= 0 || price <= 0 {
		return 0
	}
	byCap := r.limits.MaxPositionPct * portfolioValue
	byRisk := r.limits.RiskPct * portfolioValue / r.limits.StopPct
	units := decimal.NewFromFloat(math.Min(byCap, byRisk)).
		Div(decimal.NewFromFloat(price)).
		Floor()
	return units.InexactFloat64()
}

// Brackets returns the stop-loss and take-profit for an entry at price.
func (r *RiskManager) Brackets(side domain.Side, price float64) (float64, float64) {
	entry := decimal.NewFromFloat(price)
	dist := entry.Mul(decimal.NewFromFloat(r.limits.StopPct))
	reward := dist.Mul(decimal.NewFromFloat(r.limits.RewardMultiple))
	places := r.limits.PriceDecimals
	if side == domain.SideSell {
		return entry.Add(dist).Round(places).InexactFloat64(), entry.Sub(reward).Round(places).InexactFloat64()
	}
	return entry.Sub(dist).Round(places).InexactFloat64(), entry.Add(reward).Round(places).InexactFloat64()
}
