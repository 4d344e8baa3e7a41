package usecase

import (
	"fmt"
	"math"

	"github.com/vitos/paper_signal_engine/internal/domain"
)

type scoreFunc func(set domain.IndicatorSet, bars []domain.PriceBar) domain.StrategyScore

type strategy struct {
	name   domain.StrategyName
	weight float64
	score  scoreFunc
}

// strategies is the closed set of scorers in declaration order. The array
// length ties the set to domain.NumStrategies.
var strategies = [domain.NumStrategies]strategy{
	{domain.StrategyTrend, 0.25, scoreTrend},
	{domain.StrategyMeanReversion, 0.20, scoreMeanReversion},
	{domain.StrategyMomentum, 0.25, scoreMomentum},
	{domain.StrategyBreakout, 0.15, scoreBreakout},
	{domain.StrategyVolume, 0.15, scoreVolume},
}

// ScoreAll runs every strategy on the same inputs.
func ScoreAll(set domain.IndicatorSet, bars []domain.PriceBar) [domain.NumStrategies]domain.StrategyScore {
	var out [domain.NumStrategies]domain.StrategyScore
	for i, s := range strategies {
		out[i] = s.score(set, bars)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// scoreSheet accumulates clamped components for one strategy.
type scoreSheet struct {
	name    domain.StrategyName
	prefix  string
	total   float64
	reasons []domain.Reason
	defined bool
}

// newSheet starts a sheet whose reasons are prefixed with prefix.
func newSheet(name domain.StrategyName, prefix string) *scoreSheet {
	return &scoreSheet{name: name, prefix: prefix}
}

func (s *scoreSheet) add(points float64, format string, args ...any) {
	if points == 0 {
		return
	}
	s.total += points
	s.reasons = append(s.reasons, domain.Reason{
		Text:      s.prefix + ": " + fmt.Sprintf(format, args...),
		Magnitude: math.Abs(points),
	})
}

// scale multiplies the running total and records the change as a reason.
func (s *scoreSheet) scale(factor float64, format string, args ...any) {
	if s.total == 0 || factor == 1 {
		return
	}
	before := s.total
	s.total *= factor
	s.reasons = append(s.reasons, domain.Reason{
		Text:      s.prefix + ": " + fmt.Sprintf(format, args...),
		Magnitude: math.Abs(s.total - before),
	})
}

func (s *scoreSheet) result() domain.StrategyScore {
	if !s.defined {
		return domain.StrategyScore{
			Strategy: s.name,
			Reasons:  []domain.Reason{{Text: s.prefix + ": no opinion (insufficient history)"}},
		}
	}
	score := clamp(s.total, -100, 100)
	if math.Abs(score) < 1e-9 {
		score = 0
	}
	return domain.StrategyScore{Strategy: s.name, Score: score, Reasons: s.reasons}
}

func lastClose(bars []domain.PriceBar) (float64, bool) {
	if len(bars) == 0 || bars[len(bars)-1].Close <= 0 {
		return 0, false
	}
	return bars[len(bars)-1].Close, true
}

// values fetches several indicators, reporting whether all are defined.
func values(set domain.IndicatorSet, names ...string) ([]float64, bool) {
	out := make([]float64, len(names))
	for i, n := range names {
		v, ok := set.Value(n)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
