package usecase

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/vitos/paper_signal_engine/internal/domain"
	"github.com/vitos/paper_signal_engine/pkg/id"
)

const (
	buyThreshold  = 20.0
	sellThreshold = -20.0
	confidenceCap = 95.0
	weightSumTol  = 1e-9
)

// Weights are indexed in strategy declaration order.
type Weights [domain.NumStrategies]float64

// DefaultWeights returns the weights bound to the strategy set.
func DefaultWeights() Weights {
	var w Weights
	for i, s := range strategies {
		w[i] = s.weight
	}
	return w
}

func (w Weights) Validate() error {
	sum := 0.0
	for i, v := range w {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("weight for %s must be non-negative, got %v", domain.StrategyOrder[i], v)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightSumTol {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// SignalAggregator turns five strategy scores into one classified signal.
type SignalAggregator struct {
	weights Weights
	order   [domain.NumStrategies]int
	timeNow func() time.Time
}

func NewSignalAggregator() *SignalAggregator {
	a, err := NewSignalAggregatorWithWeights(DefaultWeights())
	if err != nil {
		panic(err)
	}
	return a
}

func NewSignalAggregatorWithWeights(w Weights) (*SignalAggregator, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	a := &SignalAggregator{weights: w, timeNow: time.Now}
	for i := range a.order {
		a.order[i] = i
	}
	// Heavier strategies first; equal weights keep declaration order.
	sort.SliceStable(a.order[:], func(i, j int) bool {
		return w[a.order[i]] > w[a.order[j]]
	})
	return a, nil
}

// Classify maps a weighted score to BUY, SELL or HOLD using strict bounds.
func Classify(score float64) domain.Classification {
	switch {
	case score > buyThreshold:
		return domain.ClassBuy
	case score < sellThreshold:
		return domain.ClassSell
	default:
		return domain.ClassHold
	}
}

func Confidence(score float64) float64 {
	return math.Min(confidenceCap, math.Abs(score))
}

// Aggregate combines the scores for one instrument. price is the close the
// scores were computed on; set may be nil.
func (a *SignalAggregator) Aggregate(symbol string, at time.Time, price float64, scores [domain.NumStrategies]domain.StrategyScore, set *domain.IndicatorSet) domain.Signal {
	weighted := 0.0
	allZero := true
	for i := range scores {
		if scores[i].Strategy == "" {
			scores[i].Strategy = domain.StrategyOrder[i]
		}
		scores[i].Score = clamp(scores[i].Score, -100, 100)
		if scores[i].Score != 0 {
			allZero = false
		}
		weighted += a.weights[i] * scores[i].Score
	}
	weighted = clamp(weighted, -100, 100)

	class := Classify(weighted)
	if allZero {
		weighted = 0
		class = domain.ClassHold
	}
	if at.IsZero() {
		at = a.timeNow()
	}

	return domain.Signal{
		ID:             id.NewSignal(),
		Symbol:         symbol,
		Time:           at,
		Price:          price,
		Classification: class,
		WeightedScore:  weighted,
		Confidence:     Confidence(weighted),
		Reasoning:      a.reasoning(scores),
		Scores:         scores,
		Indicators:     set,
	}
}

func (a *SignalAggregator) reasoning(scores [domain.NumStrategies]domain.StrategyScore) string {
	parts := make([]string, 0, len(scores))
	for _, i := range a.order {
		if scores[i].Score == 0 {
			continue
		}
		if r, ok := scores[i].TopReason(); ok {
			parts = append(parts, r.Text)
		}
	}
	if len(parts) == 0 {
		return "no contributing strategies"
	}
	return strings.Join(parts, "; ")
}
