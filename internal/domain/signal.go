package domain

import "time"

type Classification string

const (
	ClassBuy  Classification = "BUY"
	ClassSell Classification = "SELL"
	ClassHold Classification = "HOLD"
)

// StrategyName identifies one of the fixed scoring strategies.
type StrategyName string

const (
	StrategyTrend         StrategyName = "trend_following"
	StrategyMeanReversion StrategyName = "mean_reversion"
	StrategyMomentum      StrategyName = "momentum"
	StrategyBreakout      StrategyName = "breakout"
	StrategyVolume        StrategyName = "volume_analysis"
)

// NumStrategies is the size of the closed strategy set.
const NumStrategies = 5

// StrategyOrder is the declaration order used for tie-breaks.
var StrategyOrder = [NumStrategies]StrategyName{
	StrategyTrend,
	StrategyMeanReversion,
	StrategyMomentum,
	StrategyBreakout,
	StrategyVolume,
}

// Indicator names produced by the indicator library.
const (
	IndRSI         = "rsi"
	IndMACD        = "macd"
	IndMACDSignal  = "macd_signal"
	IndMACDHist    = "macd_hist"
	IndBBUpper     = "bb_upper"
	IndBBMiddle    = "bb_middle"
	IndBBLower     = "bb_lower"
	IndBBWidth     = "bb_width"
	IndSMAShort    = "sma_20"
	IndSMALong     = "sma_50"
	IndEMAFast     = "ema_12"
	IndEMASlow     = "ema_26"
	IndADX         = "adx"
	IndStochK      = "stoch_k"
	IndStochD      = "stoch_d"
	IndWilliamsR   = "williams_r"
	IndCCI         = "cci"
	IndMomentum    = "momentum"
	IndROC         = "roc"
	IndVolumeSMA   = "volume_sma"
	IndVolumeRatio = "volume_ratio"
	IndHighN       = "high_n"
	IndLowN        = "low_n"
	IndOBVSlope    = "obv_slope"
	IndPriceChange = "price_change_5"
)

// IndicatorSet holds the indicator values for one instrument at one bar.
// Names whose lookback was not met are listed in Missing and absent from Values.
type IndicatorSet struct {
	Symbol  string             `json:"symbol"`
	Time    time.Time          `json:"time"`
	Backend string             `json:"backend"`
	Values  map[string]float64 `json:"values"`
	Missing []string           `json:"missing,omitempty"`
}

func (s IndicatorSet) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

type Reason struct {
	Text      string  `json:"text"`
	Magnitude float64 `json:"magnitude"`
}

type StrategyScore struct {
	Strategy StrategyName `json:"strategy"`
	Score    float64      `json:"score"`
	Reasons  []Reason     `json:"reasons"`
}

// TopReason returns the highest-magnitude reason. Among equal magnitudes the
// first emitted wins.
func (s StrategyScore) TopReason() (Reason, bool) {
	if len(s.Reasons) == 0 {
		return Reason{}, false
	}
	best := s.Reasons[0]
	for _, r := range s.Reasons[1:] {
		if abs(r.Magnitude) > abs(best.Magnitude) {
			best = r
		}
	}
	return best, true
}

type Signal struct {
	ID             string                       `json:"id"`
	Symbol         string                       `json:"symbol"`
	Time           time.Time                    `json:"time"`
	Price          float64                      `json:"price"`
	Classification Classification               `json:"classification"`
	WeightedScore  float64                      `json:"weighted_score"`
	Confidence     float64                      `json:"confidence"`
	Reasoning      string                       `json:"reasoning"`
	Scores         [NumStrategies]StrategyScore `json:"scores"`
	Indicators     *IndicatorSet                `json:"indicators,omitempty"`
}

// Actionable reports whether the signal may be forwarded for execution.
func (s *Signal) Actionable() bool {
	return s.Classification == ClassBuy || s.Classification == ClassSell
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
