package indicators

import (
	"fmt"
	"math"
	"sort"

	"github.com/vitos/paper_signal_engine/internal/domain"
)

type Config struct {
	RSIPeriod      int     `yaml:"rsi_period"`
	MACDFast       int     `yaml:"macd_fast"`
	MACDSlow       int     `yaml:"macd_slow"`
	MACDSignal     int     `yaml:"macd_signal"`
	BBPeriod       int     `yaml:"bb_period"`
	BBStdDev       float64 `yaml:"bb_std_dev"`
	SMAShort       int     `yaml:"sma_short"`
	SMALong        int     `yaml:"sma_long"`
	EMAFast        int     `yaml:"ema_fast"`
	EMASlow        int     `yaml:"ema_slow"`
	ADXPeriod      int     `yaml:"adx_period"`
	StochK         int     `yaml:"stoch_k"`
	StochD         int     `yaml:"stoch_d"`
	WilliamsPeriod int     `yaml:"williams_period"`
	CCIPeriod      int     `yaml:"cci_period"`
	MomentumPeriod int     `yaml:"momentum_period"`
	VolumePeriod   int     `yaml:"volume_period"`
	BreakoutPeriod int     `yaml:"breakout_period"`
	OBVLookback    int     `yaml:"obv_lookback"`
}

func DefaultConfig() Config {
	return Config{
		RSIPeriod:      14,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		BBPeriod:       20,
		BBStdDev:       2,
		SMAShort:       20,
		SMALong:        50,
		EMAFast:        12,
		EMASlow:        26,
		ADXPeriod:      14,
		StochK:         14,
		StochD:         3,
		WilliamsPeriod: 14,
		CCIPeriod:      20,
		MomentumPeriod: 10,
		VolumePeriod:   20,
		BreakoutPeriod: 20,
		OBVLookback:    20,
	}
}

func (c Config) periods() map[string]int {
	return map[string]int{
		"rsi_period":      c.RSIPeriod,
		"macd_fast":       c.MACDFast,
		"macd_slow":       c.MACDSlow,
		"macd_signal":     c.MACDSignal,
		"bb_period":       c.BBPeriod,
		"sma_short":       c.SMAShort,
		"sma_long":        c.SMALong,
		"ema_fast":        c.EMAFast,
		"ema_slow":        c.EMASlow,
		"adx_period":      c.ADXPeriod,
		"stoch_k":         c.StochK,
		"stoch_d":         c.StochD,
		"williams_period": c.WilliamsPeriod,
		"cci_period":      c.CCIPeriod,
		"momentum_period": c.MomentumPeriod,
		"volume_period":   c.VolumePeriod,
		"breakout_period": c.BreakoutPeriod,
		"obv_lookback":    c.OBVLookback,
	}
}

func (c Config) Validate() error {
	names := make([]string, 0)
	for name, p := range c.periods() {
		if p <= 0 {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return fmt.Errorf("indicator periods must be positive: %v", names)
	}
	if c.BBStdDev <= 0 {
		return fmt.Errorf("bb_std_dev must be positive, got %v", c.BBStdDev)
	}
	if c.MACDFast >= c.MACDSlow {
		return fmt.Errorf("macd_fast (%d) must be below macd_slow (%d)", c.MACDFast, c.MACDSlow)
	}
	return nil
}

// Library computes indicator sets with one backend fixed at construction.
type Library struct {
	cfg     Config
	backend Backend
	osc     oscillators
}

func New(backend Backend, cfg Config) (*Library, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var osc oscillators
	switch backend {
	case BackendWilder:
		osc = wilder{}
	case BackendBasic:
		osc = basic{}
	default:
		return nil, fmt.Errorf("unknown indicator backend %q", backend)
	}
	return &Library{cfg: cfg, backend: backend, osc: osc}, nil
}

func (l *Library) Backend() Backend {
	return l.backend
}

// MaxLookback is the number of bars needed for every indicator to be defined.
func (l *Library) MaxLookback() int {
	c := l.cfg
	need := []int{
		c.RSIPeriod + 1,
		c.MACDSlow + c.MACDSignal - 1,
		c.BBPeriod,
		c.SMALong,
		c.SMAShort,
		c.EMASlow,
		l.osc.adxLookback(c.ADXPeriod),
		c.StochK + c.StochD - 1,
		c.WilliamsPeriod,
		c.CCIPeriod,
		c.MomentumPeriod + 1,
		c.VolumePeriod,
		c.BreakoutPeriod + 1,
		c.OBVLookback + 1,
		6,
	}
	longest := 0
	for _, n := range need {
		if n > longest {
			longest = n
		}
	}
	return longest
}

type builder struct {
	set domain.IndicatorSet
}

func (b *builder) put(name string, v float64, ok bool) {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		b.set.Missing = append(b.set.Missing, name)
		return
	}
	b.set.Values[name] = v
}

// Compute derives the indicator set for the last bar of the series. It never
// fails: indicators whose lookback is not met are reported as missing.
func (l *Library) Compute(bars []domain.PriceBar) domain.IndicatorSet {
	b := &builder{set: domain.IndicatorSet{
		Backend: string(l.backend),
		Values:  make(map[string]float64),
	}}
	n := len(bars)
	if n > 0 {
		b.set.Symbol = bars[n-1].Symbol
		b.set.Time = bars[n-1].Time
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, bar := range bars {
		closes[i] = bar.Close
		highs[i] = bar.High
		lows[i] = bar.Low
		volumes[i] = bar.Volume
	}
	c := l.cfg

	sma, ok := SMA(closes, c.SMAShort)
	b.put(domain.IndSMAShort, sma, ok)
	sma, ok = SMA(closes, c.SMALong)
	b.put(domain.IndSMALong, sma, ok)
	ema, ok := EMA(closes, c.EMAFast)
	b.put(domain.IndEMAFast, ema, ok)
	ema, ok = EMA(closes, c.EMASlow)
	b.put(domain.IndEMASlow, ema, ok)

	l.macd(b, closes)
	l.bollinger(b, closes)

	rsi, ok := l.osc.rsi(closes, c.RSIPeriod)
	b.put(domain.IndRSI, rsi, ok)
	adx, ok := l.osc.adx(highs, lows, closes, c.ADXPeriod)
	b.put(domain.IndADX, adx, ok)

	l.stochastic(b, highs, lows, closes)
	l.williams(b, highs, lows, closes)
	l.cci(b, highs, lows, closes)

	if n > c.MomentumPeriod {
		base := closes[n-1-c.MomentumPeriod]
		mom := closes[n-1] - base
		b.put(domain.IndMomentum, mom, true)
		b.put(domain.IndROC, mom/base*100, base != 0)
	} else {
		b.put(domain.IndMomentum, 0, false)
		b.put(domain.IndROC, 0, false)
	}

	volSMA, ok := SMA(volumes, c.VolumePeriod)
	b.put(domain.IndVolumeSMA, volSMA, ok)
	ratio, ok := lastRatio(volumes, volSMA, ok && volSMA > 0)
	b.put(domain.IndVolumeRatio, ratio, ok)

	if n > c.BreakoutPeriod {
		prior := bars[n-1-c.BreakoutPeriod : n-1]
		hs := make([]float64, len(prior))
		ls := make([]float64, len(prior))
		for i, p := range prior {
			hs[i], ls[i] = p.High, p.Low
		}
		b.put(domain.IndHighN, Highest(hs), true)
		b.put(domain.IndLowN, Lowest(ls), true)
	} else {
		b.put(domain.IndHighN, 0, false)
		b.put(domain.IndLowN, 0, false)
	}

	l.obv(b, closes, volumes)

	if n >= 6 && closes[n-6] != 0 {
		b.put(domain.IndPriceChange, (closes[n-1]-closes[n-6])/closes[n-6]*100, true)
	} else {
		b.put(domain.IndPriceChange, 0, false)
	}

	sort.Strings(b.set.Missing)
	return b.set
}

func lastRatio(volumes []float64, avg float64, ok bool) (float64, bool) {
	if !ok || len(volumes) == 0 {
		return 0, false
	}
	return volumes[len(volumes)-1] / avg, true
}

func (l *Library) macd(b *builder, closes []float64) {
	c := l.cfg
	fast := EMASeries(closes, c.MACDFast)
	slow := EMASeries(closes, c.MACDSlow)
	if len(slow) == 0 {
		b.put(domain.IndMACD, 0, false)
		b.put(domain.IndMACDSignal, 0, false)
		b.put(domain.IndMACDHist, 0, false)
		return
	}
	// Align the fast series to the slow one; both end at the last close.
	offset := len(fast) - len(slow)
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i+offset] - slow[i]
	}
	macd := line[len(line)-1]
	b.put(domain.IndMACD, macd, true)
	sig, ok := EMA(line, c.MACDSignal)
	b.put(domain.IndMACDSignal, sig, ok)
	b.put(domain.IndMACDHist, macd-sig, ok)
}

func (l *Library) bollinger(b *builder, closes []float64) {
	c := l.cfg
	mid, ok := SMA(closes, c.BBPeriod)
	if !ok {
		for _, name := range []string{domain.IndBBUpper, domain.IndBBMiddle, domain.IndBBLower, domain.IndBBWidth} {
			b.put(name, 0, false)
		}
		return
	}
	sd := StdDev(tail(closes, c.BBPeriod))
	upper := mid + c.BBStdDev*sd
	lower := mid - c.BBStdDev*sd
	b.put(domain.IndBBUpper, upper, true)
	b.put(domain.IndBBMiddle, mid, true)
	b.put(domain.IndBBLower, lower, true)
	b.put(domain.IndBBWidth, (upper-lower)/mid, mid != 0)
}

func stochAt(highs, lows, closes []float64, end, period int) float64 {
	hh := Highest(highs[end-period+1 : end+1])
	ll := Lowest(lows[end-period+1 : end+1])
	if hh == ll {
		return 50
	}
	return (closes[end] - ll) / (hh - ll) * 100
}

func (l *Library) stochastic(b *builder, highs, lows, closes []float64) {
	c := l.cfg
	n := len(closes)
	if n < c.StochK {
		b.put(domain.IndStochK, 0, false)
		b.put(domain.IndStochD, 0, false)
		return
	}
	b.put(domain.IndStochK, stochAt(highs, lows, closes, n-1, c.StochK), true)
	if n < c.StochK+c.StochD-1 {
		b.put(domain.IndStochD, 0, false)
		return
	}
	sum := 0.0
	for i := n - c.StochD; i < n; i++ {
		sum += stochAt(highs, lows, closes, i, c.StochK)
	}
	b.put(domain.IndStochD, sum/float64(c.StochD), true)
}

func (l *Library) williams(b *builder, highs, lows, closes []float64) {
	p := l.cfg.WilliamsPeriod
	n := len(closes)
	if n < p {
		b.put(domain.IndWilliamsR, 0, false)
		return
	}
	hh := Highest(tail(highs, p))
	ll := Lowest(tail(lows, p))
	if hh == ll {
		b.put(domain.IndWilliamsR, -50, true)
		return
	}
	b.put(domain.IndWilliamsR, (hh-closes[n-1])/(hh-ll)*-100, true)
}

func (l *Library) cci(b *builder, highs, lows, closes []float64) {
	p := l.cfg.CCIPeriod
	n := len(closes)
	if n < p {
		b.put(domain.IndCCI, 0, false)
		return
	}
	tp := make([]float64, p)
	for i := 0; i < p; i++ {
		j := n - p + i
		tp[i] = (highs[j] + lows[j] + closes[j]) / 3
	}
	mean, _ := SMA(tp, p)
	md := 0.0
	for _, v := range tp {
		md += math.Abs(v - mean)
	}
	md /= float64(p)
	if md == 0 {
		b.put(domain.IndCCI, 0, true)
		return
	}
	b.put(domain.IndCCI, (tp[p-1]-mean)/(0.015*md), true)
}

// obv reports the on-balance volume change over the lookback divided by the
// total volume traded in it, so the value stays within [-1, 1].
func (l *Library) obv(b *builder, closes, volumes []float64) {
	lb := l.cfg.OBVLookback
	n := len(closes)
	if n < lb+1 {
		b.put(domain.IndOBVSlope, 0, false)
		return
	}
	change, total := 0.0, 0.0
	for i := n - lb; i < n; i++ {
		total += volumes[i]
		switch {
		case closes[i] > closes[i-1]:
			change += volumes[i]
		case closes[i] < closes[i-1]:
			change -= volumes[i]
		}
	}
	if total == 0 {
		b.put(domain.IndOBVSlope, 0, true)
		return
	}
	b.put(domain.IndOBVSlope, change/total, true)
}
