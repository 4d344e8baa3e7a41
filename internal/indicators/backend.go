package indicators

// Backend selects the oscillator implementation. Both backends report RSI
// and ADX on the same 0..100 scale.
type Backend string

const (
	// BackendWilder uses Wilder smoothing for RSI and ADX.
	BackendWilder Backend = "wilder"
	// BackendBasic uses plain rolling means over the last period.
	BackendBasic Backend = "basic"
)

type oscillators interface {
	rsi(closes []float64, period int) (float64, bool)
	adx(highs, lows, closes []float64, period int) (float64, bool)
	// adxLookback is the number of bars adx needs.
	adxLookback(period int) int
}

type wilder struct{}

func (wilder) rsi(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		ch := closes[i] - closes[i-1]
		if ch > 0 {
			avgGain += ch
		} else {
			avgLoss -= ch
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		ch := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if ch > 0 {
			gain = ch
		} else {
			loss = -ch
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}
	return rsiFromAverages(avgGain, avgLoss), true
}

func (wilder) adxLookback(period int) int {
	return 2 * period
}

func (w wilder) adx(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < w.adxLookback(period) {
		return 0, false
	}
	p := float64(period)
	var smPlus, smMinus, smTR float64
	for i := 1; i <= period; i++ {
		plus, minus, tr := directionalMove(highs[i-1], lows[i-1], closes[i-1], highs[i], lows[i])
		smPlus += plus
		smMinus += minus
		smTR += tr
	}
	dxs := []float64{dx(smPlus, smMinus, smTR)}
	for i := period + 1; i < n; i++ {
		plus, minus, tr := directionalMove(highs[i-1], lows[i-1], closes[i-1], highs[i], lows[i])
		smPlus = smPlus - smPlus/p + plus
		smMinus = smMinus - smMinus/p + minus
		smTR = smTR - smTR/p + tr
		dxs = append(dxs, dx(smPlus, smMinus, smTR))
	}
	adx := 0.0
	for _, v := range dxs[:period] {
		adx += v
	}
	adx /= p
	for _, v := range dxs[period:] {
		adx = (adx*(p-1) + v) / p
	}
	return adx, true
}

type basic struct{}

func (basic) rsi(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	window := tail(closes, period+1)
	gain, loss := 0.0, 0.0
	for i := 1; i < len(window); i++ {
		ch := window[i] - window[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	return rsiFromAverages(gain/float64(period), loss/float64(period)), true
}

func (basic) adxLookback(period int) int {
	return period + 1
}

func (b basic) adx(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < b.adxLookback(period) {
		return 0, false
	}
	var sumPlus, sumMinus, sumTR float64
	for i := n - period; i < n; i++ {
		plus, minus, tr := directionalMove(highs[i-1], lows[i-1], closes[i-1], highs[i], lows[i])
		sumPlus += plus
		sumMinus += minus
		sumTR += tr
	}
	return dx(sumPlus, sumMinus, sumTR), true
}
