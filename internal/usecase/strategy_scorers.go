package usecase

import (
	"github.com/vitos/paper_signal_engine/internal/domain"
)

const (
	rsiOversold     = 30.0
	rsiOverbought   = 70.0
	adxStrong       = 25.0
	adxWeak         = 20.0
	bbTightWidth    = 0.02
	bbWideWidth     = 0.08
	breakoutMargin  = 0.001
	volumeSpike     = 2.0
	stochUpperBound = 80.0
	stochLowerBound = 20.0
)

// scoreTrend rewards aligned moving averages, scaled by their gap relative
// to price and confirmed by ADX.
func scoreTrend(set domain.IndicatorSet, bars []domain.PriceBar) domain.StrategyScore {
	s := newSheet(domain.StrategyTrend, "Trend")
	price, ok := lastClose(bars)
	if !ok {
		return s.result()
	}

	if v, ok := values(set, domain.IndSMAShort, domain.IndSMALong); ok {
		s.defined = true
		fast, slow := v[0], v[1]
		gap := (fast - slow) / price * 100
		if gap > 0 {
			s.add(clamp(gap*10, 0, 40), "SMA20 above SMA50 by %.2f%%", gap)
		} else {
			s.add(clamp(gap*10, -40, 0), "SMA20 below SMA50 by %.2f%%", -gap)
		}
		switch {
		case price > fast && fast > slow:
			s.add(10, "price above rising averages")
		case price < fast && fast < slow:
			s.add(-10, "price below falling averages")
		}
	}

	if v, ok := values(set, domain.IndEMAFast, domain.IndEMASlow); ok {
		s.defined = true
		gap := (v[0] - v[1]) / price * 100
		if gap > 0 {
			s.add(clamp(gap*10, 0, 30), "EMA12 above EMA26 (bullish crossover)")
		} else {
			s.add(clamp(gap*10, -30, 0), "EMA12 below EMA26 (bearish crossover)")
		}
	}

	if adx, ok := set.Value(domain.IndADX); ok && s.defined {
		switch {
		case adx > adxStrong:
			s.scale(1.25, "strong trend confirmed (ADX %.1f)", adx)
		case adx < adxWeak:
			s.scale(0.75, "weak trend strength (ADX %.1f)", adx)
		}
	}
	return s.result()
}

// scoreMeanReversion bets against stretched oscillators and band breaches.
func scoreMeanReversion(set domain.IndicatorSet, bars []domain.PriceBar) domain.StrategyScore {
	s := newSheet(domain.StrategyMeanReversion, "Mean Rev")
	price, ok := lastClose(bars)
	if !ok {
		return s.result()
	}

	if rsi, ok := set.Value(domain.IndRSI); ok {
		s.defined = true
		switch {
		case rsi < rsiOversold:
			s.add(clamp(20+(rsiOversold-rsi), 0, 40), "RSI oversold (%.1f)", rsi)
		case rsi > rsiOverbought:
			s.add(-clamp(20+(rsi-rsiOverbought), 0, 40), "RSI overbought (%.1f)", rsi)
		}
	}

	bands, bandsOK := values(set, domain.IndBBUpper, domain.IndBBLower, domain.IndBBWidth)
	if bandsOK {
		s.defined = true
		switch {
		case price <= bands[1]:
			s.add(25, "price at lower Bollinger band")
		case price >= bands[0]:
			s.add(-25, "price at upper Bollinger band")
		}
	}

	if wr, ok := set.Value(domain.IndWilliamsR); ok {
		s.defined = true
		switch {
		case wr < -80:
			s.add(15, "Williams %%R oversold (%.1f)", wr)
		case wr > -20:
			s.add(-15, "Williams %%R overbought (%.1f)", wr)
		}
	}

	if cci, ok := set.Value(domain.IndCCI); ok {
		s.defined = true
		switch {
		case cci < -100:
			s.add(15, "CCI oversold (%.0f)", cci)
		case cci > 100:
			s.add(-15, "CCI overbought (%.0f)", cci)
		}
	}

	if chg, ok := set.Value(domain.IndPriceChange); ok {
		s.defined = true
		s.add(clamp(-chg*2, -10, 10), "fading 5-bar move of %+.2f%%", chg)
	}

	if bandsOK {
		switch width := bands[2]; {
		case width < bbTightWidth:
			s.scale(0.8, "tight bands (width %.3f)", width)
		case width > bbWideWidth:
			s.scale(1.2, "expanded bands (width %.3f)", width)
		}
	}
	return s.result()
}

// scoreMomentum follows MACD and stochastic crossovers and rate of change.
func scoreMomentum(set domain.IndicatorSet, bars []domain.PriceBar) domain.StrategyScore {
	s := newSheet(domain.StrategyMomentum, "Momentum")
	price, ok := lastClose(bars)
	if !ok {
		return s.result()
	}

	if hist, ok := set.Value(domain.IndMACDHist); ok {
		s.defined = true
		pts := clamp(hist/price*100*40, -35, 35)
		if pts > 0 {
			s.add(pts, "MACD above signal (bullish crossover)")
		} else {
			s.add(pts, "MACD below signal (bearish crossover)")
		}
	}

	if v, ok := values(set, domain.IndStochK, domain.IndStochD); ok {
		s.defined = true
		k, d := v[0], v[1]
		switch {
		case k > d && k < stochUpperBound:
			s.add(clamp((k-d)*2+5, 0, 25), "stochastic bullish crossover (%%K %.1f > %%D %.1f)", k, d)
		case k < d && k > stochLowerBound:
			s.add(-clamp((d-k)*2+5, 0, 25), "stochastic bearish crossover (%%K %.1f < %%D %.1f)", k, d)
		}
	}

	if roc, ok := set.Value(domain.IndROC); ok {
		s.defined = true
		s.add(clamp(roc*4, -40, 40), "rate of change %+.2f%%", roc)
	}
	return s.result()
}

// scoreBreakout fires only when the close clears the prior range.
func scoreBreakout(set domain.IndicatorSet, bars []domain.PriceBar) domain.StrategyScore {
	s := newSheet(domain.StrategyBreakout, "Breakout")
	price, ok := lastClose(bars)
	if !ok {
		return s.result()
	}
	v, ok := values(set, domain.IndHighN, domain.IndLowN)
	if !ok {
		return s.result()
	}
	s.defined = true
	high, low := v[0], v[1]

	switch {
	case price > high*(1+breakoutMargin):
		over := (price - high) / high * 100
		s.add(40+clamp(over*10, 0, 30), "close %.2f above range high %.2f", price, high)
	case price < low*(1-breakoutMargin):
		under := (low - price) / low * 100
		s.add(-(40 + clamp(under*10, 0, 30)), "close %.2f below range low %.2f", price, low)
	default:
		return s.result()
	}

	if ratio, ok := set.Value(domain.IndVolumeRatio); ok && ratio > 1 {
		s.scale(1+clamp(ratio-1, 0, 1)*0.5, "volume confirms (%.1fx average)", ratio)
	}
	return s.result()
}

// scoreVolume reads accumulation from OBV and damps it when price disagrees.
func scoreVolume(set domain.IndicatorSet, bars []domain.PriceBar) domain.StrategyScore {
	s := newSheet(domain.StrategyVolume, "Volume")
	if _, ok := lastClose(bars); !ok {
		return s.result()
	}

	obv, obvOK := set.Value(domain.IndOBVSlope)
	if obvOK {
		s.defined = true
		pts := clamp(obv*40, -40, 40)
		if pts > 0 {
			s.add(pts, "accumulation (OBV slope %+.2f)", obv)
		} else {
			s.add(pts, "distribution (OBV slope %+.2f)", obv)
		}
	}

	if ratio, ok := set.Value(domain.IndVolumeRatio); ok {
		s.defined = true
		if ratio > volumeSpike && len(bars) >= 2 {
			last, prev := bars[len(bars)-1].Close, bars[len(bars)-2].Close
			switch {
			case last > prev:
				s.add(20, "volume spike %.1fx on up bar", ratio)
			case last < prev:
				s.add(-20, "volume spike %.1fx on down bar", ratio)
			}
		}
	}

	if chg, ok := set.Value(domain.IndPriceChange); ok && obvOK {
		switch {
		case chg > 0 && obv < 0:
			s.scale(0.5, "divergence: price up on falling volume trend")
		case chg < 0 && obv > 0:
			s.scale(0.5, "divergence: price down on rising volume trend")
		}
	}
	return s.result()
}
