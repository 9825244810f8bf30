// File: internal/strategy/technical.go
// ============================================
package strategy

import (
	"fmt"

	"smart-trading-bot/pkg/types"
)

// SubScore is the output of one sub-analysis: a score in [0,1] where 0.5
// is neutral, plus the reasons that moved it.
type SubScore struct {
	Name    string
	Score   float64
	Reasons []string
	Skipped bool
}

var macdParameterSets = [][3]int{{12, 26, 9}, {5, 35, 5}, {8, 17, 9}}

// AnalyzeTechnical votes RSI, MACD, Bollinger, EMA cascade and stochastic
// into a bullish/bearish tally.
func AnalyzeTechnical(history []types.PriceSample) SubScore {
	prices := Closes(history)
	price := prices[len(prices)-1]
	bullish, bearish := 0, 0
	reasons := []string{}

	// RSI with volatility-adjusted thresholds
	overbought, oversold := 70.0, 30.0
	if vol := RealizedVolatility(prices, 20); vol > 5 {
		overbought, oversold = 80, 20
	}
	rsi := CalculateRSI(prices, 14)
	if rsi < oversold {
		bullish++
		reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f < %.0f)", rsi, oversold))
	} else if rsi > overbought {
		bearish++
		reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f > %.0f)", rsi, overbought))
	}

	// MACD across parameter sets
	macdUp, macdDown := 0, 0
	for _, p := range macdParameterSets {
		m := CalculateMACD(prices, p[0], p[1], p[2])
		if m.Histogram > 0 {
			macdUp++
		} else if m.Histogram < 0 {
			macdDown++
		}
	}
	bullish += macdUp
	bearish += macdDown
	if macdUp == len(macdParameterSets) {
		reasons = append(reasons, "MACD bullish on all timeframes")
	} else if macdDown == len(macdParameterSets) {
		reasons = append(reasons, "MACD bearish on all timeframes")
	}

	// Bollinger squeeze leans toward the side of the middle band, then
	// band touches
	bb := CalculateBollingerBands(prices, 20, 2.0)
	if bb.Middle > 0 && (bb.Upper-bb.Lower)/bb.Middle < 0.02 {
		switch {
		case price > bb.Middle:
			bullish++
			reasons = append(reasons, "Bollinger squeeze, breaking up")
		case price < bb.Middle:
			bearish++
			reasons = append(reasons, "Bollinger squeeze, breaking down")
		default:
			reasons = append(reasons, "Bollinger squeeze, breakout pending")
		}
	}
	if price <= bb.Lower {
		bullish++
		reasons = append(reasons, "Price at lower Bollinger band")
	} else if price >= bb.Upper {
		bearish++
		reasons = append(reasons, "Price at upper Bollinger band")
	}

	// EMA cascade
	ema8 := CalculateEMA(prices, 8)
	ema21 := CalculateEMA(prices, 21)
	ema55 := CalculateEMA(prices, 55)
	sma200 := CalculateSMA(prices, 200)
	switch {
	case price > ema8 && ema8 > ema21 && ema21 > ema55:
		bullish++
		reasons = append(reasons, "EMA 8/21/55 bullish cascade")
		if price > sma200 {
			bullish++
		}
	case price < ema8 && ema8 < ema21 && ema21 < ema55:
		bearish++
		reasons = append(reasons, "EMA 8/21/55 bearish cascade")
		if price < sma200 {
			bearish++
		}
	}

	// Stochastic extremes
	k, _ := CalculateStochastic(history, 14)
	if k < 20 {
		bullish++
		reasons = append(reasons, fmt.Sprintf("Stochastic oversold (%.1f)", k))
	} else if k > 80 {
		bearish++
		reasons = append(reasons, fmt.Sprintf("Stochastic overbought (%.1f)", k))
	}

	total := bullish + bearish
	score := 0.5 + float64(bullish-bearish)/float64(total+1)*0.5
	return SubScore{Name: "technical", Score: clamp(score, 0, 1), Reasons: reasons}
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
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
