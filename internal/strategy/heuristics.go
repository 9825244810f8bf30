// File: internal/strategy/heuristics.go
// ============================================
package strategy

import (
	"fmt"
	"math"

	"smart-trading-bot/pkg/types"
)

// AnalyzeSentiment is a proxy with no external data source: realized
// volatility scaled by the sign of the 5-period move.
func AnalyzeSentiment(history []types.PriceSample) SubScore {
	prices := Closes(history)
	vol := RealizedVolatility(prices, 20)
	roc5 := RateOfChange(prices, 5)
	score := 0.5 + sign(roc5)*math.Min(0.5, vol*1.5)

	mood := "neutral"
	if score > 0.5 {
		mood = "greedy"
	} else if score < 0.5 {
		mood = "fearful"
	}
	return SubScore{Name: "sentiment", Score: clamp(score, 0, 1), Reasons: []string{fmt.Sprintf("Sentiment proxy %s", mood)}}
}

// Fixed feature weights of the linear predictor. Not trained.
var mlWeights = struct {
	rsi, momentum, volatility, volume, trend float64
}{0.2, 0.3, 0.1, 0.1, 0.3}

// MLFeatures are the five normalized inputs of the predictor, each in [0,1].
type MLFeatures struct {
	RSI        float64
	Momentum   float64
	Volatility float64
	Volume     float64
	Trend      float64
}

func ExtractFeatures(history []types.PriceSample) MLFeatures {
	prices := Closes(history)
	volumes := Volumes(history)
	price := prices[len(prices)-1]

	sma20 := CalculateSMA(prices, 20)
	trend := 0.5
	if sma20 > 0 {
		trend = clamp(0.5+(price-sma20)/sma20*10, 0, 1)
	}
	volRatio := 1.0
	if avg := CalculateSMA(volumes, 20); avg > 0 {
		volRatio = volumes[len(volumes)-1] / avg
	}

	return MLFeatures{
		RSI:        CalculateRSI(prices, 14) / 100,
		Momentum:   clamp(0.5+RateOfChange(prices, 5)/10, 0, 1),
		Volatility: clamp(RealizedVolatility(prices, 20)/5, 0, 1),
		Volume:     clamp(volRatio/3, 0, 1),
		Trend:      trend,
	}
}

// Predict combines the features linearly. High RSI and high volatility
// count against the long side.
func (f MLFeatures) Predict() float64 {
	w := mlWeights
	return clamp(
		w.rsi*(1-f.RSI)+
			w.momentum*f.Momentum+
			w.volatility*(1-f.Volatility)+
			w.volume*f.Volume+
			w.trend*f.Trend,
		0, 1)
}

func AnalyzeML(history []types.PriceSample) SubScore {
	p := ExtractFeatures(history).Predict()
	return SubScore{Name: "ml", Score: p, Reasons: []string{fmt.Sprintf("Heuristic model prediction %.2f", p)}}
}
