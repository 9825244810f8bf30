// File: internal/strategy/analyzer.go
// ============================================
package strategy

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"smart-trading-bot/pkg/types"
)

// MinAnalysisHistory is the number of samples Analyze needs before it fuses
// sub-analyses instead of returning the default HOLD signal.
const MinAnalysisHistory = 50

// Fusion weights. They sum to 1; skipped sub-analyses are left out and the
// rest re-normalized.
var fusionWeights = []struct {
	weight  float64
	analyze func([]types.PriceSample) SubScore
}{
	{0.25, AnalyzeTechnical},
	{0.20, AnalyzeMomentum},
	{0.15, AnalyzeVolumeProfile},
	{0.15, AnalyzePatterns},
	{0.10, AnalyzeKeyLevels},
	{0.10, AnalyzeStructure},
	{0.03, AnalyzeSentiment},
	{0.02, AnalyzeML},
}

// SignalAnalyzer turns a price history into a Signal. It holds no state
// between calls.
type SignalAnalyzer struct {
	baseSize float64
}

func NewSignalAnalyzer(baseSize float64) *SignalAnalyzer {
	if baseSize <= 0 {
		baseSize = 0.02
	}
	return &SignalAnalyzer{baseSize: baseSize}
}

// Analysis is a Signal together with the sub-scores it was fused from.
type Analysis struct {
	Signal    types.Signal
	SubScores []SubScore
	Combined  float64
}

func (a *SignalAnalyzer) Analyze(history []types.PriceSample) types.Signal {
	return a.AnalyzeDetailed(history).Signal
}

func (a *SignalAnalyzer) AnalyzeDetailed(history []types.PriceSample) Analysis {
	if len(history) < MinAnalysisHistory {
		sig := DefaultSignal(history)
		return Analysis{Signal: sig, Combined: 0.5}
	}

	subs := make([]SubScore, 0, len(fusionWeights))
	weighted, applied := 0.0, 0.0
	for _, fw := range fusionWeights {
		sub := fw.analyze(history)
		subs = append(subs, sub)
		if sub.Skipped {
			continue
		}
		weighted += sub.Score * fw.weight
		applied += fw.weight
	}
	combined := 0.5
	if applied > 0 {
		combined = weighted / applied
	}

	sig := a.deriveSignal(history, combined)
	sig.Reasoning = append(sig.Reasoning, lo.FlatMap(subs, func(sub SubScore, _ int) []string { return sub.Reasons })...)
	return Analysis{Signal: sig, SubScores: subs, Combined: combined}
}

// DefaultSignal is returned while the history is too short to analyze.
func DefaultSignal(history []types.PriceSample) types.Signal {
	var price float64
	sig := types.Signal{
		Direction:        types.Neutral,
		Label:            types.Hold,
		Confidence:       20,
		Probability:      0.5,
		RiskLevel:        types.RiskMedium,
		PositionSize:     0.005,
		TimeframeMinutes: 15,
		Score:            0.5,
		Reasoning: []string{
			fmt.Sprintf("Insufficient data for analysis (%d/%d samples)", len(history), MinAnalysisHistory),
		},
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		price = last.Price
		sig.Timestamp = last.Timestamp
	}
	sig.EntryPrice = price
	sig.StopLoss = price * 0.985
	sig.TakeProfit = price * 1.045
	return sig
}

// ClassifyScore maps a combined score to a label and direction.
func ClassifyScore(s float64) (types.Label, types.Direction, float64) {
	confidence := math.Min(100, math.Abs(s-0.5)*200)
	switch {
	case s >= 0.8 && confidence >= 80:
		return types.StrongBuy, types.Bullish, confidence
	case s >= 0.65 && confidence >= 65:
		return types.Buy, types.Bullish, confidence
	case s <= 0.2 && confidence >= 80:
		return types.StrongSell, types.Bearish, confidence
	case s <= 0.35 && confidence >= 65:
		return types.Sell, types.Bearish, confidence
	}
	return types.Hold, types.Neutral, confidence
}

// ClassifyRisk grades realized volatility (percent).
func ClassifyRisk(volatility float64) types.RiskLevel {
	switch {
	case volatility < 0.5:
		return types.RiskVeryLow
	case volatility < 1:
		return types.RiskLow
	case volatility < 2:
		return types.RiskMedium
	case volatility < 3.5:
		return types.RiskHigh
	}
	return types.RiskExtreme
}

func (a *SignalAnalyzer) deriveSignal(history []types.PriceSample, s float64) types.Signal {
	last := history[len(history)-1]
	price := last.Price
	prices := Closes(history)

	label, direction, confidence := ClassifyScore(s)
	probability := 0.5
	if label != types.Hold {
		probability = 0.5 + math.Abs(s-0.5)
	}
	risk := ClassifyRisk(RealizedVolatility(prices, 20))

	stopDistance := math.Max(CalculateATR(history, 14)*2, price*0.015)
	targetDistance := stopDistance * 3
	stop, target := price-stopDistance, price+targetDistance
	if direction == types.Bearish {
		stop, target = price+stopDistance, price-targetDistance
	}

	multiplier := 1.0
	switch risk {
	case types.RiskLow:
		multiplier = 1.5
	case types.RiskHigh:
		multiplier = 0.5
	}
	size := clamp(a.baseSize*confidence/100*multiplier, 0.005, 0.05)

	timeframe := 20
	if confidence > 80 {
		timeframe = 45
	} else if confidence > 60 {
		timeframe = 30
	}

	return types.Signal{
		Direction:        direction,
		Label:            label,
		Confidence:       confidence,
		Probability:      probability,
		RiskLevel:        risk,
		EntryPrice:       price,
		StopLoss:         stop,
		TakeProfit:       target,
		PositionSize:     size,
		Reasoning:        []string{fmt.Sprintf("Combined score %.3f -> %s (%.0f%% confidence)", s, label, confidence)},
		TimeframeMinutes: timeframe,
		Score:            s,
		Timestamp:        last.Timestamp,
	}
}
