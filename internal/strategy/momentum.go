// File: internal/strategy/momentum.go
// ============================================
package strategy

import (
	"fmt"

	"smart-trading-bot/pkg/types"
)

// AnalyzeMomentum scores the weighted 1/5/14-period rate of change,
// rewarding cross-timeframe alignment and volume confirmation.
func AnalyzeMomentum(history []types.PriceSample) SubScore {
	prices := Closes(history)
	volumes := Volumes(history)

	roc1 := RateOfChange(prices, 1)
	roc5 := RateOfChange(prices, 5)
	roc14 := RateOfChange(prices, 14)
	volumeROC := RateOfChange(volumes, 5)

	weighted := roc1*0.2 + roc5*0.3 + roc14*0.5
	score := 0.5 + clamp(weighted/2, -0.35, 0.35)
	reasons := []string{}

	aligned := 0.0
	if roc1 > 0 && roc5 > 0 && roc14 > 0 {
		aligned = 1
		reasons = append(reasons, fmt.Sprintf("Bullish momentum aligned (ROC14 %+.2f%%)", roc14))
	} else if roc1 < 0 && roc5 < 0 && roc14 < 0 {
		aligned = -1
		reasons = append(reasons, fmt.Sprintf("Bearish momentum aligned (ROC14 %+.2f%%)", roc14))
	}
	score += aligned * 0.1

	if aligned != 0 && volumeROC > 20 {
		score += aligned * 0.05
		reasons = append(reasons, fmt.Sprintf("Volume confirms momentum (+%.0f%%)", volumeROC))
	}

	// Short-term move against the longer trend
	if roc1 != 0 && roc14 != 0 && sign(roc1) != sign(roc14) {
		score = 0.5 + (score-0.5)/2
		reasons = append(reasons, "Momentum divergence between 1 and 14 periods")
	}

	return SubScore{Name: "momentum", Score: clamp(score, 0, 1), Reasons: reasons}
}

// AnalyzeVolumeProfile classifies the current volume against its 20-period
// average and points the result in the direction of the last move.
func AnalyzeVolumeProfile(history []types.PriceSample) SubScore {
	prices := Closes(history)
	volumes := Volumes(history)
	current := volumes[len(volumes)-1]
	avg20 := CalculateSMA(volumes, 20)
	if avg20 <= 0 {
		return SubScore{Name: "volume", Score: 0.5, Reasons: []string{"No volume data"}}
	}

	dir := 0.0
	if len(prices) > 1 {
		dir = sign(prices[len(prices)-1] - prices[len(prices)-2])
	}

	ratio := current / avg20
	score := 0.5
	reasons := []string{}

	switch {
	case ratio > 2:
		score += 0.3 * dir
		reasons = append(reasons, fmt.Sprintf("Volume spike (%.1fx average)", ratio))
	case ratio > 1.5:
		score += 0.2 * dir
		reasons = append(reasons, fmt.Sprintf("High volume (%.1fx average)", ratio))
	}

	if CalculateSMA(volumes, 5) > avg20 {
		score += 0.2 * dir
		reasons = append(reasons, "Volume trend rising")
	}

	if ratio < 0.3 {
		score = 0.5 + (score-0.5)/2
		reasons = append(reasons, fmt.Sprintf("Low volume (%.1fx average)", ratio))
	}

	return SubScore{Name: "volume", Score: clamp(score, 0, 1), Reasons: reasons}
}
