// File: internal/strategy/structure.go
// ============================================
package strategy

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"smart-trading-bot/pkg/types"
)

// Pattern is a candlestick-like shape found on the raw price sequence.
type Pattern struct {
	Name  string
	Score float64
}

// DetectPatterns runs every detector and returns the ones that fired.
func DetectPatterns(prices []float64) []Pattern {
	detectors := []func([]float64) (Pattern, bool){
		detectHammer,
		detectShootingStar,
		detectTriangle,
		detectHeadAndShoulders,
	}
	var found []Pattern
	for _, d := range detectors {
		if p, ok := d(prices); ok {
			found = append(found, p)
		}
	}
	return found
}

// reversalScore grows from 0.375 at a 1.5x reversal to 0.5 at 2x and
// beyond, measured away from neutral.
func reversalScore(move, reversal float64) float64 {
	return 0.5 * math.Min(1, reversal/(move*2))
}

// detectHammer: a drop followed by a rebound at least 1.5x the drop.
func detectHammer(prices []float64) (Pattern, bool) {
	if len(prices) < 3 {
		return Pattern{}, false
	}
	a, b, c := prices[len(prices)-3], prices[len(prices)-2], prices[len(prices)-1]
	drop, rebound := a-b, c-b
	if drop > 0 && rebound >= drop*1.5 {
		return Pattern{Name: "hammer", Score: 0.5 + reversalScore(drop, rebound)}, true
	}
	return Pattern{}, false
}

func detectShootingStar(prices []float64) (Pattern, bool) {
	if len(prices) < 3 {
		return Pattern{}, false
	}
	a, b, c := prices[len(prices)-3], prices[len(prices)-2], prices[len(prices)-1]
	rise, fall := b-a, b-c
	if rise > 0 && fall >= rise*1.5 {
		return Pattern{Name: "shooting star", Score: 0.5 - reversalScore(rise, fall)}, true
	}
	return Pattern{}, false
}

// Triangle and head-and-shoulders detection are not implemented.
func detectTriangle([]float64) (Pattern, bool)         { return Pattern{}, false }
func detectHeadAndShoulders([]float64) (Pattern, bool) { return Pattern{}, false }

func AnalyzePatterns(history []types.PriceSample) SubScore {
	patterns := DetectPatterns(Closes(history))
	if len(patterns) == 0 {
		return SubScore{Name: "patterns", Score: 0.5, Skipped: true}
	}
	score := lo.SumBy(patterns, func(p Pattern) float64 { return p.Score }) / float64(len(patterns))
	reasons := lo.Map(patterns, func(p Pattern, _ int) string { return fmt.Sprintf("%s pattern detected", p.Name) })
	return SubScore{Name: "patterns", Score: score, Reasons: reasons}
}

type LevelKind string

const (
	Support    LevelKind = "support"
	Resistance LevelKind = "resistance"
)

// Level is a cluster of local extrema within 1% of each other.
type Level struct {
	Kind     LevelKind
	Price    float64
	Touches  int
	Strength float64
}

// FindLevels clusters local lows into support and local highs into
// resistance. An extremum must dominate two samples on each side.
func FindLevels(prices []float64) []Level {
	var lows, highs []float64
	for i := 2; i < len(prices)-2; i++ {
		window := prices[i-2 : i+3]
		if prices[i] == lo.Min(window) {
			lows = append(lows, prices[i])
		}
		if prices[i] == lo.Max(window) {
			highs = append(highs, prices[i])
		}
	}
	return append(clusterLevels(lows, Support), clusterLevels(highs, Resistance)...)
}

func clusterLevels(points []float64, kind LevelKind) []Level {
	var levels []Level
	for _, p := range points {
		merged := false
		for i := range levels {
			l := &levels[i]
			if math.Abs(p-l.Price)/l.Price <= 0.01 {
				l.Price = (l.Price*float64(l.Touches) + p) / float64(l.Touches+1)
				l.Touches++
				merged = true
				break
			}
		}
		if !merged {
			levels = append(levels, Level{Kind: kind, Price: p, Touches: 1})
		}
	}
	for i := range levels {
		levels[i].Strength = math.Min(1, 0.2*float64(levels[i].Touches))
	}
	return levels
}

// AnalyzeKeyLevels scores the strongest level within 1% of the price on
// each side: a level below the price holds as support and one above it caps
// as resistance, whichever extremum it was clustered from. A level exactly
// at the price keeps its own kind. Skipped when no level is that close.
func AnalyzeKeyLevels(history []types.PriceSample) SubScore {
	prices := Closes(history)
	price := prices[len(prices)-1]
	near := lo.Filter(FindLevels(prices), func(l Level, _ int) bool {
		return math.Abs(price-l.Price)/l.Price <= 0.01
	})
	if len(near) == 0 {
		return SubScore{Name: "levels", Score: 0.5, Skipped: true}
	}

	below, above := lo.FilterReject(near, func(l Level, _ int) bool {
		return l.Price < price || l.Price == price && l.Kind == Support
	})
	strongest := func(levels []Level) Level {
		return lo.MaxBy(levels, func(a, b Level) bool { return a.Strength > b.Strength })
	}

	score := 0.5
	reasons := []string{}
	if len(below) > 0 {
		l := strongest(below)
		score += 0.5 * l.Strength
		reasons = append(reasons, fmt.Sprintf("Holding above %s %.2f (%d touches)", l.Kind, l.Price, l.Touches))
	}
	if len(above) > 0 {
		l := strongest(above)
		score -= 0.5 * l.Strength
		reasons = append(reasons, fmt.Sprintf("Capped below %s %.2f (%d touches)", l.Kind, l.Price, l.Touches))
	}
	return SubScore{Name: "levels", Score: clamp(score, 0, 1), Reasons: reasons}
}

type Structure string

const (
	Uptrend     Structure = "UPTREND"
	Downtrend   Structure = "DOWNTREND"
	Expanding   Structure = "EXPANDING"
	Contracting Structure = "CONTRACTING"
)

// ClassifyStructure compares the extremes of the two halves of the last
// 20 prices.
func ClassifyStructure(prices []float64) Structure {
	n := 20
	if len(prices) < n {
		n = len(prices) - len(prices)%2
	}
	if n < 4 {
		return Contracting
	}
	window := prices[len(prices)-n:]
	first, second := window[:n/2], window[n/2:]
	higherHigh := lo.Max(second) > lo.Max(first)
	higherLow := lo.Min(second) > lo.Min(first)
	lowerHigh := lo.Max(second) < lo.Max(first)
	lowerLow := lo.Min(second) < lo.Min(first)

	switch {
	case higherHigh && higherLow:
		return Uptrend
	case lowerHigh && lowerLow:
		return Downtrend
	case higherHigh && lowerLow:
		return Expanding
	default:
		return Contracting
	}
}

func AnalyzeStructure(history []types.PriceSample) SubScore {
	s := ClassifyStructure(Closes(history))
	score := 0.5
	switch s {
	case Uptrend:
		score += 0.25
	case Downtrend:
		score -= 0.25
	}
	return SubScore{Name: "structure", Score: score, Reasons: []string{fmt.Sprintf("Market structure %s", s)}}
}
