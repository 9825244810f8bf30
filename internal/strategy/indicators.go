// File: internal/strategy/indicators.go
// ============================================
package strategy

import (
	"math"

	"github.com/samber/lo"

	"smart-trading-bot/pkg/types"
)

// MinIndicatorHistory is the cold-start threshold below which Update
// returns neutral defaults.
const MinIndicatorHistory = 20

// IndicatorCalculator keeps a bounded FIFO of samples and recomputes a
// fresh Indicators snapshot on every Update.
type IndicatorCalculator struct {
	capacity int
	history  []types.PriceSample
}

func NewIndicatorCalculator(capacity int) *IndicatorCalculator {
	if capacity < 1 {
		capacity = 200
	}
	return &IndicatorCalculator{
		capacity: capacity,
		history:  make([]types.PriceSample, 0, capacity),
	}
}

// Update appends sample, evicting the oldest one on overflow, and returns
// the indicators over the resulting window.
func (c *IndicatorCalculator) Update(sample types.PriceSample) types.Indicators {
	c.push(sample)
	return ComputeIndicators(c.history)
}

// Seed appends a batch of historical samples without computing anything.
func (c *IndicatorCalculator) Seed(samples []types.PriceSample) {
	for _, s := range samples {
		c.push(s)
	}
}

func (c *IndicatorCalculator) push(sample types.PriceSample) {
	if len(c.history) == c.capacity {
		copy(c.history, c.history[1:])
		c.history = c.history[:len(c.history)-1]
	}
	c.history = append(c.history, sample)
}

// History returns a copy of the current window, oldest first.
func (c *IndicatorCalculator) History() []types.PriceSample {
	out := make([]types.PriceSample, len(c.history))
	copy(out, c.history)
	return out
}

func (c *IndicatorCalculator) Len() int      { return len(c.history) }
func (c *IndicatorCalculator) Capacity() int { return c.capacity }

func (c *IndicatorCalculator) Reset() {
	c.history = c.history[:0]
}

// ComputeIndicators derives the indicator snapshot for a window of samples.
func ComputeIndicators(history []types.PriceSample) types.Indicators {
	if len(history) == 0 {
		return types.Indicators{RSI: 50}
	}
	last := history[len(history)-1]
	if len(history) < MinIndicatorHistory {
		return NeutralIndicators(last)
	}

	prices := Closes(history)
	return types.Indicators{
		RSI:       CalculateRSI(prices, 14),
		MACD:      CalculateMACD(prices, 12, 26, 9),
		Bollinger: CalculateBollingerBands(prices, 20, 2.0),
		SMA20:     CalculateSMA(prices, 20),
		EMA20:     CalculateEMA(prices, 20),
		ATR:       CalculateATR(history, 14),
		Volume:    last.Volume,
		Price:     last.Price,
	}
}

// NeutralIndicators is the cold-start snapshot.
func NeutralIndicators(s types.PriceSample) types.Indicators {
	return types.Indicators{
		RSI: 50,
		Bollinger: types.Bollinger{
			Upper:  s.Price * 1.02,
			Middle: s.Price,
			Lower:  s.Price * 0.98,
		},
		SMA20:  s.Price,
		EMA20:  s.Price,
		ATR:    s.Price * 0.01,
		Volume: s.Volume,
		Price:  s.Price,
	}
}

func Closes(history []types.PriceSample) []float64 {
	return lo.Map(history, func(s types.PriceSample, _ int) float64 { return s.Price })
}

func Volumes(history []types.PriceSample) []float64 {
	return lo.Map(history, func(s types.PriceSample, _ int) float64 { return s.Volume })
}

// CalculateRSI - Relative Strength Index over the last period deltas
func CalculateRSI(prices []float64, period int) float64 {
	if period < 1 || len(prices) < period+1 {
		return 50.0
	}

	window := prices[len(prices)-period-1:]
	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i < len(window); i++ {
		change := window[i] - window[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// CalculateSMA - mean of the last min(period, len) prices
func CalculateSMA(prices []float64, period int) float64 {
	if len(prices) == 0 || period < 1 {
		return 0
	}
	if period > len(prices) {
		period = len(prices)
	}
	return lo.Sum(prices[len(prices)-period:]) / float64(period)
}

// CalculateEMA - Exponential Moving Average seeded with the first price
func CalculateEMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}

	multiplier := 2.0 / float64(period+1)
	ema := prices[0]
	for _, p := range prices[1:] {
		ema = (p-ema)*multiplier + ema
	}
	return ema
}

// CalculateMACD uses macd*0.9 as its signal line. signalPeriod is accepted
// so callers can name the parameter set but does not change the result.
func CalculateMACD(prices []float64, fast, slow, signalPeriod int) types.MACD {
	if len(prices) == 0 {
		return types.MACD{}
	}
	macd := CalculateEMA(prices, fast) - CalculateEMA(prices, slow)
	signal := macd * 0.9
	return types.MACD{MACD: macd, Signal: signal, Histogram: macd - signal}
}

// CalculateBollingerBands - population standard deviation over period
func CalculateBollingerBands(prices []float64, period int, k float64) types.Bollinger {
	if len(prices) == 0 {
		return types.Bollinger{}
	}
	if period > len(prices) {
		period = len(prices)
	}

	window := prices[len(prices)-period:]
	middle := lo.Sum(window) / float64(period)

	variance := 0.0
	for _, p := range window {
		variance += (p - middle) * (p - middle)
	}
	std := math.Sqrt(variance / float64(period))

	return types.Bollinger{
		Upper:  middle + k*std,
		Middle: middle,
		Lower:  middle - k*std,
	}
}

// sampleRange returns the high/low of a sample, approximating both from the
// price when the feed does not carry them.
func sampleRange(s types.PriceSample) (high, low float64) {
	if s.High <= 0 || s.Low <= 0 || s.High < s.Low {
		return s.Price * 1.001, s.Price * 0.999
	}
	return s.High, s.Low
}

// CalculateATR - mean true range over the last period transitions
func CalculateATR(history []types.PriceSample, period int) float64 {
	if len(history) < 2 {
		if len(history) == 1 {
			return history[0].Price * 0.01
		}
		return 0
	}

	trueRanges := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		high, low := sampleRange(history[i])
		prevClose := history[i-1].Price
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}
	return CalculateSMA(trueRanges, period)
}

// CalculateStochastic - %K over period samples, %D = %K*0.9
func CalculateStochastic(history []types.PriceSample, period int) (k, d float64) {
	if len(history) < period || period < 1 {
		return 50, 45
	}

	window := history[len(history)-period:]
	highs := lo.Map(window, func(s types.PriceSample, _ int) float64 { h, _ := sampleRange(s); return h })
	lows := lo.Map(window, func(s types.PriceSample, _ int) float64 { _, l := sampleRange(s); return l })
	highest, lowest := lo.Max(highs), lo.Min(lows)

	if highest-lowest == 0 {
		return 50, 45
	}

	k = (window[len(window)-1].Price - lowest) / (highest - lowest) * 100
	return k, k * 0.9
}

// RealizedVolatility is the population stddev of the last period simple
// returns, in percent.
func RealizedVolatility(prices []float64, period int) float64 {
	if len(prices) < 2 {
		return 0
	}
	start := len(prices) - period - 1
	if start < 0 {
		start = 0
	}
	window := prices[start:]

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] == 0 {
			continue
		}
		returns = append(returns, (window[i]-window[i-1])/window[i-1])
	}
	if len(returns) == 0 {
		return 0
	}

	mean := lo.Sum(returns) / float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	return math.Sqrt(variance/float64(len(returns))) * 100
}

// RateOfChange - percent change over n periods
func RateOfChange(values []float64, n int) float64 {
	if len(values) <= n || n < 1 {
		return 0
	}
	prev := values[len(values)-1-n]
	if prev == 0 {
		return 0
	}
	return (values[len(values)-1] - prev) / prev * 100
}
