// File: internal/broker/synthetic.go
// ============================================
package broker

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"smart-trading-bot/pkg/types"
)

// Generator is a seedable random walk whose volatility follows the trading
// session of the sample's UTC hour.
type Generator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	price      float64
	volatility float64
	baseVolume float64
}

// NewGenerator returns a generator starting at startPrice. A zero seed is
// replaced by the current time.
func NewGenerator(seed int64, startPrice, volatility float64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if startPrice <= 0 {
		startPrice = 50000
	}
	if volatility <= 0 {
		volatility = 0.002
	}
	return &Generator{
		rng:        rand.New(rand.NewSource(seed)),
		price:      startPrice,
		volatility: volatility,
		baseVolume: 1000,
	}
}

// SessionMultiplier scales volatility by UTC hour: quiet Asia, active
// London, busiest London/New York overlap, then New York and the lull.
func SessionMultiplier(t time.Time) float64 {
	switch h := t.UTC().Hour(); {
	case h < 7:
		return 0.7
	case h < 13:
		return 1.1
	case h < 16:
		return 1.5
	case h < 21:
		return 1.2
	default:
		return 0.6
	}
}

// Next advances the walk by one step stamped at ts.
func (g *Generator) Next(ts time.Time) types.PriceSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	vol := g.volatility * SessionMultiplier(ts)
	open := g.price
	price := open * (1 + g.rng.NormFloat64()*vol)
	if price <= 0 {
		price = open
	}
	high := math.Max(open, price) * (1 + math.Abs(g.rng.NormFloat64())*vol*0.5)
	low := math.Min(open, price) * (1 - math.Abs(g.rng.NormFloat64())*vol*0.5)

	volume := g.baseVolume * (0.5 + g.rng.Float64())
	if g.rng.Float64() < 0.05 {
		volume *= 3
	}

	g.price = price
	return types.PriceSample{Price: price, Volume: volume, High: high, Low: low, Timestamp: ts}
}

// Series generates n samples spaced step apart and ending at end.
func (g *Generator) Series(n int, end time.Time, step time.Duration) []types.PriceSample {
	out := make([]types.PriceSample, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, g.Next(end.Add(-time.Duration(i)*step)))
	}
	return out
}

// Anchor moves the walk to price so the next step continues from it.
// Non-positive prices are ignored.
func (g *Generator) Anchor(price float64) {
	if price <= 0 {
		return
	}
	g.mu.Lock()
	g.price = price
	g.mu.Unlock()
}

func (g *Generator) Price() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.price
}
