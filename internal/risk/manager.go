// File: internal/risk/manager.go
// ============================================
package risk

import (
	"fmt"
	"math"

	"smart-trading-bot/pkg/types"
)

// MinPositionSize is the floor applied to every computed size.
const MinPositionSize = 0.001

// Limits are the account-level guards checked before any entry.
type Limits struct {
	RiskRewardRatio float64
	MaxDrawdown     float64
	MinBalanceRatio float64
}

// MarketData carries inputs to the market assessment that are not
// indicators.
type MarketData struct {
	Change24h float64 // percent
}

type Manager struct {
	limits Limits
}

func NewManager(limits Limits) *Manager {
	if limits.RiskRewardRatio <= 0 {
		limits.RiskRewardRatio = 2
	}
	if limits.MaxDrawdown <= 0 {
		limits.MaxDrawdown = 0.10
	}
	if limits.MinBalanceRatio <= 0 {
		limits.MinBalanceRatio = 0.95
	}
	return &Manager{limits: limits}
}

// CanOpenPosition checks the account guards. Every failing guard is
// returned so the caller can log all of them.
func (m *Manager) CanOpenPosition(status types.BotStatus) (bool, []string) {
	var unmet []string
	if status.MaxDrawdown >= m.limits.MaxDrawdown {
		unmet = append(unmet, fmt.Sprintf("drawdown %.2f%% >= %.0f%%", status.MaxDrawdown*100, m.limits.MaxDrawdown*100))
	}
	floor := status.InitialCapital * m.limits.MinBalanceRatio
	if status.CurrentBalance <= floor {
		unmet = append(unmet, fmt.Sprintf("balance %.2f <= %.2f", status.CurrentBalance, floor))
	}
	return len(unmet) == 0, unmet
}

// ComputeRisk sizes a trade so that hitting the stop loses at most
// balance*maxRiskPerTrade.
func (m *Manager) ComputeRisk(ind types.Indicators, balance, maxRiskPerTrade float64) types.RiskSnapshot {
	volatility := 0.0
	if ind.Price > 0 {
		volatility = ind.ATR / ind.Price * 100
	}
	stopDistance := ind.ATR * 1.5 * math.Max(1, volatility/2)
	return types.RiskSnapshot{
		Volatility:     volatility,
		StopDistance:   stopDistance,
		TargetDistance: stopDistance * m.limits.RiskRewardRatio,
		PositionSize:   PositionSize(balance, maxRiskPerTrade, stopDistance, ind.Price),
		SizeMultiplier: 1,
	}
}

// Evaluate runs ComputeRisk and AssessMarketRisk and attaches the size
// multiplier for the assessed level.
func (m *Manager) Evaluate(ind types.Indicators, market MarketData, balance, maxRiskPerTrade float64) types.RiskSnapshot {
	snap := m.ComputeRisk(ind, balance, maxRiskPerTrade)
	snap.Market = m.AssessMarketRisk(ind, market)
	snap.SizeMultiplier = PositionSizeMultiplier(snap.Market.Level)
	return snap
}

func PositionSize(balance, maxRiskPerTrade, stopDistance, price float64) float64 {
	if stopDistance <= 0 || price <= 0 {
		return MinPositionSize
	}
	return math.Max(MinPositionSize, balance*maxRiskPerTrade/stopDistance/price)
}

// AssessMarketRisk adds up risk points from RSI extremity, volatility,
// MACD histogram, Bollinger width and the 24h move.
func (m *Manager) AssessMarketRisk(ind types.Indicators, market MarketData) types.MarketAssessment {
	score := 0.0
	factors := []string{}

	switch {
	case ind.RSI > 80 || ind.RSI < 20:
		score += 25
		factors = append(factors, fmt.Sprintf("extreme RSI %.1f", ind.RSI))
	case ind.RSI > 70 || ind.RSI < 30:
		score += 15
		factors = append(factors, fmt.Sprintf("stretched RSI %.1f", ind.RSI))
	}

	if ind.Price > 0 {
		volatility := ind.ATR / ind.Price * 100
		switch {
		case volatility > 5:
			score += 30
			factors = append(factors, fmt.Sprintf("very high volatility %.2f%%", volatility))
		case volatility > 3:
			score += 20
			factors = append(factors, fmt.Sprintf("high volatility %.2f%%", volatility))
		case volatility > 1.5:
			score += 10
			factors = append(factors, fmt.Sprintf("elevated volatility %.2f%%", volatility))
		}

		if ratio := math.Abs(ind.MACD.Histogram) / ind.Price * 100; ratio > 0.05 {
			score += 10
			factors = append(factors, fmt.Sprintf("MACD histogram %.3f%% of price", ratio))
		}
	}

	if ind.Bollinger.Middle > 0 {
		width := (ind.Bollinger.Upper - ind.Bollinger.Lower) / ind.Bollinger.Middle * 100
		switch {
		case width > 8:
			score += 20
			factors = append(factors, fmt.Sprintf("wide Bollinger bands %.1f%%", width))
		case width > 4:
			score += 10
			factors = append(factors, fmt.Sprintf("widening Bollinger bands %.1f%%", width))
		}
	}

	change := math.Abs(market.Change24h)
	switch {
	case change > 10:
		score += 25
		factors = append(factors, fmt.Sprintf("24h move %.1f%%", market.Change24h))
	case change > 5:
		score += 15
		factors = append(factors, fmt.Sprintf("24h move %.1f%%", market.Change24h))
	case change > 2:
		score += 5
	}

	score = math.Min(100, score)
	return types.MarketAssessment{Level: levelForScore(score), Score: score, Factors: factors}
}

func levelForScore(score float64) types.MarketRiskLevel {
	switch {
	case score < 25:
		return types.MarketRiskLow
	case score < 50:
		return types.MarketRiskMedium
	case score < 75:
		return types.MarketRiskHigh
	}
	return types.MarketRiskExtreme
}

func PositionSizeMultiplier(level types.MarketRiskLevel) float64 {
	switch level {
	case types.MarketRiskLow:
		return 1.0
	case types.MarketRiskMedium:
		return 0.8
	case types.MarketRiskHigh:
		return 0.5
	case types.MarketRiskExtreme:
		return 0.25
	}
	return 1.0
}
