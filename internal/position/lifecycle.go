// File: internal/position/lifecycle.go
// ============================================
package position

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"smart-trading-bot/internal/risk"
	"smart-trading-bot/pkg/types"
)

// Close reasons recorded on trades and in the action log.
const (
	ReasonStopTarget     = "stop/target hit"
	ReasonTimeLimit      = "time limit reached"
	ReasonReversal       = "signal reversal"
	ReasonRiskEscalation = "risk escalation"
	ReasonConfidence     = "confidence decay"
	ReasonManualStop     = "manual stop"
	ReasonTargetReached  = "target reached"
)

// Criteria is the entry profile. Defaults are deliberately strict.
type Criteria struct {
	MinConfidence  float64
	MinProbability float64
	MinHistory     int
}

func DefaultCriteria() Criteria {
	return Criteria{MinConfidence: 85, MinProbability: 0.8, MinHistory: 50}
}

// Manager decides entries and exits for a single position at a time and
// keeps its trailing stop.
type Manager struct {
	criteria Criteria
	risk     *risk.Manager
}

func NewManager(criteria Criteria, riskManager *risk.Manager) *Manager {
	return &Manager{criteria: criteria, risk: riskManager}
}

func HasOpen(positions []types.Position) bool {
	for _, p := range positions {
		if p.Status == types.PositionOpen {
			return true
		}
	}
	return false
}

// CanOpen checks every entry condition and returns all that failed.
func (m *Manager) CanOpen(sig types.Signal, status types.BotStatus, positions []types.Position, historyLen int) (bool, []string) {
	var unmet []string

	if HasOpen(positions) {
		unmet = append(unmet, "position already open")
	}
	if sig.Confidence < m.criteria.MinConfidence {
		unmet = append(unmet, fmt.Sprintf("confidence %.1f < %.0f", sig.Confidence, m.criteria.MinConfidence))
	}
	if sig.Label != types.StrongBuy && sig.Label != types.StrongSell {
		unmet = append(unmet, fmt.Sprintf("label %s is not a strong signal", sig.Label))
	}
	if sig.RiskLevel != types.RiskVeryLow && sig.RiskLevel != types.RiskLow {
		unmet = append(unmet, fmt.Sprintf("risk level %s too high", sig.RiskLevel))
	}
	if sig.Probability < m.criteria.MinProbability {
		unmet = append(unmet, fmt.Sprintf("probability %.2f < %.2f", sig.Probability, m.criteria.MinProbability))
	}
	if _, guards := m.risk.CanOpenPosition(status); len(guards) > 0 {
		unmet = append(unmet, guards...)
	}
	if historyLen < m.criteria.MinHistory {
		unmet = append(unmet, fmt.Sprintf("history %d < %d samples", historyLen, m.criteria.MinHistory))
	}

	return len(unmet) == 0, unmet
}

// Open builds a new OPEN position from the signal. sizeMultiplier scales
// the signal's size by the current market risk.
func (m *Manager) Open(sig types.Signal, symbol string, sizeMultiplier float64, now time.Time) types.Position {
	side := types.Short
	if sig.Label.IsBuy() {
		side = types.Long
	}
	if sizeMultiplier <= 0 {
		sizeMultiplier = 1
	}
	return types.Position{
		ID:               uuid.NewString(),
		Symbol:           symbol,
		Side:             side,
		EntryPrice:       sig.EntryPrice,
		CurrentPrice:     sig.EntryPrice,
		Quantity:         sig.PositionSize * sizeMultiplier,
		InitialStopLoss:  sig.StopLoss,
		StopLoss:         sig.StopLoss,
		TakeProfit:       sig.TakeProfit,
		OpenedAt:         now,
		TimeframeMinutes: sig.TimeframeMinutes,
		Status:           types.PositionOpen,
	}
}

func PnL(side types.Side, entry, price, quantity float64) float64 {
	if side == types.Long {
		return (price - entry) * quantity
	}
	return (entry - price) * quantity
}

// Update refreshes the mark price and unrealized P&L, then ratchets the
// trailing stop. It reports whether the stop moved.
func (m *Manager) Update(pos *types.Position, price float64) bool {
	pos.CurrentPrice = price
	pos.UnrealizedPnL = PnL(pos.Side, pos.EntryPrice, price, pos.Quantity)

	if pos.EntryPrice <= 0 {
		return false
	}
	profitFraction := (price - pos.EntryPrice) / pos.EntryPrice
	if pos.Side == types.Short {
		profitFraction = -profitFraction
	}
	if profitFraction <= 0.01 {
		return false
	}

	trail := math.Abs(pos.EntryPrice-pos.InitialStopLoss) / 2 * (1 + profitFraction*2)
	if pos.Side == types.Long {
		if newStop := price - trail; newStop > pos.StopLoss {
			pos.StopLoss = newStop
			return true
		}
		return false
	}
	if newStop := price + trail; newStop < pos.StopLoss {
		pos.StopLoss = newStop
		return true
	}
	return false
}

// ShouldClose evaluates the exit rules in priority order against the
// position's last mark price.
func (m *Manager) ShouldClose(pos types.Position, sig types.Signal, now time.Time) (bool, string) {
	price := pos.CurrentPrice
	if pos.Side == types.Long && (price <= pos.StopLoss || price >= pos.TakeProfit) {
		return true, ReasonStopTarget
	}
	if pos.Side == types.Short && (price >= pos.StopLoss || price <= pos.TakeProfit) {
		return true, ReasonStopTarget
	}

	if pos.TimeframeMinutes > 0 && now.Sub(pos.OpenedAt) > time.Duration(pos.TimeframeMinutes)*time.Minute {
		return true, ReasonTimeLimit
	}

	if (pos.Side == types.Long && sig.Label.IsSell()) || (pos.Side == types.Short && sig.Label.IsBuy()) {
		return true, ReasonReversal
	}

	if sig.RiskLevel == types.RiskHigh || sig.RiskLevel == types.RiskExtreme {
		return true, ReasonRiskEscalation
	}

	if sig.Confidence < 50 {
		return true, ReasonConfidence
	}

	return false, ""
}

// Close marks the position CLOSED at price and returns its trade. The
// exit is realized at the given price, not at the stop or target level.
func (m *Manager) Close(pos *types.Position, price float64, reason string, now time.Time) types.Trade {
	pos.CurrentPrice = price
	profit := PnL(pos.Side, pos.EntryPrice, price, pos.Quantity)
	pos.UnrealizedPnL = 0
	pos.Status = types.PositionClosed
	pos.ClosedAt = now

	return types.Trade{
		ID:              uuid.NewString(),
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryPrice:      pos.EntryPrice,
		ExitPrice:       price,
		Quantity:        pos.Quantity,
		Profit:          profit,
		DurationMinutes: now.Sub(pos.OpenedAt).Minutes(),
		ClosedAt:        now,
		Reason:          reason,
	}
}
