package position

import (
	"math"
	"strings"
	"testing"
	"time"

	"smart-trading-bot/internal/risk"
	"smart-trading-bot/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newManager() *Manager {
	return NewManager(DefaultCriteria(), risk.NewManager(risk.Limits{}))
}

func strongBuy() types.Signal {
	return types.Signal{
		Direction:        types.Bullish,
		Label:            types.StrongBuy,
		Confidence:       90,
		Probability:      0.9,
		RiskLevel:        types.RiskLow,
		EntryPrice:       100,
		StopLoss:         95,
		TakeProfit:       115,
		PositionSize:     2,
		TimeframeMinutes: 45,
	}
}

// holdSignal keeps a position open: neutral, confident enough, low risk.
func holdSignal() types.Signal {
	return types.Signal{Label: types.Hold, Confidence: 60, RiskLevel: types.RiskLow}
}

func healthy() types.BotStatus {
	return types.BotStatus{InitialCapital: 1000, CurrentBalance: 1000}
}

func TestCanOpenAllConditionsMet(t *testing.T) {
	ok, unmet := newManager().CanOpen(strongBuy(), healthy(), nil, 50)
	if !ok {
		t.Fatalf("expected open, unmet: %v", unmet)
	}
}

func TestCanOpenReportsEveryUnmetCondition(t *testing.T) {
	sig := strongBuy()
	sig.Label = types.Buy
	sig.Confidence = 70
	sig.RiskLevel = types.RiskMedium
	sig.Probability = 0.7
	open := []types.Position{{Status: types.PositionOpen}}
	status := types.BotStatus{InitialCapital: 1000, CurrentBalance: 900, MaxDrawdown: 0.2}

	ok, unmet := newManager().CanOpen(sig, status, open, 10)
	if ok {
		t.Fatalf("expected rejection")
	}
	if len(unmet) != 8 {
		t.Fatalf("got %d unmet conditions, want 8: %v", len(unmet), unmet)
	}
	if !strings.Contains(unmet[0], "already open") {
		t.Fatalf("first reason = %q", unmet[0])
	}
}

func TestOpenTakesLevelsFromSignal(t *testing.T) {
	pos := newManager().Open(strongBuy(), "BTCUSDT", 0.5, t0)
	if pos.Side != types.Long || pos.Status != types.PositionOpen {
		t.Fatalf("unexpected position %+v", pos)
	}
	if pos.EntryPrice != 100 || pos.StopLoss != 95 || pos.InitialStopLoss != 95 || pos.TakeProfit != 115 {
		t.Fatalf("levels not copied: %+v", pos)
	}
	if pos.Quantity != 1 {
		t.Fatalf("quantity = %f, want 1", pos.Quantity)
	}
	if pos.ID == "" {
		t.Fatalf("missing id")
	}

	sig := strongBuy()
	sig.Label = types.StrongSell
	if p := newManager().Open(sig, "BTCUSDT", 1, t0); p.Side != types.Short {
		t.Fatalf("side = %s, want SHORT", p.Side)
	}
}

func TestCloseAboveTargetRealizesAtTickPrice(t *testing.T) {
	m := newManager()
	pos := m.Open(strongBuy(), "BTCUSDT", 1, t0)

	m.Update(&pos, 120)
	closeIt, reason := m.ShouldClose(pos, holdSignal(), t0.Add(time.Minute))
	if !closeIt || reason != ReasonStopTarget {
		t.Fatalf("ShouldClose = %v %q, want stop/target hit", closeIt, reason)
	}

	trade := m.Close(&pos, pos.CurrentPrice, reason, t0.Add(time.Minute))
	if trade.ExitPrice != 120 || math.Abs(trade.Profit-40) > 1e-9 {
		t.Fatalf("trade = %+v, want exit 120 profit 40", trade)
	}
	if pos.Status != types.PositionClosed || trade.PositionID != pos.ID {
		t.Fatalf("position not closed properly: %+v", pos)
	}
	if trade.DurationMinutes != 1 {
		t.Fatalf("duration = %f", trade.DurationMinutes)
	}
}

func TestCloseOnTimeLimit(t *testing.T) {
	m := newManager()
	pos := m.Open(strongBuy(), "BTCUSDT", 1, t0)
	m.Update(&pos, 100.5)

	if c, _ := m.ShouldClose(pos, holdSignal(), t0.Add(45*time.Minute)); c {
		t.Fatalf("closed at exactly the timeframe")
	}
	c, reason := m.ShouldClose(pos, holdSignal(), t0.Add(46*time.Minute))
	if !c || reason != ReasonTimeLimit {
		t.Fatalf("ShouldClose = %v %q, want time limit", c, reason)
	}
	trade := m.Close(&pos, pos.CurrentPrice, reason, t0.Add(46*time.Minute))
	if math.Abs(trade.Profit-1) > 1e-9 {
		t.Fatalf("profit = %f, want 1", trade.Profit)
	}
}

func TestCloseReasonsInPriorityOrder(t *testing.T) {
	m := newManager()
	now := t0.Add(time.Minute)
	cases := []struct {
		name   string
		sig    types.Signal
		reason string
	}{
		{"reversal", types.Signal{Label: types.Sell, Confidence: 70, RiskLevel: types.RiskLow}, ReasonReversal},
		{"risk", types.Signal{Label: types.Hold, Confidence: 70, RiskLevel: types.RiskExtreme}, ReasonRiskEscalation},
		{"confidence", types.Signal{Label: types.Hold, Confidence: 40, RiskLevel: types.RiskLow}, ReasonConfidence},
		{"reversal beats risk", types.Signal{Label: types.StrongSell, Confidence: 10, RiskLevel: types.RiskHigh}, ReasonReversal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := m.Open(strongBuy(), "BTCUSDT", 1, t0)
			m.Update(&pos, 101)
			c, reason := m.ShouldClose(pos, tc.sig, now)
			if !c || reason != tc.reason {
				t.Fatalf("ShouldClose = %v %q, want %q", c, reason, tc.reason)
			}
		})
	}

	pos := m.Open(strongBuy(), "BTCUSDT", 1, t0)
	m.Update(&pos, 101)
	if c, reason := m.ShouldClose(pos, holdSignal(), now); c {
		t.Fatalf("unexpected close: %q", reason)
	}
}

func TestShortCloseConditions(t *testing.T) {
	m := newManager()
	sig := strongBuy()
	sig.Label = types.StrongSell
	sig.StopLoss, sig.TakeProfit = 105, 85
	pos := m.Open(sig, "BTCUSDT", 1, t0)

	m.Update(&pos, 106)
	if c, reason := m.ShouldClose(pos, holdSignal(), t0); !c || reason != ReasonStopTarget {
		t.Fatalf("short stop not hit: %v %q", c, reason)
	}
	if pnl := PnL(types.Short, 100, 106, 2); pnl != -12 {
		t.Fatalf("short pnl = %f, want -12", pnl)
	}
}

func TestTrailingStopIsMonotonic(t *testing.T) {
	m := newManager()
	pos := m.Open(strongBuy(), "BTCUSDT", 1, t0)

	// below 1% profit the stop does not move
	if m.Update(&pos, 100.9) || pos.StopLoss != 95 {
		t.Fatalf("stop moved below activation: %f", pos.StopLoss)
	}

	prices := []float64{102, 104, 103, 106, 101.5, 108, 107, 110}
	last := pos.StopLoss
	for _, p := range prices {
		m.Update(&pos, p)
		if pos.StopLoss < last {
			t.Fatalf("stop loosened from %f to %f at price %f", last, pos.StopLoss, p)
		}
		last = pos.StopLoss
	}
	if last <= 95 {
		t.Fatalf("stop never trailed")
	}

	// at price 110: profit 10%, trail = 2.5*1.2 = 3 -> 107
	if math.Abs(pos.StopLoss-107) > 1e-9 {
		t.Fatalf("stop = %f, want 107", pos.StopLoss)
	}
}

func TestShortTrailingStopOnlyLowers(t *testing.T) {
	m := newManager()
	sig := strongBuy()
	sig.Label = types.StrongSell
	sig.StopLoss, sig.TakeProfit = 105, 85
	pos := m.Open(sig, "BTCUSDT", 1, t0)

	last := pos.StopLoss
	for _, p := range []float64{98, 96, 97, 94, 99, 92} {
		m.Update(&pos, p)
		if pos.StopLoss > last {
			t.Fatalf("short stop raised from %f to %f", last, pos.StopLoss)
		}
		last = pos.StopLoss
	}
	if last >= 105 {
		t.Fatalf("short stop never trailed")
	}
}
