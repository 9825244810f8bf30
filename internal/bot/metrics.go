// File: internal/bot/metrics.go
// ============================================
package bot

import (
	"math"
	"time"

	"smart-trading-bot/pkg/types"
)

// pushAction prepends e and trims the log to MaxActionLog entries.
func pushAction(s *types.BotState, e types.ActionEntry) {
	log := make([]types.ActionEntry, 0, MaxActionLog)
	log = append(log, e)
	log = append(log, s.ActionLog...)
	if len(log) > MaxActionLog {
		log = log[:MaxActionLog]
	}
	s.ActionLog = log
}

func newAction(kind, details string, now time.Time, err error) types.ActionEntry {
	e := types.ActionEntry{Type: kind, Timestamp: now, Details: details, Success: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// recordTrade is the only place the balance changes.
func recordTrade(s *types.BotState, t types.Trade) {
	s.Trades = append(s.Trades, t)
	s.Status.CurrentBalance += t.Profit
	s.Status.TradeCount++
	if t.Profit > 0 {
		s.Status.WinCount++
	}
	updateMetrics(s)
}

// updateMetrics recomputes the derived status fields.
func updateMetrics(s *types.BotState) {
	st := &s.Status
	st.TotalProfit = st.CurrentBalance - st.InitialCapital
	st.PeakBalance = math.Max(st.PeakBalance, st.CurrentBalance)
	if st.InitialCapital > 0 {
		drawdown := (st.PeakBalance - st.CurrentBalance) / st.InitialCapital
		st.MaxDrawdown = math.Max(st.MaxDrawdown, drawdown)
	}
	st.WinRate = 0
	if st.TradeCount > 0 {
		st.WinRate = float64(st.WinCount) / float64(st.TradeCount) * 100
	}
}
