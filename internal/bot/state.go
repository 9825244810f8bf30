// File: internal/bot/state.go
// ============================================
package bot

import (
	"time"

	"github.com/samber/lo"

	"smart-trading-bot/internal/config"
	"smart-trading-bot/internal/position"
	"smart-trading-bot/internal/risk"
	"smart-trading-bot/pkg/types"
)

// MaxActionLog bounds the action log; newest entries come first.
const MaxActionLog = 50

// Action types written to the action log.
const (
	ActionStart         = "START"
	ActionStop          = "STOP"
	ActionConnect       = "CONNECT"
	ActionBackfill      = "BACKFILL"
	ActionAnalysis      = "ANALYSIS"
	ActionOpenPosition  = "OPEN_POSITION"
	ActionOpenRejected  = "OPEN_REJECTED"
	ActionClosePosition = "CLOSE_POSITION"
	ActionTrailStop     = "TRAIL_STOP"
	ActionDataFallback  = "DATA_FALLBACK"
	ActionOrderFailed   = "ORDER_FAILED"
	ActionTargetReached = "TARGET_REACHED"
	ActionCycleError    = "CYCLE_ERROR"
)

// Options is everything the orchestrator needs from configuration.
type Options struct {
	Symbol          string
	Venue           string
	InitialCapital  float64
	TargetProfit    float64
	TickInterval    time.Duration
	ExternalTimeout time.Duration
	HistoryCapacity int
	MaxRiskPerTrade float64
	SignalBaseSize  float64
	Criteria        position.Criteria
	Limits          risk.Limits
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Symbol:          cfg.Bot.Symbol,
		Venue:           cfg.Bot.Venue,
		InitialCapital:  cfg.Bot.InitialCapital,
		TargetProfit:    cfg.Bot.TargetProfit,
		TickInterval:    cfg.Bot.TickInterval,
		ExternalTimeout: cfg.Bot.ExternalTimeout,
		HistoryCapacity: cfg.Bot.HistoryCapacity,
		MaxRiskPerTrade: cfg.Risk.MaxRiskPerTrade,
		SignalBaseSize:  cfg.Bot.SignalBaseSize,
		Criteria: position.Criteria{
			MinConfidence:  cfg.Entry.MinConfidence,
			MinProbability: cfg.Entry.MinProbability,
			MinHistory:     config.MinHistory,
		},
		Limits: risk.Limits{
			RiskRewardRatio: cfg.Risk.RiskRewardRatio,
			MaxDrawdown:     cfg.Risk.MaxDrawdown,
			MinBalanceRatio: cfg.Risk.MinBalanceRatio,
		},
	}
}

func (o Options) settings() types.BotSettings {
	return types.BotSettings{
		Symbol:          o.Symbol,
		Venue:           o.Venue,
		InitialCapital:  o.InitialCapital,
		TargetProfit:    o.TargetProfit,
		TickInterval:    o.TickInterval,
		MaxRiskPerTrade: o.MaxRiskPerTrade,
	}
}

func initialState(opts Options) types.BotState {
	return types.BotState{
		Config: opts.settings(),
		Status: types.BotStatus{
			InitialCapital: opts.InitialCapital,
			CurrentBalance: opts.InitialCapital,
			TargetProfit:   opts.TargetProfit,
			PeakBalance:    opts.InitialCapital,
		},
		Positions: []types.Position{},
		Trades:    []types.Trade{},
		ActionLog: []types.ActionEntry{},
	}
}

// cloneState deep-copies everything reachable from s so the copy can be
// mutated or handed out without sharing memory.
func cloneState(s types.BotState) types.BotState {
	out := s
	out.Positions = append([]types.Position{}, s.Positions...)
	out.Trades = append([]types.Trade{}, s.Trades...)
	out.ActionLog = append([]types.ActionEntry{}, s.ActionLog...)

	if s.LatestSample != nil {
		v := *s.LatestSample
		out.LatestSample = &v
	}
	if s.LatestIndicators != nil {
		v := *s.LatestIndicators
		out.LatestIndicators = &v
	}
	if s.LatestSignal != nil {
		v := *s.LatestSignal
		v.Reasoning = append([]string(nil), s.LatestSignal.Reasoning...)
		out.LatestSignal = &v
	}
	if s.RiskSnapshot != nil {
		v := *s.RiskSnapshot
		v.Market.Factors = append([]string(nil), s.RiskSnapshot.Market.Factors...)
		out.RiskSnapshot = &v
	}
	return out
}

func openIndex(s *types.BotState) int {
	_, i, ok := lo.FindIndexOf(s.Positions, func(p types.Position) bool { return p.Status == types.PositionOpen })
	if !ok {
		return -1
	}
	return i
}
