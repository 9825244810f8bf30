// File: pkg/types/models.go
// ============================================
package types

import "time"

// Direction is the market bias carried by a Signal
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// Label is the discrete trading recommendation
type Label string

const (
	StrongBuy  Label = "STRONG_BUY"
	Buy        Label = "BUY"
	Hold       Label = "HOLD"
	Sell       Label = "SELL"
	StrongSell Label = "STRONG_SELL"
)

// IsBuy reports whether the label recommends a long entry
func (l Label) IsBuy() bool { return l == StrongBuy || l == Buy }

// IsSell reports whether the label recommends a short entry
func (l Label) IsSell() bool { return l == StrongSell || l == Sell }

// RiskLevel grades a signal's risk
type RiskLevel string

const (
	RiskVeryLow RiskLevel = "VERY_LOW"
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskExtreme RiskLevel = "EXTREME"
)

// MarketRiskLevel is the coarse four-step market assessment
type MarketRiskLevel string

const (
	MarketRiskLow     MarketRiskLevel = "LOW"
	MarketRiskMedium  MarketRiskLevel = "MEDIUM"
	MarketRiskHigh    MarketRiskLevel = "HIGH"
	MarketRiskExtreme MarketRiskLevel = "EXTREME"
)

type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// PriceSample is one market tick
type PriceSample struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Timestamp time.Time `json:"timestamp"`
}

type MACD struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

type Bollinger struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Indicators is a value snapshot recomputed every cycle
type Indicators struct {
	RSI       float64   `json:"rsi"`
	MACD      MACD      `json:"macd"`
	Bollinger Bollinger `json:"bollinger"`
	SMA20     float64   `json:"sma20"`
	EMA20     float64   `json:"ema20"`
	ATR       float64   `json:"atr"`
	Volume    float64   `json:"volume"`
	Price     float64   `json:"price"`
}

// Signal is produced fresh each cycle and never mutated afterwards
type Signal struct {
	Direction        Direction `json:"direction"`
	Label            Label     `json:"label"`
	Confidence       float64   `json:"confidence"`
	Probability      float64   `json:"probability"`
	RiskLevel        RiskLevel `json:"riskLevel"`
	EntryPrice       float64   `json:"entryPrice"`
	StopLoss         float64   `json:"stopLoss"`
	TakeProfit       float64   `json:"takeProfit"`
	PositionSize     float64   `json:"positionSize"`
	Reasoning        []string  `json:"reasoning"`
	TimeframeMinutes int       `json:"timeframeMinutes"`
	Score            float64   `json:"score"`
	Timestamp        time.Time `json:"timestamp"`
}

// Position is a single virtual position. StopLoss is the only field
// mutated while open.
type Position struct {
	ID               string         `json:"id"`
	Symbol           string         `json:"symbol"`
	Side             Side           `json:"side"`
	EntryPrice       float64        `json:"entryPrice"`
	CurrentPrice     float64        `json:"currentPrice"`
	Quantity         float64        `json:"quantity"`
	InitialStopLoss  float64        `json:"initialStopLoss"`
	StopLoss         float64        `json:"stopLoss"`
	TakeProfit       float64        `json:"takeProfit"`
	UnrealizedPnL    float64        `json:"unrealizedPnL"`
	OpenedAt         time.Time      `json:"openedAt"`
	ClosedAt         time.Time      `json:"closedAt,omitempty"`
	TimeframeMinutes int            `json:"timeframeMinutes"`
	Status           PositionStatus `json:"status"`
	BrokerTicket     string         `json:"brokerTicket,omitempty"`
}

// Trade is recorded exactly once per closed Position
type Trade struct {
	ID              string    `json:"id"`
	PositionID      string    `json:"positionId"`
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	EntryPrice      float64   `json:"entryPrice"`
	ExitPrice       float64   `json:"exitPrice"`
	Quantity        float64   `json:"quantity"`
	Profit          float64   `json:"profit"`
	DurationMinutes float64   `json:"durationMinutes"`
	ClosedAt        time.Time `json:"closedAt"`
	Reason          string    `json:"reason"`
}

// RiskSnapshot is the RiskEngine output for the current cycle
type RiskSnapshot struct {
	Volatility     float64          `json:"volatility"`
	StopDistance   float64          `json:"stopDistance"`
	TargetDistance float64          `json:"targetDistance"`
	PositionSize   float64          `json:"positionSize"`
	Market         MarketAssessment `json:"market"`
	SizeMultiplier float64          `json:"sizeMultiplier"`
}

type MarketAssessment struct {
	Level   MarketRiskLevel `json:"level"`
	Score   float64         `json:"score"`
	Factors []string        `json:"factors"`
}

// ActionEntry is one line of the bounded action log
type ActionEntry struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

type BotStatus struct {
	IsRunning      bool      `json:"isRunning"`
	InitialCapital float64   `json:"initialCapital"`
	CurrentBalance float64   `json:"currentBalance"`
	TotalProfit    float64   `json:"totalProfit"`
	TargetProfit   float64   `json:"targetProfit"`
	TargetReached  bool      `json:"targetReached"`
	TradeCount     int       `json:"tradeCount"`
	WinCount       int       `json:"winCount"`
	WinRate        float64   `json:"winRate"`
	PeakBalance    float64   `json:"peakBalance"`
	MaxDrawdown    float64   `json:"maxDrawdown"`
	CycleCount     int       `json:"cycleCount"`
	StartedAt      time.Time `json:"startedAt,omitempty"`
	LastUpdate     time.Time `json:"lastUpdate,omitempty"`
}

// BotState is the aggregate root owned by the orchestrator
type BotState struct {
	Config           BotSettings   `json:"config"`
	Status           BotStatus     `json:"status"`
	Positions        []Position    `json:"positions"`
	Trades           []Trade       `json:"trades"`
	LatestSample     *PriceSample  `json:"latestMarketSample,omitempty"`
	LatestIndicators *Indicators   `json:"latestIndicators,omitempty"`
	LatestSignal     *Signal       `json:"latestSignal,omitempty"`
	RiskSnapshot     *RiskSnapshot `json:"riskSnapshot,omitempty"`
	ActionLog        []ActionEntry `json:"actionLog"`
}

// BotSettings is the subset of configuration echoed in the state snapshot
type BotSettings struct {
	Symbol          string        `json:"symbol"`
	Venue           string        `json:"venue"`
	InitialCapital  float64       `json:"initialCapital"`
	TargetProfit    float64       `json:"targetProfit"`
	TickInterval    time.Duration `json:"tickInterval"`
	MaxRiskPerTrade float64       `json:"maxRiskPerTrade"`
}

// OpenPositions returns the positions still marked OPEN
func (s BotState) OpenPositions() []Position {
	var open []Position
	for _, p := range s.Positions {
		if p.Status == PositionOpen {
			open = append(open, p)
		}
	}
	return open
}
