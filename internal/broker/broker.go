// File: internal/broker/broker.go
// ============================================
package broker

import (
	"context"
	"errors"
	"time"

	"smart-trading-bot/pkg/types"
)

var (
	// ErrUnavailable means the venue could not serve the request; callers
	// fall back to synthetic data or a simulated fill.
	ErrUnavailable   = errors.New("broker unavailable")
	ErrNotConnected  = errors.New("broker not connected")
	ErrOrderRejected = errors.New("order rejected")
)

type Order struct {
	Symbol     string
	Side       types.Side
	Quantity   float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	ClientID   string
}

// OrderHandle identifies a placed order at the venue.
type OrderHandle struct {
	Ticket   string
	Symbol   string
	Side     types.Side
	Quantity float64
	FilledAt time.Time
}

type AccountInfo struct {
	Venue     string
	Currency  string
	Balance   float64
	Connected bool
}

type MarketDataSource interface {
	GetLatestSample(ctx context.Context, symbol string) (types.PriceSample, error)
}

// HistoryProvider is optional. When a venue implements it the orchestrator
// backfills the indicator window on start.
type HistoryProvider interface {
	GetHistory(ctx context.Context, symbol string, limit int) ([]types.PriceSample, error)
}

type OrderExecutor interface {
	Place(ctx context.Context, order Order) (OrderHandle, error)
	Close(ctx context.Context, handle OrderHandle) (bool, error)
}

type BrokerSession interface {
	Connect(ctx context.Context) (AccountInfo, error)
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
}

// Broker is one venue.
type Broker interface {
	MarketDataSource
	OrderExecutor
	BrokerSession
	Name() string
}
