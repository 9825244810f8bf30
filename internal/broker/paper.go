// File: internal/broker/paper.go
// ============================================
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"smart-trading-bot/pkg/types"
)

// Paper is an in-process venue: market data comes from a Generator and
// every order fills immediately at the generator's last price.
type Paper struct {
	gen     *Generator
	balance float64
	now     func() time.Time
	step    time.Duration

	mu        sync.Mutex
	connected bool
	orders    map[string]OrderHandle
}

func NewPaper(gen *Generator, balance float64, step time.Duration) *Paper {
	if step <= 0 {
		step = time.Minute
	}
	return &Paper{
		gen:     gen,
		balance: balance,
		now:     time.Now,
		step:    step,
		orders:  make(map[string]OrderHandle),
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) Connect(ctx context.Context) (AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return AccountInfo{}, err
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return p.GetAccountInfo(ctx)
}

func (p *Paper) GetAccountInfo(ctx context.Context) (AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return AccountInfo{}, ErrNotConnected
	}
	return AccountInfo{Venue: p.Name(), Currency: "USDT", Balance: p.balance, Connected: true}, nil
}

func (p *Paper) GetLatestSample(ctx context.Context, symbol string) (types.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return types.PriceSample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p.gen.Next(p.now()), nil
}

func (p *Paper) GetHistory(ctx context.Context, symbol string, limit int) ([]types.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p.gen.Series(limit, p.now().Add(-p.step), p.step), nil
}

func (p *Paper) Place(ctx context.Context, order Order) (OrderHandle, error) {
	if order.Quantity <= 0 {
		return OrderHandle{}, fmt.Errorf("%w: quantity %.8f", ErrOrderRejected, order.Quantity)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return OrderHandle{}, ErrNotConnected
	}

	h := OrderHandle{
		Ticket:   "paper-" + uuid.NewString(),
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		FilledAt: p.now(),
	}
	p.orders[h.Ticket] = h
	return h, nil
}

func (p *Paper) Close(ctx context.Context, handle OrderHandle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[handle.Ticket]; !ok {
		return false, fmt.Errorf("%w: unknown ticket %s", ErrOrderRejected, handle.Ticket)
	}
	delete(p.orders, handle.Ticket)
	return true, nil
}

// OpenOrders reports how many placed orders have not been closed.
func (p *Paper) OpenOrders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}
