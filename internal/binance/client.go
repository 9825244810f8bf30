// File: internal/binance/client.go
// ============================================
package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"smart-trading-bot/internal/broker"
	"smart-trading-bot/internal/logging"
	"smart-trading-bot/pkg/types"
)

const (
	maxRetries  = 3
	baseBackoff = 100 * time.Millisecond
	quoteAsset  = "USDT"
)

// Options configures the exchange adapter.
type Options struct {
	APIKey    string
	SecretKey string
	Testnet   bool
	Interval  string
	RateLimit float64
}

// Client is the live spot venue. It implements broker.Broker and
// broker.HistoryProvider.
type Client struct {
	client      *gobinance.Client
	rateLimiter *rate.Limiter
	interval    string
	logger      logging.LoggerInterface

	mu        sync.Mutex
	connected bool
}

var _ broker.Broker = (*Client)(nil)
var _ broker.HistoryProvider = (*Client)(nil)

func NewClient(opts Options, logger logging.LoggerInterface) *Client {
	// package-level switch in go-binance, must be set before NewClient
	gobinance.UseTestnet = opts.Testnet

	c := gobinance.NewClient(opts.APIKey, opts.SecretKey)
	c.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = 10
	}
	interval := opts.Interval
	if interval == "" {
		interval = "1m"
	}
	if logger == nil {
		logger = logging.Nop{}
	}

	return &Client{
		client:      c,
		rateLimiter: rate.NewLimiter(rate.Limit(limit), 20),
		interval:    interval,
		logger:      logger,
	}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) Connect(ctx context.Context) (broker.AccountInfo, error) {
	info, err := c.account(ctx)
	if err != nil {
		return broker.AccountInfo{Venue: c.Name()}, err
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	info.Connected = true
	c.logger.Info("🔌 Connected to Binance (%s balance: %.2f)", info.Currency, info.Balance)
	return info, nil
}

func (c *Client) GetAccountInfo(ctx context.Context) (broker.AccountInfo, error) {
	if !c.isConnected() {
		return broker.AccountInfo{Venue: c.Name()}, broker.ErrNotConnected
	}
	info, err := c.account(ctx)
	info.Connected = err == nil
	return info, err
}

func (c *Client) account(ctx context.Context) (broker.AccountInfo, error) {
	var acct *gobinance.Account
	err := c.withRetry(ctx, func() error {
		var err error
		acct, err = c.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return broker.AccountInfo{Venue: c.Name()}, unavailable("account", err)
	}
	return broker.AccountInfo{
		Venue:    c.Name(),
		Currency: quoteAsset,
		Balance:  assetBalance(acct.Balances, quoteAsset),
	}, nil
}

// GetLatestSample returns the most recent kline as a sample.
func (c *Client) GetLatestSample(ctx context.Context, symbol string) (types.PriceSample, error) {
	samples, err := c.GetHistory(ctx, symbol, 1)
	if err != nil {
		return types.PriceSample{}, err
	}
	if len(samples) == 0 {
		return types.PriceSample{}, unavailable("klines", fmt.Errorf("no klines for %s", symbol))
	}
	return samples[len(samples)-1], nil
}

func (c *Client) GetHistory(ctx context.Context, symbol string, limit int) ([]types.PriceSample, error) {
	var klines []*gobinance.Kline
	err := c.withRetry(ctx, func() error {
		var err error
		klines, err = c.client.NewKlinesService().
			Symbol(symbol).
			Interval(c.interval).
			Limit(limit).
			Do(ctx)
		return err
	})
	if err != nil {
		return nil, unavailable("klines", err)
	}
	return klinesToSamples(klines), nil
}

// Place sends a market order. Stop and target stay client-side.
func (c *Client) Place(ctx context.Context, order broker.Order) (broker.OrderHandle, error) {
	if !c.isConnected() {
		return broker.OrderHandle{}, broker.ErrNotConnected
	}
	if order.Quantity <= 0 {
		return broker.OrderHandle{}, fmt.Errorf("%w: quantity %f", broker.ErrOrderRejected, order.Quantity)
	}

	resp, err := c.market(ctx, order.Symbol, entrySide(order.Side), order.Quantity, order.ClientID)
	if err != nil {
		return broker.OrderHandle{}, err
	}

	qty := order.Quantity
	if executed, perr := strconv.ParseFloat(resp.ExecutedQuantity, 64); perr == nil && executed > 0 {
		qty = executed
	}
	c.logger.Info("📤 Binance order %d filled: %s %.6f %s", resp.OrderID, order.Side, qty, order.Symbol)

	return broker.OrderHandle{
		Ticket:   strconv.FormatInt(resp.OrderID, 10),
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: qty,
		FilledAt: time.UnixMilli(resp.TransactTime),
	}, nil
}

// Close flattens the position with an opposite-side market order.
func (c *Client) Close(ctx context.Context, handle broker.OrderHandle) (bool, error) {
	if !c.isConnected() {
		return false, broker.ErrNotConnected
	}
	resp, err := c.market(ctx, handle.Symbol, exitSide(handle.Side), handle.Quantity, "")
	if err != nil {
		return false, err
	}
	c.logger.Info("📥 Binance order %d closed ticket %s", resp.OrderID, handle.Ticket)
	return true, nil
}

func (c *Client) market(ctx context.Context, symbol string, side gobinance.SideType, qty float64, clientID string) (*gobinance.CreateOrderResponse, error) {
	var resp *gobinance.CreateOrderResponse
	err := c.withRetry(ctx, func() error {
		svc := c.client.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			Type(gobinance.OrderTypeMarket).
			Quantity(formatQuantity(qty))
		if clientID != "" {
			svc = svc.NewClientOrderID(clientID)
		}
		var err error
		resp, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", broker.ErrOrderRejected, err)
	}
	return resp, nil
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// withRetry paces fn through the rate limiter and retries with
// exponential backoff.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	return retry(ctx, c.rateLimiter, maxRetries, baseBackoff, fn)
}

func retry(ctx context.Context, limiter *rate.Limiter, retries int, backoff time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if werr := limiter.Wait(ctx); werr != nil {
			return werr
		}

		if err = fn(); err == nil {
			return nil
		}
		if attempt == retries {
			break
		}

		waitTime := time.Duration(math.Pow(2, float64(attempt))) * backoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
	return err
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: binance %s: %v", broker.ErrUnavailable, op, err)
}

func klinesToSamples(klines []*gobinance.Kline) []types.PriceSample {
	samples := make([]types.PriceSample, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		close, err := strconv.ParseFloat(k.Close, 64)
		if err != nil || close <= 0 {
			continue
		}
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		samples = append(samples, types.PriceSample{
			Price:     close,
			Volume:    volume,
			High:      high,
			Low:       low,
			Timestamp: time.UnixMilli(k.CloseTime),
		})
	}
	return samples
}

func assetBalance(balances []gobinance.Balance, asset string) float64 {
	for _, b := range balances {
		if b.Asset != asset {
			continue
		}
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		return free + locked
	}
	return 0
}

func entrySide(side types.Side) gobinance.SideType {
	if side == types.Short {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

func exitSide(side types.Side) gobinance.SideType {
	if side == types.Short {
		return gobinance.SideTypeBuy
	}
	return gobinance.SideTypeSell
}

func formatQuantity(qty float64) string {
	return strconv.FormatFloat(qty, 'f', 6, 64)
}
