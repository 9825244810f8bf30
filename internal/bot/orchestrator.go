// File: internal/bot/orchestrator.go
// ============================================
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"smart-trading-bot/internal/broker"
	"smart-trading-bot/internal/logging"
	"smart-trading-bot/internal/position"
	"smart-trading-bot/internal/risk"
	"smart-trading-bot/internal/strategy"
	"smart-trading-bot/pkg/types"
)

var (
	ErrAlreadyRunning  = errors.New("bot is already running")
	ErrTargetReached   = errors.New("target profit already reached, reset required")
	ErrNotRunning      = errors.New("bot is not running")
	ErrCycleInProgress = errors.New("cycle already in progress")
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Notifier receives trading events. Implementations must not block.
type Notifier interface {
	NotifyStart(settings types.BotSettings)
	NotifyStop(status types.BotStatus)
	NotifyPositionOpened(pos types.Position, sig types.Signal)
	NotifyPositionClosed(trade types.Trade, status types.BotStatus)
	NotifyTrailingStop(pos types.Position)
	NotifyTargetReached(status types.BotStatus)
	NotifyError(msg string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyStart(types.BotSettings)                     {}
func (nopNotifier) NotifyStop(types.BotStatus)                        {}
func (nopNotifier) NotifyPositionOpened(types.Position, types.Signal) {}
func (nopNotifier) NotifyPositionClosed(types.Trade, types.BotStatus) {}
func (nopNotifier) NotifyTrailingStop(types.Position)                 {}
func (nopNotifier) NotifyTargetReached(types.BotStatus)               {}
func (nopNotifier) NotifyError(string)                                {}

// Observer is called with a fresh snapshot after every committed change.
type Observer func(types.BotState)

type Option func(*Orchestrator)

func WithClock(c Clock) Option { return func(o *Orchestrator) { o.clock = c } }

func WithLogger(l logging.LoggerInterface) Option { return func(o *Orchestrator) { o.log = l } }

func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// Orchestrator owns the bot state and drives the periodic trading cycle.
//
// Each cycle works on a private copy of the state and commits it at the
// end, so GetState always returns the last fully completed cycle.
type Orchestrator struct {
	opts      Options
	venue     broker.Broker
	fallback  *broker.Generator
	clock     Clock
	log       logging.LoggerInterface
	notifier  Notifier
	observers []Observer

	riskMgr   *risk.Manager
	lifecycle *position.Manager

	mu    sync.RWMutex
	state types.BotState

	// cycleMu serializes cycles with each other and with Start/Stop/Reset.
	// Everything below is only touched while holding it.
	cycleMu   sync.Mutex
	calc      *strategy.IndicatorCalculator
	analyzer  *strategy.SignalAnalyzer
	handles   map[string]broker.OrderHandle
	connected bool

	// ctlMu serializes Start/Stop/Reset and guards the loop handles.
	ctlMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options, venue broker.Broker, fallback *broker.Generator, options ...Option) *Orchestrator {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 1500 * time.Millisecond
	}
	if opts.ExternalTimeout <= 0 {
		opts.ExternalTimeout = 3 * time.Second
	}
	if opts.HistoryCapacity < strategy.MinAnalysisHistory {
		opts.HistoryCapacity = 200
	}
	if fallback == nil {
		fallback = broker.NewGenerator(0, 0, 0)
	}

	riskMgr := risk.NewManager(opts.Limits)
	o := &Orchestrator{
		opts:      opts,
		venue:     venue,
		fallback:  fallback,
		clock:     systemClock{},
		log:       logging.Nop{},
		notifier:  nopNotifier{},
		riskMgr:   riskMgr,
		lifecycle: position.NewManager(opts.Criteria, riskMgr),
		state:     initialState(opts),
		calc:      strategy.NewIndicatorCalculator(opts.HistoryCapacity),
		analyzer:  strategy.NewSignalAnalyzer(opts.SignalBaseSize),
		handles:   make(map[string]broker.OrderHandle),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// GetState returns a deep copy of the last committed state.
func (o *Orchestrator) GetState() types.BotState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return cloneState(o.state)
}

func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Status.IsRunning
}

func (o *Orchestrator) snapshot() types.BotState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return cloneState(o.state)
}

func (o *Orchestrator) commit(s types.BotState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()

	if len(o.observers) == 0 {
		return
	}
	snap := cloneState(s)
	for _, fn := range o.observers {
		fn(snap)
	}
}

// Start reports whether the bot was started.
func (o *Orchestrator) Start() bool {
	if err := o.StartE(); err != nil {
		o.log.Warning("⚠️  Start refused: %v", err)
		return false
	}
	return true
}

func (o *Orchestrator) StartE() error {
	o.ctlMu.Lock()
	defer o.ctlMu.Unlock()

	st := o.snapshot()
	if st.Status.TargetReached {
		return ErrTargetReached
	}
	if st.Status.IsRunning {
		return ErrAlreadyRunning
	}
	// a loop that exited on its own after the target latch
	o.halt()

	o.cycleMu.Lock()
	now := o.clock.Now()
	o.connect(&st, now)
	o.backfill(&st, now)
	st.Status.IsRunning = true
	st.Status.StartedAt = now
	st.Status.LastUpdate = now
	pushAction(&st, newAction(ActionStart, fmt.Sprintf("started on %s (%s)", o.opts.Symbol, o.venueName()), now, nil))
	o.commit(st)
	o.cycleMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	go o.loop(ctx, o.done)

	o.log.Info("🚀 Bot started: %s on %s, tick %s, target %.2f", o.opts.Symbol, o.venueName(), o.opts.TickInterval, o.opts.TargetProfit)
	o.notifier.NotifyStart(st.Config)
	return nil
}

// Stop reports whether a running bot was stopped.
func (o *Orchestrator) Stop() bool {
	if err := o.StopE(); err != nil {
		o.log.Debug("Stop ignored: %v", err)
		return false
	}
	return true
}

// StopE halts the loop, then closes any open position with reason
// "manual stop" before returning.
func (o *Orchestrator) StopE() error {
	o.ctlMu.Lock()
	defer o.ctlMu.Unlock()

	if !o.IsRunning() {
		return ErrNotRunning
	}
	o.halt()

	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	st := o.snapshot()
	if !st.Status.IsRunning {
		// the last cycle latched the target
		return ErrNotRunning
	}
	now := o.clock.Now()
	var events []func()
	if i := openIndex(&st); i >= 0 {
		events = append(events, o.closeAt(context.Background(), &st, i, st.Positions[i].CurrentPrice, position.ReasonManualStop, now)...)
	}
	st.Status.IsRunning = false
	st.Status.LastUpdate = now
	pushAction(&st, newAction(ActionStop, "stopped by request", now, nil))
	o.commit(st)

	for _, ev := range events {
		ev()
	}
	o.log.Info("🛑 Bot stopped. Balance %.2f, profit %.2f", st.Status.CurrentBalance, st.Status.TotalProfit)
	o.notifier.NotifyStop(st.Status)
	return nil
}

// Reset discards all state, including the indicator history, and returns
// to the starting configuration.
func (o *Orchestrator) Reset() {
	o.ctlMu.Lock()
	defer o.ctlMu.Unlock()
	o.halt()

	o.cycleMu.Lock()
	o.calc = strategy.NewIndicatorCalculator(o.opts.HistoryCapacity)
	o.analyzer = strategy.NewSignalAnalyzer(o.opts.SignalBaseSize)
	o.handles = make(map[string]broker.OrderHandle)
	o.commit(initialState(o.opts))
	o.cycleMu.Unlock()

	o.log.Info("🔄 Bot reset to %.2f", o.opts.InitialCapital)
}

// halt cancels the loop goroutine and waits for it. Caller holds ctlMu.
func (o *Orchestrator) halt() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
	o.cancel, o.done = nil, nil
}

func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := o.RunCycle(ctx)
			if errors.Is(err, ErrCycleInProgress) {
				o.log.Debug("⏭️  Previous cycle still running, tick skipped")
			}
			if !o.IsRunning() {
				return
			}
		}
	}
}

// RunCycle runs one trading cycle now. It returns ErrCycleInProgress
// instead of waiting when another cycle holds the state.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if !o.cycleMu.TryLock() {
		return ErrCycleInProgress
	}
	defer o.cycleMu.Unlock()

	if !o.IsRunning() {
		return ErrNotRunning
	}
	return o.cycle(ctx)
}

func (o *Orchestrator) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			o.log.Error("❌ Cycle failed: %v", r)
			st := o.snapshot()
			pushAction(&st, newAction(ActionCycleError, "cycle aborted", o.clock.Now(), err))
			o.commit(st)
		}
	}()

	st := o.snapshot()
	now := o.clock.Now()
	var events []func()

	// 1. target latch
	if st.Status.TotalProfit >= o.opts.TargetProfit {
		events = o.latchTarget(&st, now)
		o.commit(st)
		for _, ev := range events {
			ev()
		}
		return nil
	}

	// 2. market data
	sample := o.fetchSample(ctx, &st, now)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// 3. indicators, signal, risk
	ind := o.calc.Update(sample)
	history := o.calc.History()
	sig := o.analyzer.Analyze(history)
	snap := o.riskMgr.Evaluate(ind, risk.MarketData{Change24h: windowChange(history)}, st.Status.CurrentBalance, o.opts.MaxRiskPerTrade)

	prevLabel := types.Label("")
	if st.LatestSignal != nil {
		prevLabel = st.LatestSignal.Label
	}
	st.LatestSample = &sample
	st.LatestIndicators = &ind
	st.LatestSignal = &sig
	st.RiskSnapshot = &snap
	if sig.Label != prevLabel {
		pushAction(&st, newAction(ActionAnalysis, fmt.Sprintf("%s %s confidence %.0f%% risk %s", sig.Label, sig.Direction, sig.Confidence, sig.RiskLevel), now, nil))
	}
	o.log.Debug("📊 %s %.4f | RSI %.1f | %s (%.0f%%) | market risk %s", o.opts.Symbol, sample.Price, ind.RSI, sig.Label, sig.Confidence, snap.Market.Level)

	// 4. manage the open position
	if i := openIndex(&st); i >= 0 {
		pos := &st.Positions[i]
		if o.lifecycle.Update(pos, sample.Price) {
			moved := *pos
			pushAction(&st, newAction(ActionTrailStop, fmt.Sprintf("%s stop trailed to %.4f", pos.Side, pos.StopLoss), now, nil))
			events = append(events, func() { o.notifier.NotifyTrailingStop(moved) })
		}
		if shouldClose, reason := o.lifecycle.ShouldClose(*pos, sig, now); shouldClose {
			events = append(events, o.closeAt(ctx, &st, i, sample.Price, reason, now)...)
		}
	}

	// 5. maybe open
	if openIndex(&st) < 0 {
		events = append(events, o.maybeOpen(ctx, &st, sig, snap, now)...)
	}

	// 6. metrics
	updateMetrics(&st)
	st.Status.CycleCount++
	st.Status.LastUpdate = now
	o.commit(st)

	for _, ev := range events {
		ev()
	}
	return nil
}

func (o *Orchestrator) latchTarget(st *types.BotState, now time.Time) []func() {
	var events []func()
	if i := openIndex(st); i >= 0 {
		price := st.Positions[i].CurrentPrice
		if st.LatestSample != nil {
			price = st.LatestSample.Price
		}
		events = o.closeAt(context.Background(), st, i, price, position.ReasonTargetReached, now)
	}
	st.Status.TargetReached = true
	st.Status.IsRunning = false
	st.Status.LastUpdate = now
	pushAction(st, newAction(ActionTargetReached, fmt.Sprintf("profit %.2f reached target %.2f", st.Status.TotalProfit, o.opts.TargetProfit), now, nil))

	status := st.Status
	o.log.Info("🎯 Target reached: profit %.2f >= %.2f, stopping", status.TotalProfit, o.opts.TargetProfit)
	return append(events, func() { o.notifier.NotifyTargetReached(status) })
}

func (o *Orchestrator) fetchSample(ctx context.Context, st *types.BotState, now time.Time) types.PriceSample {
	if o.venue != nil {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.ExternalTimeout)
		sample, err := o.venue.GetLatestSample(callCtx, o.opts.Symbol)
		cancel()
		if err == nil && sample.Price > 0 {
			if sample.Timestamp.IsZero() {
				sample.Timestamp = now
			}
			return sample
		}
		if err == nil {
			err = fmt.Errorf("%w: empty sample", broker.ErrUnavailable)
		}
		o.log.Warning("⚠️  Market data from %s failed, using synthetic data: %v", o.venueName(), err)
		pushAction(st, newAction(ActionDataFallback, "synthetic sample used", now, err))
	}
	// continue the walk from the last known price
	if st.LatestSample != nil {
		o.fallback.Anchor(st.LatestSample.Price)
	} else if h := o.calc.History(); len(h) > 0 {
		o.fallback.Anchor(h[len(h)-1].Price)
	}
	return o.fallback.Next(now)
}

func (o *Orchestrator) maybeOpen(ctx context.Context, st *types.BotState, sig types.Signal, snap types.RiskSnapshot, now time.Time) []func() {
	ok, unmet := o.lifecycle.CanOpen(sig, st.Status, st.Positions, o.calc.Len())
	if !ok {
		reason := strings.Join(unmet, "; ")
		o.log.Debug("⛔ Not opening: %s", reason)
		if sig.Label == types.StrongBuy || sig.Label == types.StrongSell {
			pushAction(st, newAction(ActionOpenRejected, fmt.Sprintf("%s rejected: %s", sig.Label, reason), now, nil))
		}
		return nil
	}

	pos := o.lifecycle.Open(sig, o.opts.Symbol, snap.SizeMultiplier, now)
	var events []func()

	if o.venue != nil {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.ExternalTimeout)
		h, err := o.venue.Place(callCtx, broker.Order{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Quantity:   pos.Quantity,
			Price:      pos.EntryPrice,
			StopLoss:   pos.StopLoss,
			TakeProfit: pos.TakeProfit,
			ClientID:   pos.ID,
		})
		cancel()
		if err != nil {
			o.log.Warning("⚠️  Order placement failed, position kept in simulation: %v", err)
			pushAction(st, newAction(ActionOrderFailed, fmt.Sprintf("place %s %.6f %s", pos.Side, pos.Quantity, pos.Symbol), now, err))
			msg := fmt.Sprintf("Order placement failed for %s: %v", pos.Symbol, err)
			events = append(events, func() { o.notifier.NotifyError(msg) })
		} else {
			pos.BrokerTicket = h.Ticket
			o.handles[pos.ID] = h
		}
	}

	st.Positions = append(st.Positions, pos)
	pushAction(st, newAction(ActionOpenPosition, fmt.Sprintf("%s %.6f %s @ %.4f stop %.4f target %.4f", pos.Side, pos.Quantity, pos.Symbol, pos.EntryPrice, pos.StopLoss, pos.TakeProfit), now, nil))
	o.log.Info("📈 Opened %s %s qty %.6f @ %.4f | SL %.4f | TP %.4f", pos.Side, pos.Symbol, pos.Quantity, pos.EntryPrice, pos.StopLoss, pos.TakeProfit)

	opened := pos
	return append(events, func() { o.notifier.NotifyPositionOpened(opened, sig) })
}

// closeAt closes the position at index i at price and records the trade.
// The position transitions even if the venue rejects the close.
func (o *Orchestrator) closeAt(ctx context.Context, st *types.BotState, i int, price float64, reason string, now time.Time) []func() {
	pos := &st.Positions[i]
	trade := o.lifecycle.Close(pos, price, reason, now)
	var events []func()

	if h, ok := o.handles[pos.ID]; ok && o.venue != nil {
		callCtx, cancel := context.WithTimeout(ctx, o.opts.ExternalTimeout)
		closed, err := o.venue.Close(callCtx, h)
		cancel()
		if err == nil && !closed {
			err = broker.ErrOrderRejected
		}
		if err != nil {
			o.log.Warning("⚠️  Venue close failed for %s: %v", h.Ticket, err)
			pushAction(st, newAction(ActionOrderFailed, "close "+h.Ticket, now, err))
		}
		delete(o.handles, pos.ID)
	}

	recordTrade(st, trade)
	pushAction(st, newAction(ActionClosePosition, fmt.Sprintf("%s %s closed @ %.4f: %s, P&L %.2f", trade.Side, trade.Symbol, trade.ExitPrice, reason, trade.Profit), now, nil))

	emoji := "✅"
	if trade.Profit < 0 {
		emoji = "❌"
	}
	o.log.Info("%s Closed %s %s @ %.4f (%s) P&L %.2f | balance %.2f", emoji, trade.Side, trade.Symbol, trade.ExitPrice, reason, trade.Profit, st.Status.CurrentBalance)

	status := st.Status
	return append(events, func() { o.notifier.NotifyPositionClosed(trade, status) })
}

// connect opens the venue session once. Failure is not fatal.
func (o *Orchestrator) connect(st *types.BotState, now time.Time) {
	if o.venue == nil || o.connected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.ExternalTimeout)
	defer cancel()

	info, err := o.venue.Connect(ctx)
	if err != nil {
		o.log.Warning("⚠️  Could not connect to %s, running on simulated fills: %v", o.venueName(), err)
		pushAction(st, newAction(ActionConnect, "connect "+o.venueName(), now, err))
		return
	}
	o.connected = true
	pushAction(st, newAction(ActionConnect, fmt.Sprintf("connected to %s, balance %.2f %s", info.Venue, info.Balance, info.Currency), now, nil))
}

// backfill seeds an empty indicator window from the venue's history, or
// from the synthetic generator when the venue has none.
func (o *Orchestrator) backfill(st *types.BotState, now time.Time) {
	if o.calc.Len() > 0 {
		return
	}
	limit := strategy.MinAnalysisHistory

	if hp, ok := o.venue.(broker.HistoryProvider); ok {
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.ExternalTimeout)
		samples, err := hp.GetHistory(ctx, o.opts.Symbol, limit)
		cancel()
		if err == nil && len(samples) > 0 {
			o.calc.Seed(samples)
			pushAction(st, newAction(ActionBackfill, fmt.Sprintf("loaded %d samples from %s", len(samples), o.venueName()), now, nil))
			o.log.Info("📥 Loaded %d historical samples", len(samples))
			return
		}
		if err == nil {
			err = fmt.Errorf("%w: empty history", broker.ErrUnavailable)
		}
		pushAction(st, newAction(ActionBackfill, "history from "+o.venueName(), now, err))
		o.log.Warning("⚠️  History backfill failed: %v", err)
	}

	o.calc.Seed(o.fallback.Series(limit, now.Add(-o.opts.TickInterval), o.opts.TickInterval))
	o.log.Info("📥 Seeded %d synthetic samples", limit)
}

func (o *Orchestrator) venueName() string {
	if o.venue == nil {
		return "simulation"
	}
	return o.venue.Name()
}

// windowChange is the percent move across the indicator window, used as
// the 24h change proxy.
func windowChange(history []types.PriceSample) float64 {
	if len(history) < 2 || history[0].Price == 0 {
		return 0
	}
	first, last := history[0].Price, history[len(history)-1].Price
	return (last - first) / first * 100
}
