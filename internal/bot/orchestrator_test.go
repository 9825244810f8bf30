package bot

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"smart-trading-bot/internal/broker"
	"smart-trading-bot/internal/position"
	"smart-trading-bot/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeVenue struct {
	mu            sync.Mutex
	price         float64
	history       []types.PriceSample
	latest        *types.PriceSample
	sampleErr     error
	placeErr      error
	closeErr      error
	panicOnSample bool
	placed        int
	closed        int
}

func (v *fakeVenue) Name() string { return "fake" }

func (v *fakeVenue) Connect(ctx context.Context) (broker.AccountInfo, error) {
	return broker.AccountInfo{Venue: "fake", Currency: "USDT", Balance: 10000, Connected: true}, nil
}

func (v *fakeVenue) GetAccountInfo(ctx context.Context) (broker.AccountInfo, error) {
	return v.Connect(ctx)
}

func (v *fakeVenue) GetLatestSample(ctx context.Context, symbol string) (types.PriceSample, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.panicOnSample {
		panic("feed exploded")
	}
	if v.sampleErr != nil {
		return types.PriceSample{}, v.sampleErr
	}
	if v.latest != nil {
		return *v.latest, nil
	}
	return types.PriceSample{Price: v.price, Volume: 1000}, nil
}

func (v *fakeVenue) GetHistory(ctx context.Context, symbol string, limit int) ([]types.PriceSample, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.history != nil {
		return append([]types.PriceSample{}, v.history[max(0, len(v.history)-limit):]...), nil
	}
	out := make([]types.PriceSample, limit)
	for i := range out {
		out[i] = types.PriceSample{Price: 100, Volume: 1000}
	}
	return out, nil
}

func (v *fakeVenue) Place(ctx context.Context, order broker.Order) (broker.OrderHandle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placed++
	if v.placeErr != nil {
		return broker.OrderHandle{}, v.placeErr
	}
	return broker.OrderHandle{Ticket: "fake-ticket", Symbol: order.Symbol, Side: order.Side, Quantity: order.Quantity}, nil
}

func (v *fakeVenue) Close(ctx context.Context, h broker.OrderHandle) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closeErr != nil {
		return false, v.closeErr
	}
	v.closed++
	return true, nil
}

func (v *fakeVenue) set(fn func(v *fakeVenue)) {
	v.mu.Lock()
	fn(v)
	v.mu.Unlock()
}

func testOptions() Options {
	return Options{
		Symbol:          "BTCUSDT",
		Venue:           "fake",
		InitialCapital:  10000,
		TargetProfit:    500,
		TickInterval:    time.Hour,
		ExternalTimeout: time.Second,
		HistoryCapacity: 200,
		MaxRiskPerTrade: 0.01,
		SignalBaseSize:  0.02,
		Criteria:        position.DefaultCriteria(),
	}
}

func newTestBot(t *testing.T) (*Orchestrator, *fakeVenue, *fakeClock) {
	t.Helper()
	venue := &fakeVenue{price: 100}
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	o := New(testOptions(), venue, broker.NewGenerator(1, 100, 0.001), WithClock(clock))
	t.Cleanup(o.Reset)
	return o, venue, clock
}

// mutate edits the committed state directly.
func mutate(o *Orchestrator, fn func(s *types.BotState)) {
	o.mu.Lock()
	fn(&o.state)
	o.mu.Unlock()
}

func injectLong(o *Orchestrator, clock *fakeClock) {
	mutate(o, func(s *types.BotState) {
		s.Positions = append(s.Positions, types.Position{
			ID:               "p1",
			Symbol:           "BTCUSDT",
			Side:             types.Long,
			EntryPrice:       100,
			CurrentPrice:     100,
			Quantity:         1,
			InitialStopLoss:  95,
			StopLoss:         95,
			TakeProfit:       115,
			OpenedAt:         clock.Now(),
			TimeframeMinutes: 45,
			Status:           types.PositionOpen,
			BrokerTicket:     "fake-ticket",
		})
	})
	o.handles["p1"] = broker.OrderHandle{Ticket: "fake-ticket"}
}

func countOpen(s types.BotState) int { return len(s.OpenPositions()) }

func TestStopWhenNotRunningIsNoop(t *testing.T) {
	o, _, _ := newTestBot(t)
	before := o.GetState()

	if o.Stop() {
		t.Fatalf("Stop on idle bot returned true")
	}
	if err := o.StopE(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("StopE error = %v, want ErrNotRunning", err)
	}
	if !reflect.DeepEqual(before, o.GetState()) {
		t.Fatalf("state mutated by idle Stop")
	}
}

func TestStartTwiceFails(t *testing.T) {
	o, _, _ := newTestBot(t)
	if !o.Start() {
		t.Fatalf("first Start failed")
	}
	if err := o.StartE(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
	if !o.Stop() {
		t.Fatalf("Stop on running bot returned false")
	}
	if o.Stop() {
		t.Fatalf("second Stop returned true")
	}
}

func TestStartBackfillsHistory(t *testing.T) {
	o, _, _ := newTestBot(t)
	o.Start()

	if o.calc.Len() < position.DefaultCriteria().MinHistory {
		t.Fatalf("history after start = %d", o.calc.Len())
	}
	var kinds []string
	for _, a := range o.GetState().ActionLog {
		kinds = append(kinds, a.Type)
	}
	want := []string{ActionStart, ActionBackfill, ActionConnect}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("action log = %v, want %v", kinds, want)
	}
}

func TestResetRestoresInitialState(t *testing.T) {
	o, venue, _ := newTestBot(t)
	fresh := o.GetState()

	o.Start()
	for i := 0; i < 5; i++ {
		venue.set(func(v *fakeVenue) { v.price = 100 + float64(i) })
		if err := o.RunCycle(context.Background()); err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	}
	o.Stop()
	o.Reset()

	if !reflect.DeepEqual(fresh, o.GetState()) {
		t.Fatalf("state after reset differs from initial:\n%+v\n%+v", fresh, o.GetState())
	}
	if o.calc.Len() != 0 {
		t.Fatalf("indicator history survived reset")
	}
}

func TestCycleClosesAboveTargetAtTickPrice(t *testing.T) {
	o, venue, clock := newTestBot(t)
	o.Start()
	injectLong(o, clock)

	venue.set(func(v *fakeVenue) { v.price = 120 })
	clock.Advance(time.Minute)
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	s := o.GetState()
	if len(s.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(s.Trades))
	}
	tr := s.Trades[0]
	if tr.Reason != position.ReasonStopTarget || tr.ExitPrice != 120 || math.Abs(tr.Profit-20) > 1e-9 {
		t.Fatalf("trade = %+v", tr)
	}
	if s.Status.CurrentBalance != 10020 || s.Status.TotalProfit != s.Status.CurrentBalance-s.Status.InitialCapital {
		t.Fatalf("status = %+v", s.Status)
	}
	if s.Status.TradeCount != 1 || s.Status.WinCount != 1 || s.Status.WinRate != 100 {
		t.Fatalf("metrics = %+v", s.Status)
	}
	if venue.closed != 1 {
		t.Fatalf("venue close calls = %d", venue.closed)
	}
	if countOpen(s) > 1 {
		t.Fatalf("more than one open position")
	}
}

func TestCycleClosesOnTimeLimit(t *testing.T) {
	o, venue, clock := newTestBot(t)
	o.Start()
	injectLong(o, clock)

	venue.set(func(v *fakeVenue) { v.price = 100.5 })
	clock.Advance(46 * time.Minute)
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	s := o.GetState()
	if len(s.Trades) != 1 || s.Trades[0].Reason != position.ReasonTimeLimit {
		t.Fatalf("trades = %+v", s.Trades)
	}
	if math.Abs(s.Trades[0].Profit-0.5) > 1e-9 {
		t.Fatalf("profit = %f, want 0.5", s.Trades[0].Profit)
	}
}

func TestStopClosesOpenPosition(t *testing.T) {
	o, _, clock := newTestBot(t)
	o.Start()
	injectLong(o, clock)
	mutate(o, func(s *types.BotState) { s.Positions[0].CurrentPrice = 98 })

	if !o.Stop() {
		t.Fatalf("Stop returned false")
	}
	s := o.GetState()
	if s.Status.IsRunning || countOpen(s) != 0 {
		t.Fatalf("bot still running or position open: %+v", s.Status)
	}
	if len(s.Trades) != 1 || s.Trades[0].Reason != position.ReasonManualStop || s.Trades[0].Profit != -2 {
		t.Fatalf("trades = %+v", s.Trades)
	}
	if s.Status.CurrentBalance != 9998 {
		t.Fatalf("balance = %f", s.Status.CurrentBalance)
	}
}

func TestTargetLatch(t *testing.T) {
	o, _, clock := newTestBot(t)
	o.Start()
	injectLong(o, clock)
	mutate(o, func(s *types.BotState) {
		s.Status.CurrentBalance = 10600
		updateMetrics(s)
		s.LatestSample = &types.PriceSample{Price: 102}
	})

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	s := o.GetState()
	if !s.Status.TargetReached || s.Status.IsRunning {
		t.Fatalf("latch not applied: %+v", s.Status)
	}
	if countOpen(s) != 0 || s.Trades[len(s.Trades)-1].Reason != position.ReasonTargetReached {
		t.Fatalf("open position not closed on latch: %+v", s.Trades)
	}
	if s.ActionLog[0].Type != ActionTargetReached {
		t.Fatalf("newest action = %s", s.ActionLog[0].Type)
	}

	for i := 0; i < 3; i++ {
		if o.Start() {
			t.Fatalf("Start succeeded after target latch")
		}
	}
	if err := o.StartE(); !errors.Is(err, ErrTargetReached) {
		t.Fatalf("StartE error = %v", err)
	}
	if o.Stop() {
		t.Fatalf("Stop after latch returned true")
	}

	o.Reset()
	if !o.Start() {
		t.Fatalf("Start after Reset failed")
	}
	o.Stop()
}

func TestDataFallbackIsNonFatal(t *testing.T) {
	o, venue, _ := newTestBot(t)
	o.Start()
	venue.set(func(v *fakeVenue) { v.sampleErr = broker.ErrUnavailable })

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	s := o.GetState()
	if s.LatestSample == nil || s.Status.CycleCount != 1 {
		t.Fatalf("cycle did not complete: %+v", s.Status)
	}
	found := false
	for _, a := range s.ActionLog {
		if a.Type == ActionDataFallback {
			found = true
			if a.Success || a.Error == "" {
				t.Fatalf("fallback action = %+v", a)
			}
		}
	}
	if !found {
		t.Fatalf("no %s action", ActionDataFallback)
	}
}

func TestVenueCloseFailureStillRecordsTrade(t *testing.T) {
	o, venue, clock := newTestBot(t)
	o.Start()
	injectLong(o, clock)
	venue.set(func(v *fakeVenue) {
		v.price = 90
		v.closeErr = errors.New("venue down")
	})

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	s := o.GetState()
	if len(s.Trades) != 1 || s.Trades[0].Profit != -10 {
		t.Fatalf("trades = %+v", s.Trades)
	}
	failed := false
	for _, a := range s.ActionLog {
		if a.Type == ActionOrderFailed && !a.Success {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("order failure not logged")
	}
}

func TestCyclePanicIsRecovered(t *testing.T) {
	o, venue, _ := newTestBot(t)
	o.Start()
	venue.set(func(v *fakeVenue) { v.panicOnSample = true })

	if err := o.RunCycle(context.Background()); err == nil {
		t.Fatalf("expected error from panicking cycle")
	}
	s := o.GetState()
	if !s.Status.IsRunning {
		t.Fatalf("panic stopped the bot")
	}
	if s.ActionLog[0].Type != ActionCycleError || s.ActionLog[0].Success {
		t.Fatalf("newest action = %+v", s.ActionLog[0])
	}

	venue.set(func(v *fakeVenue) { v.panicOnSample = false })
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("next cycle failed: %v", err)
	}
}

func TestRunCycleSkipsWhenBusy(t *testing.T) {
	o, _, _ := newTestBot(t)
	o.Start()

	o.cycleMu.Lock()
	err := o.RunCycle(context.Background())
	o.cycleMu.Unlock()
	if !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("RunCycle error = %v, want ErrCycleInProgress", err)
	}
}

func TestRunCycleRequiresRunning(t *testing.T) {
	o, _, _ := newTestBot(t)
	if err := o.RunCycle(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("RunCycle error = %v, want ErrNotRunning", err)
	}
}

func TestGetStateReturnsCopy(t *testing.T) {
	o, _, clock := newTestBot(t)
	o.Start()
	injectLong(o, clock)

	s := o.GetState()
	s.Positions[0].StopLoss = 1
	s.ActionLog[0].Details = "changed"
	if o.GetState().Positions[0].StopLoss != 95 || o.GetState().ActionLog[0].Details == "changed" {
		t.Fatalf("GetState leaked internal slices")
	}
}

func TestObserverSeesCommits(t *testing.T) {
	venue := &fakeVenue{price: 100}
	var mu sync.Mutex
	var seen []bool
	o := New(testOptions(), venue, broker.NewGenerator(1, 100, 0.001), WithObserver(func(s types.BotState) {
		mu.Lock()
		seen = append(seen, s.Status.IsRunning)
		mu.Unlock()
	}))
	defer o.Reset()

	o.Start()
	o.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Fatalf("observer saw %v, want [true false]", seen)
	}
}

func TestLoopRunsCycles(t *testing.T) {
	venue := &fakeVenue{price: 100}
	opts := testOptions()
	opts.TickInterval = 5 * time.Millisecond
	o := New(opts, venue, broker.NewGenerator(1, 100, 0.001))
	defer o.Reset()

	o.Start()
	deadline := time.Now().Add(2 * time.Second)
	for o.GetState().Status.CycleCount < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not run cycles")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !o.Stop() {
		t.Fatalf("Stop failed")
	}
	count := o.GetState().Status.CycleCount
	time.Sleep(20 * time.Millisecond)
	if o.GetState().Status.CycleCount != count {
		t.Fatalf("cycles ran after Stop")
	}
}

// scriptTrend feeds the venue a steady zigzag trend: MinHistory samples of
// backfill and a final trend step on a volume spike as the next sample.
func scriptTrend(v *fakeVenue, end time.Time, bullish bool) types.PriceSample {
	n := position.DefaultCriteria().MinHistory + 1
	dir := 1.0
	if !bullish {
		dir = -1
	}
	samples := make([]types.PriceSample, n)
	price := 100.0
	for i := range samples {
		if i > 0 {
			if (n-1-i)%2 == 0 {
				price *= 1 + dir*0.003
			} else {
				price *= 1 - dir*0.0015
			}
		}
		s := types.PriceSample{Price: price, Volume: 1000, High: price * 1.001, Low: price * 0.999,
			Timestamp: end.Add(-time.Duration(n-1-i) * time.Minute)}
		if bullish {
			s.High = price * 1.004
		} else {
			s.Low = price * 0.996
		}
		samples[i] = s
	}
	samples[n-1].Volume = 5000

	v.set(func(v *fakeVenue) {
		v.history = samples[:n-1]
		v.latest = &samples[n-1]
	})
	return samples[n-1]
}

func findAction(s types.BotState, kind string) (types.ActionEntry, bool) {
	for _, a := range s.ActionLog {
		if a.Type == kind {
			return a, true
		}
	}
	return types.ActionEntry{}, false
}

func TestCycleOpensFromStrongSignal(t *testing.T) {
	tests := []struct {
		name       string
		bullish    bool
		placeErr   error
		wantLabel  types.Label
		wantSide   types.Side
		wantTicket string
	}{
		{"long gets broker ticket", true, nil, types.StrongBuy, types.Long, "fake-ticket"},
		{"short gets broker ticket", false, nil, types.StrongSell, types.Short, "fake-ticket"},
		{"placement failure keeps simulated position", true, errors.New("venue down"), types.StrongBuy, types.Long, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, venue, clock := newTestBot(t)
			last := scriptTrend(venue, clock.Now(), tt.bullish)
			venue.set(func(v *fakeVenue) { v.placeErr = tt.placeErr })
			o.Start()

			if err := o.RunCycle(context.Background()); err != nil {
				t.Fatalf("RunCycle: %v", err)
			}
			s := o.GetState()
			sig := s.LatestSignal
			if sig == nil || sig.Label != tt.wantLabel || sig.Confidence < 85 {
				t.Fatalf("signal = %+v", sig)
			}

			open := s.OpenPositions()
			if len(open) != 1 {
				t.Fatalf("open positions = %d, want 1", len(open))
			}
			pos := open[0]
			if pos.Side != tt.wantSide || pos.EntryPrice != last.Price || pos.Quantity <= 0 {
				t.Fatalf("position = %+v", pos)
			}
			if pos.StopLoss != sig.StopLoss || pos.TakeProfit != sig.TakeProfit || pos.TimeframeMinutes != sig.TimeframeMinutes {
				t.Fatalf("position levels %+v do not follow signal %+v", pos, sig)
			}
			if pos.BrokerTicket != tt.wantTicket {
				t.Fatalf("broker ticket = %q, want %q", pos.BrokerTicket, tt.wantTicket)
			}
			if _, tracked := o.handles[pos.ID]; tracked != (tt.placeErr == nil) {
				t.Fatalf("order handle tracked = %v", tracked)
			}
			if venue.placed != 1 {
				t.Fatalf("venue place calls = %d, want 1", venue.placed)
			}
			if _, ok := findAction(s, ActionOpenPosition); !ok {
				t.Fatalf("no %s action", ActionOpenPosition)
			}

			failed, ok := findAction(s, ActionOrderFailed)
			if tt.placeErr == nil {
				if ok {
					t.Fatalf("unexpected order failure: %+v", failed)
				}
				return
			}
			if !ok || failed.Success || failed.Error != tt.placeErr.Error() {
				t.Fatalf("order failure action = %+v", failed)
			}
		})
	}
}

func TestCycleDoesNotOpenOnRejectedSignal(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(o *Orchestrator, clock *fakeClock)
		wantRejected string
		wantOpenID   string
	}{
		{
			name: "drawdown limit",
			setup: func(o *Orchestrator, _ *fakeClock) {
				mutate(o, func(s *types.BotState) { s.Status.MaxDrawdown = 0.5 })
			},
			wantRejected: "STRONG_BUY rejected: drawdown",
		},
		{
			name: "balance floor",
			setup: func(o *Orchestrator, _ *fakeClock) {
				mutate(o, func(s *types.BotState) { s.Status.CurrentBalance = 100 })
			},
			wantRejected: "STRONG_BUY rejected: balance",
		},
		{
			name:       "position already open",
			setup:      injectLong,
			wantOpenID: "p1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, venue, clock := newTestBot(t)
			scriptTrend(venue, clock.Now(), true)
			o.Start()
			tt.setup(o, clock)

			if err := o.RunCycle(context.Background()); err != nil {
				t.Fatalf("RunCycle: %v", err)
			}
			s := o.GetState()
			if s.LatestSignal == nil || s.LatestSignal.Label != types.StrongBuy {
				t.Fatalf("signal = %+v", s.LatestSignal)
			}
			if venue.placed != 0 {
				t.Fatalf("venue place calls = %d, want 0", venue.placed)
			}
			if a, ok := findAction(s, ActionOpenPosition); ok {
				t.Fatalf("unexpected open: %+v", a)
			}

			open := s.OpenPositions()
			if tt.wantOpenID != "" {
				if len(open) != 1 || open[0].ID != tt.wantOpenID {
					t.Fatalf("open positions = %+v", open)
				}
				return
			}
			if len(open) != 0 {
				t.Fatalf("open positions = %+v", open)
			}
			rejected, ok := findAction(s, ActionOpenRejected)
			if !ok || !strings.HasPrefix(rejected.Details, tt.wantRejected) {
				t.Fatalf("rejection action = %+v, want prefix %q", rejected, tt.wantRejected)
			}
		})
	}
}

func TestFallbackContinuesFromLastPrice(t *testing.T) {
	o, venue, _ := newTestBot(t)
	venue.set(func(v *fakeVenue) { v.price = 250 })
	o.Start()
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	venue.set(func(v *fakeVenue) { v.sampleErr = broker.ErrUnavailable })
	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	s := o.GetState()
	if p := s.LatestSample.Price; p < 245 || p > 255 {
		t.Fatalf("fallback sample %f did not continue from 250", p)
	}
}
