// File: cmd/bot/main.go
// ============================================
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"smart-trading-bot/internal/api"
	"smart-trading-bot/internal/binance"
	"smart-trading-bot/internal/bot"
	"smart-trading-bot/internal/broker"
	"smart-trading-bot/internal/config"
	"smart-trading-bot/internal/dashboard"
	"smart-trading-bot/internal/logging"
	"smart-trading-bot/internal/telegram"
	"smart-trading-bot/pkg/types"
)

const statusEvery = 20

func newVenue(cfg *config.Config, logger logging.LoggerInterface) broker.Broker {
	if cfg.Bot.Venue == "binance" {
		return binance.NewClient(binance.Options{
			APIKey:    cfg.Binance.APIKey,
			SecretKey: cfg.Binance.SecretKey,
			Testnet:   cfg.Binance.Testnet,
			Interval:  cfg.Binance.Interval,
			RateLimit: cfg.Binance.RateLimit,
		}, logger)
	}
	gen := broker.NewGenerator(cfg.Bot.Seed, cfg.Bot.StartPrice, cfg.Bot.BaseVolatility)
	return broker.NewPaper(gen, cfg.Bot.InitialCapital, cfg.Bot.TickInterval)
}

// displayStatus logs a summary line every statusEvery cycles.
func displayStatus(logger logging.LoggerInterface) bot.Observer {
	return func(s types.BotState) {
		if s.Status.CycleCount == 0 || s.Status.CycleCount%statusEvery != 0 {
			return
		}
		logger.Info("%s", strings.Repeat("=", 60))
		logger.Info("📊 Cycle %d | Balance: $%.2f | PnL: %.2f / %.2f",
			s.Status.CycleCount, s.Status.CurrentBalance, s.Status.TotalProfit, s.Status.TargetProfit)
		logger.Info("💼 Trades: %d | Win rate: %.1f%% | Max drawdown: %.2f%% | Open: %d",
			s.Status.TradeCount, s.Status.WinRate, s.Status.MaxDrawdown*100, len(s.OpenPositions()))
		if s.LatestSignal != nil {
			logger.Info("🧭 Signal: %s (%.0f%%)", s.LatestSignal.Label, s.LatestSignal.Confidence)
		}
		logger.Info("%s", strings.Repeat("=", 60))
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log.File, cfg.Log.MaxSize, cfg.Log.MaxBackups,
		cfg.Log.MaxAge, cfg.Log.Compress, logging.ParseLevel(cfg.Log.Level))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("🚀 Smart Trading Bot starting")
	logger.Info("⚙️  Config: %s on %s, capital $%.2f, target +$%.2f, tick %s",
		cfg.Bot.Symbol, cfg.Bot.Venue, cfg.Bot.InitialCapital, cfg.Bot.TargetProfit, cfg.Bot.TickInterval)
	logger.Info("📈 Entry: confidence ≥ %.0f, probability ≥ %.2f | Risk: %.1f%% per trade, RR 1:%.1f",
		cfg.Entry.MinConfidence, cfg.Entry.MinProbability, cfg.Risk.MaxRiskPerTrade*100, cfg.Risk.RiskRewardRatio)

	notifier := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.Enabled, logger)
	if !notifier.Enabled() {
		logger.Warning("⚠️ Telegram notifications disabled")
	}
	hub := dashboard.NewHub(logger)

	fallback := broker.NewGenerator(cfg.Bot.Seed, cfg.Bot.StartPrice, cfg.Bot.BaseVolatility)
	orch := bot.New(bot.OptionsFromConfig(cfg), newVenue(cfg, logger), fallback,
		bot.WithLogger(logger),
		bot.WithNotifier(notifier),
		bot.WithObserver(hub.Publish),
		bot.WithObserver(displayStatus(logger)),
	)

	server := api.NewServer(cfg.HTTP.Addr, orch, logger)
	server.Handle("GET /ws", hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })

	notifyCtx, stopNotifier := context.WithCancel(context.Background())
	g.Go(func() error { return notifier.Run(notifyCtx) })

	if err := orch.StartE(); err != nil {
		logger.Error("❌ Failed to start bot: %v", err)
	}

	<-gctx.Done()
	logger.Info("🛑 Shutting down")
	if err := orch.StopE(); err != nil && !errors.Is(err, bot.ErrNotRunning) {
		logger.Warning("⚠️ Stop: %v", err)
	}
	stopNotifier()

	if err := g.Wait(); err != nil {
		logger.Error("❌ %v", err)
		os.Exit(1)
	}
	logger.Info("👋 Bye")
}
