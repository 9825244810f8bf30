// File: internal/config/config.go
// ============================================
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinHistory is the number of samples the signal analyzer needs before it
// produces anything other than the default HOLD signal.
const MinHistory = 50

// Config represents the bot configuration
type Config struct {
	Bot struct {
		Symbol          string        `yaml:"symbol"`
		Venue           string        `yaml:"venue"`
		InitialCapital  float64       `yaml:"initial_capital"`
		TargetProfit    float64       `yaml:"target_profit"`
		TickInterval    time.Duration `yaml:"tick_interval"`
		HistoryCapacity int           `yaml:"history_capacity"`
		ExternalTimeout time.Duration `yaml:"external_timeout"`
		SignalBaseSize  float64       `yaml:"signal_base_size"`
		Seed            int64         `yaml:"seed"`
		StartPrice      float64       `yaml:"start_price"`
		BaseVolatility  float64       `yaml:"base_volatility"`
	} `yaml:"bot"`

	Risk struct {
		MaxRiskPerTrade float64 `yaml:"max_risk_per_trade"`
		RiskRewardRatio float64 `yaml:"risk_reward_ratio"`
		MaxDrawdown     float64 `yaml:"max_drawdown"`
		MinBalanceRatio float64 `yaml:"min_balance_ratio"`
	} `yaml:"risk"`

	Entry struct {
		MinConfidence  float64 `yaml:"min_confidence"`
		MinProbability float64 `yaml:"min_probability"`
	} `yaml:"entry"`

	Binance struct {
		APIKey    string  `yaml:"api_key"`
		SecretKey string  `yaml:"secret_key"`
		Testnet   bool    `yaml:"testnet"`
		Interval  string  `yaml:"interval"`
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"binance"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
		Enabled  bool   `yaml:"enabled"`
	} `yaml:"telegram"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSize    int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
}

// Default returns a configuration that passes Validate without any file.
func Default() *Config {
	var c Config
	c.Bot.Symbol = "BTCUSDT"
	c.Bot.Venue = "paper"
	c.Bot.InitialCapital = 10000
	c.Bot.TargetProfit = 500
	c.Bot.TickInterval = 1500 * time.Millisecond
	c.Bot.HistoryCapacity = 200
	c.Bot.ExternalTimeout = 3 * time.Second
	c.Bot.SignalBaseSize = 0.02
	c.Bot.StartPrice = 50000
	c.Bot.BaseVolatility = 0.002

	c.Risk.MaxRiskPerTrade = 0.01
	c.Risk.RiskRewardRatio = 2
	c.Risk.MaxDrawdown = 0.10
	c.Risk.MinBalanceRatio = 0.95

	c.Entry.MinConfidence = 85
	c.Entry.MinProbability = 0.8

	c.Binance.Testnet = true
	c.Binance.Interval = "1m"
	c.Binance.RateLimit = 10

	c.HTTP.Addr = "127.0.0.1:8080"

	c.Log.File = "logs/bot.log"
	c.Log.Level = "info"
	c.Log.MaxSize = 10
	c.Log.MaxBackups = 5
	c.Log.MaxAge = 30
	c.Log.Compress = true
	return &c
}

// Load reads the YAML file at path on top of Default, then applies .env and
// environment overrides. A missing config file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using config values")
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Warning: config %s not found, using defaults", path)
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if apiKey := os.Getenv("BINANCE_API_KEY"); apiKey != "" {
		c.Binance.APIKey = apiKey
	}
	if secretKey := os.Getenv("BINANCE_SECRET_KEY"); secretKey != "" {
		c.Binance.SecretKey = secretKey
	}
	if testnet := os.Getenv("BINANCE_TESTNET"); testnet == "false" {
		c.Binance.Testnet = false
	}
	if botToken := os.Getenv("TELEGRAM_BOT_TOKEN"); botToken != "" {
		c.Telegram.BotToken = botToken
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		c.Telegram.ChatID = chatID
	}
	if venue := os.Getenv("BOT_VENUE"); venue != "" {
		c.Bot.Venue = strings.ToLower(venue)
	}
	if addr := os.Getenv("BOT_HTTP_ADDR"); addr != "" {
		c.HTTP.Addr = addr
	}
	if seed := os.Getenv("BOT_SEED"); seed != "" {
		if v, err := strconv.ParseInt(seed, 10, 64); err == nil {
			c.Bot.Seed = v
		}
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Bot.Symbol == "":
		return errors.New("config: bot.symbol is required")
	case c.Bot.InitialCapital <= 0:
		return fmt.Errorf("config: bot.initial_capital must be positive, got %.2f", c.Bot.InitialCapital)
	case c.Bot.TargetProfit <= 0:
		return fmt.Errorf("config: bot.target_profit must be positive, got %.2f", c.Bot.TargetProfit)
	case c.Bot.TickInterval <= 0:
		return fmt.Errorf("config: bot.tick_interval must be positive, got %s", c.Bot.TickInterval)
	case c.Bot.HistoryCapacity < MinHistory:
		return fmt.Errorf("config: bot.history_capacity must be at least %d, got %d", MinHistory, c.Bot.HistoryCapacity)
	case c.Bot.ExternalTimeout <= 0:
		return fmt.Errorf("config: bot.external_timeout must be positive, got %s", c.Bot.ExternalTimeout)
	case c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade >= 1:
		return fmt.Errorf("config: risk.max_risk_per_trade must be in (0,1), got %.4f", c.Risk.MaxRiskPerTrade)
	}
	switch c.Bot.Venue {
	case "paper", "binance":
	default:
		return fmt.Errorf("config: unknown venue %q", c.Bot.Venue)
	}
	return nil
}
