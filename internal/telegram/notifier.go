// File: internal/telegram/notifier.go
// ============================================
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smart-trading-bot/internal/logging"
	"smart-trading-bot/pkg/types"
)

const (
	defaultAPIURL = "https://api.telegram.org"
	queueSize     = 64
)

// Notifier pushes trading events to a Telegram chat. Notify methods only
// enqueue; Run delivers the messages.
type Notifier struct {
	botToken string
	chatID   string
	enabled  bool
	apiURL   string
	client   *http.Client
	logger   logging.LoggerInterface
	queue    chan string
}

func NewNotifier(botToken, chatID string, enabled bool, logger logging.LoggerInterface) *Notifier {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		enabled:  enabled && botToken != "" && chatID != "",
		apiURL:   defaultAPIURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		queue:    make(chan string, queueSize),
	}
}

// Enabled reports whether messages are actually sent.
func (n *Notifier) Enabled() bool { return n.enabled }

// Run sends queued messages until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.queue:
			if err := n.sendMessage(ctx, msg); err != nil {
				n.logger.Warning("Telegram delivery failed: %v", err)
			}
		}
	}
}

func (n *Notifier) enqueue(msg string) {
	if !n.enabled {
		n.logger.Debug("Telegram disabled, dropping: %s", firstLine(msg))
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.logger.Warning("⚠️ Telegram queue full, dropping: %s", firstLine(msg))
	}
}

func (n *Notifier) sendMessage(ctx context.Context, message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.botToken)

	data := url.Values{}
	data.Set("chat_id", n.chatID)
	data.Set("text", message)
	data.Set("parse_mode", "HTML")
	data.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram API error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error (%d): %s", resp.StatusCode, string(body))
	}

	n.logger.Debug("✅ Telegram message sent")
	return nil
}

func (n *Notifier) NotifyStart(settings types.BotSettings) {
	msg := "🤖 <b>Trading Bot Started</b>\n\n"
	msg += fmt.Sprintf("Symbol: <b>%s</b>\n", settings.Symbol)
	msg += fmt.Sprintf("Venue: %s\n", settings.Venue)
	msg += fmt.Sprintf("Capital: $%.2f\n", settings.InitialCapital)
	msg += fmt.Sprintf("Target: +$%.2f", settings.TargetProfit)
	n.enqueue(msg)
}

func (n *Notifier) NotifyStop(status types.BotStatus) {
	msg := "🛑 <b>Trading Bot Stopped</b>\n\n"
	msg += statusLines(status)
	n.enqueue(msg)
}

func (n *Notifier) NotifyPositionOpened(pos types.Position, sig types.Signal) {
	msg := fmt.Sprintf("📈 <b>POSITION OPENED</b> (%s)\n", pos.Side)
	msg += strings.Repeat("━", 20) + "\n\n"
	msg += fmt.Sprintf("Symbol: <b>%s</b>\n", pos.Symbol)
	msg += fmt.Sprintf("Entry: <code>$%.4f</code>\n", pos.EntryPrice)
	msg += fmt.Sprintf("Quantity: <code>%.4f</code>\n", pos.Quantity)
	msg += fmt.Sprintf("Stop Loss: <code>$%.4f</code>\n", pos.StopLoss)
	msg += fmt.Sprintf("Take Profit: <code>$%.4f</code>\n", pos.TakeProfit)
	msg += fmt.Sprintf("Signal: <b>%s</b> %.0f%% / p=%.2f\n", sig.Label, sig.Confidence, sig.Probability)
	if len(sig.Reasoning) > 0 {
		msg += "\n<b>💡 ANALYSIS:</b>\n"
		for _, line := range sig.Reasoning {
			msg += fmt.Sprintf("<code>%s</code>\n", escape(strings.TrimSpace(line)))
		}
	}
	n.enqueue(msg)
}

func (n *Notifier) NotifyPositionClosed(trade types.Trade, status types.BotStatus) {
	emoji := "✅"
	if trade.Profit < 0 {
		emoji = "❌"
	}

	pct := 0.0
	if notional := trade.EntryPrice * trade.Quantity; notional > 0 {
		pct = trade.Profit / notional * 100
	}

	msg := fmt.Sprintf("%s <b>POSITION CLOSED</b>\n\n", emoji)
	msg += fmt.Sprintf("Symbol: <b>%s</b> %s\n", trade.Symbol, trade.Side)
	msg += fmt.Sprintf("Exit: $%.4f (entry $%.4f)\n", trade.ExitPrice, trade.EntryPrice)
	msg += fmt.Sprintf("PnL: <b>%.2f USDT (%.2f%%)</b>\n", trade.Profit, pct)
	msg += fmt.Sprintf("💡 Reason: %s\n\n", trade.Reason)
	msg += statusLines(status)
	n.enqueue(msg)
}

func (n *Notifier) NotifyTrailingStop(pos types.Position) {
	msg := "🎯 <b>Trailing Stop Updated</b>\n\n"
	msg += fmt.Sprintf("Symbol: <b>%s</b>\n", pos.Symbol)
	msg += fmt.Sprintf("New Stop: $%.4f", pos.StopLoss)
	n.enqueue(msg)
}

func (n *Notifier) NotifyTargetReached(status types.BotStatus) {
	msg := "💰 <b>Profit Target Reached</b>\n\n"
	msg += statusLines(status)
	n.enqueue(msg)
}

func (n *Notifier) NotifyError(errorMsg string) {
	n.enqueue(fmt.Sprintf("⚠️ <b>Error Alert</b>\n\n%s", escape(errorMsg)))
}

func statusLines(s types.BotStatus) string {
	msg := fmt.Sprintf("Balance: <b>$%.2f</b>\n", s.CurrentBalance)
	msg += fmt.Sprintf("Total PnL: %.2f / %.2f\n", s.TotalProfit, s.TargetProfit)
	msg += fmt.Sprintf("Trades: %d (win rate %.1f%%)\n", s.TradeCount, s.WinRate)
	msg += fmt.Sprintf("Max Drawdown: %.2f%%", s.MaxDrawdown*100)
	return msg
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return htmlEscaper.Replace(s) }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
