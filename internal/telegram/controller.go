package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ethereum/go-ethereum/common"

	"github.com/meltingclock/autonomy-orders/internal/history"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

const (
	maxTail      = 500
	maxChunk     = 3500 // Telegram caps messages at ~4096 chars
	maxOrderList = 20
)

// Bot is the part of *tgbotapi.BotAPI the controller drives.
type Bot interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// Orders is the history view the controller reports on.
type Orders interface {
	Snapshot() *history.Snapshot
	Refresh(ctx context.Context) (*history.Snapshot, error)
}

// Controller answers chat commands about the watched account's orders.
type Controller struct {
	bot    Bot
	out    *Notifier
	orders Orders

	allowedChatID int64
	network       string
	account       common.Address
}

func NewController(bot Bot, allowedChatID int64, orders Orders, network string, account common.Address) *Controller {
	return &Controller{
		bot:           bot,
		out:           NewNotifier(bot, allowedChatID),
		orders:        orders,
		allowedChatID: allowedChatID,
		network:       network,
		account:       account,
	}
}

// Notifier returns the notifier bound to the allowed chat.
func (c *Controller) Notifier() *Notifier { return c.out }

func (c *Controller) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	if c.allowedChatID != 0 {
		_ = c.out.reply(c.allowedChatID, "🤖 *Order watcher* ready. Use /help for commands.")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			chatID := update.Message.Chat.ID
			// allow only configured chat
			if c.allowedChatID != 0 && chatID != c.allowedChatID {
				continue
			}
			for _, msg := range c.handle(ctx, chatID, strings.TrimSpace(update.Message.Text)) {
				if err := c.out.reply(chatID, msg); err != nil {
					telemetry.Warnf("[telegram] reply: %v", err)
				}
			}
		}
	}
}

// handle returns the replies for one command; nil for non-commands.
func (c *Controller) handle(ctx context.Context, chatID int64, text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help", "/commands":
		return []string{"*Available Commands:*\n\n" +
			"📋 *Orders*\n" +
			"/orders [all] – open orders (all with `all`)\n" +
			"/order <id> – show one order\n" +
			"/refresh – refresh history now\n\n" +
			"ℹ️ *Info*\n" +
			"/status – account, network and order counts\n" +
			"/debug on|off – enable/disable debug logs\n" +
			"/trace on|off – enable/disable very noisy logs\n" +
			"/tail [n] – show last n log lines (default 50)\n" +
			"/whoami – show your Telegram chat ID"}

	case "/status":
		snap := c.orders.Snapshot()
		if snap == nil {
			return []string{fmt.Sprintf("Account: `%s`\nNetwork: *%s*\nNo history loaded yet.",
				c.account.Hex(), c.network)}
		}
		counts := history.Counts(snap.Orders)
		return []string{fmt.Sprintf(
			"Account: `%s`\nNetwork: *%s*\nCycle: %d (%s)\nOpen: %d\nCancelled: %d\nExecuted: %d",
			c.account.Hex(), c.network, snap.Cycle, snap.RefreshedAt.Format("15:04:05"),
			counts["open"], counts["cancelled"], counts["executed"])}

	case "/refresh":
		snap, err := c.orders.Refresh(ctx)
		if err != nil {
			return []string{"❌ refresh failed: " + escape(err.Error())}
		}
		return []string{fmt.Sprintf("✅ %d orders (cycle %d)", len(snap.Orders), snap.Cycle)}

	case "/orders":
		snap := c.orders.Snapshot()
		if snap == nil {
			return []string{"ℹ️ No history loaded yet."}
		}
		list := snap.Open()
		if len(args) > 0 && args[0] == "all" {
			list = snap.Orders
		}
		if len(list) == 0 {
			return []string{"ℹ️ No orders."}
		}
		var lines []string
		for i, o := range list {
			if i == maxOrderList {
				lines = append(lines, fmt.Sprintf("… and %d more", len(list)-maxOrderList))
				break
			}
			lines = append(lines, fmt.Sprintf("`%s` %s *%s*", o.ID, escape(o.Method), o.Status))
		}
		return chunk(lines, "", "")

	case "/order":
		if len(args) == 0 {
			return []string{"❌ Usage: /order <id>"}
		}
		snap := c.orders.Snapshot()
		if snap == nil {
			return []string{"ℹ️ No history loaded yet."}
		}
		o, ok := snap.Find(args[0])
		if !ok {
			return []string{"❌ Unknown order " + escape(args[0])}
		}
		return []string{FormatOrder(o)}

	case "/debug", "/trace":
		on := len(args) > 0 && isOn(args[0])
		if cmd == "/debug" {
			telemetry.EnableDebug(on)
		} else {
			telemetry.EnableTrace(on)
		}
		return []string{fmt.Sprintf("✅ %s: %v", strings.TrimPrefix(cmd, "/"), on)}

	case "/tail":
		n := 50
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
				n = min(v, maxTail)
			}
		}
		lines := telemetry.Tail(n)
		if len(lines) == 0 {
			return []string{"ℹ️ log buffer empty"}
		}
		return chunk(lines, "```\n", "\n```")

	case "/whoami":
		return []string{fmt.Sprintf("Your chat ID: `%d`", chatID)}
	}
	return nil
}

// chunk joins lines into messages below the Telegram size limit.
func chunk(lines []string, prefix, suffix string) []string {
	var out []string
	var buf strings.Builder
	for _, ln := range lines {
		if buf.Len() > 0 && buf.Len()+len(ln)+1 > maxChunk {
			out = append(out, prefix+buf.String()+suffix)
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(ln)
	}
	if buf.Len() > 0 {
		out = append(out, prefix+buf.String()+suffix)
	}
	return out
}

func isOn(arg string) bool {
	switch strings.ToLower(arg) {
	case "on", "1", "true":
		return true
	}
	return false
}
