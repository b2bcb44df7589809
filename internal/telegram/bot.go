package telegram

import (
	"fmt"
	"math/big"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/meltingclock/autonomy-orders/internal/helpers"
	"github.com/meltingclock/autonomy-orders/internal/history"
	"github.com/meltingclock/autonomy-orders/internal/telemetry"
)

// Sender is the part of *tgbotapi.BotAPI used to post messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts transaction summaries and order status changes to one chat.
// It implements execution.TxLog.
type Notifier struct {
	bot    Sender
	chatID int64
}

// NewBot connects to the Bot API with token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("TELEGRAM_TOKEN is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram init")
	}
	return bot, nil
}

func NewNotifier(bot Sender, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

func (n *Notifier) reply(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := n.bot.Send(msg)
	return err
}

// Record implements execution.TxLog.
func (n *Notifier) Record(hash common.Hash, summary string) error {
	if n.chatID == 0 {
		return nil
	}
	text := fmt.Sprintf("✅ *Order submitted*\n%s\ntx: `%s`", escape(summary), hash.Hex())
	if err := n.reply(n.chatID, text); err != nil {
		return errors.Wrap(err, "telegram send")
	}
	return nil
}

// OrderChanges reports orders whose status differs between two snapshots,
// plus orders that appear for the first time. A nil prev reports nothing,
// so the first refresh does not flood the chat.
func (n *Notifier) OrderChanges(prev, next *history.Snapshot) {
	if prev == nil || next == nil || n.chatID == 0 {
		return
	}
	before := make(map[string]history.Status, len(prev.Orders))
	for _, o := range prev.Orders {
		before[o.ID] = o.Status
	}
	for _, o := range next.Orders {
		old, seen := before[o.ID]
		if seen && old == o.Status {
			continue
		}
		var head string
		switch {
		case !seen:
			head = "🆕 *New order*"
		case o.Status == history.StatusExecuted:
			head = "💧 *Order executed*"
		case o.Status == history.StatusCancelled:
			head = "🔴 *Order cancelled*"
		default:
			head = "ℹ️ *Order " + o.Status.String() + "*"
		}
		if err := n.reply(n.chatID, head+"\n"+FormatOrder(o)); err != nil {
			telemetry.Warnf("[telegram] notify order %s: %v", o.ID, err)
		}
	}
}

// FormatOrder renders one order as a Markdown card body.
func FormatOrder(o history.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: `%s`\n", o.ID)
	fmt.Fprintf(&b, "method: %s\n", escape(o.Method))
	if o.Classified() {
		fmt.Fprintf(&b, "in: `%s` %s\n", helpers.FormatAddress(o.InputToken), amount(o.InputAmount))
		fmt.Fprintf(&b, "out: `%s` %s\n", helpers.FormatAddress(o.OutputToken), amount(o.OutputAmount))
	}
	if !o.PlacedAt.IsZero() {
		fmt.Fprintf(&b, "placed: %s\n", o.Time())
	}
	fmt.Fprintf(&b, "status: *%s*", o.Status)
	return b.String()
}

func amount(v *big.Int) string {
	if v == nil {
		return "?"
	}
	return v.String()
}

// escape neutralises legacy Markdown control characters in free text.
func escape(s string) string {
	return strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[").Replace(s)
}
