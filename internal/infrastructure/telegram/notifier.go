package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"newsflow/internal/domain"
	"newsflow/internal/ports"
)

// Notifier posts one Markdown message per archived record to a Telegram chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier authenticates the bot once at startup.
func NewNotifier(botToken string, chatID int64) (*Notifier, error) {
	if botToken == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram notifier misconfigured")
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	return &Notifier{bot: bot, chatID: chatID}, nil
}

// Notify sends the record summary. The context only gates entry; the bot API
// manages its own request timeout.
func (n *Notifier) Notify(ctx context.Context, rec domain.ProcessedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, FormatRecord(rec))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// FormatRecord renders one record as a compact Markdown notification.
func FormatRecord(rec domain.ProcessedRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s *%s*\n", priorityMarker(rec.Classification.Priority), escapeMarkdown(rec.Item.Title))
	if rec.Item.URL != "" {
		fmt.Fprintf(&b, "%s\n", rec.Item.URL)
	}
	if len(rec.Classification.Topics) > 0 {
		fmt.Fprintf(&b, "_%s_\n", escapeMarkdown(strings.Join(rec.Classification.Topics, ", ")))
	}
	if rec.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", escapeMarkdown(rec.Summary))
	}
	fmt.Fprintf(&b, "\nvia %s", escapeMarkdown(rec.Item.Source))

	return b.String()
}

func priorityMarker(priority string) string {
	switch priority {
	case domain.PriorityHigh:
		return "🔴"
	case domain.PriorityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

var markdownReplacer = strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownReplacer.Replace(s)
}
