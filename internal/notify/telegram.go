// Package notify delivers fire-and-forget operator notifications when a new
// mention is verified. Delivery failures are logged and never affect mention
// state.
package notify

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mdblog/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram notifies the site operator over a Telegram chat.
type Telegram struct {
	api    telegramAPI
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier with the given bot token and chat.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// MentionVerified sends a notification for a newly verified mention.
func (t *Telegram) MentionVerified(mention *model.Mention) {
	msg := tgbotapi.NewMessage(t.chatID, FormatMention(mention))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send mention notification", "source", mention.Source, "error", err)
	}
}

// FormatMention formats a verified mention as a notification message.
func FormatMention(m *model.Mention) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s received\n\n", m.Type)
	fmt.Fprintf(&b, "Source: %s\n", m.Source)
	fmt.Fprintf(&b, "Target: %s\n", m.Target)
	if m.AuthorName != "" || m.AuthorURL != "" {
		fmt.Fprintf(&b, "Author: %s\n", strings.TrimSpace(m.AuthorName+" "+m.AuthorURL))
	}
	if m.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", m.Title)
	}
	if m.ContentSnippet != "" {
		b.WriteString("\n")
		b.WriteString(m.ContentSnippet)
		b.WriteString("\n")
	}
	return b.String()
}

// Discard is a no-op notifier used when no channel is configured.
type Discard struct{}

// MentionVerified implements the notifier interface and does nothing.
func (Discard) MentionVerified(*model.Mention) {}
