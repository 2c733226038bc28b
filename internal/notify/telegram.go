// Package notify delivers batch run reports.
package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// Sender sends one text message to a chat.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// Telegram posts run reports to a single chat.
type Telegram struct {
	sender Sender
	chatID int64
}

// NewTelegram connects to the bot API with token.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	token = strings.TrimSpace(token)
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}
	client, err := newBotClient(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewTelegramWithSender(client, chatID), nil
}

// NewTelegramWithSender uses an existing sender.
func NewTelegramWithSender(sender Sender, chatID int64) *Telegram {
	return &Telegram{sender: sender, chatID: chatID}
}

// Notify sends text, truncated to fit a single message. Empty text is
// not sent.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.sender.SendMessage(t.chatID, truncate(text, maxMessageLen))
}

// truncate shortens text to at most limit bytes, cutting on a rune boundary
// and marking the cut with "...".
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

// botClient adapts tgbotapi.BotAPI to Sender.
type botClient struct {
	bot *tgbotapi.BotAPI
}

func newBotClient(token string) (*botClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &botClient{bot: bot}, nil
}

func (c *botClient) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	_, err := c.bot.Send(msg)
	return err
}

var _ Sender = (*botClient)(nil)
