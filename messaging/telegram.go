package messaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"yad2-watcher/models"
)

// TelegramSender posts messages to one chat through the Bot API.
type TelegramSender struct {
	bot    *bot.Bot
	token  string
	chatID any
}

// NewTelegramSender creates a sender for chatID using the bot token. chatID is
// either a numeric chat ID or a public @channel name. Extra options go to the
// bot client, e.g. bot.WithServerURL for a self-hosted Bot API server.
func NewTelegramSender(token, chatID string, opts ...bot.Option) (*TelegramSender, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s", redact(err, token))
	}
	return &TelegramSender{bot: b, token: token, chatID: parseChatID(chatID)}, nil
}

func parseChatID(s string) any {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id
	}
	return s
}

// Send delivers text. Every failure wraps models.ErrDeliveryFailure.
func (s *TelegramSender) Send(ctx context.Context, text string) error {
	noPreview := true
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             s.chatID,
		Text:               text,
		LinkPreviewOptions: &tgmodels.LinkPreviewOptions{IsDisabled: &noPreview},
	})
	if err != nil {
		// request errors carry the URL, and with it the bot token
		return fmt.Errorf("%w: %s", models.ErrDeliveryFailure, redact(err, s.token))
	}
	return nil
}

func redact(err error, token string) string {
	if token == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), token, "<token>")
}

