package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/telegram"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
)

// Sender доставляет уведомления через Bot API.
type Sender struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewSender создаёт отправителя.
func NewSender(bot *tgbotapi.BotAPI, logger zerolog.Logger) *Sender {
	return &Sender{bot: bot, log: logger.With().Str("component", "sender").Logger()}
}

var _ domain.Sender = (*Sender)(nil)

// Send отправляет текст, разбивая его по лимиту Telegram. Блокировка бота
// получателем возвращается как domain.ErrRecipientBlocked.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	for _, part := range telegram.SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := s.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			if isBlockedErr(err) {
				return fmt.Errorf("chat %d: %w", chatID, domain.ErrRecipientBlocked)
			}
			return fmt.Errorf("отправка сообщения: %w", err)
		}
	}
	return nil
}

// isBlockedErr распознаёт постоянную недоступность получателя по тексту
// ошибки Bot API.
func isBlockedErr(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"bot was blocked",
		"user is deactivated",
		"chat not found",
		"bot was kicked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
