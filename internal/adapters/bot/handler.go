package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/telegram"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/usecase/analyzer"
)

// Handler обслуживает команды подписчиков.
type Handler struct {
	bot         *tgbotapi.BotAPI
	log         zerolog.Logger
	subscribers domain.SubscriberRepo
	analyses    domain.AnalysisRepo
	analyzer    *analyzer.Service
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, logger zerolog.Logger, subscribers domain.SubscriberRepo, analyses domain.AnalysisRepo, an *analyzer.Service) *Handler {
	return &Handler{
		bot:         bot,
		log:         logger.With().Str("component", "bot").Logger(),
		subscribers: subscribers,
		analyses:    analyses,
		analyzer:    an,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(chatID)
	case strings.HasPrefix(text, "/help"):
		h.handleHelp(chatID)
	case strings.HasPrefix(text, "/subscribe"):
		h.handleSubscribe(ctx, chatID)
	case strings.HasPrefix(text, "/unsubscribe"):
		h.handleUnsubscribe(ctx, chatID)
	case strings.HasPrefix(text, "/status"):
		h.handleStatus(ctx, chatID)
	case strings.HasPrefix(text, "/stats"):
		h.handleStats(ctx, chatID)
	case strings.HasPrefix(text, "/chat"):
		h.handleChat(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/chat")))
	case strings.HasPrefix(text, "/analyze"):
		h.handleAnalyze(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/analyze")))
	case strings.HasPrefix(text, "/settings"):
		h.handleSettings(ctx, chatID)
	case strings.HasPrefix(text, "/filter"):
		h.handleFilter(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/filter")))
	case strings.HasPrefix(text, "/quiet"):
		h.handleQuiet(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/quiet")))
	case strings.HasPrefix(text, "/tags"):
		h.handleTags(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "/tags")))
	default:
		h.reply(chatID, "Неизвестная команда. Используйте /help", nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	switch cb.Data {
	case "subscribe":
		h.handleSubscribe(ctx, chatID)
	case "unsubscribe":
		h.handleUnsubscribe(ctx, chatID)
	case "stats":
		h.handleStats(ctx, chatID)
	}
	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := h.bot.Request(callback); err != nil {
		h.log.Debug().Err(err).Msg("не удалось подтвердить callback")
	}
}

func (h *Handler) handleStart(chatID int64) {
	lines := []string{
		"👋 Привет! Я анализирую новости отслеживаемых каналов:",
		"краткое содержание, тональность и хештеги.",
		"",
		"Подпишитесь, чтобы получать результаты анализа.",
		"Команды: /help",
	}
	h.reply(chatID, strings.Join(lines, "\n"), h.startKeyboard())
}

func (h *Handler) handleHelp(chatID int64) {
	lines := []string{
		"Команды:",
		"/subscribe — подписаться на уведомления",
		"/unsubscribe — отписаться",
		"/status — статус подписки",
		"/stats — статистика по новостям",
		"/analyze <текст> — анализ произвольного текста",
		"/chat <вопрос> — вопрос ассистенту",
		"",
		"Настройки уведомлений:",
		"/settings — текущие настройки",
		"/filter all|positive|negative|neutral — фильтр тональности",
		"/quiet 23:00-08:00 — тихие часы (/quiet off — выключить)",
		"/tags спорт, экономика — фильтр по хештегам (/tags off — сбросить)",
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handleSubscribe(ctx context.Context, chatID int64) {
	if err := h.subscribers.Add(ctx, chatID); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, "✅ Вы подписаны на уведомления о новостях.", nil)
}

func (h *Handler) handleUnsubscribe(ctx context.Context, chatID int64) {
	if err := h.subscribers.Deactivate(ctx, chatID); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, "Вы отписаны от уведомлений. Вернуться: /subscribe", nil)
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64) {
	active, err := h.subscribers.IsActive(ctx, chatID)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	if active {
		h.reply(chatID, "Подписка активна. Отписаться: /unsubscribe", nil)
		return
	}
	h.reply(chatID, "Вы не подписаны. Подписаться: /subscribe", nil)
}

func (h *Handler) handleStats(ctx context.Context, chatID int64) {
	stats, err := h.analyses.Statistics(ctx)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	lines := []string{
		"📊 Статистика",
		fmt.Sprintf("Всего сообщений: %d", stats.TotalMessages),
	}
	if len(stats.SentimentCounts) > 0 {
		lines = append(lines, "", "По тональности:")
		sentiments := make([]string, 0, len(stats.SentimentCounts))
		for s := range stats.SentimentCounts {
			sentiments = append(sentiments, string(s))
		}
		sort.Strings(sentiments)
		for _, s := range sentiments {
			lines = append(lines, fmt.Sprintf("  %s: %d", s, stats.SentimentCounts[domain.Sentiment(s)]))
		}
	}
	if len(stats.PopularHashtags) > 0 {
		lines = append(lines, "", "Популярные хештеги:")
		for _, tag := range stats.PopularHashtags {
			lines = append(lines, "  #"+tag)
		}
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handleChat(ctx context.Context, chatID int64, text string) {
	if text == "" {
		h.reply(chatID, "Отправьте /chat <ваш вопрос>", nil)
		return
	}
	answer, err := h.analyzer.Chat(ctx, text)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, answer, nil)
}

func (h *Handler) handleAnalyze(ctx context.Context, chatID int64, text string) {
	if text == "" {
		h.reply(chatID, "Отправьте /analyze <текст новости>", nil)
		return
	}
	analysis, err := h.analyzer.Analyze(ctx, text)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	reply := fmt.Sprintf(
		"Краткое содержание:\n%s\n\nТональность: %s\n%s",
		analysis.Summary, analysis.Sentiment, analysis.FormatHashtags(),
	)
	h.reply(chatID, reply, nil)
}

func (h *Handler) handleSettings(ctx context.Context, chatID int64) {
	settings, err := h.subscribers.Settings(ctx, chatID)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	enabled := "включены"
	if !settings.NotificationsEnabled {
		enabled = "выключены"
	}
	quiet := "не заданы"
	if settings.QuietHoursStart != "" && settings.QuietHoursEnd != "" {
		quiet = settings.QuietHoursStart + "-" + settings.QuietHoursEnd
	}
	tags := "нет"
	if len(settings.HashtagFilters) > 0 {
		tags = strings.Join(settings.HashtagFilters, ", ")
	}
	lines := []string{
		"⚙️ Настройки уведомлений",
		"Уведомления: " + enabled,
		"Фильтр тональности: " + settings.SentimentFilter,
		"Тихие часы: " + quiet,
		"Фильтр хештегов: " + tags,
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handleFilter(ctx context.Context, chatID int64, value string) {
	value = strings.ToLower(value)
	if value != "all" {
		if _, ok := domain.SentimentFilters[value]; !ok {
			h.reply(chatID, "Допустимые значения: all, positive, negative, neutral", nil)
			return
		}
	}
	settings, err := h.subscribers.Settings(ctx, chatID)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	settings.SentimentFilter = value
	if err := h.subscribers.UpdateSettings(ctx, settings); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, "Фильтр тональности обновлён: "+value, nil)
}

func (h *Handler) handleQuiet(ctx context.Context, chatID int64, value string) {
	settings, err := h.subscribers.Settings(ctx, chatID)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	if strings.EqualFold(value, "off") {
		settings.QuietHoursStart, settings.QuietHoursEnd = "", ""
		if err := h.subscribers.UpdateSettings(ctx, settings); err != nil {
			h.replyError(chatID, err)
			return
		}
		h.reply(chatID, "Тихие часы выключены.", nil)
		return
	}
	start, end, err := parseQuietHours(value)
	if err != nil {
		h.reply(chatID, "Формат: /quiet 23:00-08:00 или /quiet off", nil)
		return
	}
	settings.QuietHoursStart, settings.QuietHoursEnd = start, end
	if err := h.subscribers.UpdateSettings(ctx, settings); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, fmt.Sprintf("Тихие часы: %s-%s", start, end), nil)
}

func (h *Handler) handleTags(ctx context.Context, chatID int64, value string) {
	settings, err := h.subscribers.Settings(ctx, chatID)
	if err != nil {
		h.replyError(chatID, err)
		return
	}
	if value == "" || strings.EqualFold(value, "off") {
		settings.HashtagFilters = nil
		if err := h.subscribers.UpdateSettings(ctx, settings); err != nil {
			h.replyError(chatID, err)
			return
		}
		h.reply(chatID, "Фильтр хештегов сброшен.", nil)
		return
	}
	tags := analyzer.CleanHashtags(strings.Split(value, ","), 0)
	if len(tags) == 0 {
		h.reply(chatID, "Отправьте /tags спорт, экономика", nil)
		return
	}
	settings.HashtagFilters = tags
	if err := h.subscribers.UpdateSettings(ctx, settings); err != nil {
		h.replyError(chatID, err)
		return
	}
	h.reply(chatID, "Фильтр хештегов: "+strings.Join(tags, ", "), nil)
}

// parseQuietHours разбирает окно тихих часов вида "23:00-08:00".
func parseQuietHours(value string) (string, string, error) {
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("ожидали формат HH:MM-HH:MM")
	}
	start := strings.TrimSpace(parts[0])
	end := strings.TrimSpace(parts[1])
	if _, err := time.Parse("15:04", start); err != nil {
		return "", "", err
	}
	if _, err := time.Parse("15:04", end); err != nil {
		return "", "", err
	}
	return start, end, nil
}

func (h *Handler) replyError(chatID int64, err error) {
	h.log.Error().Err(err).Int64("chat_id", chatID).Msg("ошибка обработки команды")
	metrics.IncError(string(domain.Categorize(err)))
	h.reply(chatID, "Извините, произошла ошибка при обработке вашего запроса.", nil)
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func (h *Handler) startKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔔 Подписаться", "subscribe"),
			tgbotapi.NewInlineKeyboardButtonData("🔕 Отписаться", "unsubscribe"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Статистика", "stats"),
		),
	)
	return &buttons
}
