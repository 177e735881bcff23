package domain

import (
	"fmt"
	"strings"
	"time"
)

// Sentiment описывает тональность новости. Канонические значения совпадают
// со словами, которые модель обязана вернуть в ответе.
type Sentiment string

const (
	SentimentPositive Sentiment = "Позитивная"
	SentimentNegative Sentiment = "Негативная"
	SentimentNeutral  Sentiment = "Нейтральная"
)

// SentimentFilters сопоставляет значения пользовательского фильтра
// каноническим тональностям.
var SentimentFilters = map[string]Sentiment{
	"positive": SentimentPositive,
	"negative": SentimentNegative,
	"neutral":  SentimentNeutral,
}

// ParseSentiment нормализует строку тональности из ответа модели.
func ParseSentiment(raw string) (Sentiment, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "позитивная", "positive":
		return SentimentPositive, true
	case "негативная", "negative":
		return SentimentNegative, true
	case "нейтральная", "neutral":
		return SentimentNeutral, true
	}
	return "", false
}

// Channel описывает отслеживаемый канал и курсор последнего обработанного
// сообщения. Нулевой курсор означает, что канал ещё не инициализирован.
type Channel struct {
	ID            string
	Title         string
	LastMessageID int64
}

// Message представляет сообщение канала. После сохранения не изменяется.
type Message struct {
	ID              int64     `json:"id"`
	ChannelID       string    `json:"channel_id"`
	Text            string    `json:"text"`
	ChannelTitle    string    `json:"channel_title"`
	ChannelUsername string    `json:"channel_username,omitempty"`
	Date            time.Time `json:"date"`
}

// Link возвращает ссылку на оригинал сообщения или "N/A" для каналов
// без публичного имени.
func (m Message) Link() string {
	if m.ChannelUsername == "" {
		return "N/A"
	}
	return fmt.Sprintf("https://t.me/%s/%d", m.ChannelUsername, m.ID)
}

// Analysis содержит результат LLM-анализа сообщения. Записывается целиком
// либо не записывается вовсе.
type Analysis struct {
	Summary   string    `json:"summary"`
	Sentiment Sentiment `json:"sentiment"`
	Hashtags  []string  `json:"hashtags"`
}

// FormatHashtags возвращает хештеги одной строкой для уведомления.
func (a Analysis) FormatHashtags() string {
	if len(a.Hashtags) == 0 {
		return "Хештеги не сгенерированы."
	}
	var b strings.Builder
	for i, tag := range a.Hashtags {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('#')
		b.WriteString(tag)
	}
	return b.String()
}

// NotificationJob описывает задачу доставки результата анализа подписчикам.
type NotificationJob struct {
	ID         string    `json:"job_id"`
	Message    Message   `json:"message"`
	Analysis   Analysis  `json:"analysis"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Subscriber описывает подписчика бота. Отписка и блокировка бота помечают
// запись неактивной, история сохраняется.
type Subscriber struct {
	ChatID       int64
	SubscribedAt time.Time
	IsActive     bool
}

// SubscriberSettings хранит пользовательские настройки уведомлений.
type SubscriberSettings struct {
	ChatID               int64
	NotificationsEnabled bool
	SentimentFilter      string
	HashtagFilters       []string
	QuietHoursStart      string
	QuietHoursEnd        string
	Language             string
}

// DefaultSettings возвращает настройки по умолчанию: все уведомления включены.
func DefaultSettings(chatID int64) SubscriberSettings {
	return SubscriberSettings{
		ChatID:               chatID,
		NotificationsEnabled: true,
		SentimentFilter:      "all",
		Language:             "ru",
	}
}

// Statistics агрегирует накопленные сообщения и анализы.
type Statistics struct {
	TotalMessages   int64
	SentimentCounts map[Sentiment]int64
	PopularHashtags []string
}
