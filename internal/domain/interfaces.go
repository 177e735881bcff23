package domain

import (
	"context"
	"time"
)

// ChannelSource отдаёт сообщения отслеживаемого канала.
type ChannelSource interface {
	// LatestMessageID возвращает идентификатор последнего сообщения канала
	// или 0, если сообщений нет.
	LatestMessageID(ctx context.Context, channelID string) (int64, error)
	// MessagesSince возвращает до limit сообщений с идентификатором строго
	// больше sinceID в порядке возрастания идентификаторов.
	MessagesSince(ctx context.Context, channelID string, sinceID int64, limit int) ([]Message, error)
}

// Analyzer строит анализ текста сообщения.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// ChannelRepo хранит курсоры каналов.
type ChannelRepo interface {
	// LastMessageID возвращает курсор канала, 0 для неизвестного канала.
	LastMessageID(ctx context.Context, channelID string) (int64, error)
	SetLastMessageID(ctx context.Context, channelID string, messageID int64) error
}

// MessageRepo сохраняет сырые сообщения.
type MessageRepo interface {
	// SaveMessage идемпотентно сохраняет сообщение (insert-if-absent).
	SaveMessage(ctx context.Context, msg Message) error
}

// AnalysisRepo сохраняет результаты анализа.
type AnalysisRepo interface {
	// SaveAnalysis записывает анализ целиком, последняя запись побеждает.
	SaveAnalysis(ctx context.Context, messageID int64, analysis Analysis) error
	Statistics(ctx context.Context) (Statistics, error)
}

// SubscriberRepo управляет подписчиками и их настройками.
type SubscriberRepo interface {
	ListActive(ctx context.Context) ([]Subscriber, error)
	Add(ctx context.Context, chatID int64) error
	Deactivate(ctx context.Context, chatID int64) error
	IsActive(ctx context.Context, chatID int64) (bool, error)
	Settings(ctx context.Context, chatID int64) (SubscriberSettings, error)
	UpdateSettings(ctx context.Context, settings SubscriberSettings) error
}

// LLMCallRepo журналирует обращения к модели для последующего разбора.
type LLMCallRepo interface {
	LogLLMCall(ctx context.Context, prompt, completion string, latency time.Duration) error
}

// AckFunc подтверждает обработку задачи либо возвращает её в очередь.
type AckFunc func(success bool) error

// NotificationQueue развязывает цикл мониторинга и доставку уведомлений.
type NotificationQueue interface {
	Enqueue(ctx context.Context, job NotificationJob) error
	Receive(ctx context.Context) (NotificationJob, AckFunc, error)
}

// Sender доставляет текст получателю. Недоступность получателя отличима
// от прочих ошибок через ErrRecipientBlocked.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	// Once выполняет fn, если ключ ещё не был задан; при ошибке fn ключ
	// снимается, чтобы попытку можно было повторить.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
