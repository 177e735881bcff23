package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
)

var sentimentHashtags = map[domain.Sentiment]string{
	domain.SentimentPositive: "#позитивная_новость",
	domain.SentimentNegative: "#негативная_новость",
	domain.SentimentNeutral:  "#нейтральная_новость",
}

// FormatNotification собирает текст уведомления по результату анализа.
func FormatNotification(job domain.NotificationJob) string {
	hashtag, ok := sentimentHashtags[job.Analysis.Sentiment]
	if !ok {
		hashtag = "#новость"
	}
	return fmt.Sprintf(
		"Анализ из «%s»\n\nКраткое содержание:\n%s\n\nОригинал: %s\n\n%s\n%s",
		job.Message.ChannelTitle,
		job.Analysis.Summary,
		job.Message.Link(),
		job.Analysis.FormatHashtags(),
		hashtag,
	)
}

// Report — итог рассылки одной задачи.
type Report struct {
	Sent        int
	Failed      int
	Filtered    int
	Deactivated int
}

// Dispatcher доставляет результаты анализа подписчикам с учётом их настроек.
type Dispatcher struct {
	subscribers domain.SubscriberRepo
	sender      domain.Sender
	log         zerolog.Logger
	rateDelay   time.Duration
	now         func() time.Time
}

// NewDispatcher создаёт рассыльщик.
func NewDispatcher(subscribers domain.SubscriberRepo, sender domain.Sender, logger zerolog.Logger, rateDelay time.Duration) *Dispatcher {
	return &Dispatcher{
		subscribers: subscribers,
		sender:      sender,
		log:         logger.With().Str("component", "notify").Logger(),
		rateDelay:   rateDelay,
		now:         time.Now,
	}
}

// Dispatch рассылает задачу активным подписчикам. Список получателей
// определяется в момент рассылки, не постановки. Ошибка доставки одному
// получателю не прерывает остальных.
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.NotificationJob) (Report, error) {
	subs, err := d.subscribers.ListActive(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("список подписчиков: %w", err)
	}
	if len(subs) == 0 {
		d.log.Info().Msg("подписчики не найдены, рассылка пропущена")
		return Report{}, nil
	}

	text := FormatNotification(job)
	var report Report
	for i, sub := range subs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		settings, err := d.subscribers.Settings(ctx, sub.ChatID)
		if err != nil {
			d.log.Warn().Err(err).Int64("chat_id", sub.ChatID).Msg("не удалось получить настройки, применяем умолчания")
			settings = domain.DefaultSettings(sub.ChatID)
		}
		if reason := d.skipReason(settings, job.Analysis); reason != "" {
			d.log.Debug().Int64("chat_id", sub.ChatID).Str("reason", reason).Msg("уведомление отфильтровано")
			metrics.NotificationsFiltered.Inc()
			report.Filtered++
			continue
		}

		if err := d.sender.Send(ctx, sub.ChatID, text); err != nil {
			if errors.Is(err, domain.ErrRecipientBlocked) {
				d.log.Info().Int64("chat_id", sub.ChatID).Msg("получатель заблокировал бота, деактивируем подписку")
				if derr := d.subscribers.Deactivate(ctx, sub.ChatID); derr != nil {
					d.log.Error().Err(derr).Int64("chat_id", sub.ChatID).Msg("не удалось деактивировать подписчика")
				}
				report.Deactivated++
			} else {
				d.log.Warn().Err(err).Int64("chat_id", sub.ChatID).Msg("не удалось отправить уведомление")
			}
			metrics.NotificationsFailed.Inc()
			report.Failed++
			continue
		}
		metrics.NotificationsSent.Inc()
		report.Sent++

		if d.rateDelay > 0 && i < len(subs)-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(d.rateDelay):
			}
		}
	}

	d.log.Info().
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Int("filtered", report.Filtered).
		Int("total", len(subs)).
		Msg("рассылка завершена")
	return report, nil
}

// skipReason возвращает причину пропуска получателя или пустую строку.
func (d *Dispatcher) skipReason(settings domain.SubscriberSettings, analysis domain.Analysis) string {
	if !settings.NotificationsEnabled {
		return "уведомления отключены"
	}
	if settings.SentimentFilter != "" && settings.SentimentFilter != "all" {
		if want, ok := domain.SentimentFilters[settings.SentimentFilter]; ok && want != analysis.Sentiment {
			return "фильтр тональности"
		}
	}
	if inQuietHours(d.now(), settings.QuietHoursStart, settings.QuietHoursEnd) {
		return "тихие часы"
	}
	if len(settings.HashtagFilters) > 0 && !hashtagsOverlap(settings.HashtagFilters, analysis.Hashtags) {
		return "фильтр хештегов"
	}
	return ""
}

// inQuietHours проверяет попадание в окно HH:MM-HH:MM; окно может
// пересекать полночь. Некорректные значения игнорируются.
func inQuietHours(now time.Time, startStr, endStr string) bool {
	if startStr == "" || endStr == "" {
		return false
	}
	start, err := time.Parse("15:04", startStr)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", endStr)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	from := start.Hour()*60 + start.Minute()
	to := end.Hour()*60 + end.Minute()
	if from <= to {
		return cur >= from && cur < to
	}
	return cur >= from || cur < to
}

func hashtagsOverlap(filters, hashtags []string) bool {
	set := make(map[string]struct{}, len(filters))
	for _, f := range filters {
		set[f] = struct{}{}
	}
	for _, h := range hashtags {
		if _, ok := set[h]; ok {
			return true
		}
	}
	return false
}

// Consume читает задачи из очереди и рассылает их до отмены контекста.
func (d *Dispatcher) Consume(ctx context.Context, queue domain.NotificationQueue) error {
	for {
		job, ack, err := queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			d.log.Error().Err(err).Msg("ошибка чтения очереди уведомлений")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		_, derr := d.Dispatch(ctx, job)
		if aerr := ack(derr == nil); aerr != nil {
			d.log.Error().Err(aerr).Str("job_id", job.ID).Msg("не удалось подтвердить задачу")
		}
		if derr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
