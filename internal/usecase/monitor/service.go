package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
)

// Options задают параметры цикла мониторинга.
type Options struct {
	Channels      []string
	CheckInterval time.Duration
	PageSize      int
	Concurrency   int
	DedupTTL      time.Duration
}

// Service опрашивает каналы, анализирует новые сообщения и ставит задачи
// на уведомления.
type Service struct {
	source   domain.ChannelSource
	analyzer domain.Analyzer
	channels domain.ChannelRepo
	messages domain.MessageRepo
	analyses domain.AnalysisRepo
	queue    domain.NotificationQueue
	dedup    domain.Cache
	log      zerolog.Logger
	opts     Options

	processed atomic.Int64
	failed    atomic.Int64
	cycles    atomic.Int64
}

// New создаёт сервис мониторинга. dedup может быть nil, тогда защиты от
// повторной постановки задач нет.
func New(
	source domain.ChannelSource,
	an domain.Analyzer,
	channels domain.ChannelRepo,
	messages domain.MessageRepo,
	analyses domain.AnalysisRepo,
	queue domain.NotificationQueue,
	dedup domain.Cache,
	logger zerolog.Logger,
	opts Options,
) *Service {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Service{
		source:   source,
		analyzer: an,
		channels: channels,
		messages: messages,
		analyses: analyses,
		queue:    queue,
		dedup:    dedup,
		log:      logger.With().Str("component", "monitor").Logger(),
		opts:     opts,
	}
}

// ValidateChannels проверяет доступность каналов и возвращает те, что
// удалось опросить. Недоступные каналы отбрасываются с предупреждением.
func (s *Service) ValidateChannels(ctx context.Context) []string {
	valid := make([]string, 0, len(s.opts.Channels))
	for _, ch := range s.opts.Channels {
		if _, err := s.source.LatestMessageID(ctx, ch); err != nil {
			s.log.Warn().Err(err).Str("channel", ch).Msg("канал недоступен, пропускаем")
			continue
		}
		valid = append(valid, ch)
	}
	s.opts.Channels = valid
	return valid
}

// Run крутит цикл опроса до отмены контекста.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()

	for {
		start := time.Now()
		s.runCycle(ctx)
		s.cycles.Add(1)
		s.log.Debug().Dur("duration", time.Since(start)).Msg("цикл опроса завершён")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runCycle опрашивает каналы параллельно. Сбой одного канала не влияет
// на обработку остальных: ошибка логируется внутри горутины.
func (s *Service) runCycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, channelID := range s.opts.Channels {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		channelID := channelID
		go func() {
			defer wg.Done()
			if err := s.processChannel(ctx, channelID); err != nil {
				s.log.Error().Err(err).Str("channel", channelID).Msg("ошибка обработки канала")
				metrics.IncError(string(domain.Categorize(err)))
			}
		}()
	}
	wg.Wait()
}

// processChannel выполняет один шаг инкрементальной выборки. Для нового
// канала курсор засевается текущим последним сообщением, история не
// обрабатывается. Курсор продвигается только если весь пакет обработан.
func (s *Service) processChannel(ctx context.Context, channelID string) error {
	cursor, err := s.channels.LastMessageID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("курсор канала: %w", err)
	}

	if cursor == 0 {
		latest, err := s.source.LatestMessageID(ctx, channelID)
		if err != nil {
			return fmt.Errorf("последнее сообщение: %w", err)
		}
		if latest == 0 {
			return nil
		}
		if err := s.channels.SetLastMessageID(ctx, channelID, latest); err != nil {
			return fmt.Errorf("засев курсора: %w", err)
		}
		s.log.Info().Str("channel", channelID).Int64("cursor", latest).Msg("курсор канала засеян")
		return nil
	}

	batch, err := s.source.MessagesSince(ctx, channelID, cursor, s.opts.PageSize)
	if err != nil {
		return fmt.Errorf("выборка сообщений: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	results := make([]bool, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, msg := range batch {
		i, msg := i, msg
		g.Go(func() error {
			if err := s.processMessage(gctx, msg); err != nil {
				s.log.Error().Err(err).Str("channel", channelID).Int64("message_id", msg.ID).Msg("сообщение не обработано")
				metrics.MessagesFailed.WithLabelValues(channelID).Inc()
				s.failed.Add(1)
				return nil
			}
			results[i] = true
			metrics.MessagesProcessed.WithLabelValues(channelID).Inc()
			s.processed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, ok := range results {
		if !ok {
			s.log.Warn().Str("channel", channelID).Int64("cursor", cursor).Msg("пакет обработан не полностью, курсор не продвигается")
			return nil
		}
	}

	maxID := cursor
	for _, msg := range batch {
		if msg.ID > maxID {
			maxID = msg.ID
		}
	}
	if err := s.channels.SetLastMessageID(ctx, channelID, maxID); err != nil {
		return fmt.Errorf("продвижение курсора: %w", err)
	}
	metrics.CursorAdvances.WithLabelValues(channelID).Inc()
	s.log.Info().Str("channel", channelID).Int("messages", len(batch)).Int64("cursor", maxID).Msg("пакет обработан")
	return nil
}

// processMessage анализирует и сохраняет одно сообщение. Постановка
// уведомления не влияет на успех обработки.
func (s *Service) processMessage(ctx context.Context, msg domain.Message) error {
	analysis, err := s.analyzer.Analyze(ctx, msg.Text)
	if err != nil {
		return fmt.Errorf("анализ: %w", err)
	}
	if err := s.messages.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("сохранение сообщения: %w", err)
	}
	if err := s.analyses.SaveAnalysis(ctx, msg.ID, analysis); err != nil {
		return fmt.Errorf("сохранение анализа: %w", err)
	}

	s.enqueueNotification(ctx, msg, analysis)
	return nil
}

func (s *Service) enqueueNotification(ctx context.Context, msg domain.Message, analysis domain.Analysis) {
	if s.queue == nil {
		return
	}
	job := domain.NotificationJob{
		ID:         uuid.NewString(),
		Message:    msg,
		Analysis:   analysis,
		EnqueuedAt: time.Now().UTC(),
	}
	enqueue := func() error { return s.queue.Enqueue(ctx, job) }

	var err error
	if s.dedup != nil {
		key := fmt.Sprintf("notify:%s:%d", msg.ChannelID, msg.ID)
		err = s.dedup.Once(ctx, key, s.opts.DedupTTL, enqueue)
	} else {
		err = enqueue()
	}
	if err != nil {
		s.log.Error().Err(err).Str("channel", msg.ChannelID).Int64("message_id", msg.ID).Msg("не удалось поставить уведомление")
	}
}

// Stats возвращает накопленные счётчики мониторинга.
func (s *Service) Stats() map[string]int64 {
	return map[string]int64{
		"messages_processed": s.processed.Load(),
		"messages_failed":    s.failed.Load(),
		"cycles":             s.cycles.Load(),
	}
}
