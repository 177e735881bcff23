package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	botadapter "github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/bot"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/llm"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/repo"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/config"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/db"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/log"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/ollama"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/queue"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/usecase/analyzer"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/usecase/notify"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bot: миграция схемы не удалась")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	notifyQueue, err := newNotificationQueue(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось создать очередь уведомлений")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось создать бота")
	}

	ollamaClient := ollama.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.Timeout)
	analyzerService := analyzer.New(llm.NewOllama(ollamaClient), repoAdapter, logger, analyzer.Options{
		CacheSize:     cfg.Analyzer.CacheSize,
		CacheTTL:      cfg.Analyzer.CacheTTL,
		MaxTextLen:    cfg.Analyzer.MaxTextLen,
		MaxSummaryLen: cfg.Analyzer.MaxSummaryLen,
		MaxHashtags:   cfg.Analyzer.MaxHashtags,
		Concurrency:   cfg.Analyzer.Concurrency,
	})

	handler := botadapter.NewHandler(botAPI, logger, repoAdapter, repoAdapter, analyzerService)
	sender := botadapter.NewSender(botAPI, logger)
	dispatcher := notify.NewDispatcher(repoAdapter, sender, logger, cfg.Notify.RateDelay)

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		updCfg := tgbotapi.NewUpdate(0)
		updCfg.Timeout = 30
		updates := botAPI.GetUpdatesChan(updCfg)
		logger.Info().Str("bot", botAPI.Self.UserName).Msg("bot: long polling запущен")
		for {
			select {
			case <-gctx.Done():
				botAPI.StopReceivingUpdates()
				return gctx.Err()
			case upd := <-updates:
				handler.HandleUpdate(gctx, upd)
			}
		}
	})

	g.Go(func() error {
		logger.Info().Msg("bot: потребитель очереди уведомлений запущен")
		return dispatcher.Consume(gctx, notifyQueue)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("bot: завершение с ошибкой")
	}
	logger.Info().Msg("bot: остановка")
}

func newNotificationQueue(cfg config.AppConfig, redisClient *redis.Client) (domain.NotificationQueue, error) {
	if cfg.Notify.QueueDriver == "rabbitmq" {
		return queue.NewRabbitNotificationQueue(cfg.RabbitURL, cfg.Notify.QueueKey)
	}
	return queue.NewRedisNotificationQueue(redisClient, cfg.Notify.QueueKey), nil
}
