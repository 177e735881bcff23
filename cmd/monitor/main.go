package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/llm"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/mtproto"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/adapters/repo"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/cache"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/config"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/db"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/httpapi"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/log"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/ollama"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/queue"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/usecase/analyzer"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/usecase/monitor"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channels := cfg.ChannelIDs()
	if len(channels) == 0 {
		logger.Fatal().Msg("monitor: не заданы каналы (TELEGRAM_CHANNEL_IDS)")
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("monitor: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("monitor: миграция схемы не удалась")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	dedup := cache.NewRedis(redisClient)

	notifyQueue, err := newNotificationQueue(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("monitor: не удалось создать очередь уведомлений")
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

	sessionStore := mtproto.NewSessionStore(repoAdapter, cfg.MTProto.SessionName)
	source := mtproto.NewSource(cfg.Telegram.APIID, cfg.Telegram.APIHash, sessionStore, logger)

	monitorService := monitor.New(
		source, analyzerService,
		repoAdapter, repoAdapter, repoAdapter,
		notifyQueue, dedup, logger,
		monitor.Options{
			Channels:      channels,
			CheckInterval: cfg.Monitor.CheckInterval,
			PageSize:      cfg.Monitor.PageSize,
			Concurrency:   cfg.Analyzer.Concurrency,
			DedupTTL:      cfg.Notify.DedupTTL,
		},
	)

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)
	httpServer := httpapi.NewServer(logger, repoAdapter, monitorService.Stats)
	go func() {
		if err := httpServer.Start(cfg.HTTPAddr); err != nil {
			logger.Error().Err(err).Msg("monitor: HTTP сервер остановлен")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return source.Run(gctx) })
	g.Go(func() error {
		if err := source.WaitReady(gctx); err != nil {
			return err
		}
		valid := monitorService.ValidateChannels(gctx)
		logger.Info().Strs("channels", valid).Msg("monitor: запуск цикла опроса")
		return monitorService.Run(gctx)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Fatal().Err(err).Msg("monitor: завершение с ошибкой")
	}
	logger.Info().Msg("monitor: остановка")
}

func newNotificationQueue(cfg config.AppConfig, redisClient *redis.Client) (domain.NotificationQueue, error) {
	if cfg.Notify.QueueDriver == "rabbitmq" {
		return queue.NewRabbitNotificationQueue(cfg.RabbitURL, cfg.Notify.QueueKey)
	}
	return queue.NewRedisNotificationQueue(redisClient, cfg.Notify.QueueKey), nil
}
