package config

import (
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Moscow"`

	Telegram struct {
		Token   string `envconfig:"TG_BOT_TOKEN"`
		APIID   int    `envconfig:"TG_API_ID"`
		APIHash string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	MTProto struct {
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"monitor"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Monitor struct {
		Channels      string        `envconfig:"TELEGRAM_CHANNEL_IDS"`
		CheckInterval time.Duration `envconfig:"CHECK_INTERVAL" default:"60s"`
		PageSize      int           `envconfig:"MESSAGE_PAGE_SIZE" default:"100"`
	} `envconfig:""`

	Ollama struct {
		BaseURL string        `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
		Model   string        `envconfig:"OLLAMA_MODEL" default:"qwen2.5:7b"`
		Timeout time.Duration `envconfig:"OLLAMA_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Analyzer struct {
		CacheSize     int           `envconfig:"ANALYSIS_CACHE_SIZE" default:"1000"`
		CacheTTL      time.Duration `envconfig:"ANALYSIS_CACHE_TTL" default:"1h"`
		MaxTextLen    int           `envconfig:"MAX_TEXT_LENGTH" default:"2000"`
		MaxSummaryLen int           `envconfig:"MAX_SUMMARY_LENGTH" default:"700"`
		MaxHashtags   int           `envconfig:"MAX_HASHTAGS" default:"5"`
		Concurrency   int           `envconfig:"ANALYZER_CONCURRENCY" default:"2"`
	} `envconfig:""`

	Notify struct {
		QueueDriver string        `envconfig:"NOTIFY_QUEUE_DRIVER" default:"redis"`
		QueueKey    string        `envconfig:"NOTIFY_QUEUE_KEY" default:"notification_jobs"`
		RateDelay   time.Duration `envconfig:"NOTIFY_RATE_DELAY" default:"50ms"`
		DedupTTL    time.Duration `envconfig:"NOTIFY_DEDUP_TTL" default:"24h"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
}

// ChannelIDs разбирает список отслеживаемых каналов из конфигурации.
func (c AppConfig) ChannelIDs() []string {
	parts := strings.Split(c.Monitor.Channels, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ids = append(ids, strings.TrimPrefix(p, "@"))
	}
	return ids
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
