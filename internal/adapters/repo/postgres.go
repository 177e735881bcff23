package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ChannelRepo    = (*Postgres)(nil)
	_ domain.MessageRepo    = (*Postgres)(nil)
	_ domain.AnalysisRepo   = (*Postgres)(nil)
	_ domain.SubscriberRepo = (*Postgres)(nil)
	_ domain.LLMCallRepo    = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Ping проверяет доступность БД.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Migrate создаёт схему, если её ещё нет.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS channels (
    channel_id      TEXT PRIMARY KEY,
    last_message_id BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
    channel_id       TEXT   NOT NULL,
    message_id       BIGINT NOT NULL,
    text             TEXT   NOT NULL,
    channel_title    TEXT   NOT NULL DEFAULT '',
    channel_username TEXT   NOT NULL DEFAULT '',
    date             TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (channel_id, message_id)
);
CREATE TABLE IF NOT EXISTS analyses (
    message_id BIGINT PRIMARY KEY,
    summary    TEXT  NOT NULL,
    sentiment  TEXT  NOT NULL,
    hashtags   JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS llm_calls (
    id         BIGSERIAL PRIMARY KEY,
    prompt     TEXT NOT NULL,
    completion TEXT NOT NULL,
    latency_ms BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS subscribers (
    chat_id       BIGINT PRIMARY KEY,
    subscribed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_active     BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS user_settings (
    chat_id              BIGINT PRIMARY KEY REFERENCES subscribers(chat_id),
    notification_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    sentiment_filter     TEXT NOT NULL DEFAULT 'all',
    hashtag_filters      JSONB NOT NULL DEFAULT '[]',
    quiet_hours_start    TEXT,
    quiet_hours_end      TEXT,
    language             TEXT NOT NULL DEFAULT 'ru'
);
CREATE TABLE IF NOT EXISTS mtproto_sessions (
    name       TEXT PRIMARY KEY,
    data       BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
	return err
}

// LastMessageID возвращает курсор канала, 0 для неизвестного канала.
func (p *Postgres) LastMessageID(ctx context.Context, channelID string) (int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var id int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT last_message_id FROM channels WHERE channel_id = $1`, channelID).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "channels_select", "channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SetLastMessageID сохраняет курсор канала (upsert).
func (p *Postgres) SetLastMessageID(ctx context.Context, channelID string, messageID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO channels (channel_id, last_message_id)
VALUES ($1, $2)
ON CONFLICT (channel_id) DO UPDATE SET last_message_id = EXCLUDED.last_message_id
`, channelID, messageID)
	metrics.ObserveNetworkRequest("postgres", "channels_upsert", "channels", start, err)
	return err
}

// SaveMessage идемпотентно сохраняет сообщение.
func (p *Postgres) SaveMessage(ctx context.Context, msg domain.Message) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO messages (channel_id, message_id, text, channel_title, channel_username, date)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (channel_id, message_id) DO NOTHING
`, msg.ChannelID, msg.ID, msg.Text, msg.ChannelTitle, msg.ChannelUsername, msg.Date)
	metrics.ObserveNetworkRequest("postgres", "messages_insert", "messages", start, err)
	return err
}

// SaveAnalysis записывает анализ, последняя запись побеждает.
func (p *Postgres) SaveAnalysis(ctx context.Context, messageID int64, analysis domain.Analysis) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	hashtags, err := json.Marshal(analysis.Hashtags)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO analyses (message_id, summary, sentiment, hashtags)
VALUES ($1, $2, $3, $4)
ON CONFLICT (message_id) DO UPDATE SET summary = EXCLUDED.summary, sentiment = EXCLUDED.sentiment, hashtags = EXCLUDED.hashtags, created_at = now()
`, messageID, analysis.Summary, string(analysis.Sentiment), hashtags)
	metrics.ObserveNetworkRequest("postgres", "analyses_upsert", "analyses", start, err)
	return err
}

// Statistics агрегирует сообщения, тональности и популярные хештеги.
func (p *Postgres) Statistics(ctx context.Context) (domain.Statistics, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	stats := domain.Statistics{SentimentCounts: make(map[domain.Sentiment]int64)}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM messages`).Scan(&stats.TotalMessages)
	metrics.ObserveNetworkRequest("postgres", "messages_count", "messages", start, err)
	if err != nil {
		return domain.Statistics{}, err
	}

	start = time.Now()
	rows, err := p.pool.Query(ctx, `SELECT sentiment, count(*) FROM analyses GROUP BY sentiment`)
	metrics.ObserveNetworkRequest("postgres", "analyses_sentiments", "analyses", start, err)
	if err != nil {
		return domain.Statistics{}, err
	}
	for rows.Next() {
		var sentiment string
		var count int64
		if err := rows.Scan(&sentiment, &count); err != nil {
			rows.Close()
			return domain.Statistics{}, err
		}
		stats.SentimentCounts[domain.Sentiment(sentiment)] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Statistics{}, err
	}

	start = time.Now()
	rows, err = p.pool.Query(ctx, `
SELECT tag, count(*) AS cnt
FROM analyses, jsonb_array_elements_text(hashtags) AS tag
GROUP BY tag
ORDER BY cnt DESC, tag
LIMIT 10
`)
	metrics.ObserveNetworkRequest("postgres", "analyses_hashtags", "analyses", start, err)
	if err != nil {
		return domain.Statistics{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		var count int64
		if err := rows.Scan(&tag, &count); err != nil {
			return domain.Statistics{}, err
		}
		stats.PopularHashtags = append(stats.PopularHashtags, tag)
	}
	return stats, rows.Err()
}

// LogLLMCall журналирует обращение к модели.
func (p *Postgres) LogLLMCall(ctx context.Context, prompt, completion string, latency time.Duration) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO llm_calls (prompt, completion, latency_ms)
VALUES ($1, $2, $3)
`, prompt, completion, latency.Milliseconds())
	metrics.ObserveNetworkRequest("postgres", "llm_calls_insert", "llm_calls", start, err)
	return err
}

// ListActive возвращает активных подписчиков.
func (p *Postgres) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT chat_id, subscribed_at, is_active
FROM subscribers
WHERE is_active
ORDER BY chat_id
`)
	metrics.ObserveNetworkRequest("postgres", "subscribers_list", "subscribers", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ChatID, &s.SubscribedAt, &s.IsActive); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Add подписывает чат; повторная подписка реактивирует запись.
func (p *Postgres) Add(ctx context.Context, chatID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO subscribers (chat_id, is_active)
VALUES ($1, TRUE)
ON CONFLICT (chat_id) DO UPDATE SET is_active = TRUE
`, chatID)
	metrics.ObserveNetworkRequest("postgres", "subscribers_upsert", "subscribers", start, err)
	return err
}

// Deactivate помечает подписчика неактивным, история сохраняется.
func (p *Postgres) Deactivate(ctx context.Context, chatID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE subscribers SET is_active = FALSE WHERE chat_id = $1`, chatID)
	metrics.ObserveNetworkRequest("postgres", "subscribers_deactivate", "subscribers", start, err)
	return err
}

// IsActive сообщает, подписан ли чат.
func (p *Postgres) IsActive(ctx context.Context, chatID int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var active bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT is_active FROM subscribers WHERE chat_id = $1`, chatID).Scan(&active)
	metrics.ObserveNetworkRequest("postgres", "subscribers_select", "subscribers", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

// Settings возвращает настройки чата; для чата без записи — значения по умолчанию.
func (p *Postgres) Settings(ctx context.Context, chatID int64) (domain.SubscriberSettings, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	s := domain.DefaultSettings(chatID)
	var hashtags []byte
	var quietStart, quietEnd *string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT notification_enabled, sentiment_filter, hashtag_filters, quiet_hours_start, quiet_hours_end, language
FROM user_settings
WHERE chat_id = $1
`, chatID).Scan(&s.NotificationsEnabled, &s.SentimentFilter, &hashtags, &quietStart, &quietEnd, &s.Language)
	metrics.ObserveNetworkRequest("postgres", "user_settings_select", "user_settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(chatID), nil
	}
	if err != nil {
		return domain.SubscriberSettings{}, err
	}
	if len(hashtags) > 0 {
		if err := json.Unmarshal(hashtags, &s.HashtagFilters); err != nil {
			return domain.SubscriberSettings{}, err
		}
	}
	if quietStart != nil {
		s.QuietHoursStart = *quietStart
	}
	if quietEnd != nil {
		s.QuietHoursEnd = *quietEnd
	}
	return s, nil
}

// UpdateSettings сохраняет настройки чата (upsert).
func (p *Postgres) UpdateSettings(ctx context.Context, settings domain.SubscriberSettings) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	hashtags, err := json.Marshal(settings.HashtagFilters)
	if err != nil {
		return err
	}
	var quietStart, quietEnd *string
	if settings.QuietHoursStart != "" {
		quietStart = &settings.QuietHoursStart
	}
	if settings.QuietHoursEnd != "" {
		quietEnd = &settings.QuietHoursEnd
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO user_settings (chat_id, notification_enabled, sentiment_filter, hashtag_filters, quiet_hours_start, quiet_hours_end, language)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (chat_id) DO UPDATE SET notification_enabled = EXCLUDED.notification_enabled, sentiment_filter = EXCLUDED.sentiment_filter, hashtag_filters = EXCLUDED.hashtag_filters, quiet_hours_start = EXCLUDED.quiet_hours_start, quiet_hours_end = EXCLUDED.quiet_hours_end, language = EXCLUDED.language
`, settings.ChatID, settings.NotificationsEnabled, settings.SentimentFilter, hashtags, quietStart, quietEnd, settings.Language)
	metrics.ObserveNetworkRequest("postgres", "user_settings_upsert", "user_settings", start, err)
	return err
}

// LoadMTProtoSession загружает сохранённую MTProto-сессию.
func (p *Postgres) LoadMTProtoSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreMTProtoSession сохраняет MTProto-сессию.
func (p *Postgres) StoreMTProtoSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, tmp)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}
