package analyzer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/retry"
)

// LLM — клиент генерации, за которым стоит Ollama.
type LLM interface {
	Generate(ctx context.Context, prompt string, jsonMode bool) (Completion, error)
}

// Completion — ответ модели.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// HashtagCategories — допустимые категории хештегов в промпте.
var HashtagCategories = []string{
	"политика", "экономика", "происшествия", "спорт",
	"наука_и_технологии", "культура", "общество", "другие_страны",
	"медицина", "образование", "экология", "транспорт",
}

// Options задают лимиты анализатора.
type Options struct {
	CacheSize     int
	CacheTTL      time.Duration
	MaxTextLen    int
	MaxSummaryLen int
	MaxHashtags   int
	Concurrency   int
	Retry         retry.Policy
}

// Service анализирует тексты сообщений через LLM с кэшированием и
// ограничением параллелизма.
type Service struct {
	llm     LLM
	calls   domain.LLMCallRepo
	log     zerolog.Logger
	cache   *lruCache
	sem     *semaphore.Weighted
	opts    Options
	retries retry.Policy
}

var _ domain.Analyzer = (*Service)(nil)

// New создаёт анализатор. calls может быть nil, тогда вызовы не журналируются.
func New(llm LLM, calls domain.LLMCallRepo, logger zerolog.Logger, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxTextLen <= 0 {
		opts.MaxTextLen = 2000
	}
	if opts.MaxSummaryLen <= 0 {
		opts.MaxSummaryLen = 700
	}
	if opts.MaxHashtags <= 0 {
		opts.MaxHashtags = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Service{
		llm:     llm,
		calls:   calls,
		log:     logger.With().Str("component", "analyzer").Logger(),
		cache:   newLRUCache(opts.CacheSize, opts.CacheTTL),
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		opts:    opts,
		retries: opts.Retry,
	}
}

func fingerprint(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// truncate обрезает текст до max рун, добавляя многоточие.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func (s *Service) prompt(text string) string {
	safe := truncate(text, s.opts.MaxTextLen)
	var b strings.Builder
	b.WriteString("Проанализируй новость и предоставь СТРОГО JSON-ответ.\n\n")
	b.WriteString("Формат ответа:\n")
	b.WriteString(`{"summary": "краткое содержание", "sentiment": "тональность", "hashtags": ["тег1", "тег2"]}`)
	b.WriteString("\n\nПравила:\n")
	fmt.Fprintf(&b, "1. summary: Краткое содержание (максимум %d символов)\n", s.opts.MaxSummaryLen)
	b.WriteString(`2. sentiment: ТОЛЬКО одно из: "Позитивная", "Негативная", "Нейтральная"`)
	b.WriteString("\n")
	fmt.Fprintf(&b, "3. hashtags: 3-5 тегов из категорий: %s\n", strings.Join(HashtagCategories, ", "))
	b.WriteString("\nПРИМЕРЫ:\n")
	b.WriteString("Текст: \"Центробанк повысил ключевую ставку до 21%\"\n")
	b.WriteString(`{"summary": "ЦБ РФ повысил ключевую ставку до рекордных 21%", "sentiment": "Негативная", "hashtags": ["экономика", "финансы", "центробанк"]}`)
	b.WriteString("\n\nТекст: \"Российские ученые создали новый материал для космоса\"\n")
	b.WriteString(`{"summary": "Российские ученые разработали инновационный материал для космической промышленности", "sentiment": "Позитивная", "hashtags": ["наука_и_технологии", "космос", "инновации"]}`)
	b.WriteString("\n\nТекст: ")
	b.WriteString(safe)
	b.WriteString("\n\nJSON:")
	return b.String()
}

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

type rawAnalysis struct {
	Summary   *string  `json:"summary"`
	Sentiment *string  `json:"sentiment"`
	Hashtags  []string `json:"hashtags"`
}

func (s *Service) parse(response string) (domain.Analysis, error) {
	block := jsonBlockRe.FindString(response)
	if block == "" {
		return domain.Analysis{}, fmt.Errorf("нет JSON-блока: %w", domain.ErrNotParsed)
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return domain.Analysis{}, fmt.Errorf("%v: %w", err, domain.ErrNotParsed)
	}
	if raw.Summary == nil || raw.Sentiment == nil {
		return domain.Analysis{}, fmt.Errorf("нет обязательных полей: %w", domain.ErrNotParsed)
	}
	sentiment, ok := domain.ParseSentiment(*raw.Sentiment)
	if !ok {
		return domain.Analysis{}, fmt.Errorf("неизвестная тональность %q: %w", *raw.Sentiment, domain.ErrNotParsed)
	}
	summary := strings.TrimSpace(*raw.Summary)
	if summary == "" {
		return domain.Analysis{}, fmt.Errorf("пустое краткое содержание: %w", domain.ErrNotParsed)
	}
	return domain.Analysis{
		Summary:   truncate(summary, s.opts.MaxSummaryLen),
		Sentiment: sentiment,
		Hashtags:  CleanHashtags(raw.Hashtags, s.opts.MaxHashtags),
	}, nil
}

// Analyze возвращает анализ текста. Повторный вызов с тем же текстом в
// пределах TTL отдаёт кэшированный результат без обращения к модели.
func (s *Service) Analyze(ctx context.Context, text string) (domain.Analysis, error) {
	key := fingerprint(text)
	if cached, ok := s.cache.Get(key); ok {
		metrics.AnalysisCacheHits.Inc()
		s.log.Debug().Msg("результат анализа взят из кэша")
		return cached, nil
	}
	metrics.AnalysisCacheMisses.Inc()

	prompt := s.prompt(text)
	var analysis domain.Analysis
	// Слот семафора занимается на время одной попытки, чтобы пауза между
	// повторами не блокировала другие анализы.
	err := retry.Do(ctx, s.retries, func() error {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.sem.Release(1)

		start := time.Now()
		completion, err := s.llm.Generate(ctx, prompt, true)
		if err != nil {
			return err
		}
		parsed, err := s.parse(completion.Text)
		if err != nil {
			s.log.Warn().Str("response", truncate(completion.Text, 200)).Msg("некорректный ответ модели")
			return err
		}
		analysis = parsed
		s.logCall(prompt, completion.Text, time.Since(start))
		return nil
	})
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("анализ сообщения: %w", err)
	}

	s.cache.Put(key, analysis)
	return analysis, nil
}

// Chat возвращает ответ модели в свободной форме без JSON-режима и кэша.
func (s *Service) Chat(ctx context.Context, text string) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)

	prompt := "Ты полезный ИИ-ассистент. Отвечай кратко и по делу на русском языке.\n\nПользователь: " +
		text + "\n\nАссистент:"
	start := time.Now()
	completion, err := s.llm.Generate(ctx, prompt, false)
	if err != nil {
		return "", fmt.Errorf("ответ чата: %w", err)
	}
	s.logCall(prompt, completion.Text, time.Since(start))
	return strings.TrimSpace(completion.Text), nil
}

// logCall журналирует вызов модели, не блокируя анализ.
func (s *Service) logCall(prompt, completion string, latency time.Duration) {
	if s.calls == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.calls.LogLLMCall(ctx, prompt, completion, latency); err != nil {
			s.log.Debug().Err(err).Msg("не удалось записать лог LLM")
		}
	}()
}

// CacheStats возвращает счётчики кэша анализов.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// ClearCache очищает кэш анализов.
func (s *Service) ClearCache() {
	s.cache.Clear()
	s.log.Info().Msg("кэш анализатора очищен")
}
