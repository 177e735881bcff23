package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
)

type stubSubscribers struct {
	subs        []domain.Subscriber
	settings    map[int64]domain.SubscriberSettings
	settingsErr map[int64]error
	deactivated []int64
}

func (s *stubSubscribers) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	return s.subs, nil
}

func (s *stubSubscribers) Add(ctx context.Context, chatID int64) error { return nil }

func (s *stubSubscribers) Deactivate(ctx context.Context, chatID int64) error {
	s.deactivated = append(s.deactivated, chatID)
	return nil
}

func (s *stubSubscribers) IsActive(ctx context.Context, chatID int64) (bool, error) {
	return true, nil
}

func (s *stubSubscribers) Settings(ctx context.Context, chatID int64) (domain.SubscriberSettings, error) {
	if err, ok := s.settingsErr[chatID]; ok {
		return domain.SubscriberSettings{}, err
	}
	if st, ok := s.settings[chatID]; ok {
		return st, nil
	}
	return domain.DefaultSettings(chatID), nil
}

func (s *stubSubscribers) UpdateSettings(ctx context.Context, settings domain.SubscriberSettings) error {
	if s.settings == nil {
		s.settings = make(map[int64]domain.SubscriberSettings)
	}
	s.settings[settings.ChatID] = settings
	return nil
}

type stubSender struct {
	sent   []int64
	failOn map[int64]error
	texts  map[int64]string
}

func (s *stubSender) Send(ctx context.Context, chatID int64, text string) error {
	if err, ok := s.failOn[chatID]; ok {
		return err
	}
	s.sent = append(s.sent, chatID)
	if s.texts == nil {
		s.texts = make(map[int64]string)
	}
	s.texts[chatID] = text
	return nil
}

func job(sentiment domain.Sentiment, hashtags ...string) domain.NotificationJob {
	return domain.NotificationJob{
		ID: "job-1",
		Message: domain.Message{
			ID:              7,
			ChannelID:       "news",
			ChannelTitle:    "Новости дня",
			ChannelUsername: "newsdaily",
		},
		Analysis: domain.Analysis{
			Summary:   "Краткое содержание",
			Sentiment: sentiment,
			Hashtags:  hashtags,
		},
	}
}

func subscribers(ids ...int64) []domain.Subscriber {
	subs := make([]domain.Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, domain.Subscriber{ChatID: id, IsActive: true})
	}
	return subs
}

func TestDispatchSendsToAllActive(t *testing.T) {
	repo := &stubSubscribers{subs: subscribers(1, 2, 3)}
	sender := &stubSender{}
	d := NewDispatcher(repo, sender, zerolog.Nop(), 0)

	report, err := d.Dispatch(context.Background(), job(domain.SentimentNeutral))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Sent != 3 || report.Failed != 0 {
		t.Fatalf("ожидали 3 доставки, получили %+v", report)
	}
}

func TestDispatchBlockedRecipientIsDeactivatedAndBatchContinues(t *testing.T) {
	repo := &stubSubscribers{subs: subscribers(1, 2, 3, 4, 5)}
	sender := &stubSender{failOn: map[int64]error{4: domain.ErrRecipientBlocked}}
	d := NewDispatcher(repo, sender, zerolog.Nop(), 0)

	report, err := d.Dispatch(context.Background(), job(domain.SentimentNeutral))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Sent != 4 || report.Failed != 1 || report.Deactivated != 1 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if len(repo.deactivated) != 1 || repo.deactivated[0] != 4 {
		t.Fatalf("ожидали деактивацию подписчика 4, получили %v", repo.deactivated)
	}
	if len(sender.sent) != 4 {
		t.Fatalf("остальные получатели должны получить уведомление: %v", sender.sent)
	}
}

func TestDispatchTransientFailureDoesNotDeactivate(t *testing.T) {
	repo := &stubSubscribers{subs: subscribers(1, 2)}
	sender := &stubSender{failOn: map[int64]error{1: errors.New("таймаут")}}
	d := NewDispatcher(repo, sender, zerolog.Nop(), 0)

	report, err := d.Dispatch(context.Background(), job(domain.SentimentNeutral))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Failed != 1 || report.Sent != 1 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if len(repo.deactivated) != 0 {
		t.Fatalf("временная ошибка не должна деактивировать: %v", repo.deactivated)
	}
}

func TestDispatchRespectsDisabledNotifications(t *testing.T) {
	settings := domain.DefaultSettings(1)
	settings.NotificationsEnabled = false
	repo := &stubSubscribers{
		subs:     subscribers(1, 2),
		settings: map[int64]domain.SubscriberSettings{1: settings},
	}
	sender := &stubSender{}
	d := NewDispatcher(repo, sender, zerolog.Nop(), 0)

	report, err := d.Dispatch(context.Background(), job(domain.SentimentNeutral))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Filtered != 1 || report.Sent != 1 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if len(sender.sent) != 1 || sender.sent[0] != 2 {
		t.Fatalf("ожидали доставку только подписчику 2: %v", sender.sent)
	}
}

func TestDispatchSentimentFilter(t *testing.T) {
	settings := domain.DefaultSettings(1)
	settings.SentimentFilter = "positive"
	repo := &stubSubscribers{
		subs:     subscribers(1),
		settings: map[int64]domain.SubscriberSettings{1: settings},
	}
	sender := &stubSender{}
	d := NewDispatcher(repo, sender, zerolog.Nop(), 0)

	report, _ := d.Dispatch(context.Background(), job(domain.SentimentNegative))
	if report.Filtered != 1 {
		t.Fatalf("негативная новость должна отфильтроваться: %+v", report)
	}

	report, _ = d.Dispatch(context.Background(), job(domain.SentimentPositive))
	if report.Sent != 1 {
		t.Fatalf("позитивная новость должна доставляться: %+v", report)
	}
}

func TestDispatchHashtagFilter(t *testing.T) {
	settings := domain.DefaultSettings(1)
	settings.HashtagFilters = []string{"спорт", "экономика"}
	repo := &stubSubscribers{
		subs:     subscribers(1),
		settings: map[int64]domain.SubscriberSettings{1: settings},
	}
	sender := &stubSender{}
	d := NewDispatcher(repo, sender, zerolog.Nop(), 0)

	report, _ := d.Dispatch(context.Background(), job(domain.SentimentNeutral, "политика"))
	if report.Filtered != 1 {
		t.Fatalf("новость без пересечения тегов должна отфильтроваться: %+v", report)
	}

	report, _ = d.Dispatch(context.Background(), job(domain.SentimentNeutral, "спорт", "футбол"))
	if report.Sent != 1 {
		t.Fatalf("новость с пересечением тегов должна доставляться: %+v", report)
	}
}

func TestDispatchSettingsErrorFallsBackToDefaults(t *testing.T) {
	repo := &stubSubscribers{
		subs:        subscribers(1),
		settingsErr: map[int64]error{1: errors.New("БД недоступна")},
	}
	sender := &stubSender{}
	d := NewDispatcher(repo, sender, zerolog.Nop(), 0)

	report, err := d.Dispatch(context.Background(), job(domain.SentimentNeutral))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Sent != 1 {
		t.Fatalf("при ошибке настроек применяются умолчания: %+v", report)
	}
}

func TestQuietHours(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC)
	}
	cases := []struct {
		name       string
		now        time.Time
		start, end string
		want       bool
	}{
		{"внутри дневного окна", at(13, 0), "12:00", "14:00", true},
		{"вне дневного окна", at(15, 0), "12:00", "14:00", false},
		{"ночное окно, до полуночи", at(23, 30), "22:00", "08:00", true},
		{"ночное окно, после полуночи", at(6, 0), "22:00", "08:00", true},
		{"ночное окно, день", at(12, 0), "22:00", "08:00", false},
		{"окно не задано", at(12, 0), "", "", false},
		{"некорректное значение", at(12, 0), "abc", "14:00", false},
		{"граница начала входит", at(12, 0), "12:00", "14:00", true},
		{"граница конца не входит", at(14, 0), "12:00", "14:00", false},
	}
	for _, tc := range cases {
		if got := inQuietHours(tc.now, tc.start, tc.end); got != tc.want {
			t.Errorf("%s: ожидали %v, получили %v", tc.name, tc.want, got)
		}
	}
}

func TestDispatchQuietHoursFilter(t *testing.T) {
	settings := domain.DefaultSettings(1)
	settings.QuietHoursStart = "22:00"
	settings.QuietHoursEnd = "08:00"
	repo := &stubSubscribers{
		subs:     subscribers(1),
		settings: map[int64]domain.SubscriberSettings{1: settings},
	}
	sender := &stubSender{}
	d := NewDispatcher(repo, sender, zerolog.Nop(), 0)
	d.now = func() time.Time { return time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC) }

	report, _ := d.Dispatch(context.Background(), job(domain.SentimentNeutral))
	if report.Filtered != 1 {
		t.Fatalf("уведомление в тихие часы должно отфильтроваться: %+v", report)
	}
}

func TestFormatNotification(t *testing.T) {
	text := FormatNotification(job(domain.SentimentPositive, "спорт", "футбол"))
	for _, want := range []string{
		"Анализ из «Новости дня»",
		"Краткое содержание:\nКраткое содержание",
		"Оригинал: https://t.me/newsdaily/7",
		"#спорт #футбол",
		"#позитивная_новость",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("в уведомлении нет %q:\n%s", want, text)
		}
	}
}

func TestFormatNotificationWithoutUsernameAndHashtags(t *testing.T) {
	j := job(domain.SentimentNeutral)
	j.Message.ChannelUsername = ""
	text := FormatNotification(j)
	if !strings.Contains(text, "Оригинал: N/A") {
		t.Fatalf("для канала без имени ссылка должна быть N/A:\n%s", text)
	}
	if !strings.Contains(text, "Хештеги не сгенерированы.") {
		t.Fatalf("ожидали заглушку хештегов:\n%s", text)
	}
	if !strings.Contains(text, "#нейтральная_новость") {
		t.Fatalf("ожидали хештег тональности:\n%s", text)
	}
}
