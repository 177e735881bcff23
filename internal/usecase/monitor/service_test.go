package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
)

type stubSource struct {
	latest   map[string]int64
	messages map[string][]domain.Message
	err      error
	errOn    map[string]bool
	delay    time.Duration

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func (s *stubSource) LatestMessageID(ctx context.Context, channelID string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.latest[channelID], nil
}

func (s *stubSource) MessagesSince(ctx context.Context, channelID string, sinceID int64, limit int) ([]domain.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.errOn != nil && s.errOn[channelID] {
		return nil, errors.New("канал недоступен")
	}
	if s.delay > 0 {
		s.mu.Lock()
		s.inFlight++
		if s.inFlight > s.maxInFlight {
			s.maxInFlight = s.inFlight
		}
		s.mu.Unlock()
		time.Sleep(s.delay)
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}
	var out []domain.Message
	for _, m := range s.messages[channelID] {
		if m.ID > sinceID && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

type stubAnalyzer struct {
	mu     sync.Mutex
	failOn map[string]bool
	calls  int
}

func (a *stubAnalyzer) Analyze(ctx context.Context, text string) (domain.Analysis, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.failOn != nil && a.failOn[text] {
		return domain.Analysis{}, errors.New("анализ не удался")
	}
	return domain.Analysis{Summary: "с", Sentiment: domain.SentimentNeutral}, nil
}

type memStore struct {
	mu       sync.Mutex
	cursors  map[string]int64
	messages map[int64]domain.Message
	analyses map[int64]domain.Analysis
	saveErr  map[int64]bool
}

func newMemStore() *memStore {
	return &memStore{
		cursors:  make(map[string]int64),
		messages: make(map[int64]domain.Message),
		analyses: make(map[int64]domain.Analysis),
	}
}

func (m *memStore) LastMessageID(ctx context.Context, channelID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[channelID], nil
}

func (m *memStore) SetLastMessageID(ctx context.Context, channelID string, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[channelID] = messageID
	return nil
}

func (m *memStore) SaveMessage(ctx context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil && m.saveErr[msg.ID] {
		return errors.New("ошибка записи")
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *memStore) SaveAnalysis(ctx context.Context, messageID int64, analysis domain.Analysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses[messageID] = analysis
	return nil
}

func (m *memStore) Statistics(ctx context.Context) (domain.Statistics, error) {
	return domain.Statistics{}, nil
}

type stubQueue struct {
	mu   sync.Mutex
	jobs []domain.NotificationJob
}

func (q *stubQueue) Enqueue(ctx context.Context, job domain.NotificationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Receive(ctx context.Context) (domain.NotificationJob, domain.AckFunc, error) {
	return domain.NotificationJob{}, nil, errors.New("не используется")
}

func msg(id int64, text string) domain.Message {
	return chMsg("news", id, text)
}

func chMsg(channelID string, id int64, text string) domain.Message {
	return domain.Message{ID: id, ChannelID: channelID, Text: text, Date: time.Unix(1700000000, 0)}
}

func newService(src *stubSource, an *stubAnalyzer, store *memStore, queue *stubQueue) *Service {
	return New(src, an, store, store, store, queue, nil, zerolog.Nop(), Options{
		Channels:      []string{"news"},
		CheckInterval: time.Minute,
		PageSize:      100,
		Concurrency:   2,
	})
}

func TestFirstPollSeedsCursorWithoutProcessing(t *testing.T) {
	src := &stubSource{
		latest:   map[string]int64{"news": 42},
		messages: map[string][]domain.Message{"news": {msg(41, "старое"), msg(42, "тоже старое")}},
	}
	an := &stubAnalyzer{}
	store := newMemStore()
	queue := &stubQueue{}
	svc := newService(src, an, store, queue)

	if err := svc.processChannel(context.Background(), "news"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := store.cursors["news"]; got != 42 {
		t.Fatalf("ожидали засев курсора 42, получили %d", got)
	}
	if an.calls != 0 {
		t.Fatalf("история не должна анализироваться при засеве, вызовов: %d", an.calls)
	}
	if len(queue.jobs) != 0 {
		t.Fatalf("уведомления не должны ставиться при засеве")
	}
}

func TestProcessChannelAdvancesCursorToMaxID(t *testing.T) {
	src := &stubSource{
		messages: map[string][]domain.Message{"news": {msg(51, "а"), msg(52, "бб"), msg(53, "ввв")}},
	}
	an := &stubAnalyzer{}
	store := newMemStore()
	store.cursors["news"] = 50
	queue := &stubQueue{}
	svc := newService(src, an, store, queue)

	if err := svc.processChannel(context.Background(), "news"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := store.cursors["news"]; got != 53 {
		t.Fatalf("ожидали курсор 53, получили %d", got)
	}
	if len(store.messages) != 3 || len(store.analyses) != 3 {
		t.Fatalf("ожидали 3 сообщения и 3 анализа, получили %d/%d", len(store.messages), len(store.analyses))
	}
	if len(queue.jobs) != 3 {
		t.Fatalf("ожидали 3 уведомления, получили %d", len(queue.jobs))
	}
}

func TestPartialFailureKeepsCursorButPersistsSiblings(t *testing.T) {
	src := &stubSource{
		messages: map[string][]domain.Message{"news": {msg(51, "а"), msg(52, "бб"), msg(53, "ввв")}},
	}
	an := &stubAnalyzer{failOn: map[string]bool{"бб": true}}
	store := newMemStore()
	store.cursors["news"] = 50
	queue := &stubQueue{}
	svc := newService(src, an, store, queue)

	if err := svc.processChannel(context.Background(), "news"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := store.cursors["news"]; got != 50 {
		t.Fatalf("курсор не должен продвигаться при частичном сбое, получили %d", got)
	}
	if _, ok := store.messages[51]; !ok {
		t.Fatalf("успешные соседи должны сохраняться")
	}
	if _, ok := store.messages[53]; !ok {
		t.Fatalf("успешные соседи должны сохраняться")
	}
	if _, ok := store.messages[52]; ok {
		t.Fatalf("упавшее сообщение не должно сохраняться")
	}
}

func TestRetryAfterPartialFailureIsIdempotent(t *testing.T) {
	src := &stubSource{
		messages: map[string][]domain.Message{"news": {msg(51, "а"), msg(52, "бб")}},
	}
	an := &stubAnalyzer{failOn: map[string]bool{"бб": true}}
	store := newMemStore()
	store.cursors["news"] = 50
	queue := &stubQueue{}
	svc := newService(src, an, store, queue)

	if err := svc.processChannel(context.Background(), "news"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Следующий цикл: анализ больше не падает.
	an.failOn = nil
	if err := svc.processChannel(context.Background(), "news"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := store.cursors["news"]; got != 52 {
		t.Fatalf("ожидали курсор 52 после повторного цикла, получили %d", got)
	}
	if len(store.messages) != 2 {
		t.Fatalf("ожидали 2 сохранённых сообщения, получили %d", len(store.messages))
	}
}

func TestRunCyclePollsChannelsConcurrently(t *testing.T) {
	src := &stubSource{
		messages: map[string][]domain.Message{
			"news": {chMsg("news", 51, "а")},
			"tech": {chMsg("tech", 11, "б")},
		},
		delay: 50 * time.Millisecond,
	}
	an := &stubAnalyzer{}
	store := newMemStore()
	store.cursors["news"] = 50
	store.cursors["tech"] = 10
	queue := &stubQueue{}
	svc := New(src, an, store, store, store, queue, nil, zerolog.Nop(), Options{
		Channels:      []string{"news", "tech"},
		CheckInterval: time.Minute,
		PageSize:      100,
		Concurrency:   2,
	})

	svc.runCycle(context.Background())

	if src.maxInFlight < 2 {
		t.Fatalf("каналы должны опрашиваться параллельно, максимум одновременных выборок: %d", src.maxInFlight)
	}
	if store.cursors["news"] != 51 || store.cursors["tech"] != 11 {
		t.Fatalf("курсоры обоих каналов должны продвинуться, получили news=%d tech=%d",
			store.cursors["news"], store.cursors["tech"])
	}
}

func TestRunCycleContainsChannelFailures(t *testing.T) {
	src := &stubSource{
		messages: map[string][]domain.Message{"news": {msg(51, "а")}},
		errOn:    map[string]bool{"tech": true},
	}
	an := &stubAnalyzer{}
	store := newMemStore()
	store.cursors["news"] = 50
	store.cursors["tech"] = 5
	queue := &stubQueue{}
	svc := New(src, an, store, store, store, queue, nil, zerolog.Nop(), Options{
		Channels: []string{"tech", "news"},
	})

	svc.runCycle(context.Background())

	// tech упал при выборке, но news обработан в том же цикле.
	if store.cursors["news"] != 51 {
		t.Fatalf("сбой одного канала не должен мешать остальным, курсор news=%d", store.cursors["news"])
	}
}

func TestEmptyChannelIsNotSeeded(t *testing.T) {
	src := &stubSource{latest: map[string]int64{"news": 0}}
	store := newMemStore()
	svc := newService(src, &stubAnalyzer{}, store, &stubQueue{})

	if err := svc.processChannel(context.Background(), "news"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := store.cursors["news"]; got != 0 {
		t.Fatalf("пустой канал не должен засеваться, получили %d", got)
	}
}

func TestValidateChannelsDropsUnreachable(t *testing.T) {
	src := &stubSource{latest: map[string]int64{"ok": 1}}
	store := newMemStore()
	svc := New(src, &stubAnalyzer{}, store, store, store, &stubQueue{}, nil, zerolog.Nop(), Options{
		Channels: []string{"ok", "сломанный"},
	})
	// Источник отдаёт ошибку на любой канал, кроме известных.
	src.messages = nil

	valid := svc.ValidateChannels(context.Background())
	if len(valid) != 2 {
		// latest неизвестного канала равен 0, это не ошибка доступа.
		t.Fatalf("ожидали 2 канала, получили %d", len(valid))
	}

	src.err = errors.New("канал недоступен")
	svc2 := New(src, &stubAnalyzer{}, store, store, store, &stubQueue{}, nil, zerolog.Nop(), Options{
		Channels: []string{"ok"},
	})
	if valid := svc2.ValidateChannels(context.Background()); len(valid) != 0 {
		t.Fatalf("недоступные каналы должны отбрасываться, получили %d", len(valid))
	}
}
