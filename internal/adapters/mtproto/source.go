package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/domain"
	"github.com/000p1umDiesel/telegram-chatbot-news-analyzer/internal/infra/metrics"
)

// Source реализует domain.ChannelSource через gotd.
type Source struct {
	client *telegram.Client
	log    zerolog.Logger

	ready chan struct{}

	mu    sync.Mutex
	peers map[string]resolvedChannel
}

type resolvedChannel struct {
	peer     *tg.InputPeerChannel
	title    string
	username string
}

// NewSource создаёт MTProto клиент с сессией из хранилища.
func NewSource(apiID int, apiHash string, storage session.Storage, log zerolog.Logger) *Source {
	client := telegram.NewClient(apiID, apiHash, telegram.Options{SessionStorage: storage})
	return &Source{
		client: client,
		log:    log,
		ready:  make(chan struct{}),
		peers:  make(map[string]resolvedChannel),
	}
}

var _ domain.ChannelSource = (*Source)(nil)

// Run держит соединение открытым до отмены контекста. Методы источника
// работают только пока Run активен.
func (s *Source) Run(ctx context.Context) error {
	return s.client.Run(ctx, func(ctx context.Context) error {
		status, err := s.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}
		if !status.Authorized {
			return errors.New("mtproto: сессия не авторизована, выполните импорт сессии")
		}
		s.log.Info().Msg("mtproto: клиент авторизован")
		close(s.ready)
		<-ctx.Done()
		return ctx.Err()
	})
}

// WaitReady блокируется до готовности клиента или отмены контекста.
func (s *Source) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) resolve(ctx context.Context, channelID string) (resolvedChannel, error) {
	s.mu.Lock()
	if rc, ok := s.peers[channelID]; ok {
		s.mu.Unlock()
		return rc, nil
	}
	s.mu.Unlock()

	start := time.Now()
	peer, err := s.client.API().ContactsResolveUsername(ctx, channelID)
	metrics.ObserveNetworkRequest("mtproto", "resolve_username", channelID, start, err)
	if err != nil {
		return resolvedChannel{}, fmt.Errorf("resolve %q: %w", channelID, err)
	}
	for _, chat := range peer.Chats {
		channel, ok := chat.(*tg.Channel)
		if !ok {
			continue
		}
		rc := resolvedChannel{
			peer:     &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash},
			title:    channel.Title,
			username: channel.Username,
		}
		s.mu.Lock()
		s.peers[channelID] = rc
		s.mu.Unlock()
		return rc, nil
	}
	return resolvedChannel{}, fmt.Errorf("%q: %w", channelID, domain.ErrChannelNotFound)
}

// LatestMessageID возвращает идентификатор последнего сообщения канала.
func (s *Source) LatestMessageID(ctx context.Context, channelID string) (int64, error) {
	rc, err := s.resolve(ctx, channelID)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	history, err := s.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  rc.peer,
		Limit: 1,
	})
	metrics.ObserveNetworkRequest("mtproto", "get_history", channelID, start, err)
	if err != nil {
		return 0, fmt.Errorf("history %q: %w", channelID, err)
	}
	msgs, err := historyMessages(history)
	if err != nil {
		return 0, fmt.Errorf("history %q: %w", channelID, err)
	}
	var latest int64
	for _, m := range msgs {
		if msg, ok := m.(*tg.Message); ok && int64(msg.ID) > latest {
			latest = int64(msg.ID)
		}
	}
	return latest, nil
}

// MessagesSince возвращает до limit сообщений с идентификатором строго больше
// sinceID, старые первыми. Сообщения без текста пропускаются, но участвуют
// в продвижении по истории.
func (s *Source) MessagesSince(ctx context.Context, channelID string, sinceID int64, limit int) ([]domain.Message, error) {
	rc, err := s.resolve(ctx, channelID)
	if err != nil {
		return nil, err
	}

	// offset_id + отрицательный add_offset отдаёт самые старые сообщения
	// новее sinceID, как reverse-итерация в клиентских библиотеках.
	start := time.Now()
	history, err := s.client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:      rc.peer,
		OffsetID:  int(sinceID) + 1,
		AddOffset: -limit,
		Limit:     limit,
		MinID:     int(sinceID),
	})
	metrics.ObserveNetworkRequest("mtproto", "get_history", channelID, start, err)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", channelID, err)
	}
	raw, err := historyMessages(history)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", channelID, err)
	}

	out := make([]domain.Message, 0, len(raw))
	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok || int64(msg.ID) <= sinceID || msg.Message == "" {
			continue
		}
		out = append(out, domain.Message{
			ID:              int64(msg.ID),
			ChannelID:       channelID,
			Text:            msg.Message,
			ChannelTitle:    rc.title,
			ChannelUsername: rc.username,
			Date:            time.Unix(int64(msg.Date), 0).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func historyMessages(history tg.MessagesMessagesClass) ([]tg.MessageClass, error) {
	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		return h.Messages, nil
	case *tg.MessagesMessages:
		return h.Messages, nil
	case *tg.MessagesMessagesSlice:
		return h.Messages, nil
	default:
		return nil, fmt.Errorf("неожиданный тип истории %T", history)
	}
}
