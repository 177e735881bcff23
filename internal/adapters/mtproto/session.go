package mtproto

import (
	"context"

	"github.com/gotd/td/session"
)

// SessionStore реализует session.Storage поверх репозитория сессий.
type SessionStore struct {
	repo SessionRepo
	name string
}

// SessionRepo хранит сырые блобы MTProto-сессий.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// NewSessionStore создаёт хранилище именованной сессии.
func NewSessionStore(repo SessionRepo, name string) *SessionStore {
	return &SessionStore{repo: repo, name: name}
}

var _ session.Storage = (*SessionStore)(nil)

// LoadSession загружает сессию.
func (s *SessionStore) LoadSession(ctx context.Context) ([]byte, error) {
	return s.repo.LoadMTProtoSession(ctx, s.name)
}

// StoreSession сохраняет сессию.
func (s *SessionStore) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}
