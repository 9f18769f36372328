package memory

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/dormoron/polyel/internal/errs"
	"github.com/dormoron/polyel/session"
)

// Store 是基于 go-cache 的进程内会话存储，过期的会话由 go-cache 定期清理
type Store struct {
	mutex      sync.RWMutex
	sessions   *cache.Cache
	expiration time.Duration
}

// InitStore 创建存储，expiration 是会话的闲置过期时间
func InitStore(expiration time.Duration) *Store {
	return &Store{
		sessions:   cache.New(expiration, time.Minute),
		expiration: expiration,
	}
}

func (s *Store) Generate(ctx context.Context, id string) (session.Session, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	sess := &Session{
		id:     id,
		values: make(map[string]string, 4),
	}
	s.sessions.Set(id, sess, s.expiration)
	return sess, nil
}

func (s *Store) Refresh(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	val, ok := s.sessions.Get(id)
	if !ok {
		return errs.ErrIdSessionNotFound()
	}
	s.sessions.Set(id, val, s.expiration)
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions.Delete(id)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	val, ok := s.sessions.Get(id)
	if !ok {
		return nil, errs.ErrIdSessionNotFound()
	}
	return val.(*Session), nil
}

// GC 立即清理过期会话
func (s *Store) GC(ctx context.Context) error {
	s.sessions.DeleteExpired()
	return nil
}

// Session 是内存会话，同一会话可能被并发请求共享，因此用读写锁保护
type Session struct {
	id     string
	mutex  sync.RWMutex
	values map[string]string
}

func (s *Session) Get(ctx context.Context, key string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.values[key], nil
}

func (s *Session) Set(ctx context.Context, key string, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.values[key] = value
	return nil
}

func (s *Session) Delete(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.values, key)
	return nil
}

func (s *Session) ID() string {
	return s.id
}
