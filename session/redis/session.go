package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dormoron/polyel/internal/errs"
	"github.com/dormoron/polyel/session"
)

// Store 把每个会话保存为一个 Redis hash，键为 "<prefix>-<id>"
type Store struct {
	prefix     string
	client     redis.Cmdable
	expiration time.Duration
}

type StoreOptions func(store *Store)

func InitStore(client redis.Cmdable, opts ...StoreOptions) *Store {
	res := &Store{
		client:     client,
		expiration: time.Minute * 15,
		prefix:     "sessionId",
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

func StoreWithExpiration(expiration time.Duration) StoreOptions {
	return func(store *Store) {
		store.expiration = expiration
	}
}

func StoreWithPrefix(prefix string) StoreOptions {
	return func(store *Store) {
		store.prefix = prefix
	}
}

// Generate 写入 id 字段占位，保证 hash 存在才能设置过期时间
func (s *Store) Generate(ctx context.Context, id string) (session.Session, error) {
	key := redisKey(s.prefix, id)
	if _, err := s.client.HSet(ctx, key, "_id", id).Result(); err != nil {
		return nil, err
	}
	if _, err := s.client.Expire(ctx, key, s.expiration).Result(); err != nil {
		return nil, err
	}
	return &Session{id: id, key: key, client: s.client}, nil
}

func (s *Store) Refresh(ctx context.Context, id string) error {
	ok, err := s.client.Expire(ctx, redisKey(s.prefix, id), s.expiration).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrIdSessionNotFound()
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	_, err := s.client.Del(ctx, redisKey(s.prefix, id)).Result()
	return err
}

func (s *Store) Get(ctx context.Context, id string) (session.Session, error) {
	key := redisKey(s.prefix, id)
	cnt, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if cnt != 1 {
		return nil, errs.ErrIdSessionNotFound()
	}
	return &Session{id: id, key: key, client: s.client}, nil
}

type Session struct {
	id     string
	key    string
	client redis.Cmdable
}

func (s *Session) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.HGet(ctx, s.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// setScript 只在会话仍然存在时写入，避免给已过期的会话重新创建一个没有过期时间的 hash
const setScript = `
if redis.call("exists", KEYS[1]) == 1
then
	return redis.call("hset", KEYS[1], ARGV[1], ARGV[2])
else
	return -1
end
`

func (s *Session) Set(ctx context.Context, key string, value string) error {
	res, err := s.client.Eval(ctx, setScript, []string{s.key}, key, value).Int()
	if err != nil {
		return err
	}
	if res < 0 {
		return errs.ErrIdSessionNotFound()
	}
	return nil
}

func (s *Session) Delete(ctx context.Context, key string) error {
	return s.client.HDel(ctx, s.key, key).Err()
}

func (s *Session) ID() string {
	return s.id
}

func redisKey(prefix, id string) string {
	return fmt.Sprintf("%s-%s", prefix, id)
}
