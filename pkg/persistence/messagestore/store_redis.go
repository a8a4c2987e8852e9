package messagestore

import (
	"context"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the log as a plain string value under one Redis key.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = &RedisStore{}

func NewRedisStore(addr string, key string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis message store: empty addr")
	}
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: addr}), key), nil
}

func NewRedisStoreFromClient(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) Load(ctx context.Context) []chat.Message { return loadBlob(ctx, s) }

func (s *RedisStore) Save(ctx context.Context, msgs []chat.Message) { saveBlob(ctx, s, msgs) }

func (s *RedisStore) Clear(ctx context.Context) { clearBlob(ctx, s) }

func (s *RedisStore) name() string { return "redis" }

func (s *RedisStore) get(ctx context.Context) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis message store: get")
	}
	return b, true, nil
}

func (s *RedisStore) put(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return errors.Wrap(err, "redis message store: set")
	}
	return nil
}

func (s *RedisStore) del(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrap(err, "redis message store: del")
	}
	return nil
}
