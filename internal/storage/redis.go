package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix はRedis上のキー名前空間。
const redisKeyPrefix = "jomovie"

// maxUpdateAttempts は楽観ロックが競合した場合の再試行上限。
const maxUpdateAttempts = 10

// RedisTier はRedisに保存する一時Tier。
// 書き込みのたびにTTLを更新し、非アクティブなタブの値は自動的に失効する。
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
}

// OpenRedis はredis:// 形式のURLからRedisクライアントを生成する。
// 接続確認には client.Ping を使用すること。
func OpenRedis(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// NewRedisTier はRedisTierを生成する。
func NewRedisTier(client *redis.Client, ttl time.Duration) *RedisTier {
	return &RedisTier{client: client, ttl: ttl}
}

// Scope は指定スコープに閉じたStoreを返す。
func (t *RedisTier) Scope(name string) Store {
	return &redisStore{tier: t, scope: name}
}

// redisKey はスコープとキーからRedisのキー名を組み立てる。
func redisKey(scope, key string) string {
	return redisKeyPrefix + ":" + scope + ":" + key
}

type redisStore struct {
	tier  *RedisTier
	scope string
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.tier.client.Get(ctx, redisKey(s.scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get redis key: %w", err)
	}
	return v, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string) error {
	if err := s.tier.client.Set(ctx, redisKey(s.scope, key), value, s.tier.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set redis key: %w", err)
	}
	return nil
}

// Update はWATCHによる楽観ロックで読み取りと書き込みを行う。
// 競合した場合はfnを呼び直す。
func (s *redisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	rk := redisKey(s.scope, key)
	txf := func(tx *redis.Tx) error {
		ok := true
		current, err := tx.Get(ctx, rk).Result()
		if errors.Is(err, redis.Nil) {
			ok = false
		} else if err != nil {
			return fmt.Errorf("failed to get redis key: %w", err)
		}

		next, err := fn(current, ok)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, next, s.tier.ttl)
			return nil
		})
		return err
	}

	for range maxUpdateAttempts {
		err := s.tier.client.Watch(ctx, txf, rk)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update redis key %s: too many conflicts", key)
}

func (s *redisStore) Remove(ctx context.Context, key string) error {
	if err := s.tier.client.Del(ctx, redisKey(s.scope, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete redis key: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ Tier    = (*RedisTier)(nil)
	_ Updater = (*redisStore)(nil)
)
