package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/pribylovaa/portal-auth/internal/models"
)

const (
	defaultRedisPrefix = "auth:rl:"
	// Попытки оптимистичной транзакции при конкурентной записи в ключ.
	txMaxAttempts = 10
	txBackoff     = 5 * time.Millisecond
)

// ErrTxConflict — оптимистичная транзакция не удалась за все попытки.
var ErrTxConflict = errors.New("rate limit bucket update conflict")

// RedisStore хранит бакеты в Redis (hash с полями count и ws,
// ws — начало окна в миллисекундах). Update выполняется через
// WATCH/MULTI/EXEC; при конфликте транзакция повторяется.
// Подходит для нескольких реплик сервиса с общим лимитом.
type RedisStore struct {
	rdb      redis.UniversalClient
	prefix   string
	attempts uint64
	backoff  time.Duration
}

// NewRedisStore создаёт хранилище поверх готового клиента.
// Если prefix пустой — используется "auth:rl:".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStore{
		rdb:      rdb,
		prefix:   prefix,
		attempts: txMaxAttempts,
		backoff:  txBackoff,
	}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// Update реализует Store.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (models.Bucket, error) {
	const op = "ratelimit.redis.Update"

	k := s.key(key)

	var out models.Bucket
	txf := func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, k).Result()
		if err != nil {
			return err
		}

		cur, found, err := decodeBucket(m)
		if err != nil {
			return err
		}

		next := fn(cur, found)
		out = next

		if (found && sameBucket(cur, next)) || (!found && isZeroBucket(next)) {
			return nil
		}

		newWindow := !found || !cur.WindowStart.Equal(next.WindowStart)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k,
				"count", next.Count,
				"ws", next.WindowStart.UnixMilli(),
			)
			// Новое окно получает свежий TTL; внутри окна TTL сохраняется.
			if newWindow {
				pipe.PExpire(ctx, k, ttl)
			}

			return nil
		})

		return err
	}

	b := retry.WithMaxRetries(s.attempts-1, retry.NewConstant(s.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := s.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}

		return err
	})
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return models.Bucket{}, fmt.Errorf("%s: %w", op, ErrTxConflict)
		}

		return models.Bucket{}, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func decodeBucket(m map[string]string) (models.Bucket, bool, error) {
	if len(m) == 0 {
		return models.Bucket{}, false, nil
	}

	count, err := strconv.Atoi(m["count"])
	if err != nil {
		return models.Bucket{}, false, fmt.Errorf("decode bucket count: %w", err)
	}

	ws, err := strconv.ParseInt(m["ws"], 10, 64)
	if err != nil {
		return models.Bucket{}, false, fmt.Errorf("decode bucket window: %w", err)
	}

	return models.Bucket{Count: count, WindowStart: time.UnixMilli(ws).UTC()}, true, nil
}
