// cache — список отзыва токенов в Redis (реализация storage.RevocationStorage).
// Записи живут ровно до истечения отзываемых токенов (PEXPIREAT),
// поэтому DeleteExpired здесь ничего не делает.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/portal-auth/internal/storage"
)

const defaultPrefix = "auth:"

// Connect создаёт клиент Redis из URL (например, redis://:pass@host:6379/0)
// и проверяет соединение (fail-fast на старте).
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	const op = "cache.Connect"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}

// Revocations хранит отозванные jti (ключ prefix+"rt:"+jti) и моменты
// отзыва сессий (ключ prefix+"us:"+userID, значение — unix ms).
type Revocations struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRevocations создаёт список отзыва поверх клиента.
// Если prefix пустой — используется "auth:".
func NewRevocations(rdb redis.UniversalClient, prefix string) *Revocations {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Revocations{rdb: rdb, prefix: prefix}
}

func (c *Revocations) tokenKey(id string) string { return c.prefix + "rt:" + id }

func (c *Revocations) userKey(id uuid.UUID) string { return c.prefix + "us:" + id.String() }

// RevokeToken отзывает токен через SET NX: false, если ключ уже был.
func (c *Revocations) RevokeToken(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	const op = "cache.RevokeToken"

	ttl := time.Until(expiresAt)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	ok, err := c.rdb.SetNX(ctx, c.tokenKey(id), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

// RevokeUserSessions сохраняет момент отзыва сессий. Более ранний момент
// не перезаписывает более поздний.
func (c *Revocations) RevokeUserSessions(ctx context.Context, userID uuid.UUID, at, until time.Time) error {
	const op = "cache.RevokeUserSessions"

	k := c.userKey(userID)

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if err == nil && cur >= at.UnixMilli() {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, strconv.FormatInt(at.UnixMilli(), 10), 0)
			pipe.PExpireAt(ctx, k, until)
			return nil
		})

		return err
	}, k)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SessionsRevokedAt возвращает момент последнего отзыва сессий.
func (c *Revocations) SessionsRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	const op = "cache.SessionsRevokedAt"

	ms, err := c.rdb.Get(ctx, c.userKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, fmt.Errorf("%s: %w", op, err)
	}

	return time.UnixMilli(ms).UTC(), true, nil
}

// DeleteExpired — no-op: Redis удаляет ключи сам по TTL.
func (c *Revocations) DeleteExpired(context.Context, time.Time) error { return nil }

// Проверка на соответствие интерфейсу.
var _ storage.RevocationStorage = (*Revocations)(nil)
