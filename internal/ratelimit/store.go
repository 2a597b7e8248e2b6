package ratelimit

import (
	"context"
	"time"

	"github.com/pribylovaa/portal-auth/internal/models"
)

// UpdateFunc получает текущий бакет (found == false, если ключа нет)
// и возвращает новое состояние. Может вызываться несколько раз
// (оптимистичные повторы), поэтому должна быть без побочных эффектов
// вне собственного замыкания.
type UpdateFunc func(cur models.Bucket, found bool) models.Bucket

// Store — хранилище бакетов. Update выполняет UpdateFunc атомарно
// относительно других Update по тому же ключу и возвращает записанное
// состояние. ttl — длина окна: бакет не нужен позже WindowStart+ttl.
//
// Если ключа нет и UpdateFunc вернула нулевой бакет, ничего не сохраняется.
type Store interface {
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) (models.Bucket, error)
}

func sameBucket(a, b models.Bucket) bool {
	return a.Count == b.Count && a.WindowStart.Equal(b.WindowStart)
}

func isZeroBucket(b models.Bucket) bool {
	return b.Count == 0 && b.WindowStart.IsZero()
}
