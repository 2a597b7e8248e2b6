// storage описывает контракты хранилищ, от которых зависит бизнес-логика:
// пользователи и список отзыва токенов. Конкретные реализации живут
// в подпакетах (postgres) и в пакете cache (Redis).
package storage

//go:generate mockgen -source=storage.go -destination=../../mocks/mock_storage.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/portal-auth/internal/models"
)

var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт нового пользователя.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email (без учёта регистра).
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpdatePassword заменяет хэш пароля пользователя.
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error
}

// RevocationStorage — список отзыва: отдельные токены по jti и
// момент "все сессии пользователя отозваны" (logout).
type RevocationStorage interface {
	// RevokeToken отзывает токен id до expiresAt.
	// Возвращает false, если токен уже был отозван (повторное использование).
	RevokeToken(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	// RevokeUserSessions отзывает все токены пользователя, выпущенные до at.
	// Запись нужна до until (максимальный срок жизни выпущенных токенов).
	RevokeUserSessions(ctx context.Context, userID uuid.UUID, at, until time.Time) error
	// SessionsRevokedAt возвращает момент последнего отзыва сессий пользователя.
	SessionsRevokedAt(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
	// DeleteExpired удаляет записи, срок которых истёк к now.
	DeleteExpired(ctx context.Context, now time.Time) error
}

// Storage — полное хранилище PostgreSQL.
type Storage interface {
	UserStorage
	RevocationStorage
	Close()
}
