package models

import (
	"time"

	"github.com/google/uuid"
)

// Claim — идентификационные данные, встроенные в каждый выпущенный токен.
// После подписи не изменяются.
//
// ID — идентификатор токена (jti), по нему работает список отзыва.
type Claim struct {
	UserID    uuid.UUID
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// TokenPair — пара токенов, выдаваемая при регистрации, входе и обновлении.
//
// Оба токена построены из одной Claim, но подписаны РАЗНЫМИ секретами
// и имеют разный тип (typ=access / typ=refresh).
type TokenPair struct {
	// AccessToken — короткоживущий JWT для авторизации запросов.
	AccessToken string `json:"access_token"`
	// RefreshToken — долгоживущий JWT для выпуска новой пары.
	RefreshToken string `json:"refresh_token"`
	// AccessExpiresAt — момент истечения access-токена (UTC).
	AccessExpiresAt time.Time `json:"access_expires_at"`
	// RefreshExpiresAt — момент истечения refresh-токена (UTC).
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AuthResult — результат регистрации или входа.
type AuthResult struct {
	User   *User
	Tokens *TokenPair
}
