package models

import (
	"time"

	"github.com/google/uuid"
)

// Principal — проверенная личность, привязанная к запросу после
// верификации access-токена. Живёт только в рамках запроса.
type Principal struct {
	UserID    uuid.UUID
	Email     string
	TokenID   string
	ExpiresAt time.Time
}
