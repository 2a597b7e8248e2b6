package models

import (
	"time"

	"github.com/google/uuid"
)

// OAuthIdentity — связь внешнего OAuth-аккаунта с пользователем.
// Логика интеграции с провайдерами не реализуется, определена только форма данных.
type OAuthIdentity struct {
	Provider string    `json:"provider"`
	Subject  string    `json:"subject"`
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	LinkedAt time.Time `json:"linked_at"`
}
