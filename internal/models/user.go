package models

import (
	"time"

	"github.com/google/uuid"
)

// User — модель пользователя портала.
// PasswordHash никогда не сериализуется в JSON и не попадает в логи.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
