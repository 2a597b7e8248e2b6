package handlers

import (
	"time"

	"github.com/pribylovaa/portal-auth/internal/models"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// TokensResponse — ответ register/login/refresh. User заполняется
// только для register и login.
type TokensResponse struct {
	User             *models.User `json:"user,omitempty"`
	AccessToken      string       `json:"access_token"`
	RefreshToken     string       `json:"refresh_token"`
	AccessExpiresAt  time.Time    `json:"access_expires_at"`
	RefreshExpiresAt time.Time    `json:"refresh_expires_at"`
}

// MessageResponse — ответ без полезной нагрузки.
type MessageResponse struct {
	Message string `json:"message"`
}

func tokensFrom(u *models.User, p *models.TokenPair) TokensResponse {
	return TokensResponse{
		User:             u,
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}
