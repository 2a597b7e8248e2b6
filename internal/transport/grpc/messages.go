package grpc

// RegisterRequest — вход Register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest — вход Login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest — вход Refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest — вход Logout: access-токен завершаемой сессии.
type LogoutRequest struct {
	AccessToken string `json:"access_token"`
}

// LogoutResponse — результат Logout.
type LogoutResponse struct {
	Ok bool `json:"ok"`
}

// ValidateTokenRequest — вход ValidateToken.
type ValidateTokenRequest struct {
	AccessToken string `json:"access_token"`
}

// ValidateTokenResponse — результат ValidateToken. При Valid=false
// остальные поля пусты.
type ValidateTokenResponse struct {
	Valid     bool   `json:"valid"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// AuthResponse — пара токенов; сроки в unix-секундах.
// UserID заполняется для Register и Login.
type AuthResponse struct {
	UserID           string `json:"user_id,omitempty"`
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}
