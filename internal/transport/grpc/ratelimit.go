package grpc

import (
	"strings"

	"github.com/pribylovaa/portal-auth/internal/ratelimit"
)

// RateLimitClass сопоставляет метод auth.v1.AuthService классу ограничения частоты.
// Методы других сервисов (health, reflection) не ограничиваются.
func RateLimitClass(method string) (ratelimit.Class, bool) {
	switch method {
	case fullMethod("Login"):
		return ratelimit.ClassLogin, true
	case fullMethod("Register"):
		return ratelimit.ClassRegister, true
	}

	if strings.HasPrefix(method, "/"+ServiceName+"/") {
		return ratelimit.ClassGeneral, true
	}

	return "", false
}
