// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает ошибку сервисного слоя или лимитера,
// а на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное сообщение без утечки деталей;
//   - список нарушений политики паролей в details (только для 400).
//
// Неизвестные ошибки всегда превращаются в 500 "internal error",
// подробности остаются в логах.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pribylovaa/portal-auth/internal/ratelimit"
	"github.com/pribylovaa/portal-auth/internal/service"
	"github.com/pribylovaa/portal-auth/pkg/log"
)

// Сообщения ответов. Для 401 они намеренно общие.
const (
	MsgInvalidInput       = "invalid input"
	MsgInvalidEmail       = "invalid email format"
	MsgWeakPassword       = "password does not meet requirements"
	MsgPasswordTooLong    = "password is too long"
	MsgInvalidCredentials = "invalid credentials"
	MsgInvalidToken       = "invalid or expired token"
	MsgAuthRequired       = "authentication required"
	MsgEmailTaken         = "email already registered"
	MsgTooManyRequests    = "too many requests, please try again later"
	MsgInternal           = "internal error"
)

// ErrUnauthenticated — запрос к защищённому маршруту без Bearer-токена.
var ErrUnauthenticated = stderrors.New("authentication required")

// ErrorResponse — единый формат ответа об ошибке.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// ToHTTP конвертирует ошибку в HTTP-статус и тело ответа.
// err == nil считается программной ошибкой вызова и даёт 500.
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, ErrorResponse{Error: MsgInternal}
	}

	var exceeded *ratelimit.ExceededError
	if stderrors.As(err, &exceeded) {
		return http.StatusTooManyRequests, ErrorResponse{Error: MsgTooManyRequests}
	}

	var weak *service.WeakPasswordError
	if stderrors.As(err, &weak) {
		return http.StatusBadRequest, ErrorResponse{Error: MsgWeakPassword, Details: weak.Violations}
	}

	switch {
	case stderrors.Is(err, service.ErrPasswordTooLong):
		return http.StatusBadRequest, ErrorResponse{Error: MsgPasswordTooLong}
	case stderrors.Is(err, service.ErrInvalidEmail):
		return http.StatusBadRequest, ErrorResponse{Error: MsgInvalidEmail}
	case stderrors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: MsgInvalidInput}
	case stderrors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrorResponse{Error: MsgInvalidCredentials}
	case stderrors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: MsgAuthRequired}
	case stderrors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, ErrorResponse{Error: MsgInvalidToken}
	case stderrors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, ErrorResponse{Error: MsgEmailTaken}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: MsgInternal}
	}
}

// WriteError — хелпер для хендлеров и middleware.
// Для 429 выставляет Retry-After в секундах, для 500 пишет ошибку в лог.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	var exceeded *ratelimit.ExceededError
	if stderrors.As(err, &exceeded) {
		w.Header().Set("Retry-After", strconv.Itoa(exceeded.RetryAfterSeconds()))
	}

	if status == http.StatusInternalServerError {
		errText := "<nil>"
		if err != nil {
			errText = err.Error()
		}

		log.From(r.Context()).Error("http_internal_error",
			slog.String("path", r.URL.Path),
			slog.String("err", errText),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
