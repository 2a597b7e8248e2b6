package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pribylovaa/portal-auth/internal/models"
	apierrors "github.com/pribylovaa/portal-auth/internal/transport/http/errors"
	"github.com/pribylovaa/portal-auth/pkg/log"
)

// Authenticator проверяет access-токен.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Principal, error)
}

type principalKey struct{}

// RequireAuth требует заголовок "Authorization: Bearer <token>".
// Отсутствие токена и любой отказ проверки дают 401; принципал кладётся
// в контекст, логгер дополняется user_id.
func RequireAuth(auth Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := BearerToken(r)
			if !ok {
				apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
				return
			}

			p, err := auth.Authenticate(r.Context(), tok)
			if err != nil {
				log.From(r.Context()).Info("auth_rejected",
					slog.String("path", r.URL.Path),
					slog.String("err", err.Error()),
				)
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := WithPrincipal(r.Context(), p)
			ctx = log.With(ctx, slog.String("user_id", p.UserID.String()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken достаёт токен из заголовка Authorization.
func BearerToken(r *http.Request) (string, bool) {
	const prefix = "bearer "

	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}

	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

// WithPrincipal кладёт принципала в контекст.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom достаёт принципала из контекста.
func PrincipalFrom(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*models.Principal)
	return p, ok && p != nil
}
