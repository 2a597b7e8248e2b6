package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/pribylovaa/portal-auth/pkg/log"
	"github.com/pribylovaa/portal-auth/pkg/redact"
)

// Logging кладёт request-scoped логгер в контекст и после ответа пишет
// одну запись "http" со статусом, длительностью и размером ответа.
// Адрес клиента маскируется.
func Logging(l *slog.Logger) Middleware {
	if l == nil {
		l = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := l
			if rid := r.Header.Get(HeaderRequestID); rid != "" {
				reqLogger = reqLogger.With(slog.String("request_id", rid))
			}
			r = r.WithContext(log.Into(r.Context(), reqLogger))

			sw := newStatusWriter(w)
			start := time.Now()
			next.ServeHTTP(sw, r)

			reqLogger.LogAttrs(r.Context(), slog.LevelInfo, "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.Status()),
				slog.Duration("dur", time.Since(start)),
				slog.Int("bytes", sw.count),
				slog.String("remote", redact.IP(hostOnly(r.RemoteAddr))),
			)
		})
	}
}
