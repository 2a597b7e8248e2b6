package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pribylovaa/portal-auth/internal/ratelimit"
	apierrors "github.com/pribylovaa/portal-auth/internal/transport/http/errors"
	"github.com/pribylovaa/portal-auth/pkg/log"
	"github.com/pribylovaa/portal-auth/pkg/redact"
)

// RateLimit ограничивает частоту запросов класса class по адресу клиента.
//
// Поведение:
//   - l == nil отключает мидлвар (ограничение выключено конфигурацией);
//   - отказ: 429 с Retry-After, обработчик не вызывается;
//   - отказ хранилища бакетов: запрос пропускается, ошибка пишется в лог;
//   - для политик со SkipSuccessful ответ со статусом < 400 возвращает
//     единицу квоты (Limiter.Release).
//
// Заголовки RateLimit-Limit, RateLimit-Remaining и RateLimit-Reset
// выставляются на каждый учтённый запрос.
func RateLimit(l *ratelimit.Limiter, class ratelimit.Class, trustProxy bool) Middleware {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}

		policy, _ := l.Policy(class)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			id := ratelimit.ClientIP(r, trustProxy)

			d, err := l.Check(ctx, class, id)
			if err != nil {
				log.From(ctx).Warn("ratelimit_store_failed",
					slog.String("class", string(class)),
					slog.String("client", redact.IP(id)),
					slog.String("err", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("RateLimit-Reset", strconv.Itoa(ratelimit.RetryAfterSeconds(d.ResetAt.Sub(timeNow()))))

			if !d.Allowed {
				log.From(ctx).Info("ratelimit_exceeded",
					slog.String("class", string(class)),
					slog.String("client", redact.IP(id)),
				)
				apierrors.WriteError(w, r, &ratelimit.ExceededError{Class: class, RetryAfter: d.RetryAfter})
				return
			}

			if !policy.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			if sw.Status() < http.StatusBadRequest {
				// Контекст запроса к этому моменту может быть уже отменён.
				if err := l.Release(context.WithoutCancel(ctx), class, id); err != nil {
					log.From(ctx).Warn("ratelimit_release_failed",
						slog.String("class", string(class)),
						slog.String("err", err.Error()),
					)
				}
			}
		})
	}
}

var timeNow = time.Now

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	return host
}
