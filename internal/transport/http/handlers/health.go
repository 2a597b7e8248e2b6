package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/pribylovaa/portal-auth/pkg/log"
)

// Checker проверяет доступность зависимости (PostgreSQL, Redis).
type Checker func(ctx context.Context) error

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Livez отвечает 200, пока процесс обслуживает запросы.
func Livez(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Healthz опрашивает все зависимости с общим таймаутом timeout.
// Хотя бы один отказ даёт 503; текст ошибки зависимости наружу не уходит.
func Healthz(checks map[string]Checker, timeout time.Duration) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		code := http.StatusOK

		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				log.From(ctx).Warn("health_check_failed",
					slog.String("dependency", name),
					slog.String("err", err.Error()),
				)
				resp.Checks[name] = "unavailable"
				resp.Status = "unavailable"
				code = http.StatusServiceUnavailable
				continue
			}

			resp.Checks[name] = "ok"
		}

		writeJSON(w, code, resp)
	}
}
