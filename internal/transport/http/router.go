package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/portal-auth/internal/ratelimit"
	"github.com/pribylovaa/portal-auth/internal/transport/http/handlers"
	"github.com/pribylovaa/portal-auth/internal/transport/http/middleware"
)

// Service — всё, что HTTP-слой требует от сервисного.
type Service interface {
	handlers.AuthService
	middleware.Authenticator
}

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger  *slog.Logger
	Timeout time.Duration
	// Limiter == nil отключает ограничение частоты запросов.
	Limiter    *ratelimit.Limiter
	TrustProxy bool
	// Health — проверки зависимостей для /healthz.
	Health        map[string]handlers.Checker
	HealthTimeout time.Duration
	// Metrics по умолчанию promhttp.Handler().
	Metrics  http.Handler
	BasePath string // например, "/api"; если пустой — роуты регистрируются на корне.
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc Service, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),
		middleware.RequestID(), // до логирования
		middleware.Logging(opts.Logger),
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout))
	}

	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	// Служебные маршруты не ограничиваются.
	root.Get("/livez", handlers.Livez)
	root.Get("/healthz", handlers.Healthz(opts.Health, opts.HealthTimeout))
	root.Method(http.MethodGet, "/metrics", metricsHandler)

	h := handlers.New(svc)

	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, svc, opts)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, svc, opts)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, auth middleware.Authenticator, opts Options) {
	limit := func(c ratelimit.Class) func(http.Handler) http.Handler {
		return middleware.RateLimit(opts.Limiter, c, opts.TrustProxy)
	}
	requireAuth := middleware.RequireAuth(auth)

	r.Route("/auth", func(r chi.Router) {
		r.Use(limit(ratelimit.ClassGeneral))

		r.With(limit(ratelimit.ClassRegister)).Post("/register", h.Register)
		r.With(limit(ratelimit.ClassLogin)).Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.With(requireAuth).Post("/logout", h.Logout)
		r.With(requireAuth).Get("/me", h.Me)

		r.With(limit(ratelimit.ClassPasswordReset)).Post("/password/forgot", h.ForgotPassword)
		r.With(limit(ratelimit.ClassPasswordReset)).Post("/password/reset", h.ResetPassword)
	})
}
