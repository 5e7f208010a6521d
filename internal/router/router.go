package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"scribe-backend/internal/handlers"
	"scribe-backend/internal/metrics"
	"scribe-backend/internal/middleware"
	"scribe-backend/internal/websocket"
)

// Limiters are applied per route group.
type Limiters struct {
	Auth     *middleware.RateLimiter
	Generate *middleware.RateLimiter
}

func New(
	logger *slog.Logger,
	rec metrics.Recorder,
	metricsHandler http.Handler,
	jwtAuth *middleware.JWTAuth,
	limiters Limiters,
	authHandler *handlers.AuthHandler,
	generateHandler *handlers.GenerateHandler,
	modelsHandler *handlers.ModelsHandler,
	healthHandler *handlers.HealthHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger, rec))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", healthHandler.Health)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(limiters.Auth.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/logout", authHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.With(limiters.Generate.Middleware).Post("/generate", generateHandler.Generate)
			r.Get("/models", modelsHandler.List)
		})

		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
