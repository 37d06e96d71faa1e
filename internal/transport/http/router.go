package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-otp-auth/internal/application/auth"
	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/transport/http/handler"
	appmiddleware "github.com/go-otp-auth/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps holds everything the router needs beyond configuration.
type Deps struct {
	AuthService   auth.Service
	TokenVerifier appmiddleware.TokenVerifier
	Store         handler.Pinger
	Gatherer      prometheus.Gatherer
	Logger        *slog.Logger
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	healthH := handler.NewHealthHandler(deps.Store, deps.Logger)
	authH := handler.NewAuthHandler(deps.AuthService)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/ping", healthH.Ping)
		r.Get("/health-check/ready", healthH.Ready)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authH.Register)
			r.Post("/verify-otp", authH.VerifyOTP)
			r.Post("/login", authH.Login)
			r.With(appmiddleware.Auth(deps.TokenVerifier)).Get("/me", authH.Me)
		})
	})

	return r
}
