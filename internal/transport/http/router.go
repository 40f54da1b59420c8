package http

import (
	"net/http"

	"github.com/agrisense-api/internal/application/registration"
	"github.com/agrisense-api/internal/application/session"
	"github.com/agrisense-api/internal/config"
	"github.com/agrisense-api/internal/domain"
	jwtinfra "github.com/agrisense-api/internal/infrastructure/jwt"
	"github.com/agrisense-api/internal/transport/http/handler"
	appmiddleware "github.com/agrisense-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	PendingRepo PendingRepository
	UserRepo    UserRepository
	Mailer      CodeMailer
	SMSSender   SMSSender // optional
	Hasher      PasswordHasher
	Cooldown    Cooldown // optional
	CleanupJob  CleanupRunner
	Store       Pinger
	JWTProvider *jwtinfra.Provider // optional
}

// Router is the application handler plus the resources it owns.
type Router struct {
	http.Handler
	limiter *appmiddleware.RateLimiter
}

// Close stops the background goroutines started by the router.
func (r *Router) Close() { r.limiter.Close() }

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) *Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(appmiddleware.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	sessionDeps := session.ServiceDeps{
		UserRepo:    deps.UserRepo,
		PendingRepo: deps.PendingRepo,
		Hasher:      deps.Hasher,
	}
	if deps.JWTProvider != nil {
		sessionDeps.JWTProvider = deps.JWTProvider
	}
	regDeps := registration.ServiceDeps{
		PendingRepo: deps.PendingRepo,
		UserRepo:    deps.UserRepo,
		Mailer:      deps.Mailer,
		SMSSender:   deps.SMSSender,
		Hasher:      deps.Hasher,
		Cooldown:    deps.Cooldown,
		OTPTTL:      cfg.OTPTTL,
	}

	sessionSvc := session.NewService(sessionDeps)
	regSvc := registration.NewService(regDeps)

	healthH := handler.NewHealthHandler(deps.Store)
	regH := handler.NewRegistrationHandler(regSvc, sessionSvc)
	sessionH := handler.NewSessionHandler(sessionSvc)
	adminH := handler.NewAdminHandler(deps.CleanupJob)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// public
		r.Get("/health-check/{action}", healthH.Check)
		r.Group(func(r chi.Router) {
			r.Use(sensitiveRL.Limit)
			r.Post("/auth/register", regH.Register)
			r.Post("/auth/verify-email", regH.VerifyEmail)
			r.Post("/auth/resend-otp", regH.ResendOTP)
			r.Post("/auth/login", sessionH.Login)
		})

		// Bearer routes need a verifier; without keys they are not mounted.
		if deps.JWTProvider == nil {
			return
		}
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWTProvider))
			r.Get("/users/me", sessionH.Me)

			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))
				r.Post("/admin/cleanup", adminH.RunCleanup)
			})
		})
	})

	return &Router{Handler: r, limiter: sensitiveRL}
}
