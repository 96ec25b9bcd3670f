// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	cataloghandler "github.com/deepskandpal/LangChef/internal/catalog/handler"
	healthhandler "github.com/deepskandpal/LangChef/internal/health/handler"
	identityhandler "github.com/deepskandpal/LangChef/internal/identity/handler"
	"github.com/deepskandpal/LangChef/internal/policy/engine"
	"github.com/deepskandpal/LangChef/internal/server/middleware"
)

// RouterDeps are the handlers and middleware dependencies of NewRouter.
type RouterDeps struct {
	Auth          *identityhandler.Handler
	Catalog       *cataloghandler.Handler
	Health        *healthhandler.Server
	Authenticator *middleware.Authenticator
	Policy        engine.Evaluator
	Credentials   middleware.CredentialChecker
	// RateLimiter limits /api/auth per client IP. Nil disables limiting.
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	Logger      *slog.Logger
}

// CORSOptions returns the CORS policy for origins. The session expiry headers are exposed so
// browser clients can react to them.
func CORSOptions(origins []string) cors.Options {
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-AWS-Session-Expired", "WWW-Authenticate", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

// NewRouter returns the HTTP API.
//
// Middleware order: RequestID → ClientIP → RequestLogger → Recoverer → CORS, then per route
// group the rate limiter (/api/auth) or authentication and the access policy (/api/models).
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.ClientIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(CORSOptions(deps.CORSOrigins)))

	r.Get("/healthz", deps.Health.Healthz)
	r.Get("/readyz", deps.Health.Readyz)

	r.Route("/api/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Handler)
		}
		deps.Auth.Mount(r, deps.Authenticator)
	})

	r.Route("/api/models", func(r chi.Router) {
		r.Use(deps.Authenticator.RequireIdentity)
		r.With(middleware.RequireDelegatedAccess(deps.Policy, deps.Credentials, engine.OperationModelsList, logger)).
			Get("/available", deps.Catalog.Available)
		r.With(middleware.RequireDelegatedAccess(deps.Policy, deps.Credentials, engine.OperationModelsBedrock, logger)).
			Get("/bedrock", deps.Catalog.Bedrock)
	})

	return otelhttp.NewHandler(r, "langchef-api",
		otelhttp.WithFilter(func(req *http.Request) bool {
			return req.URL.Path != "/healthz" && req.URL.Path != "/readyz"
		}),
	)
}
