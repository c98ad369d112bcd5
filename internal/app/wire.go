package app

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loginshield/rba-gateway/internal/auth"
	"github.com/loginshield/rba-gateway/internal/engine"
	"github.com/loginshield/rba-gateway/internal/handler"
	"github.com/loginshield/rba-gateway/internal/repository"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Engine   *engine.Engine
	Verifier *auth.Verifier
	Pool     *pgxpool.Pool // nil when the audit trail is disabled
	Logger   *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	decisionHandler := handler.NewDecisionHandler(deps.Engine, deps.Verifier, deps.Logger)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(deps.Logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(deps.Logger))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(deps.Pool))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/decision", decisionHandler.Decide)

		if deps.Pool != nil {
			auditHandler := handler.NewAuditHandler(deps.Pool, repository.NewPgAuditRepository())
			r.Get("/audit/denials", auditHandler.RecentDenials)
		}
	})

	return r
}
