package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/console/handler"
	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/infra/auth"
)

// Handlers — обработчики бизнес-доменов.
type Handlers struct {
	Auth       *handler.AuthHandler       // /auth/token
	Evaluate   *handler.EvaluateHandler   // /v1/evaluate, /v1/eas
	Batch      *handler.BatchHandler      // /v1/batch
	Policy     *handler.PolicyHandler     // /v1/policy
	Escalation *handler.EscalationHandler // /v1/escalations (HITL)
	Agent      *handler.AgentHandler      // /v1/agents, /v1/restrictions, /v1/overrides
}

type Server struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка операторских токенов (RS256)
	validator auth.TokenValidator
	metrics   http.Handler
	h         Handlers
}

// New собирает роутер. metrics может быть nil, тогда /metrics не публикуется.
func New(logger *zap.Logger, validator auth.TokenValidator, metrics http.Handler, h Handlers) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("http"),
		validator: validator,
		metrics:   metrics,
		h:         h,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.h.Auth.Login)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})

	// --- 3. Защищенный периметр (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.validator, s.logger))

		r.Post("/v1/evaluate", s.h.Evaluate.Evaluate)
		r.Get("/v1/eas", s.h.Evaluate.GetEAS)
		r.With(auth.RequireScope(domain.ScopePolicy)).Put("/v1/eas", s.h.Evaluate.SetEAS)

		r.With(auth.RequireScope(domain.ScopeExecutor)).Post("/v1/batch", s.h.Batch.Execute)

		r.Route("/v1/policy", func(r chi.Router) {
			r.Get("/active", s.h.Policy.Active)
			r.Get("/versions", s.h.Policy.Versions)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopePolicy))
				r.Post("/reload", s.h.Policy.Reload)
				r.Post("/rollback/{id}", s.h.Policy.Rollback)
			})
		})

		r.Route("/v1/escalations", func(r chi.Router) {
			r.Get("/", s.h.Escalation.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.h.Escalation.Get)
				r.With(auth.RequireScope(domain.ScopeApprover)).Post("/decide", s.h.Escalation.Decide)
				r.With(auth.RequireScope(domain.ScopeExecutor)).Post("/execute", s.h.Escalation.Execute)
			})
		})

		r.Route("/v1/agents/{id}", func(r chi.Router) {
			r.Get("/reputation", s.h.Agent.Reputation)
			r.Get("/overrides", s.h.Agent.ListOverrides)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireScope(domain.ScopeAdmin))
				r.Post("/overrides", s.h.Agent.CreateOverride)
				r.Put("/restrictions/{kind}", s.h.Agent.SetRestriction)
			})
		})
		r.Get("/v1/restrictions/{kind}", s.h.Agent.ListRestricted)
		r.With(auth.RequireScope(domain.ScopeAdmin)).Delete("/v1/overrides/{id}", s.h.Agent.DeactivateOverride)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
