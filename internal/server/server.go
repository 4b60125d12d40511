package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/priorauth/internal/infra"
	"github.com/xela07ax/priorauth/internal/infra/auth"
	"github.com/xela07ax/priorauth/internal/server/handler"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Token verification for the protected perimeter (RS256).
	// Satisfied by AuthService through its embedded validator.
	authValidator auth.TokenValidator

	authHandler *handler.AuthHandler      // /auth/token
	paHandler   *handler.PriorAuthHandler // /api/prior-auth
	dashHandler *handler.DashboardHandler // /api/v1/dashboard
	healthH     *handler.HealthHandler    // /health
}

func New(
	cfg *infra.Config,
	logger *zap.Logger,
	authValidator auth.TokenValidator,
	authH *handler.AuthHandler,
	paH *handler.PriorAuthHandler,
	dashH *handler.DashboardHandler,
	healthH *handler.HealthHandler,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		logger:        logger.Named("api"),
		cfg:           cfg,
		authValidator: authValidator,
		authHandler:   authH,
		paHandler:     paH,
		dashHandler:   dashH,
		healthH:       healthH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(tracing)

	// Public routes: login and healthcheck only.
	r.Group(func(r chi.Router) {
		r.Post("/auth/token", s.authHandler.Login)
		r.Get("/health", s.healthH.Check)
	})

	// Protected perimeter: every adjudication and audit route requires a
	// valid RS256 token.
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/api/prior-auth", func(r chi.Router) {
			r.Post("/", s.paHandler.Submit)
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", s.paHandler.Cancel)
				r.Get("/audit", s.paHandler.GetAudit)
			})
		})

		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)
	})
}

// tracing stamps every request with a trace id carried through the pipeline
// and into the check log.
func tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx := infra.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-Id", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ServeHTTP lets Server be used as a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
