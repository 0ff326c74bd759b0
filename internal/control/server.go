// Package control implements the HTTP control surface (spec.md §4.11):
// health checks, the planning-db webhook intake, and the review/retry
// API a human operator or opctl drives.
package control

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/channelreg"
	"github.com/reelforge/orchestrator/internal/engine"
	"github.com/reelforge/orchestrator/internal/store"
	syncpkg "github.com/reelforge/orchestrator/internal/sync"
)

// Server wires every HTTP-reachable operation to its backing component.
type Server struct {
	router        chi.Router
	engine        *engine.Engine
	tasks         *store.TaskRepository
	channels      *store.ChannelRepository
	registry      *channelreg.Registry
	reconciler    *syncpkg.Reconciler
	pinger        Pinger
	webhookSecret string
	validate      *validator.Validate
	log           *zap.SugaredLogger
}

// Pinger is the liveness dependency (internal/database.Pool.Ping).
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer builds the router. corsOrigins may be empty (no CORS).
func NewServer(
	eng *engine.Engine,
	tasks *store.TaskRepository,
	channels *store.ChannelRepository,
	registry *channelreg.Registry,
	reconciler *syncpkg.Reconciler,
	pinger Pinger,
	webhookSecret string,
	corsOrigins []string,
	log *zap.SugaredLogger,
) *Server {
	s := &Server{
		engine: eng, tasks: tasks, channels: channels, registry: registry,
		reconciler: reconciler, pinger: pinger, webhookSecret: webhookSecret,
		validate: validator.New(), log: log,
	}
	s.router = s.buildRouter(corsOrigins)
	return s
}

func (s *Server) buildRouter(corsOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Signature"},
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/webhook", func(wr chi.Router) {
		wr.Post("/planning-db", s.handlePlanningDBWebhook)
	})

	r.Route("/api/v1", func(ar chi.Router) {
		ar.Get("/channels", s.handleListChannels)
		ar.Get("/tasks", s.handleListTasks)
		ar.Get("/tasks/{id}", s.handleGetTask)
		ar.Post("/tasks/{id}/approve", s.handleApprove)
		ar.Post("/tasks/{id}/reject", s.handleReject)
		ar.Post("/tasks/{id}/retry", s.handleRetry)
	})

	return r
}

// ServeHTTP satisfies http.Handler so Server can be passed directly to
// http.Server.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
