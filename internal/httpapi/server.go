package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/internal/streaming"
	"github.com/rendis/chatflow/pkg/schema"
)

// SessionService is what the API needs from the engine. Satisfied by
// engine.SessionManager.
type SessionService interface {
	StartSession(ctx context.Context, scenarioID string, initialSlots map[string]any) (*schema.SessionState, error)
	GetSession(ctx context.Context, sessionID string) (*schema.SessionState, error)
	Respond(ctx context.Context, sessionID string, input schema.UserInput) (*schema.SessionState, error)
	CancelSession(ctx context.Context, sessionID string) (*schema.SessionState, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// ScenarioService is the scenario registry surface. Satisfied by
// graph.Service.
type ScenarioService interface {
	Put(ctx context.Context, def *schema.ScenarioDefinition) error
	Get(ctx context.Context, id string) (*schema.ScenarioDefinition, error)
	List(ctx context.Context) ([]*schema.ScenarioDefinition, error)
	Delete(ctx context.Context, id string) error
}

// EventLogService reads the persisted session event log. Satisfied by
// store.LibSQLStore.
type EventLogService interface {
	GetEvents(ctx context.Context, sessionID string, since int64) ([]*store.Event, error)
	ReplayTrail(ctx context.Context, sessionID string) ([]store.NodeVisit, error)
}

// Server exposes the engine over REST plus an SSE event stream.
type Server struct {
	sessions  SessionService
	scenarios ScenarioService
	hub       streaming.EventHub
	events    EventLogService
	logger    *slog.Logger
}

// NewServer creates a Server. hub may be nil; the events endpoint then
// reports 503.
func NewServer(sessions SessionService, scenarios ScenarioService, hub streaming.EventHub, logger *slog.Logger) *Server {
	return &Server{
		sessions:  sessions,
		scenarios: scenarios,
		hub:       hub,
		logger:    logger,
	}
}

// WithEventLog enables the session history and trail endpoints.
func (s *Server) WithEventLog(events EventLogService) *Server {
	s.events = events
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", s.handleListScenarios)
			r.Post("/", s.handlePutScenario)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetScenario)
				r.Put("/", s.handlePutScenarioByID)
				r.Delete("/", s.handleDeleteScenario)
				r.Get("/diagram", s.handleScenarioDiagram)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleStartSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/respond", s.handleRespond)
				r.Post("/cancel", s.handleCancelSession)
				r.Delete("/", s.handleDeleteSession)
				r.Get("/events", s.handleSessionEvents)
				r.Get("/history", s.handleSessionHistory)
				r.Get("/trail", s.handleSessionTrail)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logRequests logs each request with latency and status.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
