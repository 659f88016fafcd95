// Package api is the HTTP surface over the automation services. Every
// tenant-scoped route lives under /api/tenants/{tenant}.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/deskflow/internal/analytics"
	"github.com/soochol/deskflow/internal/deskflow"
	"github.com/soochol/deskflow/internal/engine"
	"github.com/soochol/deskflow/internal/repository"
	"github.com/soochol/deskflow/internal/services"
	"github.com/soochol/deskflow/internal/triage"
)

// Deps are the services the server routes to.
type Deps struct {
	Automation  *services.AutomationService
	Rules       *services.RuleService
	Connections *services.ConnectionService
	Triage      *triage.Engine
	Analytics   *analytics.Aggregator
	Engine      *engine.Engine
	Executions  repository.ExecutionRepository
}

type Server struct {
	automation  *services.AutomationService
	rules       *services.RuleService
	connections *services.ConnectionService
	triage      *triage.Engine
	analytics   *analytics.Aggregator
	engine      *engine.Engine
	executions  repository.ExecutionRepository

	jwtSecret   []byte
	corsOrigins []string
	metrics     http.Handler
}

func NewServer(d Deps) *Server {
	return &Server{
		automation:  d.Automation,
		rules:       d.Rules,
		connections: d.Connections,
		triage:      d.Triage,
		analytics:   d.Analytics,
		engine:      d.Engine,
		executions:  d.Executions,
		corsOrigins: []string{"*"},
	}
}

// SetJWTSecret enables bearer-token authentication. Tokens are HS256 and
// must carry a tenant_id claim equal to the {tenant} path segment.
func (s *Server) SetJWTSecret(secret string) {
	s.jwtSecret = []byte(secret)
}

// SetCORSOrigins restricts the allowed browser origins.
func (s *Server) SetCORSOrigins(origins []string) {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
}

// SetMetricsHandler exposes h at /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/tenants/{tenant}", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/messages", s.evaluateMessage)
		r.Post("/events", s.emitEvent)
		r.Post("/conversations/{id}/triage", s.evaluateConversation)
		r.Get("/queue", s.getPriorityQueue)
		r.Get("/analytics", s.getAnalytics)

		r.Route("/escalations", func(r chi.Router) {
			r.Post("/", s.createEscalation)
			r.Get("/", s.listEscalations)
			r.Get("/{id}", s.getEscalation)
			r.Put("/{id}", s.updateEscalation)
			r.Delete("/{id}", s.deleteEscalation)
		})
		r.Route("/triage-rules", func(r chi.Router) {
			r.Post("/", s.createTriageRule)
			r.Get("/", s.listTriageRules)
			r.Get("/{id}", s.getTriageRule)
			r.Put("/{id}", s.updateTriageRule)
			r.Delete("/{id}", s.deleteTriageRule)
		})
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.createWorkflow)
			r.Post("/import", s.importWorkflow)
			r.Get("/", s.listWorkflows)
			r.Get("/{id}", s.getWorkflow)
			r.Put("/{id}", s.replaceWorkflow)
			r.Delete("/{id}", s.deleteWorkflow)
		})
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.listExecutions)
			r.Get("/{id}", s.getExecution)
			r.Post("/{id}/cancel", s.cancelExecution)
		})
		if s.connections != nil {
			r.Route("/connections", func(r chi.Router) {
				r.Post("/", s.createConnection)
				r.Get("/", s.listConnections)
				r.Get("/{id}", s.getConnection)
				r.Put("/{id}", s.updateConnection)
				r.Delete("/{id}", s.deleteConnection)
			})
		}
	})
	return r
}

func tenantID(r *http.Request) string { return chi.URLParam(r, "tenant") }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error    string             `json:"error"`
	Problems []deskflow.Problem `json:"problems,omitempty"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var verr *deskflow.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Problems: verr.Problems})
	case errors.Is(err, deskflow.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, deskflow.ErrDuplicate), errors.Is(err, deskflow.ErrConcurrencyConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case deskflow.IsStoreError(err):
		slog.Error("store unavailable", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store unavailable"})
	default:
		slog.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, deskflow.Validation([]deskflow.Problem{{Path: name, Message: "must be a non-negative integer"}})
	}
	return n, nil
}
