// Package httpapi exposes the engine's REST surface: automation CRUD,
// execute/test/enable/disable, execution history and stats, the inbound
// webhook endpoint, and /metrics — grounded on the teacher's cmd/server
// chi router, respondJSON/respondError helpers, and graceful-shutdown
// pattern.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/executor"
	"github.com/onstaq/automation-engine/internal/automation/validate"
	"github.com/onstaq/automation-engine/internal/logger"
	"github.com/onstaq/automation-engine/internal/store"
)

// RuleStore is the persistence surface the rule handlers need.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *automation.Rule) error
	GetRule(ctx context.Context, ruleID string) (*automation.Rule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]*automation.Rule, error)
	UpdateRule(ctx context.Context, rule *automation.Rule) error
	SetEnabled(ctx context.Context, ruleID string, enabled bool) error
	DeleteRule(ctx context.Context, ruleID string) error
}

// ExecutionStore is the persistence surface the execution handlers need.
type ExecutionStore interface {
	GetExecution(ctx context.Context, executionID string) (*automation.Execution, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]*automation.Execution, error)
	Stats(ctx context.Context, ruleID string) (*store.Stats, error)
}

// WebhookStore resolves inbound webhook subscriptions by path.
type WebhookStore interface {
	GetByPath(ctx context.Context, path string) (*automation.WebhookSubscription, error)
}

// Authenticator verifies a caller-supplied bearer token against the
// upstream service; cmd/server's authAdapter wraps
// (*upstream.Client).VerifyToken to satisfy it.
type Authenticator interface {
	VerifyToken(ctx context.Context, token string) (any, error)
}

// ExecutorAPI is the subset of executor.Executor the handlers drive.
type ExecutorAPI interface {
	Fire(ctx context.Context, rule *automation.Rule, trigger automation.TriggerEvent) (string, error)
	TriggerManually(ctx context.Context, ruleID string, parameters map[string]any, chainDepth int) (string, error)
	Test(ctx context.Context, ruleID string, mockTrigger automation.TriggerEvent) (*executor.TestOutline, error)
	Reload(ctx context.Context, ruleID string) error
	ActiveCount() int64
	QueueDepth() int
}

// MetricsHandler exposes /metrics; *metrics.Registry satisfies it.
type MetricsHandler interface {
	Handler() http.Handler
	HTTPMiddleware(next http.Handler) http.Handler
}

// Server wires every HTTP dependency into a chi.Mux.
type Server struct {
	rules             RuleStore
	executions        ExecutionStore
	webhooks          WebhookStore
	auth              Authenticator
	exec              ExecutorAPI
	metrics           MetricsHandler
	hmacSecretDefault string

	router *chi.Mux
}

// New builds a Server and its route table. metrics may be nil (no /metrics
// route and no instrumentation middleware).
func New(rules RuleStore, executions ExecutionStore, webhooks WebhookStore, auth Authenticator, exec ExecutorAPI, metrics MetricsHandler, hmacSecretDefault string) *Server {
	s := &Server{
		rules:             rules,
		executions:        executions,
		webhooks:          webhooks,
		auth:              auth,
		exec:              exec,
		metrics:           metrics,
		hmacSecretDefault: hmacSecretDefault,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if s.metrics != nil {
		r.Use(s.metrics.HTTPMiddleware)
	}

	r.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	r.Post("/api/webhooks/inbound/{path}", s.handleInboundWebhook)
	r.Post("/api/webhooks/inbound", s.handleInboundWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/api/automations", func(r chi.Router) {
			r.Get("/", s.handleListAutomations)
			r.Post("/", s.handleCreateAutomation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAutomation)
				r.Put("/", s.handleUpdateAutomation)
				r.Delete("/", s.handleDeleteAutomation)
				r.Post("/execute", s.handleExecuteAutomation)
				r.Post("/test", s.handleTestAutomation)
				r.Post("/enable", s.handleEnableAutomation)
				r.Post("/disable", s.handleDisableAutomation)
				r.Post("/reload", s.handleReloadAutomation)
			})
		})

		r.Route("/api/executions", func(r chi.Router) {
			r.Get("/", s.handleListExecutions)
			r.Get("/{id}", s.handleGetExecution)
			r.Get("/stats/{automationId}", s.handleExecutionStats)
		})

		r.Get("/api/v1/agent-tools", s.handleListAgentTools)
		r.Post("/api/v1/agent-tools/{name}", s.handleInvokeAgentTool)
	})

	s.router = r
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// requireAuth validates the Authorization header by forwarding the token to
// the upstream getMe endpoint, caching nothing, per spec.md §6.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		if s.auth != nil {
			if _, err := s.auth.VerifyToken(r.Context(), token); err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid token", err)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListRules(r.Context(), false)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list automations", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"automations": rules})
}

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var rule automation.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body", err)
		return
	}
	if err := validate.Rule(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "automation failed validation", err)
		return
	}
	if err := s.rules.CreateRule(r.Context(), &rule); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to create automation", err)
		return
	}
	if s.exec != nil {
		if err := s.exec.Reload(r.Context(), rule.ID); err != nil {
			logger.Warn("failed to install watcher for new automation", "ruleId", rule.ID, "error", err)
		}
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.GetRule(r.Context(), chi.URLParam(r, "id"))
	if !respondStoreErr(w, err, "automation") {
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var rule automation.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body", err)
		return
	}
	rule.ID = id
	if err := validate.Rule(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", "automation failed validation", err)
		return
	}
	if err := s.rules.UpdateRule(r.Context(), &rule); !respondStoreErr(w, err, "automation") {
		return
	}
	if s.exec != nil {
		if err := s.exec.Reload(r.Context(), id); err != nil {
			logger.Warn("failed to reload watcher after update", "ruleId", id, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rules.DeleteRule(r.Context(), id); !respondStoreErr(w, err, "automation") {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableAutomation(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) handleDisableAutomation(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	if err := s.rules.SetEnabled(r.Context(), id, enabled); !respondStoreErr(w, err, "automation") {
		return
	}
	if s.exec != nil {
		if err := s.exec.Reload(r.Context(), id); err != nil {
			logger.Warn("failed to reload watcher after toggle", "ruleId", id, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// handleReloadAutomation re-installs a rule's trigger watcher without
// changing its stored definition, for operators recovering from a stuck
// poller or a missed config change (e.g. REDIS_URL flip mid-run).
func (s *Server) handleReloadAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.exec == nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "executor not wired", nil)
		return
	}
	if err := s.exec.Reload(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to reload automation", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "reloaded"})
}

func (s *Server) handleExecuteAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Parameters map[string]any `json:"parameters"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if s.exec == nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "executor not wired", nil)
		return
	}
	executionID, err := s.exec.TriggerManually(r.Context(), id, req.Parameters, 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "program_error", "failed to trigger automation", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"executionId": executionID})
}

func (s *Server) handleTestAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Trigger automation.TriggerEvent `json:"trigger"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Trigger.Timestamp.IsZero() {
		req.Trigger.Timestamp = time.Now().UTC()
	}

	if s.exec == nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "executor not wired", nil)
		return
	}
	outline, err := s.exec.Test(r.Context(), id, req.Trigger)
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "automation not found", err)
		return
	}
	respondJSON(w, http.StatusOK, outline)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	ruleID := r.URL.Query().Get("automationId")
	limit := 50
	execs, err := s.executions.ListExecutions(r.Context(), ruleID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list executions", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.executions.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if !respondStoreErr(w, err, "execution") {
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.executions.Stats(r.Context(), chi.URLParam(r, "automationId"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to aggregate stats", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// respondStoreErr translates a store.ErrNotFound into 404, any other error
// into 500, and returns whether the caller should proceed.
func respondStoreErr(w http.ResponseWriter, err error, kind string) bool {
	if err == nil {
		return true
	}
	var notFound *store.ErrNotFound
	if errors.As(err, &notFound) {
		respondError(w, http.StatusNotFound, "not_found", kind+" not found", err)
		return false
	}
	respondError(w, http.StatusInternalServerError, "internal_error", "internal error", err)
	return false
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	body := errorBody{Code: code, Message: message}
	if err != nil {
		body.Details = err.Error()
	}
	respondJSON(w, status, errorEnvelope{Error: body})
}
