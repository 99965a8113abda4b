package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/govflow/govflow/internal/access"
	"github.com/govflow/govflow/internal/auth"
	"github.com/govflow/govflow/internal/catalog"
	"github.com/govflow/govflow/internal/config"
	"github.com/govflow/govflow/internal/document"
	"github.com/govflow/govflow/internal/observability"
	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/internal/workflow"
	"github.com/govflow/govflow/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Auth        *auth.Service
	Policy      *access.Policy
	Catalog     *catalog.Catalog
	Definitions *workflow.Definitions
	Engine      *workflow.Engine
	Documents   *document.FSStore

	// Metrics is optional; without it no HTTP or upload metrics are recorded
	// and /metrics is not served.
	Metrics   *observability.Metrics
	Readiness observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, and the password
// endpoints bypass authentication.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	policy := deps.Policy
	perm := func(p string) func(http.Handler) http.Handler { return RequirePermission(policy, p) }
	jsonCap := MaxBody(cfg.Server.MaxBodyBytes)

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(RequestID)
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(cfg.Server.CORS))
	r.Use(SecurityHeaders)
	r.Use(RequestLogging(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if deps.Metrics != nil && cfg.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Path, observability.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(jsonCap)
		r.Post("/api/auth/login", handleLogin(deps.Auth, logger))
		r.Post("/api/auth/forgot-password", handleForgotPassword(deps.Auth, logger))
		r.Post("/api/auth/reset-password", handleResetPassword(deps.Auth, logger))
	})

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(deps.Auth))

		r.Group(func(r chi.Router) {
			r.Use(jsonCap)

			r.Get("/api/auth/me", handleMe(deps.Auth, logger))
			r.With(perm(model.PermUsersAdmin)).Post("/api/auth/register", handleRegister(deps.Auth, logger))
			r.Post("/api/auth/logout", handleLogout)

			c := deps.Catalog
			mountResource(r, "/api/offices", resource[model.Office, *model.Office]{
				svc: c.Offices, perm: model.PermOfficesWrite, logger: logger,
			}, policy)
			mountResource(r, "/api/sections", resource[model.Section, *model.Section]{
				svc: c.Sections, perm: model.PermSectionsWrite, logger: logger,
			}, policy)
			mountResource(r, "/api/subjects", resource[model.Subject, *model.Subject]{
				svc: c.Subjects, perm: model.PermSubjectsWrite, logger: logger,
			}, policy)
			mountResource(r, "/api/templates", resource[model.Template, *model.Template]{
				svc: c.Templates, perm: model.PermTemplatesWrite, logger: logger,
			}, policy)
			mountResource(r, "/api/tasks", resource[model.Task, *model.Task]{
				svc: c.Tasks, perm: model.PermTasksWrite, logger: logger,
				filter: func(r *http.Request, items []model.Task) []model.Task {
					return catalog.TaskFilterFromQuery(r.URL.Query()).Apply(items)
				},
			}, policy)
			r.Route("/api/notifications", func(r chi.Router) {
				resource[model.Notification, *model.Notification]{
					svc: c.Notifications, perm: model.PermNotificationsWrite, logger: logger,
					filter: func(r *http.Request, items []model.Notification) []model.Notification {
						return catalog.NotificationFilterFromQuery(r.URL.Query()).Apply(items)
					},
				}.mount(r, policy)
				r.Put("/{id}/read", markNotificationRead(c, policy, logger))
			})

			r.Route("/api/users", func(r chi.Router) {
				admin := perm(model.PermUsersAdmin)
				r.Get("/", handleUserList(c, logger))
				r.With(admin).Post("/", handleRegister(deps.Auth, logger))
				r.Get("/{id}", handleUserGet(c, logger))
				r.With(admin).Put("/{id}", handleUserUpdate(c, logger))
				r.With(admin).Delete("/{id}", handleUserDelete(c, logger))
				r.With(admin).Put("/{id}/role", handleUserRole(deps.Auth, logger))
			})

			defs := deps.Definitions
			mountResource(r, "/api/workflow-definitions", resource[model.WorkflowDefinition, *model.WorkflowDefinition]{
				svc: defs.Service, perm: model.PermWorkflowsWrite, logger: logger,
				lister: func(r *http.Request) ([]model.WorkflowDefinition, error) {
					return defs.ListForSubject(r.Context(), r.URL.Query().Get("subjectId"))
				},
			}, policy)
		})

		h := requestHandlers{engine: deps.Engine, docs: deps.Documents, observer: nopUploadObserver{}, logger: logger}
		if deps.Metrics != nil {
			h.observer = deps.Metrics
		}
		r.Route("/api/service-requests", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(jsonCap)
				r.Get("/", h.list)
				r.With(perm(model.PermRequestsCreate)).Post("/", h.create)
				r.Get("/{id}", h.get)
				r.With(perm(model.PermRequestsDelete)).Delete("/{id}", h.remove)
				r.With(perm(model.PermRequestsAssign)).Put("/{id}/assign", h.assign)
				r.With(perm(model.PermRequestsAct)).Post("/{id}/actions", h.act)
				r.Get("/{id}/history", h.history)
				r.Get("/{id}/form", h.form)
				r.Get("/{id}/steps/{stepId}/data", h.stepData)
			})
			r.With(MaxBody(deps.Documents.MaxBytes()+multipartMemory), perm(model.PermDocumentsWrite)).
				Post("/{id}/documents", h.upload)
		})
		r.Get("/api/documents/{id}", h.download)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteNotFound(w, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Error: "Method not allowed", Kind: model.ErrValidationFailure, Message: "Method not allowed",
		})
	})

	return r
}

// mountResource mounts the CRUD routes of res under pattern.
func mountResource[E any, P store.Record[E]](r chi.Router, pattern string, res resource[E, P], policy *access.Policy) {
	r.Route(pattern, func(r chi.Router) { res.mount(r, policy) })
}
