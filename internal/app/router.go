package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-grants/atlas-grants/internal/activity"
	"github.com/atlas-grants/atlas-grants/internal/approval"
	"github.com/atlas-grants/atlas-grants/internal/audit"
	"github.com/atlas-grants/atlas-grants/internal/auth"
	"github.com/atlas-grants/atlas-grants/internal/notify"
	"github.com/atlas-grants/atlas-grants/internal/observability"
	"github.com/atlas-grants/atlas-grants/internal/platform/httpx"
	"github.com/atlas-grants/atlas-grants/internal/settings"
	"github.com/atlas-grants/atlas-grants/internal/users"
	"github.com/atlas-grants/atlas-grants/jobs"
)

// RouterParams collects every dependency the HTTP router needs.
type RouterParams struct {
	Middleware []func(http.Handler) http.Handler

	AuthHandler     *auth.Handler
	UsersHandler    *users.Handler
	ActivityHandler *activity.Handler
	ApprovalHandler *approval.Handler
	SettingsHandler *settings.Handler
	NotifyHandler   *notify.Handler
	AuditHandler    *audit.Handler
	JobsHandler     *jobs.Handler

	Metrics *observability.Metrics
	Pool    *pgxpool.Pool
}

// NewRouter wires the middleware stack and mounts every module under its path prefix.
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()
	for _, mw := range p.Middleware {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		if p.Pool != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := p.Pool.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body["database"] = "unreachable"
			}
		}
		httpx.JSON(w, status, body)
	})

	r.Route("/auth", p.AuthHandler.MountRoutes)
	r.Route("/users", p.UsersHandler.MountRoutes)
	r.Route("/activities", p.ActivityHandler.MountRoutes)
	r.Route("/approvals", p.ApprovalHandler.MountRoutes)
	r.Route("/settings", p.SettingsHandler.MountRoutes)
	r.Route("/notifications", p.NotifyHandler.MountRoutes)
	r.Route("/audit", p.AuditHandler.MountRoutes)
	if p.JobsHandler != nil {
		r.Route("/jobs", p.JobsHandler.MountRoutes)
	}

	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	return r
}
