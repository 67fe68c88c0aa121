package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-grants/atlas-grants/internal/platform/httpx"
	"github.com/atlas-grants/atlas-grants/internal/rbac"
	"github.com/atlas-grants/atlas-grants/internal/users"
)

const maxDateRange = 90 * 24 * time.Hour

// Handler exposes the audit timeline to reviewers.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: mw, now: time.Now}
}

// MountRoutes registers audit routes. The trail is visible to reviewer
// roles only.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireRole(users.RoleFinance, users.RoleCommittee, users.RoleDirector))
	r.Get("/", h.timeline)
	r.Get("/export", h.export)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if result.Rows == nil {
		result.Rows = []TimelineRow{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	payload, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("export audit timeline", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	filename := "audit-" + h.now().UTC().Format("20060102-150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

func (h *Handler) parseFilters(r *http.Request) (TimelineFilters, error) {
	query := r.URL.Query()
	filters := TimelineFilters{
		Actor:    query.Get("actor"),
		Entity:   query.Get("entity"),
		EntityID: query.Get("entity_id"),
		Action:   query.Get("action"),
	}
	filters.Page, _ = strconv.Atoi(query.Get("page"))
	filters.PageSize, _ = strconv.Atoi(query.Get("page_size"))

	var err error
	if raw := query.Get("from"); raw != "" {
		if filters.From, err = time.Parse("2006-01-02", raw); err != nil {
			return TimelineFilters{}, err
		}
	}
	if raw := query.Get("to"); raw != "" {
		var to time.Time
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			return TimelineFilters{}, err
		}
		// The to date is inclusive.
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}

	if filters.From.IsZero() && filters.To.IsZero() {
		now := h.now().UTC()
		filters.To = now
		filters.From = now.Add(-7 * 24 * time.Hour)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() && filters.To.Sub(filters.From) > maxDateRange {
		filters.From = filters.To.Add(-maxDateRange)
	}
	return filters, nil
}
