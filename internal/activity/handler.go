package activity

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-grants/atlas-grants/internal/platform/httpx"
	"github.com/atlas-grants/atlas-grants/internal/rbac"
	"github.com/atlas-grants/atlas-grants/internal/shared"
	"github.com/atlas-grants/atlas-grants/internal/users"
)

// Handler exposes activity endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs the activity handler.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: mw}
}

// MountRoutes registers activity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAuthenticated).Get("/", h.list)
	r.With(h.rbac.RequireAuthenticated).Get("/{id}", h.show)
	r.With(h.rbac.RequireRole(users.RoleProgram, users.RoleDirector)).Post("/", h.create)
	r.With(h.rbac.RequireRole(users.RoleProgram, users.RoleDirector)).Post("/{id}/actuals", h.recordActual)
	r.With(h.rbac.RequireRole(users.RoleDirector)).Post("/{id}/status", h.updateStatus)
}

type createRequest struct {
	Code        string  `json:"code" validate:"required,max=32"`
	Title       string  `json:"title" validate:"required,max=200"`
	Objective   string  `json:"objective" validate:"max=2000"`
	Currency    string  `json:"currency" validate:"omitempty,len=3"`
	EstimateUSD float64 `json:"estimate_usd" validate:"gte=0"`
}

type actualRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type listResponse struct {
	Items      []Activity        `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := ListFilter{Search: query.Get("q")}
	if raw := query.Get("status"); raw != "" {
		status := Status(raw)
		if !status.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status "+raw)
			return
		}
		filter.Status = &status
	}
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))

	items, pagination, err := h.service.List(r.Context(), filter, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []Activity{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: pagination})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid activity id")
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no active session")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	a, err := h.service.Create(r.Context(), CreateInput{
		Code:        req.Code,
		Title:       req.Title,
		Objective:   req.Objective,
		Currency:    req.Currency,
		EstimateUSD: req.EstimateUSD,
	}, identity.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) recordActual(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no active session")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid activity id")
		return
	}
	var req actualRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	a, err := h.service.RecordActual(r.Context(), id, req.Amount, identity.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no active session")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid activity id")
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	a, err := h.service.UpdateStatus(r.Context(), id, Status(req.Status), identity.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("activity handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
