package approval

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlas-grants/atlas-grants/internal/platform/httpx"
	"github.com/atlas-grants/atlas-grants/internal/rbac"
	"github.com/atlas-grants/atlas-grants/internal/shared"
	"github.com/atlas-grants/atlas-grants/internal/users"
)

// TransitionMetrics counts transition attempts by action and outcome.
type TransitionMetrics interface {
	RecordTransition(action, outcome string)
}

// Handler serves the approval workflow endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	rbac     rbac.Middleware
	metrics  TransitionMetrics
}

// NewHandler constructs the approvals handler. metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, metrics TransitionMetrics) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New(), rbac: rbac, metrics: metrics}
}

func (h *Handler) recordTransition(action string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.metrics.RecordTransition(action, outcome)
}

// MountRoutes attaches approval routes. Route-level role gates mirror the
// engine's own allow-lists; the engine remains the authority.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/", h.list)
		r.Get("/pending", h.pending)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(users.RoleProgram, users.RoleDirector))
		r.Post("/", h.submit)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(users.RoleFinance, users.RoleDirector))
		r.Post("/{id}/finance-approval", h.financeApprove)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(users.RoleCommittee, users.RoleDirector))
		r.Post("/{id}/committee-approval", h.committeeApprove)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(users.RoleFinance, users.RoleCommittee, users.RoleDirector))
		r.Post("/{id}/rejection", h.reject)
	})
}

type submitRequest struct {
	TargetType string   `json:"target_type" validate:"required"`
	TargetID   int64    `json:"target_id" validate:"required,gt=0"`
	OldValue   *float64 `json:"old_value"`
	NewValue   *float64 `json:"new_value"`
	Comment    string   `json:"comment"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type eventResponse struct {
	Seq      int      `json:"seq"`
	State    string   `json:"state"`
	Actor    string   `json:"actor"`
	Comment  string   `json:"comment,omitempty"`
	OldValue *float64 `json:"old_value,omitempty"`
	NewValue *float64 `json:"new_value,omitempty"`
	At       string   `json:"at"`
}

type approvalResponse struct {
	ID                  string          `json:"id"`
	TargetType          string          `json:"target_type"`
	TargetID            int64           `json:"target_id"`
	State               string          `json:"state"`
	SubmittedBy         int64           `json:"submitted_by"`
	SubmittedAt         string          `json:"submitted_at"`
	FinanceApprovedBy   *int64          `json:"finance_approved_by,omitempty"`
	FinanceApprovedAt   *string         `json:"finance_approved_at,omitempty"`
	FinanceComment      string          `json:"finance_comment,omitempty"`
	CommitteeApprovedBy *int64          `json:"committee_approved_by,omitempty"`
	CommitteeApprovedAt *string         `json:"committee_approved_at,omitempty"`
	CommitteeComment    string          `json:"committee_comment,omitempty"`
	RejectedBy          *int64          `json:"rejected_by,omitempty"`
	RejectedAt          *string         `json:"rejected_at,omitempty"`
	RejectionReason     string          `json:"rejection_reason,omitempty"`
	History             []eventResponse `json:"history,omitempty"`
}

func toResponse(a Approval) approvalResponse {
	resp := approvalResponse{
		ID:                  a.ID.String(),
		TargetType:          string(a.TargetType),
		TargetID:            a.TargetID,
		State:               string(a.State),
		SubmittedBy:         a.SubmittedBy,
		SubmittedAt:         a.SubmittedAt.Format(time.RFC3339),
		FinanceApprovedBy:   a.FinanceApprovedBy,
		FinanceApprovedAt:   fmtTime(a.FinanceApprovedAt),
		FinanceComment:      a.FinanceComment,
		CommitteeApprovedBy: a.CommitteeApprovedBy,
		CommitteeApprovedAt: fmtTime(a.CommitteeApprovedAt),
		CommitteeComment:    a.CommitteeComment,
		RejectedBy:          a.RejectedBy,
		RejectedAt:          fmtTime(a.RejectedAt),
		RejectionReason:     a.RejectionReason,
	}
	for _, evt := range a.History {
		resp.History = append(resp.History, eventResponse{
			Seq:      evt.Seq,
			State:    string(evt.State),
			Actor:    evt.Actor,
			Comment:  evt.Comment,
			OldValue: evt.OldValue,
			NewValue: evt.NewValue,
			At:       evt.At.Format(time.RFC3339),
		})
	}
	return resp
}

func fmtTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func (h *Handler) actor(r *http.Request) (Actor, bool) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		return Actor{}, false
	}
	return Actor{ID: ident.ID, Role: users.Role(ident.Role)}, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleState):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrUnauthorized):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("approval operation", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var req submitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.Submit(r.Context(), SubmitInput{
		TargetType: TargetType(req.TargetType),
		TargetID:   req.TargetID,
		OldValue:   req.OldValue,
		NewValue:   req.NewValue,
		Comment:    req.Comment,
	}, actor)
	h.recordTransition("SUBMIT", err)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(a))
}

func (h *Handler) financeApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "FINANCE_APPROVE", func(id uuid.UUID, comment string, actor Actor) (Approval, error) {
		return h.service.FinanceApprove(r.Context(), id, comment, actor)
	})
}

func (h *Handler) committeeApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "COMMITTEE_APPROVE", func(id uuid.UUID, comment string, actor Actor) (Approval, error) {
		return h.service.CommitteeApprove(r.Context(), id, comment, actor)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, fn func(uuid.UUID, string, Actor) (Approval, error)) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid approval id")
		return
	}
	var req commentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && r.ContentLength > 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	a, err := fn(id, req.Comment, actor)
	h.recordTransition(action, err)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid approval id")
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	a, err := h.service.Reject(r.Context(), id, req.Reason, actor)
	h.recordTransition("REJECT", err)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid approval id")
		return
	}
	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter
	for _, state := range r.URL.Query()["state"] {
		if state == "" {
			continue
		}
		filter.States = append(filter.States, State(state))
	}
	if tt := r.URL.Query().Get("target_type"); tt != "" {
		t := TargetType(tt)
		filter.TargetType = &t
	}
	if raw := r.URL.Query().Get("target_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid target id")
			return
		}
		filter.TargetID = &id
	}
	if raw := r.URL.Query().Get("submitted_by"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid submitter id")
			return
		}
		filter.SubmittedBy = &id
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]approvalResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": out})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	list, err := h.service.ListPendingFor(r.Context(), actor)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	out := make([]approvalResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": out})
}
