package activity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/atlas-grants/atlas-grants/internal/shared"
)

// Service owns activity lifecycle rules.
type Service struct {
	repo   RepositoryPort
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs the activity service.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// CreateInput describes a new activity.
type CreateInput struct {
	Code        string
	Title       string
	Objective   string
	Currency    string
	EstimateUSD float64
}

// Create registers a new funded activity in PLANNED status.
func (s *Service) Create(ctx context.Context, input CreateInput, actorID int64) (Activity, error) {
	input.Code = strings.ToUpper(strings.TrimSpace(input.Code))
	input.Title = strings.TrimSpace(input.Title)
	if input.Code == "" || input.Title == "" {
		return Activity{}, fmt.Errorf("%w: code and title are required", ErrValidation)
	}
	if input.EstimateUSD < 0 {
		return Activity{}, fmt.Errorf("%w: estimate must not be negative", ErrValidation)
	}
	if input.Currency == "" {
		input.Currency = "USD"
	}

	a := Activity{
		Code:        input.Code,
		Title:       input.Title,
		Objective:   input.Objective,
		Currency:    input.Currency,
		EstimateUSD: input.EstimateUSD,
		Status:      StatusPlanned,
		CreatedBy:   actorID,
	}
	if err := s.repo.Insert(ctx, &a); err != nil {
		return Activity{}, err
	}

	s.recordAudit(ctx, actorID, "activity.create", a.ID, nil, map[string]any{
		"code":         a.Code,
		"estimate_usd": a.EstimateUSD,
	})
	return a, nil
}

// Get fetches one activity.
func (s *Service) Get(ctx context.Context, id int64) (Activity, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of activities with pagination metadata.
func (s *Service) List(ctx context.Context, filter ListFilter, page, perPage int) ([]Activity, shared.Pagination, error) {
	list, total, err := s.repo.List(ctx, filter, page, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(page, perPage, total), nil
}

// RecordActual books spend against the activity's actuals. Amounts are
// positive; corrections use the approval workflow, not negative entries.
func (s *Service) RecordActual(ctx context.Context, id int64, amount float64, actorID int64) (Activity, error) {
	if amount <= 0 {
		return Activity{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return Activity{}, err
	}
	updated, err := s.repo.AddActual(ctx, id, amount)
	if err != nil {
		return Activity{}, err
	}
	if updated.ActualUSD > updated.EstimateUSD {
		s.logger.Warn("activity actuals exceed estimate",
			slog.String("code", updated.Code),
			slog.Float64("actual_usd", updated.ActualUSD),
			slog.Float64("estimate_usd", updated.EstimateUSD))
	}
	s.recordAudit(ctx, actorID, "activity.record_actual", id,
		map[string]any{"actual_usd": before.ActualUSD},
		map[string]any{"actual_usd": updated.ActualUSD})
	return updated, nil
}

// UpdateStatus moves the activity to a new lifecycle status.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status Status, actorID int64) (Activity, error) {
	if !status.Valid() {
		return Activity{}, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return Activity{}, err
	}
	updated, err := s.repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return Activity{}, err
	}
	s.recordAudit(ctx, actorID, "activity.update_status", id,
		map[string]any{"status": string(before.Status)},
		map[string]any{"status": string(status)})
	return updated, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "activity",
		EntityID: strconv.FormatInt(id, 10),
		Before:   before,
		After:    after,
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
